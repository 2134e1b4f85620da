package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	inferTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "renderd",
		Subsystem: "gateway",
		Name:      "infer_total",
		Help:      "Inference calls to the GPU server by capability and outcome",
	}, []string{"capability", "outcome"})

	inferDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "renderd",
		Subsystem: "gateway",
		Name:      "infer_duration_seconds",
		Help:      "Wall time of successful inference calls",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"capability"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "renderd",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Retry attempts against the GPU server",
	}, []string{"capability"})
)

func init() {
	prometheus.MustRegister(inferTotal, inferDuration, retriesTotal)
}
