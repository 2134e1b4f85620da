package runner

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "renderd",
		Subsystem: "runner",
		Name:      "jobs_total",
		Help:      "Jobs processed by workflow and outcome",
	}, []string{"workflow", "outcome"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "renderd",
		Subsystem: "runner",
		Name:      "job_duration_seconds",
		Help:      "Wall time per job execution",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"workflow"})
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration)
}
