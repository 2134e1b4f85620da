package vram

import "github.com/prometheus/client_golang/prometheus"

var (
	vramUsedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "renderd",
		Subsystem: "vram",
		Name:      "used_gb",
		Help:      "Estimated VRAM currently committed to resident models (GB)",
	})

	vramBudgetGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "renderd",
		Subsystem: "vram",
		Name:      "budget_gb",
		Help:      "Configured VRAM budget (GB)",
	})

	admissionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "renderd",
		Subsystem: "vram",
		Name:      "admissions_total",
		Help:      "Total model admissions",
	})

	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "renderd",
		Subsystem: "vram",
		Name:      "evictions_total",
		Help:      "Total model evictions performed to free VRAM",
	})
)

func init() {
	prometheus.MustRegister(vramUsedGauge, vramBudgetGauge, admissionsTotal, evictionsTotal)
}
