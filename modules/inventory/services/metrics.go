package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	auditRunsTotal   *prometheus.CounterVec
	auditFindings    *prometheus.GaugeVec
	auditDuration    prometheus.Histogram
	auditLastRun     prometheus.Gauge
	auditRunning     prometheus.Gauge
	cascadeRefusals  *prometheus.CounterVec
	transferRefusals *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		auditRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory_invariants",
			Name:      "runs_total",
			Help:      "Total number of auditor sweeps.",
		}, []string{"result"}),
		auditFindings: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inventory_invariants",
			Name:      "findings",
			Help:      "Findings across all tenants in the most recent sweep.",
		}, []string{"check"}),
		auditDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inventory_invariants",
			Name:      "run_duration_seconds",
			Help:      "Duration distribution of auditor sweeps.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		auditLastRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "inventory_invariants",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed auditor sweep.",
		}),
		auditRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "inventory_invariants",
			Name:      "running",
			Help:      "1 while an auditor sweep is in flight.",
		}),
		cascadeRefusals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory_cascade",
			Name:      "refusals_total",
			Help:      "Warehouse cascade refusals by error code.",
		}, []string{"code"}),
		transferRefusals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory_transfer",
			Name:      "refusals_total",
			Help:      "Transfer validation refusals by error code.",
		}, []string{"code"}),
	}
})

func getMetrics() *metrics { return metricsSingleton() }

func recordRefusal(code string) {
	getMetrics().cascadeRefusals.WithLabelValues(code).Inc()
}

func recordTransferRefusal(code string) {
	getMetrics().transferRefusals.WithLabelValues(code).Inc()
}
