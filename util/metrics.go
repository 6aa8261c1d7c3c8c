package util

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var collectDurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// ActivityMetrics - Counters and timings reported by the activity job
type ActivityMetrics struct {
	errors          *prometheus.CounterVec
	collectDuration *prometheus.HistogramVec
	rows            *prometheus.CounterVec
}

// NewActivityMetrics registers the activity metrics with the given registerer. A
// nil registerer leaves the metrics unregistered, which is useful in tests.
//
// Registering twice with the same registerer reuses the existing collectors.
func NewActivityMetrics(registerer prometheus.Registerer) *ActivityMetrics {
	m := &ActivityMetrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlserver",
			Subsystem: "activity",
			Name:      "errors_total",
			Help:      "Number of activity polls that failed",
		}, []string{"server"}),
		collectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlserver",
			Subsystem: "activity",
			Name:      "collect_duration_milliseconds",
			Help:      "Time taken by one activity poll, including submission",
			Buckets:   collectDurationBuckets,
		}, []string{"server"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlserver",
			Subsystem: "activity",
			Name:      "rows_total",
			Help:      "Number of activity rows by outcome",
		}, []string{"server", "outcome"}),
	}

	if registerer == nil {
		return m
	}

	collectors := []prometheus.Collector{m.errors, m.collectDuration, m.rows}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch v := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					if collector == m.errors {
						m.errors = v
					} else if collector == m.rows {
						m.rows = v
					}
				case *prometheus.HistogramVec:
					m.collectDuration = v
				}
			}
		}
	}
	return m
}

func (m *ActivityMetrics) IncError(server string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(server).Inc()
}

func (m *ActivityMetrics) ObserveCollectDuration(server string, d time.Duration) {
	if m == nil {
		return
	}
	m.collectDuration.WithLabelValues(server).Observe(float64(d) / float64(time.Millisecond))
}

// AddRows counts rows by outcome: "fetched", "submitted" or "truncated"
func (m *ActivityMetrics) AddRows(server string, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(server, outcome).Add(float64(n))
}
