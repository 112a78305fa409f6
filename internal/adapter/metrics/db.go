package metrics

import "github.com/prometheus/client_golang/prometheus"

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
	Errors        *prometheus.CounterVec
}

func NewDBMetrics(reg prometheus.Registerer) *DBMetrics {
	m := &DBMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of PostgreSQL queries in seconds, by statement verb.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"query"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Total number of failed PostgreSQL queries, by statement verb.",
		}, []string{"query"}),
	}

	reg.MustRegister(m.QueryDuration, m.Errors)
	return m
}
