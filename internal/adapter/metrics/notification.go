package metrics

import "github.com/prometheus/client_golang/prometheus"

type NotificationMetrics struct {
	Dispatched     *prometheus.CounterVec
	DispatchErrors *prometheus.CounterVec
	Suppressed     *prometheus.CounterVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Total number of notifications routed, by message type.",
		}, []string{"type"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_errors_total",
			Help:      "Total number of notifications whose routing failed, by message type.",
		}, []string{"type"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "suppressed_total",
			Help:      "Total number of events that produced no message, by message type.",
		}, []string{"type"}),
	}

	reg.MustRegister(m.Dispatched, m.DispatchErrors, m.Suppressed)
	return m
}
