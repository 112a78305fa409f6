package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics covers the connection registry and the per-connection loop.
type WebSocketMetrics struct {
	ActiveConnections *prometheus.GaugeVec
	MessagesSent      *prometheus.CounterVec
	PrunedConnections *prometheus.CounterVec
	InboundFrames     *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	Rejections        *prometheus.CounterVec
	SendDuration      prometheus.Histogram
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections, by role class.",
		}, []string{"role_class"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of frames enqueued to connections, by route.",
		}, []string{"route"}),
		PrunedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "pruned_connections_total",
			Help:      "Total number of connections removed after a failed send, by reason.",
		}, []string{"reason"}),
		InboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "inbound_frames_total",
			Help:      "Total number of client frames handled, by type.",
		}, []string{"type"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "auth_failures_total",
			Help:      "Total number of rejected WebSocket authentications, by reason.",
		}, []string{"reason"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_rejections_total",
			Help:      "Total number of upgrades refused by connection limits, by reason.",
		}, []string{"reason"}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "write_duration_seconds",
			Help:      "Duration of single WebSocket frame writes in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.PrunedConnections,
		m.InboundFrames, m.AuthFailures, m.Rejections, m.SendDuration)
	return m
}
