package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics tracks the Redis pub/sub relay and the Kafka event ingress.
type RelayMetrics struct {
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	Received       prometheus.Counter
	DecodeErrors   prometheus.Counter
	EventsConsumed *prometheus.CounterVec
	CircuitState   prometheus.Gauge

	RedisOps        *prometheus.CounterVec
	RedisOpDuration *prometheus.HistogramVec
	RedisDialErrors prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Total number of envelopes published to Redis.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "publish_errors_total",
			Help:      "Total number of failed Redis publishes.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "received_total",
			Help:      "Total number of envelopes received from Redis.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "decode_errors_total",
			Help:      "Total number of envelopes or events that could not be decoded.",
		}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Total number of integration events consumed from Kafka, by type and result.",
		}, []string{"type", "result"}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		RedisOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"operation", "status"}),
		RedisOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis commands in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		RedisDialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "dial_errors_total",
			Help:      "Total number of failed Redis connection attempts.",
		}),
	}

	reg.MustRegister(m.Published, m.PublishErrors, m.Received, m.DecodeErrors, m.EventsConsumed, m.CircuitState,
		m.RedisOps, m.RedisOpDuration, m.RedisDialErrors)
	return m
}
