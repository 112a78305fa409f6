package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no route matched, so scanners cannot grow
// the label set with arbitrary paths.
const unmatchedRoute = "unmatched"

// Upgrades stay open for the life of the connection and probes would drown
// the notification traffic.
var untrackedPrefixes = []string{"/metrics", "/health/", "/ws/"}

// HTTPMetrics covers the notification, presence and instance API.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	labels := []string{"method", "route", "status_code"}
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests served, by route template and status.",
		}, labels),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency, by route template and status.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, labels),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "API requests currently being handled.",
		}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.InFlight)
	return m
}

func tracked(route string) bool {
	for _, prefix := range untrackedPrefixes {
		if strings.HasPrefix(route, prefix) {
			return false
		}
	}
	return true
}

// Middleware counts each API request under its route template once the
// handler and error middleware have produced the final status.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = unmatchedRoute
			}
			if !tracked(route) {
				return next(c)
			}

			m.InFlight.Inc()
			start := time.Now()
			err := next(c)
			m.InFlight.Dec()

			method := c.Request().Method
			status := strconv.Itoa(responseStatus(c, err))
			m.Requests.WithLabelValues(method, route, status).Inc()
			m.Duration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// responseStatus is the status the client will see. An error returned past
// this middleware is only written later by the error handler.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}
