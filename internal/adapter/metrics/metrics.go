// Package metrics defines the Prometheus instruments of the real-time service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pscheid92/medidash/internal/platform/version"
)

const namespace = "medidash"

// NewRegistry returns the service registry: runtime and process collectors
// plus a constant build_info series carrying the running version.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Always 1; labels identify the running build.",
			ConstLabels: prometheus.Labels{"service": version.Service, "version": version.Version, "commit": version.Commit},
		}, func() float64 { return 1 }),
	)
	return reg
}

// Handler serves reg for scraping. Collection errors are reported in the
// response rather than failing the scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
