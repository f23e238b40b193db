package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus exposition handler for this collector's
// registry, mountable directly at /metrics.
func (c *Collector) Handler() http.Handler {
	if !c.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
