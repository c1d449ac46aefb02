package httprouter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the Prometheus text-exposition handler mounted at
// /metrics, a SPEC_FULL.md supplement living outside the <base> grammar.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
