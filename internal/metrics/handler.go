package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterHandlers registers the metrics and health endpoints on a mux
func RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
}
