package main

import (
	"net/http"

	"github.com/routed-project/routed/internal/metrics"
)

// newMetricsServer exposes the Prometheus registry over HTTP, matching
// dittofs's own pattern of a dedicated metrics listener separate from
// any control-plane API.
func newMetricsServer(addr string, reg *metrics.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
