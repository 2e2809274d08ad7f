// Package http exposes the observability API of a running streaming role:
// the session stats snapshot, a health probe, and the Prometheus metrics.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// API serves role-agnostic endpoints: the stats callback returns whichever
// snapshot type the running session publishes.
type API struct {
	logger  *slog.Logger
	stats   func() any
	metrics http.Handler
}

func NewAPI(stats func() any, metrics http.Handler) *API {
	return &API{
		logger:  slog.Default(),
		stats:   stats,
		metrics: metrics,
	}
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/healthz", a.Health)
	mux.HandlerFunc("GET", "/api/v1/stats", a.Stats)
	if a.metrics != nil {
		mux.Handler("GET", "/metrics", a.metrics)
	}
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.stats()); err != nil {
		a.logger.Error("failed to encode stats", "error", err)
	}
}
