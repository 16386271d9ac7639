package handlers

import (
	"context"
	"net/http"
	"time"

	"parcelflow/internal/logx"
)

const probeTimeout = 2 * time.Second

// Probe reports whether one dependency can serve traffic.
type Probe func(ctx context.Context) error

// Handlers serves the service-level endpoints.
type Handlers struct {
	Logger logx.Logger
	probes []Probe
}

// New creates Handlers. HEAD /healthcheck runs every probe.
func New(logger logx.Logger, probes ...Probe) *Handlers {
	return &Handlers{Logger: orNop(logger), probes: probes}
}

// Ping handles GET /ping; it answers as long as the process is up.
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.Logger, w, r, http.StatusOK, map[string]string{"message": "pong"})
}

// HealthcheckHead handles HEAD /healthcheck: 204 when every probe passes, 503 otherwise.
func (h *Handlers) HealthcheckHead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	for _, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.Logger.Warn("healthcheck failed", logx.Err(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// NotFound returns a JSON 404 error for unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(h.Logger, w, r, http.StatusNotFound, "route not found")
}
