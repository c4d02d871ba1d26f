package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger: store, cache o cualquier dependencia que pueda chequearse.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz maneja GET /healthz: 200 si todas las dependencias responden, 503 si no.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := map[string]string{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			out[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": out}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	WriteJSON(w, status, body)
}
