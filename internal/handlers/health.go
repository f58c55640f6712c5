package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/stanstork/stockflow-api/internal/tracker"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type pollerStatus interface {
	PollerState() tracker.PollerState
}

type HealthHandler struct {
	db     pinger
	poller pollerStatus
}

func NewHealthHandler(db pinger, poller pollerStatus) *HealthHandler {
	return &HealthHandler{db: db, poller: poller}
}

// Check reports database reachability and whether the import poller is running.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{"status": "ok"}
	status := http.StatusOK

	if h.poller != nil {
		response["poller"] = string(h.poller.PollerState())
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			response["status"] = "degraded"
			response["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, response)
}
