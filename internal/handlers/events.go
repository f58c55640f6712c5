package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stanstork/stockflow-api/internal/tracker"
)

const eventKeepAlive = 30 * time.Second

// Events streams tracker updates as server-sent events. A client that falls
// behind loses updates rather than stalling the poller.
func (h *ImportHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	send := make(chan tracker.Update, 64)
	unsubscribe := h.tracker.Subscribe(func(u tracker.Update) {
		select {
		case send <- u:
		default:
			h.logger.Debug().Str("kind", string(u.Kind)).Msg("event stream client lagging, update dropped")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case u := <-send:
			data, err := json.Marshal(u)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to encode tracker update")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, data)
			flusher.Flush()
		}
	}
}
