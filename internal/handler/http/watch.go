package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// serveWatch streams store snapshots as server-sent events: one event
// immediately, then one per subscriber tick, until the client disconnects.
// Ticks are coalesced by the subscription, so a slow client always receives
// the latest snapshot rather than a backlog.
func serveWatch(
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	subscribe func() (<-chan struct{}, func()),
	snapshot func() any,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, response{
			Error: &errorResponse{Code: "INTERNAL_ERROR", Message: "streaming unsupported"},
		})
		return
	}

	ch, cancel := subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		data, err := json.Marshal(snapshot())
		if err != nil {
			logger.ErrorContext(r.Context(), "marshal watch snapshot", slog.String("error", err.Error()))
			return false
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := w.Write(data); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if !send() {
				return
			}
		}
	}
}
