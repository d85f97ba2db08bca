package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"veracity/internal/broadcast"
	"veracity/internal/session"
)

// HandleWatchSSE streams progress events for a session over Server-Sent
// Events: GET /api/watch/{id}. The stream closes on terminal events; a
// reconnecting client re-queries the session store for anything it missed.
func (h *AnalysisHandler) HandleWatchSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/watch/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	if _, err := h.Store.Get(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sub := h.Bus.Subscribe(ctx, id)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				fmt.Fprintf(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

			if ev.Type == broadcast.EventSessionCompleted || ev.Type == broadcast.EventSessionFailed {
				return
			}
		}
	}
}
