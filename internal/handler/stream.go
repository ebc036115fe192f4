package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// heartbeatInterval keeps intermediaries from closing quiet SSE streams.
const heartbeatInterval = 15 * time.Second

// Stream handles GET /api/v1/chat/sessions/{sid}/stream
// One SSE stream per session: directory, window, unread, and error events.
// When the client disconnects the session detaches and is later reaped if no
// stream returns.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.Attach(); err != nil {
		writeError(w, http.StatusConflict, "session already has a stream")
		return
	}
	defer session.Detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": session.ID,
	})

	done := r.Context().Done()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("stream client disconnected",
				zap.String("session_id", session.ID),
			)
			return
		case <-session.Done():
			sendSSEEvent(w, flusher, "closed", map[string]string{
				"session_id": session.ID,
			})
			return
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"ts": time.Now().UTC().Format(time.RFC3339),
			})
		case ev := <-session.Events():
			session.Touch()
			sendSSEEvent(w, flusher, string(ev.Type), ev.Data)
		}
	}
}

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
