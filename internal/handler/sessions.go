package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/chat"
	"github.com/civicstack/certificate-portal/internal/middleware"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

// SessionHandler serves the stateful chat surface: one session per viewer,
// commanded over REST, observed over the session's SSE stream.
type SessionHandler struct {
	manager *chat.Manager
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *chat.Manager, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  log,
	}
}

// CreateSessionResponse is returned when a session is created.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// SelectRequest is the body of a select command.
type SelectRequest struct {
	RequestID string `json:"request_id"`
}

// FilterRequest is the body of a filter command.
type FilterRequest struct {
	Query string `json:"query"`
}

// Create handles POST /api/v1/chat/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	session, err := h.manager.Create(principal)
	if err != nil {
		h.logger.Error("failed to create chat session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create chat session")
		return
	}

	streamURL := "/api/v1/chat/sessions/" + session.ID + "/stream"
	w.Header().Set("X-Stream-URL", streamURL)
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: session.ID,
		StreamURL: streamURL,
	})
}

// Delete handles DELETE /api/v1/chat/sessions/{sid}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	h.manager.Remove(session.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Select handles POST /api/v1/chat/sessions/{sid}/select
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequestID != "" {
		if err := middleware.ValidateRequestID(req.RequestID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	switch err := session.Select(req.RequestID); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chat.ErrDirectoryLoading):
		// Distinct from not-found: the visible set is not known yet.
		writeError(w, http.StatusConflict, "request list still loading")
	case errors.Is(err, chat.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, chat.ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
	default:
		h.logger.Error("select failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to select request")
	}
}

// Older handles POST /api/v1/chat/sessions/{sid}/older
// A call with no cursor or with a load in flight is acknowledged and ignored.
func (h *SessionHandler) Older(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.LoadOlder(); err != nil {
		writeError(w, http.StatusGone, "session closed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Latest handles POST /api/v1/chat/sessions/{sid}/latest
func (h *SessionHandler) Latest(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := session.JumpToLatest(); err != nil {
		writeError(w, http.StatusGone, "session closed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Filter handles POST /api/v1/chat/sessions/{sid}/filter
func (h *SessionHandler) Filter(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateNameFilter(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := session.SetFilter(req.Query); err != nil {
		writeError(w, http.StatusGone, "session closed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send handles POST /api/v1/chat/sessions/{sid}/messages
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageBody(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := session.Send(req.Message); {
	case err == nil:
		// The sent message arrives on the window event stream.
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, chat.ErrNoSelection):
		writeError(w, http.StatusConflict, "no request selected")
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message cannot be empty")
	case errors.Is(err, chat.ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
	default:
		h.logger.Error("send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

// Read handles POST /api/v1/chat/sessions/{sid}/read
func (h *SessionHandler) Read(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	switch err := session.MarkRead(); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, chat.ErrNoSelection):
		writeError(w, http.StatusConflict, "no request selected")
	default:
		writeError(w, http.StatusGone, "session closed")
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	principal := middleware.GetPrincipal(r.Context())
	sessionID := chi.URLParam(r, "sid")

	session, ok := h.manager.Get(sessionID, principal)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}
