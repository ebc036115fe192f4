package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/chat"
	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/middleware"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

// RequestHandler serves the stateless chat endpoints: one-shot directory
// listing, message pages for deep links, send, mark-read, and the unread
// total.
type RequestHandler struct {
	dir      *chat.Directory
	messages *chat.Messages
	marker   *chat.ReadMarker
	unread   *chat.UnreadCounter
	logger   *logger.Logger
}

// NewRequestHandler creates a request handler.
func NewRequestHandler(
	dir *chat.Directory,
	messages *chat.Messages,
	marker *chat.ReadMarker,
	unread *chat.UnreadCounter,
	log *logger.Logger,
) *RequestHandler {
	return &RequestHandler{
		dir:      dir,
		messages: messages,
		marker:   marker,
		unread:   unread,
		logger:   log,
	}
}

// ListResponse is the partitioned visible request set.
type ListResponse struct {
	Active   []model.Request `json:"active"`
	Archived []model.Request `json:"archived"`
}

// PageResponse is one message window.
type PageResponse struct {
	Messages []model.Message `json:"messages"`
	Cursor   string          `json:"cursor,omitempty"`
	HasMore  bool            `json:"has_more"`
}

// SendRequest is the body of a send call.
type SendRequest struct {
	Message string `json:"message"`
}

// List handles GET /api/v1/requests
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)

	filter := r.URL.Query().Get("q")
	if err := middleware.ValidateNameFilter(filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reqs, err := h.dir.List(ctx, principal)
	if err != nil {
		h.logger.Error("failed to list requests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	active, archived := chat.Partition(reqs, filter)
	if active == nil {
		active = []model.Request{}
	}
	if archived == nil {
		archived = []model.Request{}
	}

	writeJSON(w, http.StatusOK, ListResponse{Active: active, Archived: archived})
}

// Get handles GET /api/v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.dir.Get(ctx, principal, requestID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.Error("failed to load request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// Messages handles GET /api/v1/requests/{id}/messages
// Without a cursor this returns the latest window; with one it returns the
// next older page. Either way the returned page replaces the caller's view.
func (h *RequestHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.dir.Get(ctx, principal, requestID); err != nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}

	pageSize := chat.DefaultPageSize
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		parsed, err := strconv.Atoi(ps)
		if err != nil || middleware.ValidatePageSize(parsed) != nil {
			writeError(w, http.StatusBadRequest, "invalid page size")
			return
		}
		pageSize = parsed
	}

	var page chat.Page
	var err error
	if token := r.URL.Query().Get("cursor"); token != "" {
		cursor, derr := chat.DecodeCursor(token)
		if derr != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		page, err = h.messages.LoadOlder(ctx, requestID, cursor, pageSize)
		if errors.Is(err, chat.ErrCursorMismatch) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
	} else {
		page, err = h.messages.LoadLatest(ctx, requestID, pageSize)
	}
	if err != nil {
		h.logger.Error("failed to load messages",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "cannot load messages")
		return
	}

	resp := PageResponse{Messages: page.Messages, HasMore: page.HasMore}
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}
	if page.Cursor != nil {
		resp.Cursor = page.Cursor.Encode()
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/requests/{id}/messages
func (h *RequestHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.dir.Get(ctx, principal, requestID); err != nil {
		writeError(w, http.StatusNotFound, "request not found")
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

	msg, err := h.messages.Send(ctx, principal, requestID, req.Message)
	if err != nil {
		h.logger.Error("failed to send message",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// Read handles POST /api/v1/requests/{id}/read
// Mark-read is best effort; store failures are logged and the call still
// succeeds so read-state never blocks viewing.
func (h *RequestHandler) Read(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.dir.Get(ctx, principal, requestID); err != nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}

	marked, err := h.marker.MarkRead(ctx, requestID, principal.Role)
	if err != nil {
		h.logger.Warn("mark read failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// Unread handles GET /api/v1/unread
func (h *RequestHandler) Unread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)

	total, err := h.unread.Total(ctx, principal)
	if err != nil {
		h.logger.Error("failed to compute unread total", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute unread total")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}
