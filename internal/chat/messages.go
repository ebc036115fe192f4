package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// DefaultPageSize is the message window size when the caller does not choose.
const DefaultPageSize = 10

// ErrEmptyMessage indicates a send with no content after trimming.
var ErrEmptyMessage = errors.New("chat: message is empty")

// Page is one bounded window of a request's thread, in ascending time order.
// Cursor references the oldest message of the window, for walking further
// back. HasMore uses the full-page heuristic: a full page implies more may
// exist, an undersized page implies exhaustion. When the thread length is an
// exact multiple of the page size this over-reports by one page; the next
// LoadOlder then returns an empty page.
type Page struct {
	Messages []model.Message
	Cursor   *Cursor
	HasMore  bool
}

// Messages loads bounded windows of a request's thread and appends to it.
// Loads are pure reads, safe to repeat on failure.
type Messages struct {
	store docstore.Store
}

// NewMessages creates the message loader/sender.
func NewMessages(store docstore.Store) *Messages {
	return &Messages{store: store}
}

// WindowQuery is the query for the latest pageSize messages of a request,
// newest first. Live window subscriptions use the same shape.
func WindowQuery(requestID string, pageSize int) docstore.Query {
	return docstore.Query{
		Collection: model.MessagesCollection(requestID),
		OrderBy:    &docstore.Order{Field: model.FieldTimestamp, Descending: true},
		Limit:      pageSize,
	}
}

// LoadLatest fetches the pageSize most recent messages of a request.
func (m *Messages) LoadLatest(ctx context.Context, requestID string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	docs, err := m.store.Query(ctx, WindowQuery(requestID, pageSize))
	if err != nil {
		return Page{}, fmt.Errorf("failed to load latest messages: %w", err)
	}

	metrics.PageLoadsTotal.WithLabelValues("latest").Inc()
	return PageFromWindow(requestID, docs, pageSize), nil
}

// LoadOlder fetches the next pageSize messages strictly older than the
// cursor. The returned page replaces the caller's displayed window; history
// is viewed one page at a time, not accumulated.
func (m *Messages) LoadOlder(ctx context.Context, requestID string, cur Cursor, pageSize int) (Page, error) {
	if cur.RequestID != requestID {
		return Page{}, ErrCursorMismatch
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	q := WindowQuery(requestID, pageSize)
	q.StartAfter = &docstore.DocRef{
		Collection: q.Collection,
		ID:         cur.MessageID,
	}

	docs, err := m.store.Query(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("failed to load older messages: %w", err)
	}

	metrics.PageLoadsTotal.WithLabelValues("older").Inc()
	return PageFromWindow(requestID, docs, pageSize), nil
}

// PageFromWindow converts a newest-first window result into a display page:
// ascending order, cursor on the oldest message, full-page hasMore heuristic.
func PageFromWindow(requestID string, docs []docstore.Document, pageSize int) Page {
	msgs := make([]model.Message, len(docs))
	for i, doc := range docs {
		// Reverse: store order is newest first, display order is oldest first.
		msgs[len(docs)-1-i] = messageFromDoc(requestID, doc)
	}

	page := Page{
		Messages: msgs,
		HasMore:  len(docs) == pageSize && pageSize > 0,
	}
	if len(docs) > 0 {
		page.Cursor = &Cursor{
			RequestID: requestID,
			MessageID: docs[len(docs)-1].Ref.ID,
		}
	}
	return page
}

// Send appends a message to a request's thread. The sender's own read flag is
// set at creation; the counterpart's starts false. The store assigns the
// timestamp. On failure the caller keeps the input so the user can retry.
func (m *Messages) Send(ctx context.Context, principal model.Principal, requestID, body string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, ErrEmptyMessage
	}

	side := principal.Role.ChatSide()
	fields := map[string]any{
		model.FieldSender:      string(side),
		model.FieldSenderID:    principal.ID,
		model.FieldBody:        body,
		model.FieldTimestamp:   docstore.ServerTimestamp,
		model.FieldReadByVoter: side == model.RoleVoter,
		model.FieldReadByStaff: side == model.RoleStaff,
	}

	ref, err := m.store.Add(ctx, model.MessagesCollection(requestID), fields)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(side)).Inc()

	doc, err := m.store.Get(ctx, ref)
	if err != nil {
		// The write landed; return what we know without the server timestamp.
		return model.Message{
			ID:          ref.ID,
			RequestID:   requestID,
			Sender:      side,
			SenderID:    principal.ID,
			Body:        body,
			ReadByVoter: side == model.RoleVoter,
			ReadByStaff: side == model.RoleStaff,
		}, nil
	}

	return messageFromDoc(requestID, doc), nil
}
