package chat

import (
	"github.com/civicstack/certificate-portal/internal/model"
)

// EventType names the SSE event kinds a session emits.
type EventType string

const (
	// EventDirectory carries the partitioned visible request set.
	EventDirectory EventType = "directory"
	// EventWindow carries the displayed message window of the selection.
	EventWindow EventType = "window"
	// EventUnread carries the unread total across visible requests.
	EventUnread EventType = "unread"
	// EventError carries a degraded, retryable failure state.
	EventError EventType = "error"
)

// Event is one outbound session event.
type Event struct {
	Type EventType
	Data any
}

// DirectoryPayload is the data of a directory event.
type DirectoryPayload struct {
	Active     []model.Request `json:"active"`
	Archived   []model.Request `json:"archived"`
	SelectedID string          `json:"selected_id,omitempty"`
}

// WindowPayload is the data of a window event.
type WindowPayload struct {
	RequestID      string          `json:"request_id,omitempty"`
	Messages       []model.Message `json:"messages"`
	Cursor         string          `json:"cursor,omitempty"`
	HasMore        bool            `json:"has_more"`
	ViewingHistory bool            `json:"viewing_history"`
}

// UnreadPayload is the data of an unread event.
type UnreadPayload struct {
	Total int `json:"total"`
}

// ErrorPayload is the data of an error event. Every failure here is
// retryable by user action; none are fatal.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
