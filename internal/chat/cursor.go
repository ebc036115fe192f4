package chat

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// Cursor points at a message in a request's descending-timestamp order. It is
// issued by a page load, valid only for the request it was issued against,
// and lives in the caller's session for the duration of a load-more walk.
type Cursor struct {
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
}

// ErrCursorMismatch indicates a cursor used against a different request than
// the one it was issued for.
var ErrCursorMismatch = errors.New("chat: cursor belongs to a different request")

// Encode renders the cursor as an opaque token for the HTTP API.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errors.New("chat: malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, errors.New("chat: malformed cursor")
	}
	if c.RequestID == "" || c.MessageID == "" {
		return Cursor{}, errors.New("chat: malformed cursor")
	}
	return c, nil
}
