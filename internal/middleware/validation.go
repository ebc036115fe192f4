package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateMessageBody validates message content.
func ValidateMessageBody(body string) error {
	if len(strings.TrimSpace(body)) == 0 {
		return errors.New("message cannot be empty")
	}
	if len(body) > 10000 {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateRequestID validates a certificate request id. Request ids are
// opaque document ids; they only need to be path-safe.
func ValidateRequestID(id string) error {
	if id == "" {
		return errors.New("request ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("request ID exceeds maximum length")
	}
	if strings.ContainsAny(id, "/ \t\n") {
		return errors.New("invalid request ID format")
	}
	return nil
}

// ValidatePageSize bounds a caller-chosen page size.
func ValidatePageSize(size int) error {
	if size < 1 || size > 100 {
		return errors.New("page size must be between 1 and 100")
	}
	return nil
}

// ValidateNameFilter validates a requester-name filter string.
func ValidateNameFilter(filter string) error {
	if len(filter) > 256 {
		return errors.New("filter exceeds maximum length")
	}
	if !utf8.ValidString(filter) {
		return errors.New("filter must be valid UTF-8")
	}
	return nil
}
