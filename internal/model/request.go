// Package model defines data structures for the certificate portal chat service.
package model

import (
	"strings"
	"time"
)

// StatusClass buckets a request's lifecycle status for chat visibility.
type StatusClass int

const (
	// StatusActive requests appear in the active partition of the directory.
	StatusActive StatusClass = iota
	// StatusArchived requests appear in the archived partition.
	StatusArchived
	// StatusExcluded requests never appear in the directory.
	StatusExcluded
)

// ClassifyStatus maps a lifecycle status string to its chat visibility class.
// Matching is case-insensitive. Statuses the lifecycle subsystem may add later
// fall through to active; this table must be kept in sync with it.
func ClassifyStatus(status string) StatusClass {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "completed":
		return StatusArchived
	case "declined", "rejected":
		return StatusExcluded
	default:
		return StatusActive
	}
}

// Request is a certificate request with an attached message thread. The
// lifecycle subsystem owns these documents; the chat service reads them only.
type Request struct {
	ID              string    `json:"id"`
	FullName        string    `json:"full_name"`
	VoterID         string    `json:"voter_id"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
	Email           string    `json:"email"`
	Purpose         string    `json:"purpose"`
	CopiesRequested int       `json:"copies_requested"`
}

// Class returns the visibility class derived from the request status.
func (r Request) Class() StatusClass {
	return ClassifyStatus(r.Status)
}

// Archived reports whether the request belongs in the archived partition.
func (r Request) Archived() bool {
	return r.Class() == StatusArchived
}

// Excluded reports whether the request is hidden from the directory entirely.
func (r Request) Excluded() bool {
	return r.Class() == StatusExcluded
}

// MatchesName reports whether the requester name contains the filter,
// case-insensitively. An empty filter matches everything.
func (r Request) MatchesName(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.FullName), strings.ToLower(filter))
}

// Document field names for the requests collection.
const (
	FieldFullName        = "fullName"
	FieldVoterID         = "voterId"
	FieldStatus          = "status"
	FieldSubmittedAt     = "submittedAt"
	FieldEmail           = "email"
	FieldPurpose         = "purpose"
	FieldCopiesRequested = "copiesRequested"
)

// RequestsCollection is the document collection holding certificate requests.
const RequestsCollection = "requests"

// MessagesCollection returns the message subcollection path for a request.
func MessagesCollection(requestID string) string {
	return "chats/" + requestID + "/messages"
}
