package model

import (
	"time"
)

// Role identifies which side of a conversation a principal sits on.
type Role string

const (
	RoleVoter Role = "voter"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one the service recognizes.
func (r Role) Valid() bool {
	return r == RoleVoter || r == RoleStaff || r == RoleAdmin
}

// ChatSide collapses the role to its side of the conversation. Admins read
// and write as staff.
func (r Role) ChatSide() Role {
	if r == RoleVoter {
		return RoleVoter
	}
	return RoleStaff
}

// Counterpart returns the opposite side of the conversation.
func (r Role) Counterpart() Role {
	if r.ChatSide() == RoleVoter {
		return RoleStaff
	}
	return RoleVoter
}

// ReadFlagField returns the document field holding this side's read flag.
func (r Role) ReadFlagField() string {
	if r.ChatSide() == RoleVoter {
		return FieldReadByVoter
	}
	return FieldReadByStaff
}

// Principal is the authenticated actor on whose behalf operations run.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Message is one entry in a request's thread. Messages are immutable except
// for the two read flags, which only ever flip false to true.
type Message struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	Sender      Role      `json:"sender"`
	SenderID    string    `json:"sender_id"`
	Body        string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	ReadByVoter bool      `json:"read_by_voter"`
	ReadByStaff bool      `json:"read_by_staff"`
}

// ReadBy reports whether the given side has read the message.
func (m Message) ReadBy(role Role) bool {
	if role.ChatSide() == RoleVoter {
		return m.ReadByVoter
	}
	return m.ReadByStaff
}

// Document field names for message documents.
const (
	FieldSender      = "sender"
	FieldSenderID    = "senderId"
	FieldBody        = "message"
	FieldTimestamp   = "timestamp"
	FieldReadByVoter = "readByVoter"
	FieldReadByStaff = "readByStaff"
)
