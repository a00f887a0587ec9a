package domain

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleAssistant Role = "assistant"
	RoleStaff     Role = "staff"
)

// UnmarshalJSON accepts the legacy role names written by the first
// storefront release ("user" and "admin").
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "user":
		*r = RoleVisitor
	case "admin":
		*r = RoleStaff
	default:
		*r = Role(s)
	}
	return nil
}

// Replier reports whether messages with this role count towards the
// visitor's unread badge.
func (r Role) Replier() bool {
	return r == RoleAssistant || r == RoleStaff
}

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionClosed   SessionStatus = "closed"
	SessionArchived SessionStatus = "archived"
)

type MessageMetadata struct {
	ClientRef string `json:"client_ref,omitempty"`
	Automated bool   `json:"automated,omitempty"`
}

type ChatMessage struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Role      Role             `json:"role"`
	Message   string           `json:"message"`
	UserName  string           `json:"user_name,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"is_read"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

func (m ChatMessage) ClientRef() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.ClientRef
}

type ChatSession struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	UserName  string        `json:"user_name,omitempty"`
	UserEmail string        `json:"user_email,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type StartChatRequest struct {
	UserName  string `json:"user_name" validate:"omitempty,max=80"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
}

type SendMessageRequest struct {
	Message  string `json:"message" validate:"required,max=2000"`
	UserName string `json:"user_name" validate:"omitempty,max=80"`
}

type StaffMessageRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

type ChatThreadResponse struct {
	SessionID   string        `json:"session_id"`
	Messages    []ChatMessage `json:"messages"`
	UnreadCount int           `json:"unread_count"`
	Connected   bool          `json:"connected"`
	Error       string        `json:"error,omitempty"`
}
