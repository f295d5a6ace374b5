package events

import (
	"time"

	"github.com/spec-kit/research-auth/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded   EventType = "login_succeeded"
	EventLoginRejected    EventType = "login_rejected"
	EventSessionRefreshed EventType = "session_refreshed"
	EventSessionRevoked   EventType = "session_revoked"
)

// AllEventTypes lists every event the auth service emits.
var AllEventTypes = []EventType{
	EventLoginSucceeded,
	EventLoginRejected,
	EventSessionRefreshed,
	EventSessionRevoked,
}

// Event represents an auth event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	AccountID string      `json:"account_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// LoginSucceededPayload payload.
type LoginSucceededPayload struct {
	Email        string      `json:"email"`
	Role         domain.Role `json:"role"`
	DepartmentID *int64      `json:"department_id,omitempty"`
	FirstLogin   bool        `json:"first_login"`
}

// LoginRejectedPayload payload. Email is empty when the provider assertion
// could not be verified.
type LoginRejectedPayload struct {
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason"`
}
