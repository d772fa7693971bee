package message

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes plain text sends from template sends
type Kind string

const (
	KindText     Kind = "text"
	KindTemplate Kind = "template"
)

// Status is decided once, at creation time of the audit record
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Message is the append-only audit record in whatsapp_messages.
// Every send attempt produces exactly one row, success or not.
type Message struct {
	ID             uuid.UUID
	OrgID          *string
	SessionID      string
	RecipientPhone string
	Body           string
	Kind           Kind
	Status         Status
	ErrorMessage   *string
	SentAt         *time.Time
	CreatedAt      time.Time
}

// Template represents the notification_templates table
type Template struct {
	ID        uuid.UUID
	EventName string
	Content   string
	IsActive  bool
	CreatedAt time.Time
}

// BulkRecipient is one entry of a bulk-send request
type BulkRecipient struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// BulkResult captures the per-recipient outcome of a bulk send
type BulkResult struct {
	PhoneNumber string `json:"phoneNumber"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}
