package notification

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus tracks a queue entry through its lifecycle
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusSent       QueueStatus = "sent"
	StatusFailed     QueueStatus = "failed"
)

// MaxRetries is the retry cap for queue entries. Once RetryCount reaches
// it the entry becomes terminally failed and is left for manual inspection.
const MaxRetries = 2

// Notification types rendered by the builtin renderer
const (
	TypeTrialWelcome   = "trial_welcome"
	TypePaidWelcome    = "paid_welcome"
	TypeExpiryReminder = "expiry_reminder"
	TypeExpiryUrgent   = "expiry_urgent"
)

// EventExpiringSoon is the rule trigger handled by the hourly scan
const EventExpiringSoon = "subscription_expiring_soon"

// QueueEntry represents the whatsapp_notification_queue table
type QueueEntry struct {
	ID           uuid.UUID
	OrgID        string
	UserID       *string
	PhoneNumber  string
	Type         string
	Variables    map[string]any
	Status       QueueStatus
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Log is a correlation record in whatsapp_notification_logs used for
// duplicate suppression. Correlation with a queue entry is by
// (Type, PhoneNumber) plus a recency window, not a foreign key.
type Log struct {
	ID           uuid.UUID
	OrgID        *string
	UserID       *string
	Type         string
	PhoneNumber  string
	Status       string
	ErrorMessage *string
	SentAt       *time.Time
	CreatedAt    time.Time
}

// Rule is a declarative schedule row in notification_rules, read-only here
type Rule struct {
	ID           uuid.UUID
	TriggerEvent string
	DaysOffset   int
	TriggerTime  string // HH:MM:SS
	IsActive     bool
}

// Outcome is the structured result of the event-triggered producer.
// A missing template is an outcome, not an error, so callers can tell
// configuration gaps from transport failures.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
