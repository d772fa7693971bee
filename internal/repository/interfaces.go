package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fleet-notify/internal/domain/billing"
	"fleet-notify/internal/domain/message"
	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/domain/session"
)

type SessionRepository interface {
	Create(ctx context.Context, s *session.Session) error
	GetByID(ctx context.Context, id string) (session.Session, error)
	GetAll(ctx context.Context) ([]session.Session, error)
	Delete(ctx context.Context, id string) error

	UpdateStatus(ctx context.Context, id string, status session.Status) error
	UpdateConnected(ctx context.Context, id, phoneNumber, whatsappID string) error
	UpdateDisconnected(ctx context.Context, id string, clearAuth bool) error
	UpdateAuthState(ctx context.Context, id string, authState []byte) error

	SetSystemDefault(ctx context.Context, id string, isDefault bool) error
	// EnsureSystemDefault invokes the store routine that promotes exactly
	// one connected session to system default and demotes the rest.
	EnsureSystemDefault(ctx context.Context) error
	GetDefaultConnected(ctx context.Context) (session.Session, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]message.Message, error)

	GetTemplateByID(ctx context.Context, id uuid.UUID) (message.Template, error)
	GetTemplateByEvent(ctx context.Context, eventName string) (message.Template, error)
}

type NotificationRepository interface {
	Enqueue(ctx context.Context, e *notification.QueueEntry) error
	GetPending(ctx context.Context, limit, maxRetries int) ([]notification.QueueEntry, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	// RecordFailure bumps the retry counter, stores the error and flips the
	// entry to failed once the cap is reached, pending otherwise.
	RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status notification.QueueStatus, errMsg string) error

	CreateLog(ctx context.Context, l *notification.Log) error
	// HasRecentLog reports whether a log row for (notificationType, phone)
	// exists within the window. Used for idempotent duplicate suppression.
	HasRecentLog(ctx context.Context, notificationType, phone string, window time.Duration) (bool, error)
	// UpdateRecentLog best-effort updates the newest matching log row
	// created within the window. Correlation is by (type, phone), not a
	// foreign key.
	UpdateRecentLog(ctx context.Context, notificationType, phone, status, errMsg string, window time.Duration) error

	GetActiveRules(ctx context.Context) ([]notification.Rule, error)
}

type BillingRepository interface {
	GetOrgsExpiringOn(ctx context.Context, day time.Time) ([]billing.Organization, error)
	GetSubscriptionsEndingOn(ctx context.Context, day time.Time) ([]billing.Subscription, error)
	GetOwnerProfile(ctx context.Context, orgID string) (billing.Profile, error)
	GetContactableProfiles(ctx context.Context, orgIDs []string) ([]billing.Profile, error)
}
