package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-notify/internal/domain/notification"
)

type notificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Enqueue(ctx context.Context, e *notification.QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	variables, err := json.Marshal(e.Variables)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
        INSERT INTO whatsapp_notification_queue (id, org_id, user_id, phone_number, notification_type, variables, status, retry_count, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `,
		e.ID,
		e.OrgID,
		e.UserID,
		e.PhoneNumber,
		e.Type,
		variables,
		e.Status,
		e.RetryCount,
		e.CreatedAt,
	)
	return err
}

func (r *notificationRepository) GetPending(ctx context.Context, limit, maxRetries int) ([]notification.QueueEntry, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, org_id, user_id, phone_number, notification_type, variables, status, retry_count, error_message, created_at, processed_at
        FROM whatsapp_notification_queue
        WHERE status = $1 AND retry_count < $2
        ORDER BY created_at ASC
        LIMIT $3
    `, notification.StatusPending, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []notification.QueueEntry
	for rows.Next() {
		var e notification.QueueEntry
		var variables []byte
		if err := rows.Scan(
			&e.ID,
			&e.OrgID,
			&e.UserID,
			&e.PhoneNumber,
			&e.Type,
			&variables,
			&e.Status,
			&e.RetryCount,
			&e.ErrorMessage,
			&e.CreatedAt,
			&e.ProcessedAt,
		); err != nil {
			return nil, err
		}
		if len(variables) > 0 {
			if err := json.Unmarshal(variables, &e.Variables); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *notificationRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_notification_queue
        SET status = $1
        WHERE id = $2
    `, notification.StatusProcessing, id)
	return err
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_notification_queue
        SET status = $1, processed_at = $2, error_message = NULL
        WHERE id = $3
    `, notification.StatusSent, time.Now(), id)
	return err
}

func (r *notificationRepository) RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status notification.QueueStatus, errMsg string) error {
	var processedAt *time.Time
	if status == notification.StatusFailed {
		now := time.Now()
		processedAt = &now
	}
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_notification_queue
        SET status = $1, retry_count = $2, error_message = $3, processed_at = $4
        WHERE id = $5
    `, status, retryCount, errMsg, processedAt, id)
	return err
}

func (r *notificationRepository) CreateLog(ctx context.Context, l *notification.Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO whatsapp_notification_logs (id, org_id, user_id, notification_type, phone_number, status, error_message, sent_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `,
		l.ID,
		l.OrgID,
		l.UserID,
		l.Type,
		l.PhoneNumber,
		l.Status,
		l.ErrorMessage,
		l.SentAt,
		l.CreatedAt,
	)
	return err
}

func (r *notificationRepository) HasRecentLog(ctx context.Context, notificationType, phone string, window time.Duration) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM whatsapp_notification_logs
            WHERE notification_type = $1 AND phone_number = $2 AND created_at >= $3
        )
    `, notificationType, phone, time.Now().Add(-window)).Scan(&exists)
	return exists, err
}

func (r *notificationRepository) UpdateRecentLog(ctx context.Context, notificationType, phone, status, errMsg string, window time.Duration) error {
	var sentAt *time.Time
	if status == "sent" {
		now := time.Now()
		sentAt = &now
	}
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_notification_logs
        SET status = $1, error_message = $2, sent_at = $3
        WHERE id = (
            SELECT id
            FROM whatsapp_notification_logs
            WHERE notification_type = $4 AND phone_number = $5 AND created_at >= $6
            ORDER BY created_at DESC
            LIMIT 1
        )
    `, status, errPtr, sentAt, notificationType, phone, time.Now().Add(-window))
	return err
}

func (r *notificationRepository) GetActiveRules(ctx context.Context) ([]notification.Rule, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, trigger_event, days_offset, trigger_time::text, is_active
        FROM notification_rules
        WHERE is_active = TRUE
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []notification.Rule
	for rows.Next() {
		var rule notification.Rule
		if err := rows.Scan(&rule.ID, &rule.TriggerEvent, &rule.DaysOffset, &rule.TriggerTime, &rule.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
