package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-notify/internal/domain/message"
	notifyerrors "fleet-notify/pkg/errors"
)

type messageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, m *message.Message) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO whatsapp_messages (id, org_id, session_id, recipient_phone, message_body, message_type, status, error_message, sent_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `,
		m.ID,
		m.OrgID,
		m.SessionID,
		m.RecipientPhone,
		m.Body,
		m.Kind,
		m.Status,
		m.ErrorMessage,
		m.SentAt,
		m.CreatedAt,
	)
	return err
}

func (r *messageRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]message.Message, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, org_id, session_id, recipient_phone, message_body, message_type, status, error_message, sent_at, created_at
        FROM whatsapp_messages
        WHERE session_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		var m message.Message
		if err := rows.Scan(
			&m.ID,
			&m.OrgID,
			&m.SessionID,
			&m.RecipientPhone,
			&m.Body,
			&m.Kind,
			&m.Status,
			&m.ErrorMessage,
			&m.SentAt,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *messageRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (message.Template, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, event_name, content, is_active, created_at
        FROM notification_templates
        WHERE id = $1 AND is_active = TRUE
    `, id)
	return scanTemplate(row)
}

func (r *messageRepository) GetTemplateByEvent(ctx context.Context, eventName string) (message.Template, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, event_name, content, is_active, created_at
        FROM notification_templates
        WHERE event_name = $1 AND is_active = TRUE
    `, eventName)
	return scanTemplate(row)
}

func scanTemplate(row pgx.Row) (message.Template, error) {
	var t message.Template
	err := row.Scan(&t.ID, &t.EventName, &t.Content, &t.IsActive, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return message.Template{}, notifyerrors.ErrTemplateNotFound
	}
	return t, err
}
