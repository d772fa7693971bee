package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-notify/internal/domain/session"
	notifyerrors "fleet-notify/pkg/errors"
)

type sessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, org_id, status, phone_number, whatsapp_id, is_system_default, auth_state, created_at, updated_at, last_connected_at`

func (r *sessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO whatsapp_sessions (id, org_id, status, is_system_default, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
    `, s.ID, s.OrgID, s.Status, s.IsSystemDefault, time.Now())
	return err
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (session.Session, error) {
	row := r.db.QueryRow(ctx, `
        SELECT `+sessionColumns+`
        FROM whatsapp_sessions
        WHERE id = $1
    `, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, notifyerrors.ErrSessionNotFound
	}
	return s, err
}

func (r *sessionRepository) GetAll(ctx context.Context) ([]session.Session, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+sessionColumns+`
        FROM whatsapp_sessions
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM whatsapp_sessions WHERE id = $1`, id)
	return err
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id string, status session.Status) error {
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_sessions
        SET status = $1, updated_at = $2
        WHERE id = $3
    `, status, time.Now(), id)
	return err
}

func (r *sessionRepository) UpdateConnected(ctx context.Context, id, phoneNumber, whatsappID string) error {
	now := time.Now()
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_sessions
        SET status = $1, phone_number = $2, whatsapp_id = $3, last_connected_at = $4, updated_at = $4
        WHERE id = $5
    `, session.StatusConnected, phoneNumber, whatsappID, now, id)
	return err
}

func (r *sessionRepository) UpdateDisconnected(ctx context.Context, id string, clearAuth bool) error {
	if clearAuth {
		_, err := r.db.Exec(ctx, `
            UPDATE whatsapp_sessions
            SET status = $1, auth_state = NULL, last_connected_at = NULL, updated_at = $2
            WHERE id = $3
        `, session.StatusDisconnected, time.Now(), id)
		return err
	}
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_sessions
        SET status = $1, updated_at = $2
        WHERE id = $3
    `, session.StatusDisconnected, time.Now(), id)
	return err
}

func (r *sessionRepository) UpdateAuthState(ctx context.Context, id string, authState []byte) error {
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_sessions
        SET auth_state = $1, updated_at = $2
        WHERE id = $3
    `, authState, time.Now(), id)
	return err
}

func (r *sessionRepository) SetSystemDefault(ctx context.Context, id string, isDefault bool) error {
	_, err := r.db.Exec(ctx, `
        UPDATE whatsapp_sessions
        SET is_system_default = $1, updated_at = $2
        WHERE id = $3
    `, isDefault, time.Now(), id)
	return err
}

func (r *sessionRepository) EnsureSystemDefault(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `SELECT ensure_system_default_session()`)
	return err
}

func (r *sessionRepository) GetDefaultConnected(ctx context.Context) (session.Session, error) {
	row := r.db.QueryRow(ctx, `
        SELECT `+sessionColumns+`
        FROM whatsapp_sessions
        WHERE is_system_default = TRUE AND status = $1
        LIMIT 1
    `, session.StatusConnected)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, notifyerrors.ErrSessionNotFound
	}
	return s, err
}

func scanSession(row pgx.Row) (session.Session, error) {
	var s session.Session
	err := row.Scan(
		&s.ID,
		&s.OrgID,
		&s.Status,
		&s.PhoneNumber,
		&s.WhatsAppID,
		&s.IsSystemDefault,
		&s.AuthState,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.LastConnectedAt,
	)
	return s, err
}
