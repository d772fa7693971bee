package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-notify/internal/domain/billing"
)

// ErrProfileNotFound is returned when an organization has no matching profile
var ErrProfileNotFound = errors.New("profile not found")

type billingRepository struct {
	db *pgxpool.Pool
}

func NewBillingRepository(db *pgxpool.Pool) BillingRepository {
	return &billingRepository{db: db}
}

func (r *billingRepository) GetOrgsExpiringOn(ctx context.Context, day time.Time) ([]billing.Organization, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := r.db.Query(ctx, `
        SELECT id, name, is_active, COALESCE(subscription_plan, ''), subscription_end
        FROM organizations
        WHERE is_active = TRUE AND subscription_end >= $1 AND subscription_end < $2
    `, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []billing.Organization
	for rows.Next() {
		var o billing.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.IsActive, &o.SubscriptionPlan, &o.SubscriptionEnd); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (r *billingRepository) GetSubscriptionsEndingOn(ctx context.Context, day time.Time) ([]billing.Subscription, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := r.db.Query(ctx, `
        SELECT id, org_id, COALESCE(plan_id, ''), status, end_date
        FROM subscriptions
        WHERE status = 'active' AND end_date >= $1 AND end_date < $2
    `, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []billing.Subscription
	for rows.Next() {
		var s billing.Subscription
		if err := rows.Scan(&s.ID, &s.OrgID, &s.PlanID, &s.Status, &s.EndDate); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *billingRepository) GetOwnerProfile(ctx context.Context, orgID string) (billing.Profile, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, org_id, COALESCE(full_name, ''), COALESCE(whatsapp_number, ''), COALESCE(role, '')
        FROM profiles
        WHERE org_id = $1 AND role = 'owner'
        LIMIT 1
    `, orgID)

	var p billing.Profile
	err := row.Scan(&p.ID, &p.OrgID, &p.FullName, &p.WhatsAppNumber, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Profile{}, ErrProfileNotFound
	}
	return p, err
}

func (r *billingRepository) GetContactableProfiles(ctx context.Context, orgIDs []string) ([]billing.Profile, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, org_id, COALESCE(full_name, ''), whatsapp_number, COALESCE(role, '')
        FROM profiles
        WHERE org_id = ANY($1) AND whatsapp_number IS NOT NULL AND whatsapp_number <> ''
    `, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []billing.Profile
	for rows.Next() {
		var p billing.Profile
		if err := rows.Scan(&p.ID, &p.OrgID, &p.FullName, &p.WhatsAppNumber, &p.Role); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
