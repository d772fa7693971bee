package billing

import "time"

// Organization is external billing data, read-only to this service
type Organization struct {
	ID               string
	Name             string
	IsActive         bool
	SubscriptionPlan string
	SubscriptionEnd  *time.Time
}

// Profile represents a contactable member of an organization
type Profile struct {
	ID             string
	OrgID          string
	FullName       string
	WhatsAppNumber string
	Role           string
}

// Subscription represents the subscriptions table
type Subscription struct {
	ID      string
	OrgID   string
	PlanID  string
	Status  string
	EndDate time.Time
}
