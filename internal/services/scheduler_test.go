package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleet-notify/internal/domain/billing"
	"fleet-notify/internal/domain/notification"
	"fleet-notify/pkg/logger"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var errNoOwner = errors.New("owner not found")

type fakeBillingRepo struct {
	orgsByDay map[string][]billing.Organization
	subsByDay map[string][]billing.Subscription
	owners    map[string]billing.Profile
	profiles  []billing.Profile
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		orgsByDay: make(map[string][]billing.Organization),
		subsByDay: make(map[string][]billing.Subscription),
		owners:    make(map[string]billing.Profile),
	}
}

func (r *fakeBillingRepo) GetOrgsExpiringOn(_ context.Context, day time.Time) ([]billing.Organization, error) {
	return r.orgsByDay[day.Format("2006-01-02")], nil
}

func (r *fakeBillingRepo) GetSubscriptionsEndingOn(_ context.Context, day time.Time) ([]billing.Subscription, error) {
	return r.subsByDay[day.Format("2006-01-02")], nil
}

func (r *fakeBillingRepo) GetOwnerProfile(_ context.Context, orgID string) (billing.Profile, error) {
	p, ok := r.owners[orgID]
	if !ok {
		return billing.Profile{}, errNoOwner
	}
	return p, nil
}

func (r *fakeBillingRepo) GetContactableProfiles(_ context.Context, orgIDs []string) ([]billing.Profile, error) {
	want := make(map[string]bool, len(orgIDs))
	for _, id := range orgIDs {
		want[id] = true
	}
	var out []billing.Profile
	for _, p := range r.profiles {
		if want[p.OrgID] && p.WhatsAppNumber != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

type recordedEvent struct {
	event string
	phone string
	data  map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) SendEventNotification(_ context.Context, eventName, recipientPhone string, data map[string]any) notification.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{event: eventName, phone: recipientPhone, data: data})
	return notification.Outcome{Success: true}
}

func newTestScheduler(notif *fakeNotificationRepo, bill *fakeBillingRepo, notifier *fakeNotifier, clock Clock) *Scheduler {
	s := NewScheduler(notif, bill, notifier, 10, logger.New("test"))
	s.clock = clock
	return s
}

func sweepOrg(end time.Time) billing.Organization {
	return billing.Organization{
		ID:               "org1",
		Name:             "Cairo Fleet",
		IsActive:         true,
		SubscriptionPlan: "pro",
		SubscriptionEnd:  &end,
	}
}

func TestDailySweepEnqueuesWithLog(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	bill := newFakeBillingRepo()

	end := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	bill.orgsByDay["2026-09-02"] = []billing.Organization{sweepOrg(end)}
	bill.owners["org1"] = billing.Profile{OrgID: "org1", FullName: "Omar", WhatsAppNumber: "01001234567", Role: "owner"}

	s := newTestScheduler(notif, bill, &fakeNotifier{}, clock)
	s.checkExpiringSubscriptions(context.Background())

	if len(notif.order) != 1 {
		t.Fatalf("queue entries = %d, want 1", len(notif.order))
	}
	e := notif.entry(notif.order[0])
	if e.Type != notification.TypeExpiryUrgent {
		t.Fatalf("type = %s, want %s for the 1-day checkpoint", e.Type, notification.TypeExpiryUrgent)
	}
	if e.Variables["daysRemaining"] != 1 || e.Variables["orgName"] != "Cairo Fleet" || e.Variables["expiryDate"] != "02/09/2026" {
		t.Fatalf("variables = %+v", e.Variables)
	}
	if len(notif.logs) != 1 || notif.logs[0].Status != "pending" {
		t.Fatalf("logs = %+v", notif.logs)
	}
}

func TestDailySweepReminderTypeForFarCheckpoints(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	bill := newFakeBillingRepo()

	end := time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC)
	bill.orgsByDay["2026-09-08"] = []billing.Organization{sweepOrg(end)}
	bill.owners["org1"] = billing.Profile{OrgID: "org1", FullName: "Omar", WhatsAppNumber: "01001234567"}

	s := newTestScheduler(notif, bill, &fakeNotifier{}, clock)
	s.checkExpiringSubscriptions(context.Background())

	if len(notif.order) != 1 {
		t.Fatalf("queue entries = %d", len(notif.order))
	}
	if e := notif.entry(notif.order[0]); e.Type != notification.TypeExpiryReminder || e.Variables["daysRemaining"] != 7 {
		t.Fatalf("entry = %+v", e)
	}
}

func TestDailySweepHourWindow(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 9, 59, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	bill := newFakeBillingRepo()
	end := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	bill.orgsByDay["2026-09-02"] = []billing.Organization{sweepOrg(end)}
	bill.owners["org1"] = billing.Profile{OrgID: "org1", WhatsAppNumber: "01001234567"}

	s := newTestScheduler(notif, bill, &fakeNotifier{}, clock)

	s.checkExpiringSubscriptions(context.Background())
	if len(notif.order) != 0 {
		t.Fatal("sweep must not run before the window")
	}

	clock.set(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	s.checkExpiringSubscriptions(context.Background())
	if len(notif.order) != 0 {
		t.Fatal("sweep must not run after the window")
	}

	clock.set(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	s.checkExpiringSubscriptions(context.Background())
	if len(notif.order) != 1 {
		t.Fatal("sweep must run inside the window")
	}
}

func TestDailySweepRunsOncePerDay(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	bill := newFakeBillingRepo()
	end := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	bill.orgsByDay["2026-09-02"] = []billing.Organization{sweepOrg(end)}
	bill.owners["org1"] = billing.Profile{OrgID: "org1", WhatsAppNumber: "01001234567"}

	s := newTestScheduler(notif, bill, &fakeNotifier{}, clock)

	s.checkExpiringSubscriptions(context.Background())
	clock.set(time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC))
	s.checkExpiringSubscriptions(context.Background())
	if len(notif.order) != 1 {
		t.Fatalf("queue entries = %d, sweep ran twice on one day", len(notif.order))
	}

	// Next day, same window: the guard resets.
	clock.set(time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC))
	bill.orgsByDay["2026-09-03"] = []billing.Organization{sweepOrg(end)}
	s.checkExpiringSubscriptions(context.Background())
	if len(notif.order) != 2 {
		t.Fatalf("queue entries = %d, guard did not reset", len(notif.order))
	}
}

func TestDailySweepDedupWithin24h(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	_ = notif.CreateLog(context.Background(), &notification.Log{
		Type:        notification.TypeExpiryUrgent,
		PhoneNumber: "01001234567",
		Status:      "sent",
	})

	bill := newFakeBillingRepo()
	end := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	bill.orgsByDay["2026-09-02"] = []billing.Organization{sweepOrg(end)}
	bill.owners["org1"] = billing.Profile{OrgID: "org1", WhatsAppNumber: "01001234567"}

	s := newTestScheduler(notif, bill, &fakeNotifier{}, clock)
	s.checkExpiringSubscriptions(context.Background())

	if len(notif.order) != 0 {
		t.Fatal("duplicate within 24h must be suppressed")
	}
}

func TestRuleScanFiresOnMatchingHour(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 9, 5, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	notif.rules = []notification.Rule{
		{ID: uuid.New(), TriggerEvent: notification.EventExpiringSoon, DaysOffset: -3, TriggerTime: "09:00:00", IsActive: true},
		{ID: uuid.New(), TriggerEvent: notification.EventExpiringSoon, DaysOffset: -7, TriggerTime: "15:00:00", IsActive: true},
	}

	bill := newFakeBillingRepo()
	bill.subsByDay["2026-09-04"] = []billing.Subscription{
		{ID: "sub1", OrgID: "org1", PlanID: "pro", Status: "active", EndDate: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)},
	}
	bill.profiles = []billing.Profile{
		{OrgID: "org1", FullName: "Omar", WhatsAppNumber: "01001234567"},
		{OrgID: "org1", FullName: "Sara", WhatsAppNumber: "01112345678"},
		{OrgID: "other", FullName: "Nobody", WhatsAppNumber: "01512345678"},
	}

	notifier := &fakeNotifier{}
	s := newTestScheduler(notif, bill, notifier, clock)
	s.checkAndTriggerRules(context.Background())

	if len(notifier.events) != 2 {
		t.Fatalf("events = %d, want one per contactable org profile", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.event != notification.EventExpiringSoon || ev.data["days_remaining"] != 3 || ev.data["plan_name"] != "pro" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRuleScanSkipsNonMatchingHour(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)}
	notif := newFakeNotificationRepo()
	notif.rules = []notification.Rule{
		{ID: uuid.New(), TriggerEvent: notification.EventExpiringSoon, DaysOffset: -3, TriggerTime: "09:00:00", IsActive: true},
	}

	notifier := &fakeNotifier{}
	s := newTestScheduler(notif, newFakeBillingRepo(), notifier, clock)
	s.checkAndTriggerRules(context.Background())

	if len(notifier.events) != 0 {
		t.Fatalf("events = %d, want 0", len(notifier.events))
	}
}

func TestTriggerHour(t *testing.T) {
	t.Parallel()
	if h, ok := triggerHour("09:00:00"); !ok || h != 9 {
		t.Fatalf("triggerHour = %d, %v", h, ok)
	}
	if _, ok := triggerHour("bogus"); ok {
		t.Fatal("malformed time must not parse")
	}
	if _, ok := triggerHour("25:00:00"); ok {
		t.Fatal("out-of-range hour must not parse")
	}
}
