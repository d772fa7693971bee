package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleet-notify/internal/domain/billing"
	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/repository"
	"fleet-notify/pkg/logger"
)

const (
	schedulerInterval = time.Hour
	dedupWindow       = 24 * time.Hour
)

// sweepCheckpoints are the days-before-expiry marks the daily sweep covers
var sweepCheckpoints = []int{7, 3, 1}

// Clock abstracts time for the scheduler so the date guard and hour
// window are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EventNotifier is the slice of the event producer the rule scan needs
type EventNotifier interface {
	SendEventNotification(ctx context.Context, eventName, recipientPhone string, data map[string]any) notification.Outcome
}

// Scheduler runs the hourly rule scan and the daily expiry sweep. The
// daily sweep is guarded by an in-process date marker: a restart inside
// the sweep window can run it twice, which the 24h log dedup absorbs.
type Scheduler struct {
	notifications repository.NotificationRepository
	billing       repository.BillingRepository
	notifier      EventNotifier
	log           *logger.Logger
	clock         Clock

	sweepStartHour int
	sweepEndHour   int

	mu            sync.Mutex
	lastSweepDate string

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(notifications repository.NotificationRepository, billingRepo repository.BillingRepository, notifier EventNotifier, sweepStartHour int, log *logger.Logger) *Scheduler {
	return &Scheduler{
		notifications:  notifications,
		billing:        billingRepo,
		notifier:       notifier,
		log:            log,
		clock:          systemClock{},
		sweepStartHour: sweepStartHour,
		sweepEndHour:   sweepStartHour + 1,
		interval:       schedulerInterval,
		stopChan:       make(chan struct{}),
	}
}

// Start launches the loop. The first tick runs immediately.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Infof("[Scheduler] Started, ticking every %s", s.interval)
}

// Stop gracefully shuts down
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("[Scheduler] Tick panicked: %v", r)
		}
	}()

	ctx := context.Background()
	s.checkAndTriggerRules(ctx)
	s.checkExpiringSubscriptions(ctx)
}

// checkAndTriggerRules fires every active rule whose trigger hour matches
// the current hour.
func (s *Scheduler) checkAndTriggerRules(ctx context.Context) {
	now := s.clock.Now()
	s.log.Infof("[Scheduler] Checking rules at %s", now.Format(time.RFC3339))

	rules, err := s.notifications.GetActiveRules(ctx)
	if err != nil {
		s.log.Errorf("[Scheduler] Error fetching rules: %v", err)
		return
	}

	for _, rule := range rules {
		hour, ok := triggerHour(rule.TriggerTime)
		if !ok {
			s.log.Warnf("[Scheduler] Rule %s has malformed trigger_time %q", rule.ID, rule.TriggerTime)
			continue
		}
		if hour != now.Hour() {
			continue
		}
		s.log.Infof("[Scheduler] Processing rule %s (offset %d)", rule.TriggerEvent, rule.DaysOffset)
		s.processRule(ctx, rule)
	}
}

func (s *Scheduler) processRule(ctx context.Context, rule notification.Rule) {
	if rule.TriggerEvent != notification.EventExpiringSoon {
		return
	}

	daysLeft := rule.DaysOffset
	if daysLeft < 0 {
		daysLeft = -daysLeft
	}
	target := startOfDay(s.clock.Now().AddDate(0, 0, daysLeft))

	subs, err := s.billing.GetSubscriptionsEndingOn(ctx, target)
	if err != nil {
		s.log.Errorf("[Scheduler] Error fetching subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		s.log.Infof("[Scheduler] No subscriptions expiring on %s", target.Format("2006-01-02"))
		return
	}

	orgIDs := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.OrgID != "" {
			orgIDs = append(orgIDs, sub.OrgID)
		}
	}
	if len(orgIDs) == 0 {
		return
	}

	profiles, err := s.billing.GetContactableProfiles(ctx, orgIDs)
	if err != nil {
		s.log.Errorf("[Scheduler] Error fetching profiles: %v", err)
		return
	}
	byOrg := make(map[string][]billing.Profile)
	for _, p := range profiles {
		byOrg[p.OrgID] = append(byOrg[p.OrgID], p)
	}

	for _, sub := range subs {
		members := byOrg[sub.OrgID]
		if len(members) == 0 {
			s.log.Warnf("[Scheduler] Subscription %s has no contactable profiles, skipping", sub.ID)
			continue
		}
		for _, p := range members {
			name := p.FullName
			if name == "" {
				name = "مشترك"
			}
			out := s.notifier.SendEventNotification(ctx, notification.EventExpiringSoon, p.WhatsAppNumber, map[string]any{
				"partner_name":   name,
				"plan_name":      sub.PlanID,
				"days_remaining": daysLeft,
				"expiry_date":    sub.EndDate.Format("2006-01-02"),
			})
			if !out.Success {
				s.log.Warnf("[Scheduler] Rule notification to %s failed: %s", p.WhatsAppNumber, out.Error)
			}
		}
	}
}

// checkExpiringSubscriptions is the once-a-day sweep. Runs only inside
// the configured hour window and at most once per calendar day per
// process lifetime.
func (s *Scheduler) checkExpiringSubscriptions(ctx context.Context) {
	now := s.clock.Now()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastSweepDate == today {
		s.mu.Unlock()
		return
	}
	if hour := now.Hour(); hour < s.sweepStartHour || hour > s.sweepEndHour {
		s.mu.Unlock()
		return
	}
	s.lastSweepDate = today
	s.mu.Unlock()

	s.log.Infof("[Scheduler] Starting daily subscription sweep for %s", today)

	for _, days := range sweepCheckpoints {
		target := startOfDay(now.AddDate(0, 0, days))
		s.log.Infof("[Scheduler] Checking organizations expiring on %s (%d days left)", target.Format("2006-01-02"), days)

		orgs, err := s.billing.GetOrgsExpiringOn(ctx, target)
		if err != nil {
			s.log.Errorf("[Scheduler] Error fetching orgs for %s: %v", target.Format("2006-01-02"), err)
			continue
		}
		for _, org := range orgs {
			s.generateExpiryNotification(ctx, org, days)
		}
	}
}

func (s *Scheduler) generateExpiryNotification(ctx context.Context, org billing.Organization, daysLeft int) {
	owner, err := s.billing.GetOwnerProfile(ctx, org.ID)
	if err != nil || owner.WhatsAppNumber == "" {
		s.log.Warnf("[Scheduler] Owner not found or has no phone for org %s (%s)", org.Name, org.ID)
		return
	}

	notificationType := notification.TypeExpiryReminder
	if daysLeft == 1 {
		notificationType = notification.TypeExpiryUrgent
	}

	recent, err := s.notifications.HasRecentLog(ctx, notificationType, owner.WhatsAppNumber, dedupWindow)
	if err != nil {
		s.log.Errorf("[Scheduler] Dedup check failed for %s: %v", owner.WhatsAppNumber, err)
		return
	}
	if recent {
		s.log.Infof("[Scheduler] %s already sent to %s within 24h, skipping", notificationType, owner.WhatsAppNumber)
		return
	}

	expiryDate := ""
	if org.SubscriptionEnd != nil {
		expiryDate = org.SubscriptionEnd.Format("02/01/2006")
	}

	entry := &notification.QueueEntry{
		OrgID:       org.ID,
		PhoneNumber: owner.WhatsAppNumber,
		Type:        notificationType,
		Status:      notification.StatusPending,
		Variables: map[string]any{
			"userName":      owner.FullName,
			"orgName":       org.Name,
			"daysRemaining": daysLeft,
			"expiryDate":    expiryDate,
			"planName":      org.SubscriptionPlan,
		},
	}
	if err := s.notifications.Enqueue(ctx, entry); err != nil {
		s.log.Errorf("[Scheduler] Failed to queue notification for %s: %v", org.Name, err)
		return
	}

	// The log row written here is what the 24h dedup reads; the consumer
	// updates it with the delivery result later.
	orgID := org.ID
	if err := s.notifications.CreateLog(ctx, &notification.Log{
		OrgID:       &orgID,
		Type:        notificationType,
		PhoneNumber: owner.WhatsAppNumber,
		Status:      "pending",
	}); err != nil {
		s.log.Errorf("[Scheduler] Failed to log notification for %s: %v", org.Name, err)
	}

	s.log.Infof("[Scheduler] Queued %s for %s (%d days left)", notificationType, owner.FullName, daysLeft)
}

func triggerHour(triggerTime string) (int, bool) {
	parts := strings.SplitN(triggerTime, ":", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
