package services

import (
	"context"
	"sync"
	"time"

	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/repository"
	"fleet-notify/pkg/logger"
)

const (
	consumerInterval = 10 * time.Second
	consumerBatch    = 10
	interSendPause   = 2 * time.Second
	logWindow        = time.Hour
)

// MessageSender is the slice of the dispatcher the consumer needs
type MessageSender interface {
	SendMessage(ctx context.Context, sessionID, phoneNumber, body string) (string, error)
}

// QueueConsumer drains the durable notification queue. Single instance per
// deployment; the pending→processing claim is a plain update with no row
// locking.
type QueueConsumer struct {
	notifications repository.NotificationRepository
	sessions      repository.SessionRepository
	directory     SessionDirectory
	dispatcher    MessageSender
	renderer      Renderer
	log           *logger.Logger

	interval  time.Duration
	batchSize int
	pause     time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewQueueConsumer(notifications repository.NotificationRepository, sessions repository.SessionRepository, directory SessionDirectory, dispatcher MessageSender, renderer Renderer, log *logger.Logger) *QueueConsumer {
	return &QueueConsumer{
		notifications: notifications,
		sessions:      sessions,
		directory:     directory,
		dispatcher:    dispatcher,
		renderer:      renderer,
		log:           log,
		interval:      consumerInterval,
		batchSize:     consumerBatch,
		pause:         interSendPause,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the polling loop
func (c *QueueConsumer) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop gracefully shuts down
func (c *QueueConsumer) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *QueueConsumer) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.processBatch()
		}
	}
}

func (c *QueueConsumer) processBatch() {
	ctx := context.Background()

	entries, err := c.notifications.GetPending(ctx, c.batchSize, notification.MaxRetries)
	if err != nil {
		c.log.Errorf("[QueueConsumer] Error fetching pending: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	c.log.Infof("[QueueConsumer] Found %d pending notification(s)", len(entries))

	sessionID := c.pickSession(ctx)
	if sessionID == "" {
		// Entries stay pending; next tick retries with a session.
		c.log.Warnf("[QueueConsumer] No active session, will retry later")
		return
	}

	for i, entry := range entries {
		c.processEntry(ctx, &entry, sessionID)
		if i < len(entries)-1 {
			select {
			case <-c.stopChan:
				return
			case <-time.After(c.pause):
			}
		}
	}
}

// pickSession prefers the system default session confirmed connected in
// the database, then any connected in-memory session.
func (c *QueueConsumer) pickSession(ctx context.Context) string {
	if s, err := c.sessions.GetDefaultConnected(ctx); err == nil {
		c.log.Infof("[QueueConsumer] Using system default session %s", s.ID)
		return s.ID
	}
	for _, info := range c.directory.GetAllSessions() {
		if info.Connected {
			c.log.Infof("[QueueConsumer] Using fallback session %s", info.SessionID)
			return info.SessionID
		}
	}
	return ""
}

func (c *QueueConsumer) processEntry(ctx context.Context, entry *notification.QueueEntry, sessionID string) {
	c.log.Infof("[QueueConsumer] Processing notification %s for %s", entry.ID, entry.PhoneNumber)

	if err := c.notifications.MarkProcessing(ctx, entry.ID); err != nil {
		c.log.Errorf("[QueueConsumer] Error claiming %s: %v", entry.ID, err)
		return
	}

	body, err := c.renderer.Render(ctx, *entry)
	if err != nil {
		c.recordFailure(ctx, entry, err)
		return
	}

	if _, err := c.dispatcher.SendMessage(ctx, sessionID, entry.PhoneNumber, body); err != nil {
		c.recordFailure(ctx, entry, err)
		return
	}

	if err := c.notifications.MarkSent(ctx, entry.ID); err != nil {
		c.log.Errorf("[QueueConsumer] Error marking %s sent: %v", entry.ID, err)
	}
	if err := c.notifications.UpdateRecentLog(ctx, entry.Type, entry.PhoneNumber, "sent", "", logWindow); err != nil {
		c.log.Errorf("[QueueConsumer] Error updating log for %s: %v", entry.ID, err)
	}
	c.log.Infof("[QueueConsumer] Notification %s sent", entry.ID)
}

func (c *QueueConsumer) recordFailure(ctx context.Context, entry *notification.QueueEntry, cause error) {
	retryCount := entry.RetryCount + 1
	status := notification.StatusPending
	if retryCount >= notification.MaxRetries {
		status = notification.StatusFailed
	}

	if err := c.notifications.RecordFailure(ctx, entry.ID, retryCount, status, cause.Error()); err != nil {
		c.log.Errorf("[QueueConsumer] Error recording failure for %s: %v", entry.ID, err)
	}
	if err := c.notifications.UpdateRecentLog(ctx, entry.Type, entry.PhoneNumber, "failed", cause.Error(), logWindow); err != nil {
		c.log.Errorf("[QueueConsumer] Error updating log for %s: %v", entry.ID, err)
	}
	c.log.Warnf("[QueueConsumer] Notification %s marked %s (retry %d/%d): %v", entry.ID, status, retryCount, notification.MaxRetries, cause)
}
