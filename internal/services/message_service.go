package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-notify/internal/domain/message"
	"fleet-notify/internal/phone"
	"fleet-notify/internal/repository"
	notifyerrors "fleet-notify/pkg/errors"
	"fleet-notify/pkg/logger"
)

const (
	bulkMinDelay = 5 * time.Second
	bulkMaxDelay = 15 * time.Second
	queueDelay   = 1 * time.Second
)

// TextSender is the slice of the session manager the dispatcher needs
type TextSender interface {
	SendText(ctx context.Context, sessionID, jid, text string) (string, error)
}

// BulkOptions bounds the random pause between bulk sends. Zero values
// fall back to the 5s/15s defaults.
type BulkOptions struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (o BulkOptions) withDefaults() BulkOptions {
	if o.MinDelay <= 0 {
		o.MinDelay = bulkMinDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = bulkMaxDelay
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	return o
}

// QueueItem is one entry of the in-memory fire-and-forget queue. Lost on
// restart; durable delivery goes through the notification queue instead.
type QueueItem struct {
	SessionID   string
	PhoneNumber string
	Body        string
	Kind        message.Kind
	TemplateID  uuid.UUID
	Variables   map[string]any
}

// MessageService sends outbound messages and writes one audit row per
// attempt, success or failure.
type MessageService struct {
	sender   TextSender
	sessions repository.SessionRepository
	messages repository.MessageRepository
	log      *logger.Logger

	queueMu    sync.Mutex
	queue      []QueueItem
	processing bool

	// overridable in tests
	jitter     func(min, max time.Duration) time.Duration
	pauseAfter time.Duration
}

func NewMessageService(sender TextSender, sessions repository.SessionRepository, messages repository.MessageRepository, log *logger.Logger) *MessageService {
	return &MessageService{
		sender:   sender,
		sessions: sessions,
		messages: messages,
		log:      log,
		jitter: func(min, max time.Duration) time.Duration {
			return min + time.Duration(rand.Int63n(int64(max-min+1)))
		},
		pauseAfter: queueDelay,
	}
}

// SendMessage delivers one plain text message
func (s *MessageService) SendMessage(ctx context.Context, sessionID, phoneNumber, body string) (string, error) {
	return s.send(ctx, sessionID, phoneNumber, body, message.KindText)
}

// SendTemplateMessage renders an active template and sends the result.
// Placeholders with no matching variable are left literal.
func (s *MessageService) SendTemplateMessage(ctx context.Context, sessionID, phoneNumber string, templateID uuid.UUID, variables map[string]any) (string, error) {
	tpl, err := s.messages.GetTemplateByID(ctx, templateID)
	if err != nil {
		return "", err
	}
	body := SubstituteVars(tpl.Content, variables)
	return s.send(ctx, sessionID, phoneNumber, body, message.KindTemplate)
}

// SendBulkMessages sends to each recipient in order with a random pause
// between sends. One recipient failing does not stop the campaign.
func (s *MessageService) SendBulkMessages(ctx context.Context, sessionID string, recipients []message.BulkRecipient, opts BulkOptions) []message.BulkResult {
	opts = opts.withDefaults()
	results := make([]message.BulkResult, 0, len(recipients))
	s.log.Infof("[MessageService] Starting campaign for %d recipients", len(recipients))

	for i, r := range recipients {
		if i > 0 {
			delay := s.jitter(opts.MinDelay, opts.MaxDelay)
			s.log.Infof("[MessageService] Waiting %s before next message", delay)
			select {
			case <-ctx.Done():
				results = append(results, message.BulkResult{PhoneNumber: r.PhoneNumber, Success: false, Error: ctx.Err().Error()})
				continue
			case <-time.After(delay):
			}
		}

		if _, err := s.SendMessage(ctx, sessionID, r.PhoneNumber, r.Message); err != nil {
			results = append(results, message.BulkResult{PhoneNumber: r.PhoneNumber, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, message.BulkResult{PhoneNumber: r.PhoneNumber, Success: true})
		s.log.Infof("[MessageService] Progress: %d/%d", i+1, len(recipients))
	}
	return results
}

// AddToQueue enqueues a fire-and-forget send and lazily starts the drain
// goroutine. Errors are logged, never returned.
func (s *MessageService) AddToQueue(item QueueItem) {
	s.queueMu.Lock()
	s.queue = append(s.queue, item)
	start := !s.processing
	if start {
		s.processing = true
	}
	s.queueMu.Unlock()

	s.log.Infof("[MessageService] Queued %s message for %s", item.Kind, item.PhoneNumber)
	if start {
		go s.drainQueue()
	}
}

func (s *MessageService) drainQueue() {
	ctx := context.Background()
	for {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.queueMu.Unlock()
			s.log.Infof("[MessageService] Queue processing complete")
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		remaining := len(s.queue)
		s.queueMu.Unlock()

		s.log.Infof("[MessageService] Processing queue item for %s, %d remaining", item.PhoneNumber, remaining)

		var err error
		switch item.Kind {
		case message.KindTemplate:
			_, err = s.SendTemplateMessage(ctx, item.SessionID, item.PhoneNumber, item.TemplateID, item.Variables)
		default:
			_, err = s.SendMessage(ctx, item.SessionID, item.PhoneNumber, item.Body)
		}
		if err != nil {
			s.log.Errorf("[MessageService] Error processing queue item for %s: %v", item.PhoneNumber, err)
		}

		time.Sleep(s.pauseAfter)
	}
}

// ListMessages returns the newest audit rows for a session
func (s *MessageService) ListMessages(ctx context.Context, sessionID string, limit int) ([]message.Message, error) {
	return s.messages.ListBySession(ctx, sessionID, limit)
}

func (s *MessageService) send(ctx context.Context, sessionID, phoneNumber, body string, kind message.Kind) (string, error) {
	jid, err := phone.Normalize(phoneNumber)
	if err != nil {
		s.audit(ctx, sessionID, phoneNumber, body, kind, message.StatusFailed, err.Error())
		return "", err
	}

	s.log.Infof("[MessageService] Sending to %s via session %s", jid, sessionID)

	msgID, err := s.sender.SendText(ctx, sessionID, jid, body)
	if err != nil {
		s.audit(ctx, sessionID, phoneNumber, body, kind, message.StatusFailed, friendlyError(err))
		return "", err
	}

	s.audit(ctx, sessionID, phoneNumber, body, kind, message.StatusSent, "")
	s.log.Infof("[MessageService] Message %s sent to %s", msgID, jid)
	return msgID, nil
}

// audit writes the append-only whatsapp_messages row. Best-effort: a
// logging failure never masks the send result.
func (s *MessageService) audit(ctx context.Context, sessionID, recipient, body string, kind message.Kind, status message.Status, errMsg string) {
	m := &message.Message{
		ID:             uuid.New(),
		SessionID:      sessionID,
		RecipientPhone: recipient,
		Body:           body,
		Kind:           kind,
		Status:         status,
	}
	if sess, err := s.sessions.GetByID(ctx, sessionID); err == nil {
		m.OrgID = sess.OrgID
	}
	if status == message.StatusSent {
		m.SentAt = notifyerrors.NowPtr()
	}
	if errMsg != "" {
		m.ErrorMessage = &errMsg
	}
	if err := s.messages.Create(ctx, m); err != nil {
		s.log.Errorf("[MessageService] Error logging message: %v", err)
	}
}

// friendlyError maps transport failures to operator-facing Arabic hints,
// stored alongside the raw status in the audit row.
func friendlyError(err error) string {
	switch {
	case errors.Is(err, notifyerrors.ErrSessionNotFound):
		return "⚠️ انقطع اتصال WhatsApp بعد إعادة تشغيل السيرفر. يرجى الذهاب لإعدادات WhatsApp وإعادة مسح رمز QR."
	case errors.Is(err, notifyerrors.ErrNotAuthenticated):
		return "⚠️ جلسة WhatsApp غير مفعّلة. يرجى مسح رمز QR من لوحة المشرف."
	case errors.Is(err, notifyerrors.ErrTransportTimeout):
		return "⚠️ انتهت مهلة الاتصال. تحقق من إنترنت السيرفر."
	default:
		return err.Error()
	}
}
