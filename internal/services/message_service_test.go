package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleet-notify/internal/domain/message"
	notifyerrors "fleet-notify/pkg/errors"
	"fleet-notify/pkg/logger"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, sessionID, jid, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sessionID+"|"+jid+"|"+text)
	if f.err != nil {
		return "", f.err
	}
	return "MSG1", nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	created   []message.Message
	templates map[uuid.UUID]message.Template
	byEvent   map[string]message.Template
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		templates: make(map[uuid.UUID]message.Template),
		byEvent:   make(map[string]message.Template),
	}
}

func (r *fakeMessageRepo) Create(_ context.Context, m *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *m)
	return nil
}

func (r *fakeMessageRepo) ListBySession(_ context.Context, sessionID string, _ int) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message.Message
	for _, m := range r.created {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) GetTemplateByID(_ context.Context, id uuid.UUID) (message.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.templates[id]; ok {
		return tpl, nil
	}
	return message.Template{}, notifyerrors.ErrTemplateNotFound
}

func (r *fakeMessageRepo) GetTemplateByEvent(_ context.Context, eventName string) (message.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.byEvent[eventName]; ok {
		return tpl, nil
	}
	return message.Template{}, notifyerrors.ErrTemplateNotFound
}

func (r *fakeMessageRepo) audits() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.created...)
}

func newTestMessageService(sender *fakeSender) (*MessageService, *fakeMessageRepo) {
	repo := newFakeMessageRepo()
	svc := NewMessageService(sender, newFakeSessionRepo(), repo, logger.New("test"))
	svc.jitter = func(_, _ time.Duration) time.Duration { return time.Millisecond }
	svc.pauseAfter = time.Millisecond
	return svc, repo
}

func TestSendMessageAuditsSuccess(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, repo := newTestMessageService(sender)

	id, err := svc.SendMessage(context.Background(), "s1", "01001234567", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "MSG1" {
		t.Fatalf("id = %q", id)
	}
	if got := sender.sent(); len(got) != 1 || got[0] != "s1|201001234567@s.whatsapp.net|hello" {
		t.Fatalf("sent = %v", got)
	}

	audits := repo.audits()
	if len(audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audits))
	}
	a := audits[0]
	if a.Status != message.StatusSent || a.Kind != message.KindText || a.SentAt == nil {
		t.Fatalf("audit = %+v", a)
	}
	if a.RecipientPhone != "01001234567" {
		t.Fatalf("audit keeps the raw recipient, got %q", a.RecipientPhone)
	}
}

func TestSendMessageAuditsFailure(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{err: notifyerrors.ErrNotAuthenticated}
	svc, repo := newTestMessageService(sender)

	if _, err := svc.SendMessage(context.Background(), "s1", "01001234567", "hello"); !errors.Is(err, notifyerrors.ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}

	audits := repo.audits()
	if len(audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audits))
	}
	a := audits[0]
	if a.Status != message.StatusFailed || a.SentAt != nil || a.ErrorMessage == nil {
		t.Fatalf("audit = %+v", a)
	}
}

func TestSendMessageInvalidPhoneStillAudited(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, repo := newTestMessageService(sender)

	if _, err := svc.SendMessage(context.Background(), "s1", "123", "hello"); !errors.Is(err, notifyerrors.ErrInvalidPhoneNumber) {
		t.Fatalf("err = %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatal("nothing should reach the transport")
	}
	if got := repo.audits(); len(got) != 1 || got[0].Status != message.StatusFailed {
		t.Fatalf("audits = %+v", got)
	}
}

func TestSendTemplateMessage(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, repo := newTestMessageService(sender)

	tplID := uuid.New()
	repo.templates[tplID] = message.Template{
		ID:      tplID,
		Content: "Hello {{name}}, your plan is {{plan}} and {{unknown}} stays.",
	}

	_, err := svc.SendTemplateMessage(context.Background(), "s1", "01001234567", tplID, map[string]any{
		"name": "Omar",
		"plan": "Pro",
	})
	if err != nil {
		t.Fatalf("SendTemplateMessage: %v", err)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sends = %v", sent)
	}
	if want := "Hello Omar, your plan is Pro and {{unknown}} stays."; !strings.HasSuffix(sent[0], want) {
		t.Fatalf("body = %q, want suffix %q", sent[0], want)
	}
	if got := repo.audits(); len(got) != 1 || got[0].Kind != message.KindTemplate {
		t.Fatalf("audits = %+v", got)
	}
}

func TestSendTemplateMessageMissingTemplate(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, repo := newTestMessageService(sender)

	_, err := svc.SendTemplateMessage(context.Background(), "s1", "01001234567", uuid.New(), nil)
	if !errors.Is(err, notifyerrors.ErrTemplateNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(sender.sent()) != 0 || len(repo.audits()) != 0 {
		t.Fatal("missing template must not produce sends or audits")
	}
}

func TestSendBulkMessagesContinuesOnFailure(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, _ := newTestMessageService(sender)

	recipients := []message.BulkRecipient{
		{PhoneNumber: "01001234567", Message: "a"},
		{PhoneNumber: "bad", Message: "b"},
		{PhoneNumber: "01112345678", Message: "c"},
	}
	results := svc.SendBulkMessages(context.Background(), "s1", recipients, BulkOptions{})

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("results = %+v", results)
	}
	if results[1].Error == "" {
		t.Fatal("failed result must carry the error")
	}
	if got := len(sender.sent()); got != 2 {
		t.Fatalf("transport sends = %d, want 2", got)
	}
}

func TestSendBulkMessagesDelayBounds(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, _ := newTestMessageService(sender)

	var bounds []time.Duration
	svc.jitter = func(min, max time.Duration) time.Duration {
		bounds = append(bounds, min, max)
		return time.Millisecond
	}

	recipients := []message.BulkRecipient{
		{PhoneNumber: "01001234567", Message: "a"},
		{PhoneNumber: "01112345678", Message: "b"},
	}

	svc.SendBulkMessages(context.Background(), "s1", recipients, BulkOptions{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
	})
	if len(bounds) != 2 || bounds[0] != 100*time.Millisecond || bounds[1] != 200*time.Millisecond {
		t.Fatalf("bounds = %v", bounds)
	}

	bounds = nil
	svc.SendBulkMessages(context.Background(), "s1", recipients, BulkOptions{})
	if len(bounds) != 2 || bounds[0] != 5*time.Second || bounds[1] != 15*time.Second {
		t.Fatalf("default bounds = %v", bounds)
	}

	bounds = nil
	svc.SendBulkMessages(context.Background(), "s1", recipients, BulkOptions{
		MinDelay: 30 * time.Second,
		MaxDelay: time.Second,
	})
	if len(bounds) != 2 || bounds[1] != 30*time.Second {
		t.Fatalf("inverted bounds = %v", bounds)
	}
}

func TestQueueDrainsInOrder(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc, _ := newTestMessageService(sender)

	for _, p := range []string{"01001234567", "01112345678"} {
		svc.AddToQueue(QueueItem{SessionID: "s1", PhoneNumber: p, Body: "hi", Kind: message.KindText})
	}

	waitFor(t, func() bool { return len(sender.sent()) == 2 })
	sent := sender.sent()
	if !strings.Contains(sent[0], "201001234567@") || !strings.Contains(sent[1], "201112345678@") {
		t.Fatalf("order = %v", sent)
	}
}
