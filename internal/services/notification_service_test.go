package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"fleet-notify/internal/domain/message"
	"fleet-notify/internal/domain/session"
	"fleet-notify/pkg/logger"
)

type fakeDirectory struct {
	mu      sync.Mutex
	infos   []session.Info
	sends   []string
	sendErr error
}

func (f *fakeDirectory) GetAllSessions() []session.Info { return f.infos }

func (f *fakeDirectory) SendText(_ context.Context, sessionID, jid, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sessionID+"|"+jid+"|"+text)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "MSG1", nil
}

func TestSendEventNotification(t *testing.T) {
	t.Parallel()
	repo := newFakeMessageRepo()
	repo.byEvent["subscription_activated"] = message.Template{Content: "Plan {{plan}} active"}
	dir := &fakeDirectory{infos: []session.Info{
		{SessionID: "idle"},
		{SessionID: "live", Connected: true},
	}}
	svc := NewNotificationService(dir, repo, logger.New("test"))

	out := svc.SendEventNotification(context.Background(), "subscription_activated", "01001234567", map[string]any{"plan": "Pro"})
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if len(dir.sends) != 1 {
		t.Fatalf("sends = %v", dir.sends)
	}
	if got := dir.sends[0]; !strings.HasPrefix(got, "live|201001234567@s.whatsapp.net|") || !strings.HasSuffix(got, "Plan Pro active") {
		t.Fatalf("send = %q", got)
	}
}

func TestSendEventNotificationMissingTemplate(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{infos: []session.Info{{SessionID: "live", Connected: true}}}
	svc := NewNotificationService(dir, newFakeMessageRepo(), logger.New("test"))

	out := svc.SendEventNotification(context.Background(), "nope", "01001234567", nil)
	if out.Success || out.Error != "Template not found or inactive" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(dir.sends) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSendEventNotificationNoConnectedSession(t *testing.T) {
	t.Parallel()
	repo := newFakeMessageRepo()
	repo.byEvent["ev"] = message.Template{Content: "x"}
	dir := &fakeDirectory{infos: []session.Info{{SessionID: "idle"}}}
	svc := NewNotificationService(dir, repo, logger.New("test"))

	out := svc.SendEventNotification(context.Background(), "ev", "01001234567", nil)
	if out.Success || out.Error != "No connected WhatsApp session" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestSendEventNotificationInvalidPhone(t *testing.T) {
	t.Parallel()
	repo := newFakeMessageRepo()
	repo.byEvent["ev"] = message.Template{Content: "x"}
	dir := &fakeDirectory{infos: []session.Info{{SessionID: "live", Connected: true}}}
	svc := NewNotificationService(dir, repo, logger.New("test"))

	out := svc.SendEventNotification(context.Background(), "ev", "123", nil)
	if out.Success || out.Error == "" {
		t.Fatalf("outcome = %+v", out)
	}
}
