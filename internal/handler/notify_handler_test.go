package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"fleet-notify/internal/domain/notification"
)

type stubNotifier struct {
	outcome notification.Outcome
	gotEvt  string
	gotTel  string
}

func (s *stubNotifier) SendEventNotification(_ context.Context, eventName, recipientPhone string, _ map[string]any) notification.Outcome {
	s.gotEvt = eventName
	s.gotTel = recipientPhone
	return s.outcome
}

func notifyRequest(t *testing.T, h *NotifyHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/notify", h.Notify)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestNotifySuccess(t *testing.T) {
	t.Parallel()
	stub := &stubNotifier{outcome: notification.Outcome{Success: true, Message: "Sent successfully"}}
	w := notifyRequest(t, NewNotifyHandler(stub), `{"event":"subscription_activated","phone":"01001234567","data":{"plan":"pro"}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out notification.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success || out.Message != "Sent successfully" {
		t.Fatalf("outcome = %+v", out)
	}
	if stub.gotEvt != "subscription_activated" || stub.gotTel != "01001234567" {
		t.Fatalf("notifier got %q %q", stub.gotEvt, stub.gotTel)
	}
}

func TestNotifyMissingTemplateIs404(t *testing.T) {
	t.Parallel()
	stub := &stubNotifier{outcome: notification.Outcome{Success: false, Error: "Template not found or inactive"}}
	w := notifyRequest(t, NewNotifyHandler(stub), `{"event":"nope","phone":"01001234567"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestNotifyTransportFailureIs200WithOutcome(t *testing.T) {
	t.Parallel()
	stub := &stubNotifier{outcome: notification.Outcome{Success: false, Error: "No connected WhatsApp session"}}
	w := notifyRequest(t, NewNotifyHandler(stub), `{"event":"ev","phone":"01001234567"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out notification.Outcome
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Success || out.Error == "" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestNotifyBadRequest(t *testing.T) {
	t.Parallel()
	w := notifyRequest(t, NewNotifyHandler(&stubNotifier{}), `{"event":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
