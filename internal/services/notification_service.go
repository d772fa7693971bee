package services

import (
	"context"

	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/domain/session"
	"fleet-notify/internal/phone"
	"fleet-notify/internal/repository"
	"fleet-notify/pkg/logger"
)

// SessionDirectory is the slice of the session manager the event producer
// needs: enumerate live sessions and send through one.
type SessionDirectory interface {
	GetAllSessions() []session.Info
	SendText(ctx context.Context, sessionID, jid, text string) (string, error)
}

// NotificationService is the synchronous event producer. It bypasses the
// durable queue: render, pick any connected session, send. Every failure
// mode is a structured outcome so API callers can distinguish a
// configuration gap from a transport fault without parsing errors.
type NotificationService struct {
	sessions SessionDirectory
	messages repository.MessageRepository
	log      *logger.Logger
}

func NewNotificationService(sessions SessionDirectory, messages repository.MessageRepository, log *logger.Logger) *NotificationService {
	return &NotificationService{sessions: sessions, messages: messages, log: log}
}

// SendEventNotification renders the template registered for the event and
// delivers it through the first connected session.
func (s *NotificationService) SendEventNotification(ctx context.Context, eventName, recipientPhone string, data map[string]any) notification.Outcome {
	s.log.Infof("[NotificationService] Processing event %s for %s", eventName, recipientPhone)

	tpl, err := s.messages.GetTemplateByEvent(ctx, eventName)
	if err != nil {
		s.log.Warnf("[NotificationService] No template for event %s, skipping", eventName)
		return notification.Outcome{Success: false, Error: "Template not found or inactive"}
	}
	body := SubstituteVars(tpl.Content, data)

	sessionID := s.sendingSessionID()
	if sessionID == "" {
		s.log.Errorf("[NotificationService] No connected session found")
		return notification.Outcome{Success: false, Error: "No connected WhatsApp session"}
	}

	jid, err := phone.Normalize(recipientPhone)
	if err != nil {
		return notification.Outcome{Success: false, Error: err.Error()}
	}

	if _, err := s.sessions.SendText(ctx, sessionID, jid, body); err != nil {
		s.log.Errorf("[NotificationService] Failed to send notification: %v", err)
		return notification.Outcome{Success: false, Error: err.Error()}
	}

	s.log.Infof("[NotificationService] Notification sent to %s via %s", jid, sessionID)
	return notification.Outcome{Success: true, Message: "Sent successfully"}
}

func (s *NotificationService) sendingSessionID() string {
	for _, info := range s.sessions.GetAllSessions() {
		if info.Connected {
			return info.SessionID
		}
	}
	return ""
}
