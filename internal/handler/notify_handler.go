package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/transport/httpdto"
)

// EventNotifier is the event producer surface the handler needs
type EventNotifier interface {
	SendEventNotification(ctx context.Context, eventName, recipientPhone string, data map[string]any) notification.Outcome
}

type NotifyHandler struct {
	service EventNotifier
}

func NewNotifyHandler(service EventNotifier) *NotifyHandler {
	return &NotifyHandler{service: service}
}

func (h *NotifyHandler) Notify(c *gin.Context) {
	var req httpdto.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	outcome := h.service.SendEventNotification(c.Request.Context(), req.Event, req.Phone, req.Data)

	// A missing template is a configuration gap, not a server fault
	if !outcome.Success && outcome.Error == "Template not found or inactive" {
		c.JSON(http.StatusNotFound, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
