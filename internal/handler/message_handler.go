package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fleet-notify/internal/services"
	"fleet-notify/internal/transport/httpdto"
)

const defaultListLimit = 50

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	if req.Message == "" && req.TemplateID == "" {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("message or templateId is required", "INVALID_REQUEST"))
		return
	}

	var (
		msgID string
		err   error
	)
	if req.TemplateID != "" {
		templateID, parseErr := uuid.Parse(req.TemplateID)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid templateId", "INVALID_REQUEST"))
			return
		}
		msgID, err = h.service.SendTemplateMessage(c.Request.Context(), req.SessionID, req.PhoneNumber, templateID, req.Variables)
	} else {
		msgID, err = h.service.SendMessage(c.Request.Context(), req.SessionID, req.PhoneNumber, req.Message)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.SendMessageResponse{MessageID: msgID}))
}

func (h *MessageHandler) Bulk(c *gin.Context) {
	var req httpdto.BulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	if len(req.Recipients) == 0 {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("recipients must not be empty", "INVALID_REQUEST"))
		return
	}

	var opts services.BulkOptions
	if req.Options != nil {
		opts.MinDelay = time.Duration(req.Options.MinDelay) * time.Millisecond
		opts.MaxDelay = time.Duration(req.Options.MaxDelay) * time.Millisecond
	}

	results := h.service.SendBulkMessages(c.Request.Context(), req.SessionID, req.Recipients, opts)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.BulkSendResponse{
		Total:   len(results),
		Results: results,
	}))
}

func (h *MessageHandler) List(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("sessionId is required", "INVALID_REQUEST"))
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid limit", "INVALID_REQUEST"))
			return
		}
		limit = parsed
	}

	messages, err := h.service.ListMessages(c.Request.Context(), sessionID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]httpdto.MessageRecord, 0, len(messages))
	for _, m := range messages {
		rec := httpdto.MessageRecord{
			ID:             m.ID.String(),
			SessionID:      m.SessionID,
			RecipientPhone: m.RecipientPhone,
			Body:           m.Body,
			Kind:           string(m.Kind),
			Status:         string(m.Status),
			CreatedAt:      m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if m.ErrorMessage != nil {
			rec.ErrorMessage = *m.ErrorMessage
		}
		if m.SentAt != nil {
			rec.SentAt = m.SentAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, rec)
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}
