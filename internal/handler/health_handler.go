package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleet-notify/internal/transport/httpdto"
)

// SessionCounter reports how many session handles are live
type SessionCounter interface {
	SessionCount() int
}

type HealthHandler struct {
	sessions SessionCounter
}

func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{sessions: sessions}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		SessionCount: h.sessions.SessionCount(),
	})
}
