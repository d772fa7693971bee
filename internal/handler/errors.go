package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-notify/internal/transport/httpdto"
	notifyerrors "fleet-notify/pkg/errors"
)

// respondError maps domain sentinels to HTTP statuses and stable codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notifyerrors.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("session not found in memory, server may have restarted - please reconnect", "SESSION_NOT_FOUND"))
	case errors.Is(err, notifyerrors.ErrNotAuthenticated):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("session not authenticated, scan the QR code first", "NOT_AUTHENTICATED"))
	case errors.Is(err, notifyerrors.ErrAlreadyConnected):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("session already connected", "ALREADY_CONNECTED"))
	case errors.Is(err, notifyerrors.ErrSessionNotReady):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("session not ready, try again shortly", "SESSION_NOT_READY"))
	case errors.Is(err, notifyerrors.ErrInvalidPhoneNumber):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_PHONE"))
	case errors.Is(err, notifyerrors.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("template not found or inactive", "TEMPLATE_NOT_FOUND"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse(err.Error(), "INTERNAL_ERROR"))
	}
}
