package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-notify/internal/domain/session"
	"fleet-notify/internal/repository"
	"fleet-notify/internal/services"
	"fleet-notify/internal/transport/httpdto"
	notifyerrors "fleet-notify/pkg/errors"
	"fleet-notify/pkg/logger"
)

type SessionHandler struct {
	manager  *services.SessionManager
	sessions repository.SessionRepository
	log      *logger.Logger
}

func NewSessionHandler(manager *services.SessionManager, sessions repository.SessionRepository, log *logger.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, sessions: sessions, log: log}
}

func (h *SessionHandler) List(c *gin.Context) {
	rows, err := h.sessions.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]httpdto.SessionStatusResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.statusOf(row.ID))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.statusOf(c.Param("id"))))
}

// QR lazily starts the connection so the first poll from the admin UI is
// enough to kick off pairing.
func (h *SessionHandler) QR(c *gin.Context) {
	sessionID := c.Param("id")

	state := h.manager.GetSessionState(sessionID)
	if state == session.StatusConnected {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.QRResponse{
			SessionID: sessionID,
			Status:    string(session.StatusConnected),
		}))
		return
	}

	if state == session.StatusNotStarted {
		if err := h.startSession(c, sessionID, nil); err != nil {
			respondError(c, err)
			return
		}
		state = h.manager.GetSessionState(sessionID)
	}

	qr, _ := h.manager.GetQRCode(sessionID)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.QRResponse{
		SessionID: sessionID,
		QR:        qr,
		Status:    string(state),
	}))
}

func (h *SessionHandler) Init(c *gin.Context) {
	var req httpdto.InitSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	if err := h.startSession(c, req.SessionID, req.OrgID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.statusOf(req.SessionID)))
}

func (h *SessionHandler) PairingCode(c *gin.Context) {
	var req httpdto.PairingCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	code, err := h.manager.RequestPairingCode(c.Request.Context(), c.Param("id"), req.PhoneNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PairingCodeResponse{Code: code}))
}

func (h *SessionHandler) Reconnect(c *gin.Context) {
	sessionID := c.Param("id")

	if _, err := h.sessions.GetByID(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	err := h.manager.CreateSession(c.Request.Context(), sessionID, h.defaultCallbacks(sessionID), services.CreateOptions{IsNew: false})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(h.statusOf(sessionID)))
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	if err := h.manager.DisconnectSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"disconnected": true}))
}

func (h *SessionHandler) Remove(c *gin.Context) {
	if err := h.manager.RemoveSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"removed": true}))
}

// startSession makes sure a database row exists, then opens the handle
func (h *SessionHandler) startSession(c *gin.Context, sessionID string, orgID *string) error {
	ctx := c.Request.Context()

	if _, err := h.sessions.GetByID(ctx, sessionID); err != nil {
		if !errors.Is(err, notifyerrors.ErrSessionNotFound) {
			return err
		}
		if err := h.sessions.Create(ctx, &session.Session{
			ID:     sessionID,
			OrgID:  orgID,
			Status: session.StatusInitializing,
		}); err != nil {
			return err
		}
	}

	return h.manager.CreateSession(ctx, sessionID, h.defaultCallbacks(sessionID), services.CreateOptions{IsNew: true})
}

func (h *SessionHandler) defaultCallbacks(sessionID string) services.SessionCallbacks {
	return services.SessionCallbacks{
		OnConnected: func(info session.Info) {
			h.log.Infof("[SessionHandler] Session %s connected as %s", sessionID, info.PhoneNumber)
		},
		OnDisconnected: func(reason string) {
			h.log.Warnf("[SessionHandler] Session %s disconnected: %s", sessionID, reason)
		},
	}
}

func (h *SessionHandler) statusOf(sessionID string) httpdto.SessionStatusResponse {
	resp := httpdto.SessionStatusResponse{
		SessionID: sessionID,
		Status:    string(h.manager.GetSessionState(sessionID)),
	}
	if info, ok := h.manager.GetSessionInfo(sessionID); ok {
		resp.Connected = true
		resp.PhoneNumber = info.PhoneNumber
		resp.Name = info.Name
	}
	return resp
}
