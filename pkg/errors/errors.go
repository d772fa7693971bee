package notifyerrors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNotReady    = errors.New("session not ready")
	ErrNotAuthenticated   = errors.New("session not authenticated")
	ErrAlreadyConnected   = errors.New("session already connected")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrTemplateNotFound   = errors.New("template not found or inactive")
	ErrTransportTimeout   = errors.New("transport timed out")
	ErrTransportRejected  = errors.New("transport rejected credentials")
	ErrRetryExhausted     = errors.New("retry count exhausted")
	ErrNoConnectedSession = errors.New("no connected session")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
