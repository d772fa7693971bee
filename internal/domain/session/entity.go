package session

import "time"

// Status represents the lifecycle state of a WhatsApp session
type Status string

const (
	StatusNotStarted   Status = "not_started"
	StatusInitializing Status = "initializing"
	StatusConnecting   Status = "connecting"
	StatusQRReady      Status = "qr_ready"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Session represents the whatsapp_sessions table. At most one row carries
// IsSystemDefault = true; the store routine ensure_system_default_session()
// enforces this on every connect/disconnect transition.
type Session struct {
	ID              string
	OrgID           *string
	Status          Status
	PhoneNumber     *string
	WhatsAppID      *string
	IsSystemDefault bool
	AuthState       []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastConnectedAt *time.Time
}

// Info is the in-memory view of a live session handle.
type Info struct {
	SessionID   string `json:"sessionId"`
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Name        string `json:"name,omitempty"`
}
