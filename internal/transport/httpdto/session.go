package httpdto

// InitSessionRequest starts (or restarts) a session connection
type InitSessionRequest struct {
	SessionID string  `json:"sessionId" binding:"required"`
	OrgID     *string `json:"orgId"`
}

// PairingCodeRequest asks for a phone-link code
type PairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

// PairingCodeResponse carries the code to show the operator
type PairingCodeResponse struct {
	Code string `json:"code"`
}

// SessionStatusResponse is the derived lifecycle state of one session
type SessionStatusResponse struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

// QRResponse carries the cached QR image as a data URL
type QRResponse struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr,omitempty"`
	Status    string `json:"status"`
}

// HealthResponse is the unauthenticated liveness payload
type HealthResponse struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	SessionCount int    `json:"sessionCount"`
}
