package httpdto

import "fleet-notify/internal/domain/message"

// SendMessageRequest sends one text or template message
type SendMessageRequest struct {
	SessionID   string         `json:"sessionId" binding:"required"`
	PhoneNumber string         `json:"phoneNumber" binding:"required"`
	Message     string         `json:"message"`
	TemplateID  string         `json:"templateId"`
	Variables   map[string]any `json:"variables"`
}

// SendMessageResponse reports the provider-assigned id
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
}

// BulkSendRequest starts a bulk campaign
type BulkSendRequest struct {
	SessionID  string                  `json:"sessionId" binding:"required"`
	Recipients []message.BulkRecipient `json:"recipients" binding:"required"`
	Options    *BulkSendOptions        `json:"options"`
}

// BulkSendOptions overrides the inter-send jitter bounds, in milliseconds
type BulkSendOptions struct {
	MinDelay int `json:"minDelay"`
	MaxDelay int `json:"maxDelay"`
}

// BulkSendResponse carries per-recipient outcomes
type BulkSendResponse struct {
	Total   int                  `json:"total"`
	Results []message.BulkResult `json:"results"`
}

// MessageRecord is one audit row
type MessageRecord struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	RecipientPhone string `json:"recipientPhone"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	SentAt         string `json:"sentAt,omitempty"`
	CreatedAt      string `json:"createdAt"`
}
