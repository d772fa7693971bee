package httpdto

// NotifyRequest triggers an event notification
type NotifyRequest struct {
	Event string         `json:"event" binding:"required"`
	Phone string         `json:"phone" binding:"required"`
	Data  map[string]any `json:"data"`
}
