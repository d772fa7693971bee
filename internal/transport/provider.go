// Package transport defines the capability consumed for the actual
// messaging wire protocol. The rest of the system treats it as opaque:
// connect, authenticate, send, receive.
package transport

import "context"

// Provider opens connections to the messaging network
type Provider interface {
	Connect(ctx context.Context, sessionID string, authState []byte) (Conn, error)
}

// Conn is one live protocol connection. Sends on a single Conn must be
// serialized by the caller; the wire protocol cannot interleave them.
type Conn interface {
	// Events yields connection lifecycle events until the connection ends.
	Events() <-chan Event
	// Send delivers a text message to a canonical JID and returns the
	// provider-assigned message id.
	Send(ctx context.Context, jid, text string) (string, error)
	// RequestPairingCode asks the network for a phone-link code. Only valid
	// before the session is authenticated.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// Ready reports whether the underlying socket can accept protocol calls.
	Ready() bool
	// User returns the authenticated identity, or nil before pairing.
	User() *UserInfo
	Close() error
}

// UserInfo identifies the paired account
type UserInfo struct {
	JID         string
	PhoneNumber string
	Name        string
}

// Event is a connection lifecycle event
type Event interface{ isEvent() }

// QREvent carries a freshly generated QR image (data URL)
type QREvent struct {
	Image string
}

// CredsEvent carries updated credential material to persist
type CredsEvent struct {
	State []byte
}

// ConnectedEvent fires when the session is authenticated and open
type ConnectedEvent struct {
	JID         string
	PhoneNumber string
	Name        string
}

// DisconnectedEvent fires when the connection closes. LoggedOut means the
// credentials were rejected and no reconnect should be attempted.
type DisconnectedEvent struct {
	StatusCode int
	LoggedOut  bool
	Reason     string
}

func (QREvent) isEvent()           {}
func (CredsEvent) isEvent()        {}
func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
