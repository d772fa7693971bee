// Package wagateway implements transport.Provider against the protocol
// gateway sidecar over a websocket. The sidecar owns the actual WhatsApp
// wire protocol; this client only shuttles JSON frames.
package wagateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-notify/internal/transport"
	notifyerrors "fleet-notify/pkg/errors"
	"fleet-notify/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	ackWait    = 120 * time.Second
)

// Provider dials the gateway sidecar
type Provider struct {
	gatewayURL string
	log        *logger.Logger
}

func NewProvider(gatewayURL string, log *logger.Logger) *Provider {
	return &Provider{gatewayURL: gatewayURL, log: log}
}

// frame is the JSON envelope exchanged with the gateway
type frame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	AuthState  string `json:"authState,omitempty"`
	JID        string `json:"jid,omitempty"`
	Text       string `json:"text,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Image      string `json:"image,omitempty"`
	State      string `json:"state,omitempty"`
	Name       string `json:"name,omitempty"`
	Code       string `json:"code,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	LoggedOut  bool   `json:"loggedOut,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (p *Provider) Connect(ctx context.Context, sessionID string, authState []byte) (transport.Conn, error) {
	u, err := url.Parse(p.gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &conn{
		sessionID: sessionID,
		ws:        ws,
		events:    make(chan transport.Event, 64),
		pending:   make(map[string]chan frame),
		done:      make(chan struct{}),
		log:       p.log,
	}

	init := frame{Type: "init", SessionID: sessionID}
	if len(authState) > 0 {
		init.AuthState = base64.StdEncoding.EncodeToString(authState)
	}
	if err := c.write(init); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("init session: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

type conn struct {
	sessionID string
	ws        *websocket.Conn
	events    chan transport.Event
	log       *logger.Logger

	mu      sync.Mutex // protects ws writes, pending, user, ready, closed
	pending map[string]chan frame
	user    *transport.UserInfo
	ready   bool
	closed  bool
	done    chan struct{}
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *conn) User() *transport.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *conn) Send(ctx context.Context, jid, text string) (string, error) {
	resp, err := c.call(ctx, frame{Type: "send", ID: uuid.New().String(), JID: jid, Text: text})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("gateway send failed: %s", resp.Error)
	}
	return resp.MessageID, nil
}

func (c *conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	resp, err := c.call(ctx, frame{Type: "pairing_code", ID: uuid.New().String(), Phone: phone})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("gateway pairing code failed: %s", resp.Error)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("%w: no pairing code returned", notifyerrors.ErrTransportTimeout)
	}
	return resp.Code, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.ws.Close()
}

// call sends a request frame and waits for the matching ack
func (c *conn) call(ctx context.Context, req frame) (frame, error) {
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, fmt.Errorf("%w: connection closed", notifyerrors.ErrTransportTimeout)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(ackWait)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-timer.C:
		return frame{}, fmt.Errorf("%w: no ack for %s", notifyerrors.ErrTransportTimeout, req.Type)
	case <-c.done:
		return frame{}, fmt.Errorf("%w: connection closed", notifyerrors.ErrTransportTimeout)
	}
}

func (c *conn) write(f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) readLoop() {
	defer close(c.events)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.ready = false
			c.mu.Unlock()
			if !alreadyClosed {
				c.events <- transport.DisconnectedEvent{Reason: err.Error()}
			}
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.log.Warnf("[wagateway] %s: dropping malformed frame: %v", c.sessionID, err)
			continue
		}

		switch f.Type {
		case "ack":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case "qr":
			c.events <- transport.QREvent{Image: f.Image}
		case "creds":
			state, err := base64.StdEncoding.DecodeString(f.State)
			if err != nil {
				c.log.Warnf("[wagateway] %s: bad creds payload: %v", c.sessionID, err)
				continue
			}
			c.events <- transport.CredsEvent{State: state}
		case "ready":
			c.mu.Lock()
			c.ready = true
			c.mu.Unlock()
		case "connected":
			c.mu.Lock()
			c.ready = true
			c.user = &transport.UserInfo{JID: f.JID, PhoneNumber: splitJIDPhone(f.JID), Name: f.Name}
			c.mu.Unlock()
			c.events <- transport.ConnectedEvent{JID: f.JID, PhoneNumber: splitJIDPhone(f.JID), Name: f.Name}
		case "disconnected":
			c.mu.Lock()
			c.ready = false
			c.user = nil
			c.mu.Unlock()
			c.events <- transport.DisconnectedEvent{StatusCode: f.StatusCode, LoggedOut: f.LoggedOut, Reason: f.Reason}
		default:
			c.log.Debugf("[wagateway] %s: ignoring frame type %q", c.sessionID, f.Type)
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.PingMessage, []byte("ping"))
			c.mu.Unlock()
		}
	}
}

// splitJIDPhone extracts the phone number from a jid like 2010...:12@s.whatsapp.net
func splitJIDPhone(jid string) string {
	for i, r := range jid {
		if r == ':' || r == '@' {
			return jid[:i]
		}
	}
	return jid
}
