package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"fleet-notify/internal/credstore"
	"fleet-notify/internal/domain/session"
	"fleet-notify/internal/phone"
	"fleet-notify/internal/repository"
	"fleet-notify/internal/transport"
	notifyerrors "fleet-notify/pkg/errors"
	"fleet-notify/pkg/logger"
)

const (
	reconnectBase = 5 * time.Second
	reconnectCap  = 120 * time.Second

	// A freshly created session gets a small reconnect budget; a session
	// restored from disk was authenticated before and is worth fighting
	// harder to keep alive.
	maxRetriesNew      = 5
	maxRetriesRestored = 100

	restoreStagger = 1 * time.Second

	welcomeMessage = "✅ تم ربط نظام مدير الأسطول (MyFleet Pro) برقم الواتساب هذا بنجاح!\n\nيمكنك الآن إرسال واستقبال التنبيهات والرسائل التلقائية من خلال النظام. 🚀"
)

// SessionCallbacks wire transport events back to interested callers
type SessionCallbacks struct {
	OnQR           func(qr string)
	OnConnected    func(info session.Info)
	OnDisconnected func(reason string)
}

// CreateOptions control reconnect behavior for a session
type CreateOptions struct {
	IsNew   bool
	attempt int
}

// SessionManager owns every live protocol connection. All map mutations go
// through one mutex so a pending reconnect timer can never race an explicit
// removal: a session marked removed is re-checked at timer fire time.
type SessionManager struct {
	provider transport.Provider
	sessions repository.SessionRepository
	creds    *credstore.Store
	log      *logger.Logger

	mu           sync.Mutex
	conns        map[string]transport.Conn
	qrCodes      map[string]string
	reconnects   map[string]*time.Timer
	removed      map[string]struct{}
	initializing map[string]struct{}

	readyAttempts int
	readyInterval time.Duration
}

func NewSessionManager(provider transport.Provider, sessions repository.SessionRepository, creds *credstore.Store, log *logger.Logger) *SessionManager {
	return &SessionManager{
		provider:      provider,
		sessions:      sessions,
		creds:         creds,
		log:           log,
		conns:         make(map[string]transport.Conn),
		qrCodes:       make(map[string]string),
		reconnects:    make(map[string]*time.Timer),
		removed:       make(map[string]struct{}),
		initializing:  make(map[string]struct{}),
		readyAttempts: 30,
		readyInterval: 200 * time.Millisecond,
	}
}

// CreateSession opens a transport connection for the session id. It is a
// no-op when the session is already connected; a stale unconnected handle
// is torn down first.
func (m *SessionManager) CreateSession(ctx context.Context, sessionID string, callbacks SessionCallbacks, opts CreateOptions) error {
	m.mu.Lock()
	// A fresh explicit request clears the removal mark; reconnect attempts
	// must not (the mark is how removal wins the race).
	if opts.attempt == 0 {
		delete(m.removed, sessionID)
	}

	if existing, ok := m.conns[sessionID]; ok {
		if existing.User() != nil {
			m.mu.Unlock()
			m.log.Infof("[SessionManager] Session %s already connected", sessionID)
			return nil
		}
		m.log.Infof("[SessionManager] Session %s exists but not connected, cleaning up", sessionID)
		_ = existing.Close()
		delete(m.conns, sessionID)
	}

	if timer, ok := m.reconnects[sessionID]; ok {
		timer.Stop()
		delete(m.reconnects, sessionID)
	}

	m.initializing[sessionID] = struct{}{}
	m.mu.Unlock()

	m.log.Infof("[SessionManager] Creating session %s (attempt %d)", sessionID, opts.attempt)

	authState, err := m.creds.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.clearInitializing(sessionID)
		return fmt.Errorf("load credentials for %s: %w", sessionID, err)
	}

	conn, err := m.provider.Connect(ctx, sessionID, authState)
	if err != nil {
		m.clearInitializing(sessionID)
		return fmt.Errorf("connect session %s: %w", sessionID, err)
	}

	m.mu.Lock()
	m.conns[sessionID] = conn
	delete(m.initializing, sessionID)
	m.mu.Unlock()

	go m.consumeEvents(sessionID, conn, callbacks, opts)
	return nil
}

func (m *SessionManager) consumeEvents(sessionID string, conn transport.Conn, callbacks SessionCallbacks, opts CreateOptions) {
	ctx := context.Background()

	for ev := range conn.Events() {
		switch e := ev.(type) {
		case transport.QREvent:
			m.log.Infof("[SessionManager] QR code generated for %s", sessionID)
			m.mu.Lock()
			m.qrCodes[sessionID] = e.Image
			m.mu.Unlock()
			if callbacks.OnQR != nil {
				callbacks.OnQR(e.Image)
			}

		case transport.CredsEvent:
			if err := m.creds.Save(ctx, sessionID, e.State); err != nil {
				m.log.Errorf("[SessionManager] Failed to persist credentials for %s: %v", sessionID, err)
			}
			if err := m.sessions.UpdateAuthState(ctx, sessionID, e.State); err != nil {
				m.log.Errorf("[SessionManager] Failed to store auth state for %s: %v", sessionID, err)
			}

		case transport.ConnectedEvent:
			m.handleConnected(ctx, sessionID, conn, callbacks, e)

		case transport.DisconnectedEvent:
			m.handleDisconnected(ctx, sessionID, callbacks, opts, e)
			return
		}
	}
}

func (m *SessionManager) handleConnected(ctx context.Context, sessionID string, conn transport.Conn, callbacks SessionCallbacks, e transport.ConnectedEvent) {
	m.log.Infof("[SessionManager] Connection open for %s, paired with %s", sessionID, e.JID)

	m.mu.Lock()
	delete(m.qrCodes, sessionID)
	m.mu.Unlock()

	if err := m.sessions.UpdateConnected(ctx, sessionID, e.PhoneNumber, e.JID); err != nil {
		m.log.Errorf("[SessionManager] Failed to update session status for %s: %v", sessionID, err)
	}

	// Promote exactly one connected session to system default
	if err := m.sessions.EnsureSystemDefault(ctx); err != nil {
		m.log.Errorf("[SessionManager] Failed to ensure system default: %v", err)
	}

	// Best-effort courtesy message to the freshly linked number
	if _, err := conn.Send(ctx, e.PhoneNumber+phone.JIDSuffix, welcomeMessage); err != nil {
		m.log.Warnf("[SessionManager] Failed to send welcome message for %s: %v", sessionID, err)
	}

	if callbacks.OnConnected != nil {
		callbacks.OnConnected(session.Info{
			SessionID:   sessionID,
			Connected:   true,
			PhoneNumber: e.PhoneNumber,
			Name:        e.Name,
		})
	}
}

func (m *SessionManager) handleDisconnected(ctx context.Context, sessionID string, callbacks SessionCallbacks, opts CreateOptions, e transport.DisconnectedEvent) {
	m.log.Infof("[SessionManager] Connection closed for %s: code=%d loggedOut=%v reason=%s", sessionID, e.StatusCode, e.LoggedOut, e.Reason)

	m.mu.Lock()
	if timer, ok := m.reconnects[sessionID]; ok {
		timer.Stop()
		delete(m.reconnects, sessionID)
	}
	delete(m.conns, sessionID)
	delete(m.qrCodes, sessionID)
	_, wasRemoved := m.removed[sessionID]
	m.mu.Unlock()

	if wasRemoved {
		m.log.Infof("[SessionManager] Session %s was manually removed, skipping reconnect", sessionID)
		if callbacks.OnDisconnected != nil {
			callbacks.OnDisconnected(e.Reason)
		}
		return
	}

	if e.LoggedOut {
		// Credentials rejected. Never auto-retried: the operator has to
		// pair again through a new QR or pairing code.
		m.log.Infof("[SessionManager] Session %s logged out (unpaired)", sessionID)
		if err := m.sessions.UpdateDisconnected(ctx, sessionID, true); err != nil {
			m.log.Errorf("[SessionManager] Failed to mark %s disconnected: %v", sessionID, err)
		}
		m.demoteAndRepromote(ctx, sessionID)
		if callbacks.OnDisconnected != nil {
			callbacks.OnDisconnected(e.Reason)
		}
		return
	}

	if err := m.sessions.UpdateDisconnected(ctx, sessionID, false); err != nil {
		m.log.Errorf("[SessionManager] Failed to mark %s disconnected: %v", sessionID, err)
	}
	m.demoteAndRepromote(ctx, sessionID)

	attempt := opts.attempt + 1
	maxRetries := maxRetriesRestored
	if opts.IsNew {
		maxRetries = maxRetriesNew
	}

	if attempt > maxRetries {
		m.log.Errorf("[SessionManager] Max reconnection attempts reached for %s", sessionID)
	} else {
		delay := reconnectDelay(attempt)
		m.log.Infof("[SessionManager] Reconnecting %s (%d/%d) in %s", sessionID, attempt, maxRetries, delay)
		m.scheduleReconnect(sessionID, callbacks, CreateOptions{IsNew: opts.IsNew, attempt: attempt}, delay)
	}

	if callbacks.OnDisconnected != nil {
		callbacks.OnDisconnected(e.Reason)
	}
}

func (m *SessionManager) scheduleReconnect(sessionID string, callbacks SessionCallbacks, opts CreateOptions, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.removed[sessionID]; gone {
		return
	}
	if timer, ok := m.reconnects[sessionID]; ok {
		timer.Stop()
	}

	m.reconnects[sessionID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.reconnects, sessionID)
		_, gone := m.removed[sessionID]
		m.mu.Unlock()
		if gone {
			return
		}
		if err := m.CreateSession(context.Background(), sessionID, callbacks, opts); err != nil {
			m.log.Errorf("[SessionManager] Reconnect of %s failed: %v", sessionID, err)
		}
	})
}

func (m *SessionManager) demoteAndRepromote(ctx context.Context, sessionID string) {
	if err := m.sessions.SetSystemDefault(ctx, sessionID, false); err != nil {
		m.log.Errorf("[SessionManager] Failed to demote %s: %v", sessionID, err)
	}
	if err := m.sessions.EnsureSystemDefault(ctx); err != nil {
		m.log.Errorf("[SessionManager] Failed to promote a replacement default: %v", err)
	}
}

// RequestPairingCode asks the transport for a phone-link code. Only valid
// while the session handle exists and is not yet authenticated.
func (m *SessionManager) RequestPairingCode(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()

	if !ok {
		return "", notifyerrors.ErrSessionNotFound
	}
	if conn.User() != nil {
		return "", notifyerrors.ErrAlreadyConnected
	}

	jid, err := phone.Normalize(phoneNumber)
	if err != nil {
		return "", err
	}

	// The socket needs a moment after creation before it accepts protocol
	// calls. Bounded wait, then give up instead of hanging.
	ready := false
	for i := 0; i < m.readyAttempts; i++ {
		if conn.Ready() {
			ready = true
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.readyInterval):
		}
	}
	if !ready {
		return "", fmt.Errorf("%w: socket never became ready", notifyerrors.ErrSessionNotReady)
	}

	code, err := conn.RequestPairingCode(ctx, phone.BareDigits(jid))
	if err != nil {
		return "", err
	}
	m.log.Infof("[SessionManager] Pairing code generated for %s", sessionID)
	return code, nil
}

// SendText delivers one message through the session's connection. Callers
// own recipient normalization.
func (m *SessionManager) SendText(ctx context.Context, sessionID, jid, text string) (string, error) {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()

	if !ok {
		return "", notifyerrors.ErrSessionNotFound
	}
	if conn.User() == nil {
		return "", notifyerrors.ErrNotAuthenticated
	}
	return conn.Send(ctx, jid, text)
}

// IsConnected reports whether the session is authenticated and live
func (m *SessionManager) IsConnected(sessionID string) bool {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()
	return ok && conn.User() != nil
}

// GetSessionState derives the lifecycle state from in-memory evidence:
// connected beats a cached QR, which beats initializing, which beats a
// bare live handle.
func (m *SessionManager) GetSessionState(sessionID string) session.Status {
	if m.IsConnected(sessionID) {
		return session.StatusConnected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.qrCodes[sessionID]; ok {
		return session.StatusQRReady
	}
	if _, ok := m.initializing[sessionID]; ok {
		return session.StatusInitializing
	}
	if _, ok := m.conns[sessionID]; ok {
		return session.StatusConnecting
	}
	return session.StatusNotStarted
}

// GetQRCode returns the cached QR image for the session, if any
func (m *SessionManager) GetQRCode(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qr, ok := m.qrCodes[sessionID]
	return qr, ok
}

// GetSessionInfo returns identity info for an authenticated session
func (m *SessionManager) GetSessionInfo(sessionID string) (session.Info, bool) {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()

	if !ok || conn.User() == nil {
		return session.Info{}, false
	}
	user := conn.User()
	return session.Info{
		SessionID:   sessionID,
		Connected:   true,
		PhoneNumber: user.PhoneNumber,
		Name:        user.Name,
	}, true
}

// GetAllSessions lists every in-memory session handle
func (m *SessionManager) GetAllSessions() []session.Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]session.Info, 0, len(m.conns))
	for id, conn := range m.conns {
		info := session.Info{SessionID: id}
		if user := conn.User(); user != nil {
			info.Connected = true
			info.PhoneNumber = user.PhoneNumber
			info.Name = user.Name
		}
		infos = append(infos, info)
	}
	return infos
}

// SessionCount reports how many session handles are held in memory
func (m *SessionManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// DisconnectSession ends the transport handle and marks the row
// disconnected. Credentials are kept so the session can be resumed later.
func (m *SessionManager) DisconnectSession(ctx context.Context, sessionID string) error {
	m.teardown(sessionID)

	if err := m.sessions.UpdateDisconnected(ctx, sessionID, false); err != nil {
		return err
	}
	m.demoteAndRepromote(ctx, sessionID)
	m.log.Infof("[SessionManager] Session %s disconnected", sessionID)
	return nil
}

// RemoveSession disconnects and additionally discards all credential
// material and the database row. Irreversible.
func (m *SessionManager) RemoveSession(ctx context.Context, sessionID string) error {
	m.teardown(sessionID)

	if err := m.creds.Delete(ctx, sessionID); err != nil {
		m.log.Errorf("[SessionManager] Failed to delete credentials for %s: %v", sessionID, err)
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := m.sessions.EnsureSystemDefault(ctx); err != nil {
		m.log.Errorf("[SessionManager] Failed to promote a replacement default: %v", err)
	}
	m.log.Infof("[SessionManager] Session %s removed", sessionID)
	return nil
}

// teardown marks the session removed, cancels any pending reconnect and
// closes the live handle.
func (m *SessionManager) teardown(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removed[sessionID] = struct{}{}
	if timer, ok := m.reconnects[sessionID]; ok {
		timer.Stop()
		delete(m.reconnects, sessionID)
	}
	delete(m.initializing, sessionID)
	delete(m.qrCodes, sessionID)
	if conn, ok := m.conns[sessionID]; ok {
		_ = conn.Close()
		delete(m.conns, sessionID)
	}
}

// RestoreAllSessions re-establishes every session that has both a local
// credential bundle and a database row. Starts are staggered to avoid a
// connection stampede after a restart.
func (m *SessionManager) RestoreAllSessions(ctx context.Context) error {
	ids, err := m.creds.List()
	if err != nil {
		return fmt.Errorf("list credential bundles: %w", err)
	}

	rows, err := m.sessions.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch sessions: %w", err)
	}
	known := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		known[row.ID] = struct{}{}
	}

	m.log.Infof("[SessionManager] Restoring sessions: %d credential bundles, %d database rows", len(ids), len(rows))

	for i, id := range ids {
		if _, ok := known[id]; !ok {
			m.log.Warnf("[SessionManager] Credential bundle %s has no database row, skipping", id)
			continue
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(restoreStagger):
			}
		}
		sid := id
		err := m.CreateSession(ctx, sid, SessionCallbacks{
			OnConnected: func(info session.Info) {
				m.log.Infof("[SessionManager] Session %s restored", sid)
			},
			OnDisconnected: func(reason string) {
				m.log.Warnf("[SessionManager] Session %s disconnected: %s", sid, reason)
			},
		}, CreateOptions{IsNew: false})
		if err != nil {
			m.log.Errorf("[SessionManager] Error restoring %s: %v", sid, err)
		}
	}
	return nil
}

// Shutdown gracefully ends every open handle. Called on process exit.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.reconnects {
		timer.Stop()
		delete(m.reconnects, id)
	}
	for id, conn := range m.conns {
		m.removed[id] = struct{}{}
		_ = conn.Close()
		delete(m.conns, id)
	}
	m.log.Infof("[SessionManager] All sessions closed")
}

func (m *SessionManager) clearInitializing(sessionID string) {
	m.mu.Lock()
	delete(m.initializing, sessionID)
	m.mu.Unlock()
}

// reconnectDelay computes min(base * 2^(attempt-1), cap)
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBase
	for i := 1; i < attempt && delay < reconnectCap; i++ {
		delay *= 2
	}
	if delay > reconnectCap {
		delay = reconnectCap
	}
	return delay
}
