package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/telephony"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// Manager owns the registered telephony client: token lifecycle, device
// registration, and the inbound leg of conference calls. At most one live
// client exists at a time; Connect on an already-connected manager tears
// the old device down first so a reconnect never leaves two registrations
// holding the same identity.
type Manager struct {
	// connectMu serializes Connect end to end; mu alone cannot be held
	// across the token fetch. Lock order: connectMu before mu.
	connectMu sync.Mutex

	mu      sync.Mutex
	cfg     config.TelephonyConfig
	gateway *telephony.Gateway
	factory telephony.Factory
	logger  *logger.Logger

	status    domain.SessionStatus
	lastError string
	client    telephony.Client

	// onIncoming receives inbound legs that carry this session's
	// correlation parameter; legs without it are rejected.
	onIncoming func(call telephony.IncomingCall)
}

// NewManager constructs a session manager.
func NewManager(cfg config.TelephonyConfig, gateway *telephony.Gateway, factory telephony.Factory, lg *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		gateway: gateway,
		factory: factory,
		logger:  lg.Component("session"),
		status:  domain.SessionDisconnected,
	}
}

// SetIncomingHandler registers the consumer of accepted inbound legs.
func (m *Manager) SetIncomingHandler(fn func(call telephony.IncomingCall)) {
	m.mu.Lock()
	m.onIncoming = fn
	m.mu.Unlock()
}

// Connect fetches a token, constructs the client with the configured codec
// preferences, and registers it. Any existing client is destroyed first.
// Concurrent Connect calls run one at a time so at most one live client
// ever holds the identity. Token failures leave the session in error
// status; the user must explicitly reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.client != nil {
		m.client.Destroy()
		m.client = nil
	}
	m.status = domain.SessionConnecting
	m.lastError = ""
	m.mu.Unlock()

	token, err := m.gateway.Token(ctx, m.cfg.Identity)
	if err != nil {
		m.fail(fmt.Sprintf("token fetch failed: %v", err))
		return fmt.Errorf("session: %w", err)
	}

	client, err := m.factory(token, m.cfg.Codecs, telephony.ClientHandlers{
		OnRegistered:      m.handleRegistered,
		OnError:           m.handleError,
		OnIncoming:        m.handleIncoming,
		OnTokenWillExpire: m.handleTokenWillExpire,
	})
	if err != nil {
		m.fail(fmt.Sprintf("client construction failed: %v", err))
		return fmt.Errorf("session: build client: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	if err := client.Register(ctx); err != nil {
		m.fail(fmt.Sprintf("registration failed: %v", err))
		return fmt.Errorf("session: register: %w", err)
	}
	return nil
}

// Close destroys the client. Idempotent and safe before Connect.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Destroy()
		m.client = nil
	}
	m.status = domain.SessionDisconnected
}

// Client returns the live client, or ErrSessionDown when the session is not
// connected.
func (m *Manager) Client() (telephony.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.status != domain.SessionConnected {
		return nil, apperrors.ErrSessionDown
	}
	return m.client, nil
}

// Identity returns the configured client identity.
func (m *Manager) Identity() string {
	return m.cfg.Identity
}

// Connected reports whether the session is registered.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == domain.SessionConnected
}

// Snapshot returns the session state for the control API.
func (m *Manager) Snapshot() domain.DialSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.DialSession{
		Identity:  m.cfg.Identity,
		Status:    m.status,
		LastError: m.lastError,
	}
}

func (m *Manager) fail(message string) {
	m.mu.Lock()
	m.status = domain.SessionError
	m.lastError = message
	if m.client != nil {
		m.client.Destroy()
		m.client = nil
	}
	m.mu.Unlock()
	m.logger.Error("session failed", zap.String("reason", message))
}

func (m *Manager) handleRegistered() {
	m.mu.Lock()
	m.status = domain.SessionConnected
	m.lastError = ""
	m.mu.Unlock()
	m.logger.Info("client registered", zap.String("identity", m.cfg.Identity))
}

func (m *Manager) handleError(err error) {
	m.mu.Lock()
	m.status = domain.SessionError
	m.lastError = err.Error()
	m.mu.Unlock()
	m.logger.Error("client error", zap.Error(err))
}

// handleIncoming auto-accepts only legs the dialer itself initiated,
// correlated by the session connect parameter. Anything else on this
// identity is rejected.
func (m *Manager) handleIncoming(call telephony.IncomingCall) {
	if call.Param(telephony.SessionParamKey) != m.cfg.Identity {
		m.logger.Warn("rejecting unrelated incoming call")
		call.Reject()
		return
	}

	m.mu.Lock()
	handler := m.onIncoming
	m.mu.Unlock()

	if handler == nil {
		m.logger.Warn("no incoming handler installed, rejecting call")
		call.Reject()
		return
	}
	handler(call)
}

// handleTokenWillExpire refreshes the access token ahead of expiry without
// interrupting an active call. A refresh failure is logged and surfaced on
// the session but does not drop the client; the current token remains valid
// until the provider expires it.
func (m *Manager) handleTokenWillExpire() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	token, err := m.gateway.Token(ctx, m.cfg.Identity)
	if err != nil {
		m.mu.Lock()
		m.lastError = fmt.Sprintf("token refresh failed: %v", err)
		m.mu.Unlock()
		m.logger.Error("token refresh failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client != nil {
		client.UpdateToken(token)
		m.logger.Info("access token refreshed")
	}
}
