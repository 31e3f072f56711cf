package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/telephony"
	"github.com/acme/lead-dialer/internal/telephony/mock"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

type tokenServer struct {
	mu       sync.Mutex
	server   *httptest.Server
	requests int
	status   int
	body     string
	ctype    string
	delay    time.Duration
}

func newTokenServer() *tokenServer {
	s := &tokenServer{status: http.StatusOK}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		status, body, ctype := s.status, s.body, s.ctype
		delay := s.delay
		n := s.requests
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if ctype == "" {
			ctype = "application/json"
		}
		w.Header().Set("Content-Type", ctype)
		w.WriteHeader(status)
		if body != "" {
			w.Write([]byte(body))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + string(rune('0'+n))})
	}))
	return s
}

func (s *tokenServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

type clientFactory struct {
	mu      sync.Mutex
	clients []*mock.Client
}

func (f *clientFactory) build(token string, codecs []string, h telephony.ClientHandlers) (telephony.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := mock.NewClient(token, codecs, h)
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *clientFactory) latest() *mock.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func (f *clientFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *clientFactory) liveRegistered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clients {
		if c.Registered() && !c.Destroyed() {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, srv *tokenServer) (*Manager, *clientFactory) {
	t.Helper()
	t.Cleanup(srv.server.Close)

	cfg := config.TelephonyConfig{
		GatewayURL:     srv.server.URL,
		Identity:       "agent-7",
		Codecs:         []string{"opus", "pcmu"},
		RequestTimeout: 2 * time.Second,
	}
	factory := &clientFactory{}
	m := NewManager(cfg, telephony.NewGateway(cfg), factory.build, logger.Nop())
	return m, factory
}

func TestConnectRegistersClient(t *testing.T) {
	srv := newTokenServer()
	m, factory := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !m.Connected() {
		t.Fatal("session not connected")
	}
	if got := m.Snapshot().Status; got != domain.SessionConnected {
		t.Fatalf("expected connected status, got %s", got)
	}
	client := factory.latest()
	if client == nil || !client.Registered() {
		t.Fatal("client not registered")
	}
	if client.Token() != "tok-1" {
		t.Fatalf("unexpected token %q", client.Token())
	}
}

func TestConnectTokenServerError(t *testing.T) {
	srv := newTokenServer()
	srv.status = http.StatusInternalServerError
	m, factory := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure")
	}
	if m.Connected() {
		t.Fatal("session connected despite token failure")
	}
	snap := m.Snapshot()
	if snap.Status != domain.SessionError || snap.LastError == "" {
		t.Fatalf("expected error status with reason, got %+v", snap)
	}
	if factory.count() != 0 {
		t.Fatal("client built despite token failure")
	}
}

// A proxy or captive portal can answer the token route with HTML and a 200.
// That must read as a session failure, never as a token.
func TestConnectTokenNotJSON(t *testing.T) {
	srv := newTokenServer()
	srv.body = "<html><body>login required</body></html>"
	srv.ctype = "text/html"
	m, _ := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure on HTML token response")
	}
	if got := m.Snapshot().Status; got != domain.SessionError {
		t.Fatalf("expected error status, got %s", got)
	}
}

func TestConnectEmptyToken(t *testing.T) {
	srv := newTokenServer()
	srv.body = `{"message":"ok"}`
	m, _ := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure on missing token field")
	}
}

func TestReconnectDestroysPreviousClient(t *testing.T) {
	srv := newTokenServer()
	m, factory := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	first := factory.latest()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if !first.Destroyed() {
		t.Fatal("previous client not destroyed on reconnect")
	}
	if factory.count() != 2 {
		t.Fatalf("expected two clients, got %d", factory.count())
	}
	if !m.Connected() {
		t.Fatal("session not connected after reconnect")
	}
}

func TestConcurrentConnectsLeaveOneClient(t *testing.T) {
	srv := newTokenServer()
	srv.delay = 50 * time.Millisecond
	m, factory := newTestManager(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	wg.Wait()

	// Both connects succeed, but the identity must end up held by exactly
	// one registered client; the superseded one is destroyed.
	if got := factory.liveRegistered(); got != 1 {
		t.Fatalf("expected one live registered client, got %d", got)
	}
	if factory.count() != 2 {
		t.Fatalf("expected two clients built, got %d", factory.count())
	}
	if !m.Connected() {
		t.Fatal("session not connected after concurrent connects")
	}
}

func TestRegisterFailureSetsError(t *testing.T) {
	srv := newTokenServer()
	t.Cleanup(srv.server.Close)

	cfg := config.TelephonyConfig{
		GatewayURL:     srv.server.URL,
		Identity:       "agent-7",
		RequestTimeout: 2 * time.Second,
	}
	factory := func(token string, codecs []string, h telephony.ClientHandlers) (telephony.Client, error) {
		c := mock.NewClient(token, codecs, h)
		c.RegisterErr = errors.New("registration refused")
		return c, nil
	}
	m := NewManager(cfg, telephony.NewGateway(cfg), factory, logger.Nop())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected register failure")
	}
	snap := m.Snapshot()
	if snap.Status != domain.SessionError || snap.LastError == "" {
		t.Fatalf("expected error status with reason, got %+v", snap)
	}
	if m.Connected() {
		t.Fatal("session connected despite register failure")
	}
}

func TestClientUnavailableWhenDisconnected(t *testing.T) {
	srv := newTokenServer()
	m, _ := newTestManager(t, srv)

	if _, err := m.Client(); !errors.Is(err, apperrors.ErrSessionDown) {
		t.Fatalf("expected ErrSessionDown before connect, got %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := m.Client(); err != nil {
		t.Fatalf("client after connect: %v", err)
	}

	m.Close()
	if _, err := m.Client(); !errors.Is(err, apperrors.ErrSessionDown) {
		t.Fatalf("expected ErrSessionDown after close, got %v", err)
	}
}

func TestTokenRefreshKeepsClient(t *testing.T) {
	srv := newTokenServer()
	m, factory := newTestManager(t, srv)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	client := factory.latest()

	client.FireTokenWillExpire()

	if client.Destroyed() {
		t.Fatal("token refresh destroyed the client")
	}
	if client.Token() != "tok-2" {
		t.Fatalf("expected refreshed token, got %q", client.Token())
	}
	if srv.requestCount() != 2 {
		t.Fatalf("expected two token fetches, got %d", srv.requestCount())
	}
	if !m.Connected() {
		t.Fatal("session dropped during token refresh")
	}
}

func TestIncomingWithoutSessionParamRejected(t *testing.T) {
	srv := newTokenServer()
	m, factory := newTestManager(t, srv)

	accepted := 0
	m.SetIncomingHandler(func(call telephony.IncomingCall) { accepted++ })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	client := factory.latest()

	inc := client.FireIncoming(map[string]string{})
	if !inc.Rejected() {
		t.Fatal("uncorrelated incoming leg not rejected")
	}
	if accepted != 0 {
		t.Fatal("uncorrelated leg reached the incoming handler")
	}

	inc = client.FireIncoming(map[string]string{telephony.SessionParamKey: "agent-7"})
	if inc.Rejected() {
		t.Fatal("session leg rejected")
	}
	if accepted != 1 {
		t.Fatal("session leg did not reach the incoming handler")
	}
}
