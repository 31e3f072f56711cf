package dialer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acme/lead-dialer/internal/audio"
	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/session"
	"github.com/acme/lead-dialer/internal/telephony"
	"github.com/acme/lead-dialer/internal/telephony/mock"
	"github.com/acme/lead-dialer/pkg/logger"
)

// fakeClock provides manually advanced time for deterministic loop tests.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in schedule order. Each
// callback runs outside the clock lock so it may schedule further timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		fn := next.fn
		c.mu.Unlock()

		fn()
	}
}

// gatewayStub fakes the telephony backend REST endpoints.
type gatewayStub struct {
	mu        sync.Mutex
	server    *httptest.Server
	placed    []string
	endCalls  []string
	muteCalls []bool
	failPlace bool
	sid       string
}

func newGatewayStub() *gatewayStub {
	g := &gatewayStub{sid: "CA-stub-1"}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	return g
}

func (g *gatewayStub) handle(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/telephony/token":
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	case r.URL.Path == "/telephony/call":
		if g.failPlace {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": "carrier rejected"})
			return
		}
		var req struct {
			PhoneNumber string `json:"phoneNumber"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		g.placed = append(g.placed, req.PhoneNumber)
		json.NewEncoder(w).Encode(map[string]string{"callSid": g.sid})
	case strings.HasSuffix(r.URL.Path, "/end"):
		g.endCalls = append(g.endCalls, r.URL.Path)
		w.Write([]byte("{}"))
	case strings.HasSuffix(r.URL.Path, "/mute"):
		var req struct {
			Muted bool `json:"muted"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		g.muteCalls = append(g.muteCalls, req.Muted)
		w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("{}"))
	}
}

func (g *gatewayStub) placedNumbers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.placed))
	copy(out, g.placed)
	return out
}

func (g *gatewayStub) endCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.endCalls)
}

func (g *gatewayStub) muteNotifications() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bool, len(g.muteCalls))
	copy(out, g.muteCalls)
	return out
}

func (g *gatewayStub) close() {
	g.server.Close()
}

type fakeGuard struct {
	mu       sync.Mutex
	claims   int
	releases int
	deny     bool
}

func (g *fakeGuard) Claim(ctx context.Context, identity string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.claims++
	return !g.deny, nil
}

func (g *fakeGuard) Release(ctx context.Context, identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
	return nil
}

func (g *fakeGuard) releaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releases
}

type eventRecorder struct {
	mu     sync.Mutex
	events []queue.CallEventMessage
}

func (r *eventRecorder) PublishCallEvent(ctx context.Context, msg queue.CallEventMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
	return nil
}

func (r *eventRecorder) all() []queue.CallEventMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.CallEventMessage, len(r.events))
	copy(out, r.events)
	return out
}

// harness wires a controller against a stub gateway, a manually driven
// softphone client, loopback audio and a fake clock.
type harness struct {
	clock   *fakeClock
	gateway *gatewayStub
	client  *mock.Client
	session *session.Manager
	audio   *audio.Manager
	guard   *fakeGuard
	events  *eventRecorder
	ctrl    *Controller
}

func dialerConfig() config.DialerConfig {
	return config.DialerConfig{
		PacingSeconds:    5,
		MinPacingSeconds: 3,
		MaxPacingSeconds: 60,
		SettleDelay:      1500 * time.Millisecond,
		RetryDelay:       2 * time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:   newFakeClock(),
		gateway: newGatewayStub(),
		guard:   &fakeGuard{},
		events:  &eventRecorder{},
	}
	t.Cleanup(h.gateway.close)

	telCfg := config.TelephonyConfig{
		GatewayURL:     h.gateway.server.URL,
		Identity:       "agent-1",
		Codecs:         []string{"opus"},
		RequestTimeout: 2 * time.Second,
	}

	gw := telephony.NewGateway(telCfg)
	factory := func(token string, codecs []string, handlers telephony.ClientHandlers) (telephony.Client, error) {
		h.client = mock.NewClient(token, codecs, handlers)
		return h.client, nil
	}
	h.session = session.NewManager(telCfg, gw, factory, logger.Nop())

	audioCfg := config.AudioConfig{
		SampleRate:     16000,
		LevelThreshold: 5,
		TestWindow:     500 * time.Millisecond,
		ToneFrequency:  440,
		ToneDuration:   20 * time.Millisecond,
		DefaultVolume:  80,
	}
	h.audio = audio.NewManager(audioCfg, audio.NewLoopbackDevices(audioCfg.SampleRate), logger.Nop())

	h.ctrl = NewController(dialerConfig(), h.clock, h.session, gw, h.audio, h.guard, h.events, logger.Nop())

	if err := h.session.Connect(context.Background()); err != nil {
		t.Fatalf("session connect: %v", err)
	}
	return h
}
