package mock

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/audio"
	"github.com/acme/lead-dialer/internal/telephony"
)

// Client simulates a provider softphone SDK device. The service binary
// wires it in place of a real SDK; tests construct it directly and drive
// events by hand.
type Client struct {
	mu       sync.Mutex
	token    string
	codecs   []string
	handlers telephony.ClientHandlers

	registered bool
	destroyed  bool

	// simulation knobs; zero values mean fully manual control
	simulate    bool
	successRate float64
	answerDelay time.Duration
	rng         *rand.Rand

	RegisterErr error
	ConnectErr  error

	lastParams telephony.ConnectParams
	current    *Call
}

// NewFactory returns a telephony.Factory producing self-driving simulated
// clients: placed calls ring, then answer or fail by coin flip.
func NewFactory() telephony.Factory {
	seed := time.Now().UnixNano()
	return func(token string, codecs []string, h telephony.ClientHandlers) (telephony.Client, error) {
		return &Client{
			token:       token,
			codecs:      codecs,
			handlers:    h,
			simulate:    true,
			successRate: 0.8,
			answerDelay: time.Second,
			rng:         rand.New(rand.NewSource(seed)),
		}, nil
	}
}

// NewClient builds a manually driven client for tests.
func NewClient(token string, codecs []string, h telephony.ClientHandlers) *Client {
	return &Client{token: token, codecs: codecs, handlers: h}
}

// Register marks the device registered and fires OnRegistered.
func (c *Client) Register(ctx context.Context) error {
	c.mu.Lock()
	if c.RegisterErr != nil {
		err := c.RegisterErr
		h := c.handlers
		c.mu.Unlock()
		if h.OnError != nil {
			h.OnError(err)
		}
		return err
	}
	c.registered = true
	h := c.handlers
	c.mu.Unlock()

	if h.OnRegistered != nil {
		h.OnRegistered()
	}
	return nil
}

// UpdateToken installs a refreshed token.
func (c *Client) UpdateToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token reports the currently installed token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Registered reports whether Register succeeded.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Destroyed reports whether the device was torn down.
func (c *Client) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Connect establishes a simulated softphone leg.
func (c *Client) Connect(ctx context.Context, params telephony.ConnectParams, h telephony.CallHandlers) (telephony.Call, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, fmt.Errorf("mock client: device destroyed")
	}
	if !c.registered {
		c.mu.Unlock()
		return nil, fmt.Errorf("mock client: device not registered")
	}
	if c.ConnectErr != nil {
		err := c.ConnectErr
		c.mu.Unlock()
		return nil, err
	}

	call := newCall(h)
	c.lastParams = params
	c.current = call
	simulate := c.simulate
	c.mu.Unlock()

	if simulate {
		go c.drive(call)
	}
	return call, nil
}

func (c *Client) drive(call *Call) {
	time.Sleep(200 * time.Millisecond)
	call.Ring()

	c.mu.Lock()
	delay := c.answerDelay
	success := c.rng.Float64() <= c.successRate
	c.mu.Unlock()

	time.Sleep(delay)
	if success {
		call.AnswerNow()
	} else {
		call.Fail(fmt.Errorf("simulated call failure"))
	}
}

// Destroy releases the simulated device. Idempotent.
func (c *Client) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.registered = false
	current := c.current
	c.current = nil
	c.mu.Unlock()

	if current != nil {
		current.closeStream()
	}
}

// LastParams returns the connect params of the most recent Connect.
func (c *Client) LastParams() telephony.ConnectParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastParams
}

// CurrentCall returns the most recently connected leg, for tests.
func (c *Client) CurrentCall() *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// FireIncoming offers an inbound leg to the registered handlers.
func (c *Client) FireIncoming(params map[string]string) *Incoming {
	inc := &Incoming{params: params}
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	if h.OnIncoming != nil {
		h.OnIncoming(inc)
	}
	return inc
}

// FireTokenWillExpire triggers the proactive token refresh path.
func (c *Client) FireTokenWillExpire() {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	if h.OnTokenWillExpire != nil {
		h.OnTokenWillExpire()
	}
}

// FireError raises a device-level error.
func (c *Client) FireError(err error) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Call is a simulated softphone leg.
type Call struct {
	mu           sync.Mutex
	sid          string
	h            telephony.CallHandlers
	muted        bool
	disconnected bool
	stream       *Stream
}

func newCall(h telephony.CallHandlers) *Call {
	return &Call{
		sid:    "CA" + uuid.NewString(),
		h:      h,
		stream: newStream(),
	}
}

// SID returns the provider-assigned call identifier.
func (c *Call) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// SetMuted records the provider-side mute state.
func (c *Call) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// Muted reports the provider-side mute state.
func (c *Call) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Disconnect ends the leg locally and fires OnDisconnected, matching SDK
// behaviour where local hangup still emits the disconnect event.
func (c *Call) Disconnect() {
	c.Drop()
}

// RemoteStream exposes the simulated remote audio.
func (c *Call) RemoteStream() audio.Source {
	return c.stream
}

// Ring fires the provider Ringing event.
func (c *Call) Ring() {
	c.mu.Lock()
	h := c.h
	sid := c.sid
	c.mu.Unlock()
	if h.OnRinging != nil {
		h.OnRinging(sid)
	}
}

// AnswerNow fires the provider Accept event.
func (c *Call) AnswerNow() {
	c.mu.Lock()
	h := c.h
	sid := c.sid
	c.mu.Unlock()
	if h.OnAccepted != nil {
		h.OnAccepted(sid)
	}
}

// Drop fires the provider Disconnect event once.
func (c *Call) Drop() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	h := c.h
	sid := c.sid
	c.mu.Unlock()

	c.closeStream()
	if h.OnDisconnected != nil {
		h.OnDisconnected(sid)
	}
}

// Fail fires the provider Error event.
func (c *Call) Fail(err error) {
	c.mu.Lock()
	h := c.h
	sid := c.sid
	c.mu.Unlock()
	if h.OnError != nil {
		h.OnError(sid, err)
	}
}

// Disconnected reports whether the leg has ended.
func (c *Call) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *Call) closeStream() {
	c.stream.Close()
}

// Stream is a simulated remote audio source producing paced silence frames
// until closed.
type Stream struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newStream() *Stream {
	return &Stream{done: make(chan struct{})}
}

// ReadFrame yields a 20ms silence frame or io.EOF after Close.
func (s *Stream) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return make(audio.Frame, 320), nil
	}
}

// Close ends the stream. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Incoming is a simulated inbound leg.
type Incoming struct {
	mu       sync.Mutex
	params   map[string]string
	accepted bool
	rejected bool
	call     *Call
}

// Param returns an application-set connect parameter.
func (i *Incoming) Param(key string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.params[key]
}

// Accept answers the inbound leg.
func (i *Incoming) Accept(h telephony.CallHandlers) telephony.Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accepted = true
	i.call = newCall(h)
	return i.call
}

// Reject declines the inbound leg.
func (i *Incoming) Reject() {
	i.mu.Lock()
	i.rejected = true
	i.mu.Unlock()
}

// Accepted reports whether Accept was called.
func (i *Incoming) Accepted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.accepted
}

// Rejected reports whether Reject was called.
func (i *Incoming) Rejected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rejected
}
