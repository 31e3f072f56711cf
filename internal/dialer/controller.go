package dialer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/audio"
	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/session"
	"github.com/acme/lead-dialer/internal/telephony"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// Guard reserves the single-call slot for an identity, so a second engine
// instance or a restarted one cannot double-dial.
type Guard interface {
	Claim(ctx context.Context, identity string) (bool, error)
	Release(ctx context.Context, identity string) error
}

// EventSink receives call lifecycle events.
type EventSink interface {
	PublishCallEvent(ctx context.Context, msg queue.CallEventMessage) error
}

// Controller is the single shared call state machine both the manual dial
// surface and the power dialer drive. It owns the one ActiveCall allowed
// per session and funnels provider events, timers, and API calls through
// one lock.
type Controller struct {
	mu      sync.Mutex
	cfg     config.DialerConfig
	clock   Clock
	session *session.Manager
	gateway *telephony.Gateway
	audio   *audio.Manager
	guard   Guard
	events  EventSink
	logger  *logger.Logger

	active *activeCall
	last   domain.ActiveCall

	loopActive func() bool
	onSettled  func(outcome domain.CallOutcome, leadID *uuid.UUID)
}

type activeCall struct {
	// legSID identifies the softphone leg; provider events are matched
	// against it and dropped when they refer to anything else.
	legSID string
	// sid is the gateway-assigned PSTN call SID used for server-side
	// control. Empty until the gateway confirms placement.
	sid            string
	phoneNumber    string
	leadID         *uuid.UUID
	state          domain.CallState
	mode           domain.CallMode
	conferenceName string
	startedAt      time.Time
	muted          bool
	lastError      string

	handle telephony.Call
	// settleEligible marks calls that were fully placed; only those trigger
	// the power dialer's settle advance when they finish.
	settleEligible bool
}

// NewController builds the call lifecycle controller.
func NewController(
	cfg config.DialerConfig,
	clock Clock,
	sess *session.Manager,
	gateway *telephony.Gateway,
	audioMgr *audio.Manager,
	guard Guard,
	events EventSink,
	lg *logger.Logger,
) *Controller {
	c := &Controller{
		cfg:     cfg,
		clock:   clock,
		session: sess,
		gateway: gateway,
		audio:   audioMgr,
		guard:   guard,
		events:  events,
		logger:  lg.Component("callctl"),
	}
	sess.SetIncomingHandler(c.handleIncoming)
	return c
}

// SetLoopHooks installs the power dialer's run-state probe and its
// post-call advance callback.
func (c *Controller) SetLoopHooks(isRunning func() bool, onSettled func(outcome domain.CallOutcome, leadID *uuid.UUID)) {
	c.mu.Lock()
	c.loopActive = isRunning
	c.onSettled = onSettled
	c.mu.Unlock()
}

// Dial places one call. It rejects a second placement while any call is
// active, requires a connected session, and in conference mode asks the
// gateway to dial the PSTN leg into the conference the softphone leg just
// joined. A gateway failure unwinds the already-established softphone leg.
func (c *Controller) Dial(ctx context.Context, number string, leadID *uuid.UUID, mode domain.CallMode) (domain.ActiveCall, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.ActiveCall{}, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if mode != domain.ModeConference {
		return domain.ActiveCall{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedMode, mode)
	}

	client, err := c.session.Client()
	if err != nil {
		return domain.ActiveCall{}, fmt.Errorf("dial %s: %w", number, err)
	}

	tracer := otel.Tracer("dialer.controller")
	ctx, span := tracer.Start(ctx, "call.place")
	defer span.End()
	span.SetAttributes(attribute.String("call.number", number))

	identity := c.session.Identity()
	conference := fmt.Sprintf("dial-%s-%s", identity, uuid.NewString())

	cur := &activeCall{
		phoneNumber:    number,
		leadID:         leadID,
		state:          domain.CallConnecting,
		mode:           mode,
		conferenceName: conference,
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return domain.ActiveCall{}, apperrors.ErrCallActive
	}
	c.active = cur
	c.mu.Unlock()

	if c.guard != nil {
		ok, err := c.guard.Claim(ctx, identity)
		if err != nil {
			c.logger.Warn("call guard unavailable, proceeding", zap.Error(err))
		} else if !ok {
			c.clearActive(cur)
			return domain.ActiveCall{}, fmt.Errorf("%w: identity %s holds a live call elsewhere", apperrors.ErrCallActive, identity)
		}
	}

	if err := c.audio.AcquireOutbound(ctx); err != nil {
		c.abortPlacement(cur, err, false)
		return domain.ActiveCall{}, fmt.Errorf("dial %s: %w", number, err)
	}

	handle, err := client.Connect(ctx, telephony.ConnectParams{
		ConferenceName: conference,
		SessionParam:   identity,
	}, telephony.CallHandlers{
		OnRinging:      c.handleRinging,
		OnAccepted:     c.handleAccepted,
		OnDisconnected: c.handleDisconnected,
		OnError:        c.handleCallError,
	})
	if err != nil {
		span.RecordError(err)
		c.abortPlacement(cur, err, false)
		return domain.ActiveCall{}, fmt.Errorf("dial %s: softphone leg: %w", number, err)
	}

	c.mu.Lock()
	cur.handle = handle
	cur.legSID = handle.SID()
	c.mu.Unlock()

	sid, err := c.gateway.PlaceCall(ctx, telephony.PlaceCallInput{
		PhoneNumber:    number,
		LeadID:         leadID,
		Mode:           mode,
		ConferenceName: conference,
	})
	if err != nil {
		span.RecordError(err)
		// The softphone leg is already up; tear it down so a one-sided
		// conference does not linger.
		c.abortPlacement(cur, err, true)
		return domain.ActiveCall{}, fmt.Errorf("dial %s: pstn leg: %w", number, err)
	}

	c.mu.Lock()
	cur.sid = sid
	cur.settleEligible = true
	// The server confirmed it is dialing the callee, which is this mode's
	// ringing signal; the provider Ringing event may land before or after.
	if cur.state == domain.CallConnecting {
		cur.state = domain.CallRinging
	}
	snapshot := c.snapshotLocked(cur)
	c.mu.Unlock()

	span.SetAttributes(attribute.String("call.sid", sid))
	c.publish(snapshot, "", "")
	c.logger.Info("call placed",
		zap.String("sid", sid),
		zap.String("number", number),
		zap.String("conference", conference),
	)
	return snapshot, nil
}

// Hangup disconnects the active call. In conference mode it also notifies
// the gateway to end the PSTN leg; that notification failing never blocks
// clearing local state.
func (c *Controller) Hangup(ctx context.Context) error {
	c.mu.Lock()
	cur := c.active
	if cur == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no active call", apperrors.ErrNotFound)
	}
	handle := cur.handle
	legSID := cur.legSID
	sid := cur.sid
	mode := cur.mode
	c.mu.Unlock()

	if mode == domain.ModeConference && sid != "" {
		if err := c.gateway.EndCall(ctx, sid); err != nil {
			c.logger.Warn("gateway end call failed", zap.String("sid", sid), zap.Error(err))
		}
	}

	if handle != nil {
		// Fires the provider Disconnect event, which finishes the call.
		handle.Disconnect()
	} else {
		c.finish(legSID, domain.OutcomeCanceled, "")
	}
	return nil
}

// SetMuted toggles local outbound audio and, in conference mode, issues
// exactly one server-side mute notification per state change.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	c.mu.Lock()
	cur := c.active
	if cur == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no active call", apperrors.ErrNotFound)
	}
	if cur.muted == muted {
		c.mu.Unlock()
		return nil
	}
	cur.muted = muted
	handle := cur.handle
	sid := cur.sid
	mode := cur.mode
	c.mu.Unlock()

	c.audio.SetOutboundEnabled(!muted)
	if handle != nil {
		handle.SetMuted(muted)
	}

	if mode == domain.ModeConference && sid != "" {
		if err := c.gateway.SetMuted(ctx, sid, muted); err != nil {
			c.logger.Warn("gateway mute failed", zap.String("sid", sid), zap.Error(err))
			return fmt.Errorf("mute call: %w", err)
		}
	}
	return nil
}

// Active returns a snapshot of the in-progress call.
func (c *Controller) Active() (domain.ActiveCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return domain.ActiveCall{}, false
	}
	return c.snapshotLocked(c.active), true
}

// HasActive reports whether any call is in flight.
func (c *Controller) HasActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// LastCall returns the most recently finished call snapshot.
func (c *Controller) LastCall() domain.ActiveCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Teardown ends any active call and releases audio; called when the engine
// shuts down or the session is closed.
func (c *Controller) Teardown(ctx context.Context) {
	if c.HasActive() {
		if err := c.Hangup(ctx); err != nil {
			c.logger.Warn("teardown hangup failed", zap.Error(err))
		}
	}
	c.audio.ReleaseAll()
}

func (c *Controller) handleRinging(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.active
	if cur == nil || cur.legSID != sid {
		c.logger.Debug("dropping stale ringing event", zap.String("sid", sid))
		return
	}
	if cur.state == domain.CallConnecting {
		cur.state = domain.CallRinging
	}
}

func (c *Controller) handleAccepted(sid string) {
	c.mu.Lock()
	cur := c.active
	if cur == nil || cur.legSID != sid {
		c.mu.Unlock()
		c.logger.Debug("dropping stale accept event", zap.String("sid", sid))
		return
	}
	cur.state = domain.CallConnected
	cur.startedAt = c.clock.Now()
	handle := cur.handle
	snapshot := c.snapshotLocked(cur)
	c.mu.Unlock()

	if handle != nil {
		c.audio.WireRemoteAudio(handle.RemoteStream())
	}
	c.publish(snapshot, "", "")
	c.logger.Info("call connected", zap.String("sid", snapshot.SID))
}

func (c *Controller) handleDisconnected(sid string) {
	outcome := domain.OutcomeCompleted
	c.mu.Lock()
	if cur := c.active; cur != nil && cur.legSID == sid && cur.state != domain.CallConnected {
		// Never answered; the remote leg dropped while ringing.
		outcome = domain.OutcomeNoAnswer
	}
	c.mu.Unlock()
	c.finish(sid, outcome, "")
}

func (c *Controller) handleCallError(sid string, err error) {
	c.finish(sid, domain.OutcomeFailed, err.Error())
}

// handleIncoming accepts a session-correlated inbound leg as the active
// call. The session manager already rejected legs that are not ours.
func (c *Controller) handleIncoming(call telephony.IncomingCall) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.logger.Warn("rejecting incoming leg while a call is active")
		call.Reject()
		return
	}
	c.mu.Unlock()

	handle := call.Accept(telephony.CallHandlers{
		OnRinging:      c.handleRinging,
		OnAccepted:     c.handleAccepted,
		OnDisconnected: c.handleDisconnected,
		OnError:        c.handleCallError,
	})

	cur := &activeCall{
		legSID:    handle.SID(),
		sid:       handle.SID(),
		state:     domain.CallConnected,
		mode:      domain.ModeConference,
		startedAt: c.clock.Now(),
		handle:    handle,
	}

	c.mu.Lock()
	c.active = cur
	snapshot := c.snapshotLocked(cur)
	c.mu.Unlock()

	if err := c.audio.AcquireOutbound(context.Background()); err != nil {
		c.logger.Warn("incoming call without outbound audio", zap.Error(err))
	}
	c.audio.WireRemoteAudio(handle.RemoteStream())
	c.publish(snapshot, "", "")
}

// finish closes out the active call matching legSID: stops audio, releases
// the guard slot, publishes the final event, and schedules the power
// dialer's settle advance for fully placed calls. Events for any other SID
// are stale and dropped.
func (c *Controller) finish(legSID string, outcome domain.CallOutcome, errMsg string) {
	c.mu.Lock()
	cur := c.active
	if cur == nil || cur.legSID != legSID {
		c.mu.Unlock()
		c.logger.Debug("dropping stale call event", zap.String("sid", legSID))
		return
	}
	c.active = nil

	if outcome == domain.OutcomeFailed {
		cur.state = domain.CallError
		cur.lastError = errMsg
	} else {
		cur.state = domain.CallEnded
	}
	snapshot := c.snapshotLocked(cur)
	snapshot.Duration = c.durationLocked(cur)
	c.last = snapshot

	settleEligible := cur.settleEligible
	loopActive := c.loopActive
	onSettled := c.onSettled
	leadID := cur.leadID
	c.mu.Unlock()

	// loopActive takes the power dialer's lock; never call it while
	// holding ours.
	settle := settleEligible && loopActive != nil && loopActive()

	c.audio.ReleaseAll()
	c.releaseGuard()
	c.publish(snapshot, string(outcome), errMsg)
	c.logger.Info("call finished",
		zap.String("sid", snapshot.SID),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", snapshot.Duration),
	)

	if settle && onSettled != nil {
		c.clock.AfterFunc(c.cfg.SettleDelay, func() {
			onSettled(outcome, leadID)
		})
	}
}

// abortPlacement unwinds a call that never completed placement. The active
// slot is cleared before the softphone leg is disconnected so its
// disconnect event arrives stale. No settle advance is scheduled; the
// power dialer owns its own retry pacing for placement failures.
func (c *Controller) abortPlacement(cur *activeCall, cause error, dropLeg bool) {
	c.mu.Lock()
	if c.active == cur {
		c.active = nil
	}
	cur.state = domain.CallError
	cur.lastError = cause.Error()
	snapshot := c.snapshotLocked(cur)
	c.last = snapshot
	handle := cur.handle
	c.mu.Unlock()

	if dropLeg && handle != nil {
		handle.Disconnect()
	}
	c.audio.ReleaseAll()
	c.releaseGuard()
	c.publish(snapshot, string(domain.OutcomeFailed), cause.Error())
}

func (c *Controller) clearActive(cur *activeCall) {
	c.mu.Lock()
	if c.active == cur {
		c.active = nil
	}
	c.mu.Unlock()
}

func (c *Controller) releaseGuard() {
	if c.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.guard.Release(ctx, c.session.Identity()); err != nil {
		c.logger.Warn("guard release failed", zap.Error(err))
	}
}

func (c *Controller) publish(snapshot domain.ActiveCall, outcome, errMsg string) {
	if c.events == nil {
		return
	}
	msg := queue.CallEventMessage{
		CallSID:        snapshot.SID,
		Identity:       c.session.Identity(),
		LeadID:         snapshot.LeadID,
		PhoneNumber:    snapshot.PhoneNumber,
		State:          string(snapshot.State),
		Outcome:        outcome,
		ConferenceName: snapshot.ConferenceName,
		DurationMs:     snapshot.Duration.Milliseconds(),
		Error:          errMsg,
		StartedAt:      snapshot.StartedAt,
		OccurredAt:     c.clock.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.events.PublishCallEvent(ctx, msg); err != nil {
		c.logger.Warn("publish call event failed", zap.Error(err))
	}
}

func (c *Controller) snapshotLocked(cur *activeCall) domain.ActiveCall {
	return domain.ActiveCall{
		SID:            cur.sid,
		PhoneNumber:    cur.phoneNumber,
		LeadID:         cur.leadID,
		State:          cur.state,
		Mode:           cur.mode,
		ConferenceName: cur.conferenceName,
		StartedAt:      cur.startedAt,
		Duration:       c.durationLocked(cur),
		Muted:          cur.muted,
		LastError:      cur.lastError,
	}
}

func (c *Controller) durationLocked(cur *activeCall) time.Duration {
	if cur.startedAt.IsZero() {
		return 0
	}
	d := c.clock.Now().Sub(cur.startedAt)
	// UI shows whole seconds; keep the counter at that resolution.
	return d.Truncate(time.Second)
}
