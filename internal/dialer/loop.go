package dialer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// LeadStatusFunc reports a lead status change. The loop never persists
// leads; the callback forwards the change to whoever does.
type LeadStatusFunc func(lead domain.Lead, status domain.LeadStatus, note string)

// RunStatus is the loop state exposed to the control API.
type RunStatus struct {
	Running       bool
	CurrentIndex  int
	TotalLeads    int
	PacingSeconds int
	LastStop      string
}

// PowerDialer walks a lead queue one call at a time, pacing between calls
// and advancing on outcome. Every decision is re-derived from current state
// inside step; scheduled callbacks never carry a snapshot of the queue
// position, which is what makes Stop reliable.
type PowerDialer struct {
	mu     sync.Mutex
	cfg    config.DialerConfig
	clock  Clock
	ctrl   *Controller
	window *CallingWindow
	report LeadStatusFunc
	logger *logger.Logger

	leads    []domain.Lead
	idx      int
	running  bool
	pacing   time.Duration
	pending  Timer
	lastStop string
}

// NewPowerDialer builds the loop and hooks it into the controller's
// post-call settle path.
func NewPowerDialer(cfg config.DialerConfig, clock Clock, ctrl *Controller, window *CallingWindow, report LeadStatusFunc, lg *logger.Logger) *PowerDialer {
	d := &PowerDialer{
		cfg:    cfg,
		clock:  clock,
		ctrl:   ctrl,
		window: window,
		report: report,
		logger: lg.Component("powerdial"),
	}
	ctrl.SetLoopHooks(d.isRunning, d.handleSettled)
	return d
}

// Start begins an auto-dial run over the given leads. The pacing is
// clamped to the configured bounds.
func (d *PowerDialer) Start(ctx context.Context, leads []domain.Lead, pacingSeconds int) error {
	if len(leads) == 0 {
		return fmt.Errorf("%w: no leads to dial", apperrors.ErrValidation)
	}

	if pacingSeconds <= 0 {
		pacingSeconds = d.cfg.PacingSeconds
	}
	if pacingSeconds < d.cfg.MinPacingSeconds {
		pacingSeconds = d.cfg.MinPacingSeconds
	}
	if pacingSeconds > d.cfg.MaxPacingSeconds {
		pacingSeconds = d.cfg.MaxPacingSeconds
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("%w: auto-dial already running", apperrors.ErrConflict)
	}
	d.leads = make([]domain.Lead, len(leads))
	copy(d.leads, leads)
	d.idx = 0
	d.running = true
	d.pacing = time.Duration(pacingSeconds) * time.Second
	d.lastStop = ""
	d.mu.Unlock()

	d.logger.Info("auto-dial started",
		zap.Int("leads", len(leads)),
		zap.Int("pacing_seconds", pacingSeconds),
	)
	d.step(ctx)
	return nil
}

// Stop halts the run, cancels any pending scheduled advance, and ends an
// in-progress call.
func (d *PowerDialer) Stop(ctx context.Context) {
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.lastStop = "stopped"
	d.cancelPendingLocked()
	d.mu.Unlock()

	if !wasRunning {
		return
	}
	if d.ctrl.HasActive() {
		if err := d.ctrl.Hangup(ctx); err != nil {
			d.logger.Warn("stop: hangup failed", zap.Error(err))
		}
	}
	d.logger.Info("auto-dial stopped")
}

// Skip marks the current lead no-answer and advances. Disabled while
// auto-dialing to avoid racing the loop's own advancement.
func (d *PowerDialer) Skip(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot skip while auto-dialing", apperrors.ErrConflict)
	}
	if d.idx >= len(d.leads) {
		d.mu.Unlock()
		return fmt.Errorf("%w: no current lead", apperrors.ErrNotFound)
	}
	lead := d.leads[d.idx]
	d.leads[d.idx].Status = domain.LeadNoAnswer
	d.idx++
	d.mu.Unlock()

	if d.ctrl.HasActive() {
		if err := d.ctrl.Hangup(ctx); err != nil {
			d.logger.Warn("skip: hangup failed", zap.Error(err))
		}
	}
	d.reportStatus(lead, domain.LeadNoAnswer, "skipped")
	return nil
}

// Next moves the cursor forward without dialing. Disabled while
// auto-dialing or while a call is in flight.
func (d *PowerDialer) Next() error {
	return d.move(1)
}

// Previous moves the cursor back without dialing. Disabled while
// auto-dialing or while a call is in flight.
func (d *PowerDialer) Previous() error {
	return d.move(-1)
}

func (d *PowerDialer) move(delta int) error {
	if d.ctrl.HasActive() {
		return fmt.Errorf("%w: call in progress", apperrors.ErrConflict)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("%w: auto-dial running", apperrors.ErrConflict)
	}
	next := d.idx + delta
	if next < 0 || next >= len(d.leads) {
		return fmt.Errorf("%w: cursor out of range", apperrors.ErrValidation)
	}
	d.idx = next
	return nil
}

// Status reports the loop state.
func (d *PowerDialer) Status() RunStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return RunStatus{
		Running:       d.running,
		CurrentIndex:  d.idx,
		TotalLeads:    len(d.leads),
		PacingSeconds: int(d.pacing / time.Second),
		LastStop:      d.lastStop,
	}
}

// Leads returns a copy of the working queue with current statuses.
func (d *PowerDialer) Leads() []domain.Lead {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Lead, len(d.leads))
	copy(out, d.leads)
	return out
}

func (d *PowerDialer) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// step evaluates the loop invariant against current state: skip
// already-processed leads, stop at the end of the queue or outside calling
// hours, and otherwise place one call to the current lead.
func (d *PowerDialer) step(ctx context.Context) {
	tracer := otel.Tracer("dialer.powerdial")
	ctx, span := tracer.Start(ctx, "powerdial.step")
	defer span.End()

	for {
		d.mu.Lock()
		if !d.running {
			d.mu.Unlock()
			return
		}
		if d.idx >= len(d.leads) {
			d.stopLocked("queue exhausted")
			d.mu.Unlock()
			return
		}
		if d.window != nil && !d.window.Allows(d.clock.Now()) {
			d.stopLocked("outside calling hours")
			d.mu.Unlock()
			return
		}
		if d.leads[d.idx].Status != domain.LeadPending {
			d.idx++
			d.mu.Unlock()
			continue
		}
		if d.ctrl.HasActive() {
			// The settle hook will advance us once the call finishes.
			d.mu.Unlock()
			return
		}

		d.leads[d.idx].Status = domain.LeadCalling
		lead := d.leads[d.idx]
		d.mu.Unlock()

		span.SetAttributes(attribute.Int("lead.index", d.Status().CurrentIndex))
		d.reportStatus(lead, domain.LeadCalling, "")
		d.place(ctx, lead)
		return
	}
}

func (d *PowerDialer) place(ctx context.Context, lead domain.Lead) {
	_, err := d.ctrl.Dial(ctx, lead.Phone, &lead.ID, domain.ModeConference)

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}

	if err != nil {
		if d.idx < len(d.leads) && d.leads[d.idx].ID == lead.ID {
			d.leads[d.idx].Status = domain.LeadFailed
		}
		// A bad number must not stall the run; advance after the short
		// retry delay rather than the full pacing interval.
		d.cancelPendingLocked()
		d.pending = d.clock.AfterFunc(d.cfg.RetryDelay, d.advance)
		d.mu.Unlock()

		d.logger.Warn("auto-dial placement failed",
			zap.String("lead", lead.ID.String()),
			zap.Error(err),
		)
		d.reportStatus(lead, domain.LeadFailed, err.Error())
		return
	}

	if d.idx < len(d.leads) && d.leads[d.idx].ID == lead.ID {
		d.leads[d.idx].Status = domain.LeadConnected
	}
	// After the pacing interval, end the call; the settle hook advances.
	d.cancelPendingLocked()
	d.pending = d.clock.AfterFunc(d.pacing, d.pacedHangup)
	d.mu.Unlock()

	d.reportStatus(lead, domain.LeadConnected, "")
}

// pacedHangup fires when the pacing interval elapses with the call still
// up: end it and let the settle hook advance the cursor.
func (d *PowerDialer) pacedHangup() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.ctrl.Hangup(ctx); err != nil {
		d.logger.Warn("paced hangup failed", zap.Error(err))
	}
}

// handleSettled runs after the controller's settle delay once a placed
// call has fully finished. It resolves the current lead from the call
// outcome, advances the cursor, and re-evaluates the loop.
func (d *PowerDialer) handleSettled(outcome domain.CallOutcome, leadID *uuid.UUID) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancelPendingLocked()

	var resolved *domain.Lead
	if d.idx < len(d.leads) && leadID != nil && d.leads[d.idx].ID == *leadID {
		status := leadStatusForOutcome(outcome)
		// Only resolve leads the loop still considers in flight; a lead
		// already marked (manual skip) keeps its status.
		if s := d.leads[d.idx].Status; s == domain.LeadCalling || s == domain.LeadConnected {
			d.leads[d.idx].Status = status
			leadCopy := d.leads[d.idx]
			resolved = &leadCopy
		}
		d.idx++
	}
	d.mu.Unlock()

	if resolved != nil {
		d.reportStatus(*resolved, resolved.Status, "")
	}
	d.step(context.Background())
}

func (d *PowerDialer) advance() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.idx++
	d.mu.Unlock()
	d.step(context.Background())
}

func (d *PowerDialer) stopLocked(reason string) {
	d.running = false
	d.lastStop = reason
	d.cancelPendingLocked()
	d.logger.Info("auto-dial finished", zap.String("reason", reason))
}

func (d *PowerDialer) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *PowerDialer) reportStatus(lead domain.Lead, status domain.LeadStatus, note string) {
	if d.report == nil {
		return
	}
	lead.Status = status
	d.report(lead, status, note)
}

func leadStatusForOutcome(outcome domain.CallOutcome) domain.LeadStatus {
	switch outcome {
	case domain.OutcomeCompleted:
		return domain.LeadAnswered
	case domain.OutcomeFailed:
		return domain.LeadFailed
	case domain.OutcomeNoAnswer:
		return domain.LeadNoAnswer
	default:
		return domain.LeadNoAnswer
	}
}
