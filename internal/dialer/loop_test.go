package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

type statusEntry struct {
	leadID uuid.UUID
	status domain.LeadStatus
	note   string
}

type statusRecorder struct {
	mu      sync.Mutex
	entries []statusEntry
}

func (r *statusRecorder) report(lead domain.Lead, status domain.LeadStatus, note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, statusEntry{leadID: lead.ID, status: status, note: note})
}

func (r *statusRecorder) forLead(id uuid.UUID) []domain.LeadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LeadStatus
	for _, e := range r.entries {
		if e.leadID == id {
			out = append(out, e.status)
		}
	}
	return out
}

func testLeads(n int) []domain.Lead {
	leads := make([]domain.Lead, n)
	for i := range leads {
		leads[i] = domain.Lead{
			ID:     uuid.New(),
			Name:   "Lead " + string(rune('A'+i)),
			Phone:  "+1555000" + string(rune('1'+i)) + "000",
			Status: domain.LeadPending,
		}
	}
	return leads
}

func newLoopHarness(t *testing.T) (*harness, *PowerDialer, *statusRecorder) {
	t.Helper()
	h := newHarness(t)
	rec := &statusRecorder{}
	d := NewPowerDialer(dialerConfig(), h.clock, h.ctrl, nil, rec.report, logger.Nop())
	return h, d, rec
}

// completeCurrentCall answers the in-flight call and advances through the
// pacing hangup and the settle delay, landing the loop on the next lead.
func completeCurrentCall(t *testing.T, h *harness) {
	t.Helper()
	leg := h.client.CurrentCall()
	if leg == nil {
		t.Fatal("no call in flight")
	}
	leg.AnswerNow()
	h.clock.Advance(5*time.Second + dialerConfig().SettleDelay)
}

func TestPowerDialRunsQueueInOrder(t *testing.T) {
	h, d, rec := newLoopHarness(t)
	leads := testLeads(3)

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := range leads {
		if got := h.gateway.placedNumbers(); len(got) != i+1 || got[i] != leads[i].Phone {
			t.Fatalf("after lead %d expected placements %d ending in %s, got %v", i, i+1, leads[i].Phone, got)
		}
		completeCurrentCall(t, h)
	}

	status := d.Status()
	if status.Running {
		t.Fatal("loop still running after queue exhausted")
	}
	if status.LastStop != "queue exhausted" {
		t.Fatalf("unexpected stop reason %q", status.LastStop)
	}
	if got := h.gateway.placedNumbers(); len(got) != 3 {
		t.Fatalf("expected exactly one placement per lead, got %v", got)
	}

	for _, lead := range leads {
		statuses := rec.forLead(lead.ID)
		want := []domain.LeadStatus{domain.LeadCalling, domain.LeadConnected, domain.LeadAnswered}
		if len(statuses) != len(want) {
			t.Fatalf("lead %s statuses %v, want %v", lead.ID, statuses, want)
		}
		for i := range want {
			if statuses[i] != want[i] {
				t.Fatalf("lead %s statuses %v, want %v", lead.ID, statuses, want)
			}
		}
	}
}

func TestPowerDialStopCancelsScheduledWork(t *testing.T) {
	h, d, _ := newLoopHarness(t)
	leads := testLeads(2)

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.client.CurrentCall().AnswerNow()

	d.Stop(context.Background())

	if h.ctrl.HasActive() {
		t.Fatal("active call survived stop")
	}

	// No pending timer may fire another placement.
	h.clock.Advance(time.Minute)
	if got := h.gateway.placedNumbers(); len(got) != 1 {
		t.Fatalf("placements after stop: %v", got)
	}

	status := d.Status()
	if status.Running || status.LastStop != "stopped" {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
}

func TestPlacementFailureAdvancesAfterRetryDelay(t *testing.T) {
	h, d, rec := newLoopHarness(t)
	h.gateway.failPlace = true
	leads := testLeads(2)

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}

	// First placement failed; the loop must advance after the short retry
	// delay, not the full pacing interval.
	h.clock.Advance(dialerConfig().RetryDelay)
	h.clock.Advance(dialerConfig().RetryDelay)

	status := d.Status()
	if status.Running {
		t.Fatal("loop still running after exhausting failing leads")
	}
	if status.LastStop != "queue exhausted" {
		t.Fatalf("unexpected stop reason %q", status.LastStop)
	}

	for _, lead := range leads {
		statuses := rec.forLead(lead.ID)
		failures := 0
		for _, s := range statuses {
			if s == domain.LeadFailed {
				failures++
			}
		}
		if failures != 1 {
			t.Fatalf("lead %s marked failed %d times, statuses %v", lead.ID, failures, statuses)
		}
	}
}

func TestPowerDialSkipsResolvedLeads(t *testing.T) {
	h, d, _ := newLoopHarness(t)
	leads := testLeads(3)
	leads[1].Status = domain.LeadAnswered

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	completeCurrentCall(t, h)
	completeCurrentCall(t, h)

	got := h.gateway.placedNumbers()
	if len(got) != 2 || got[0] != leads[0].Phone || got[1] != leads[2].Phone {
		t.Fatalf("expected only pending leads dialed, got %v", got)
	}
}

func TestStartValidation(t *testing.T) {
	_, d, _ := newLoopHarness(t)

	if err := d.Start(context.Background(), nil, 5); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty queue, got %v", err)
	}

	leads := testLeads(1)
	if err := d.Start(context.Background(), leads, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := d.Status().PacingSeconds; got != dialerConfig().MinPacingSeconds {
		t.Fatalf("pacing not clamped to minimum, got %d", got)
	}
	if err := d.Start(context.Background(), leads, 5); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict while running, got %v", err)
	}
}

func TestSkipMarksLeadAndAdvances(t *testing.T) {
	_, d, rec := newLoopHarness(t)
	leads := testLeads(2)

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Skip(context.Background()); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict skipping while auto-dialing, got %v", err)
	}

	d.Stop(context.Background())
	if err := d.Skip(context.Background()); err != nil {
		t.Fatalf("skip: %v", err)
	}

	if got := d.Status().CurrentIndex; got != 1 {
		t.Fatalf("expected cursor at 1 after skip, got %d", got)
	}
	statuses := rec.forLead(leads[0].ID)
	if len(statuses) == 0 || statuses[len(statuses)-1] != domain.LeadNoAnswer {
		t.Fatalf("expected skipped lead marked no-answer, statuses %v", statuses)
	}
}

func TestCursorMoveRules(t *testing.T) {
	_, d, _ := newLoopHarness(t)
	leads := testLeads(3)

	if err := d.Start(context.Background(), leads, 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Next(); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict moving while running, got %v", err)
	}

	d.Stop(context.Background())
	if err := d.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := d.Previous(); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if err := d.Previous(); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation at queue start, got %v", err)
	}
}

func TestCallingHoursStopTheLoop(t *testing.T) {
	h := newHarness(t)
	rec := &statusRecorder{}

	// The fake clock starts Monday 10:00 UTC; allow only Monday evenings.
	window, err := NewCallingWindow(config.DialerConfig{
		TimeZone: "UTC",
		CallingHours: []config.CallingHourWindow{
			{DayOfWeek: 1, Start: "20:00", End: "21:00"},
		},
	})
	if err != nil {
		t.Fatalf("calling window: %v", err)
	}

	d := NewPowerDialer(dialerConfig(), h.clock, h.ctrl, window, rec.report, logger.Nop())
	if err := d.Start(context.Background(), testLeads(2), 5); err != nil {
		t.Fatalf("start: %v", err)
	}

	status := d.Status()
	if status.Running {
		t.Fatal("loop running outside calling hours")
	}
	if status.LastStop != "outside calling hours" {
		t.Fatalf("unexpected stop reason %q", status.LastStop)
	}
	if got := h.gateway.placedNumbers(); len(got) != 0 {
		t.Fatalf("calls placed outside calling hours: %v", got)
	}
}
