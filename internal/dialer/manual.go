package dialer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/session"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

// ManualDial is the single-call surface on top of the shared controller:
// one number in, one conference call out.
type ManualDial struct {
	ctrl    *Controller
	session *session.Manager
}

// NewManualDial constructs the manual dial surface.
func NewManualDial(ctrl *Controller, sess *session.Manager) *ManualDial {
	return &ManualDial{ctrl: ctrl, session: sess}
}

// Dial places a single call, optionally tied to a CRM lead. Direct mode is
// recognized but rejected until the gateway supports it.
func (m *ManualDial) Dial(ctx context.Context, number string, leadID *uuid.UUID, mode domain.CallMode) (domain.ActiveCall, error) {
	if strings.TrimSpace(number) == "" {
		return domain.ActiveCall{}, fmt.Errorf("%w: enter a phone number", apperrors.ErrValidation)
	}
	if mode == "" {
		mode = domain.ModeConference
	}
	if mode != domain.ModeConference {
		return domain.ActiveCall{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedMode, mode)
	}
	if !m.session.Connected() {
		return domain.ActiveCall{}, fmt.Errorf("dial: %w", apperrors.ErrSessionDown)
	}
	return m.ctrl.Dial(ctx, number, leadID, mode)
}

// Hangup ends the active call.
func (m *ManualDial) Hangup(ctx context.Context) error {
	return m.ctrl.Hangup(ctx)
}

// Elapsed returns the connected call's duration, zero when idle.
func (m *ManualDial) Elapsed() time.Duration {
	call, ok := m.ctrl.Active()
	if !ok {
		return 0
	}
	return call.Duration
}
