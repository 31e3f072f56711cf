package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// LeadRepository reads dial queues from the CRM's telemarketing lead store
// and applies status changes reported by the dialer.
type LeadRepository interface {
	NextQueue(ctx context.Context, limit int) ([]domain.Lead, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, note string) error
}

// CallJournal appends per-call history for analytics and the CRM call log.
type CallJournal interface {
	Append(ctx context.Context, record domain.CallRecord) error
	ListByIdentity(ctx context.Context, identity string, day time.Time, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error)
}

// DialStatsRepository keeps per-identity daily dial counters.
type DialStatsRepository interface {
	ApplyDelta(ctx context.Context, identity string, day time.Time, delta StatsDelta) error
	Get(ctx context.Context, identity string, day time.Time) (*domain.DialStats, error)
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	PlacedDelta    int64
	ConnectedDelta int64
	FailedDelta    int64
	TalkTimeDelta  time.Duration
}
