package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
)

// DialStatsRepository implements repository.DialStatsRepository on top of
// a per-identity daily counters table.
type DialStatsRepository struct {
	db *sqlx.DB
}

// NewDialStatsRepository builds the repository.
func NewDialStatsRepository(db *sqlx.DB) *DialStatsRepository {
	return &DialStatsRepository{db: db}
}

type dialStatsRecord struct {
	CallsPlaced    int64 `db:"calls_placed"`
	CallsConnected int64 `db:"calls_connected"`
	CallsFailed    int64 `db:"calls_failed"`
	TalkTimeMs     int64 `db:"talk_time_ms"`
}

// ApplyDelta applies counter deltas atomically, creating the day row on
// first use.
func (r *DialStatsRepository) ApplyDelta(ctx context.Context, identity string, day time.Time, delta repository.StatsDelta) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO dial_stats (
		identity, day, calls_placed, calls_connected, calls_failed, talk_time_ms, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (identity, day) DO UPDATE SET
		calls_placed = dial_stats.calls_placed + $3,
		calls_connected = dial_stats.calls_connected + $4,
		calls_failed = dial_stats.calls_failed + $5,
		talk_time_ms = dial_stats.talk_time_ms + $6,
		updated_at = NOW()`,
		identity,
		dayKey(day),
		delta.PlacedDelta,
		delta.ConnectedDelta,
		delta.FailedDelta,
		delta.TalkTimeDelta.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("dial stats: apply delta: %w", err)
	}
	return nil
}

// Get retrieves the day's counters for an identity.
func (r *DialStatsRepository) Get(ctx context.Context, identity string, day time.Time) (*domain.DialStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT calls_placed, calls_connected, calls_failed, talk_time_ms
		FROM dial_stats WHERE identity = $1 AND day = $2`, identity, dayKey(day))

	var rec dialStatsRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dial stats: get: %w", err)
	}
	return &domain.DialStats{
		Identity:       identity,
		Day:            dayKey(day),
		CallsPlaced:    rec.CallsPlaced,
		CallsConnected: rec.CallsConnected,
		CallsFailed:    rec.CallsFailed,
		TalkTime:       time.Duration(rec.TalkTimeMs) * time.Millisecond,
	}, nil
}

func dayKey(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
