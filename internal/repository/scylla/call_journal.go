package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
)

// CallJournal persists finished call attempts in Scylla, partitioned by
// identity and day bucket.
type CallJournal struct {
	session *gocql.Session
}

// NewCallJournal creates a new call journal.
func NewCallJournal(session *gocql.Session) *CallJournal {
	return &CallJournal{session: session}
}

// Append inserts one journal entry.
func (j *CallJournal) Append(ctx context.Context, record domain.CallRecord) error {
	bucket := bucketDate(record.StartedAt)
	var leadID *string
	if record.LeadID != nil {
		s := record.LeadID.String()
		leadID = &s
	}
	durationMs := record.Duration.Milliseconds()

	if err := j.session.Query(`INSERT INTO calls_by_identity (identity, bucket, record_id, call_sid, lead_id, phone_number, outcome, duration_ms, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Identity, bucket, record.ID.String(), record.CallSID, leadID, record.PhoneNumber,
		string(record.Outcome), durationMs, record.Error, record.StartedAt, record.EndedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call journal: insert calls_by_identity: %w", err)
	}

	return nil
}

// ListByIdentity lists journal entries for an identity on a given day with
// pagination.
func (j *CallJournal) ListByIdentity(ctx context.Context, identity string, day time.Time, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := j.session.Query(`SELECT record_id, call_sid, lead_id, phone_number, outcome, duration_ms, error, started_at, ended_at
		FROM calls_by_identity WHERE identity = ? AND bucket = ?`,
		identity, bucketDate(day)).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]domain.CallRecord, 0, limit)

	var (
		recordIDStr string
		callSID     string
		leadIDStr   *string
		phone       string
		outcome     string
		durationMs  int64
		callErr     string
		started     time.Time
		ended       time.Time
	)

	for iter.Scan(&recordIDStr, &callSID, &leadIDStr, &phone, &outcome, &durationMs, &callErr, &started, &ended) {
		recordID, err := uuid.Parse(recordIDStr)
		if err != nil {
			continue
		}

		record := domain.CallRecord{
			ID:          recordID,
			Identity:    identity,
			CallSID:     callSID,
			PhoneNumber: phone,
			Outcome:     domain.CallOutcome(outcome),
			Duration:    time.Duration(durationMs) * time.Millisecond,
			Error:       callErr,
			StartedAt:   started,
			EndedAt:     ended,
		}
		if leadIDStr != nil {
			if leadID, err := uuid.Parse(*leadIDStr); err == nil {
				record.LeadID = &leadID
			}
		}
		records = append(records, record)

		leadIDStr = nil
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call journal: iter close: %w", err)
	}

	return records, iter.PageState(), nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
