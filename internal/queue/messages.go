package queue

import (
	"time"

	"github.com/google/uuid"
)

// CallEventMessage reports a call lifecycle transition or final outcome to
// the event stream the CRM dashboard and analytics consume.
type CallEventMessage struct {
	CallSID        string     `json:"call_sid"`
	Identity       string     `json:"identity"`
	LeadID         *uuid.UUID `json:"lead_id,omitempty"`
	PhoneNumber    string     `json:"phone_number"`
	State          string     `json:"state"`
	Outcome        string     `json:"outcome,omitempty"`
	ConferenceName string     `json:"conference_name,omitempty"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// LeadStatusMessage reports a lead status change made by the dialer. The
// dialer never writes lead state itself; the status worker applies these to
// the CRM store.
type LeadStatusMessage struct {
	LeadID     uuid.UUID `json:"lead_id"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
