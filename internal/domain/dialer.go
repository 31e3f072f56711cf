package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates lifecycle states of a registered telephony session.
type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionError        SessionStatus = "error"
)

// CallState enumerates lifecycle stages for a single call attempt.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallConnecting CallState = "connecting"
	CallRinging    CallState = "ringing"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
	CallError      CallState = "error"
)

// CallMode selects how the outbound leg is bridged.
type CallMode string

const (
	// ModeConference joins the softphone leg and the PSTN leg into a named
	// conference on the telephony backend.
	ModeConference CallMode = "conference"
	// ModeDirect is recognized but not currently supported by the gateway.
	ModeDirect CallMode = "direct"
)

// LeadStatus enumerates the dial outcomes reported against a lead.
type LeadStatus string

const (
	LeadPending   LeadStatus = "pending"
	LeadCalling   LeadStatus = "calling"
	LeadConnected LeadStatus = "connected"
	LeadAnswered  LeadStatus = "answered"
	LeadNoAnswer  LeadStatus = "no-answer"
	LeadBusy      LeadStatus = "busy"
	LeadFailed    LeadStatus = "failed"
	LeadError     LeadStatus = "error"
)

// Lead is the minimal telemarketing lead shape the dialer consumes. The CRM
// owns the full record; the dialer only reads it and reports status changes.
type Lead struct {
	ID      uuid.UUID
	Name    string
	Phone   string
	Company string
	Status  LeadStatus
}

// DialSession is a point-in-time snapshot of the registered client session.
type DialSession struct {
	Identity  string
	Status    SessionStatus
	LastError string
}

// ActiveCall is a snapshot of the single in-progress call attempt.
type ActiveCall struct {
	SID            string
	PhoneNumber    string
	LeadID         *uuid.UUID
	State          CallState
	Mode           CallMode
	ConferenceName string
	StartedAt      time.Time
	Duration       time.Duration
	Muted          bool
	LastError      string
}

// CallOutcome classifies how a call attempt finished.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeCanceled  CallOutcome = "canceled"
)

// AudioTestStatus is the per-device outcome of a microphone or speaker test.
type AudioTestStatus string

const (
	AudioUntested AudioTestStatus = "untested"
	AudioTesting  AudioTestStatus = "testing"
	AudioPassed   AudioTestStatus = "passed"
	AudioFailed   AudioTestStatus = "failed"
)

// AudioState is a snapshot of the audio path for the control API.
type AudioState struct {
	MicrophoneTest AudioTestStatus
	SpeakerTest    AudioTestStatus
	InputLevel     int
	VolumePercent  int
	LastError      string
}

// CallRecord is one journal entry for a finished call attempt.
type CallRecord struct {
	ID          uuid.UUID
	Identity    string
	CallSID     string
	LeadID      *uuid.UUID
	PhoneNumber string
	Outcome     CallOutcome
	Duration    time.Duration
	Error       string
	StartedAt   time.Time
	EndedAt     time.Time
}

// DialStats aggregates per-identity daily dial counters.
type DialStats struct {
	Identity       string
	Day            time.Time
	CallsPlaced    int64
	CallsConnected int64
	CallsFailed    int64
	TalkTime       time.Duration
}
