package telephony

import (
	"context"

	"github.com/acme/lead-dialer/internal/audio"
)

// SessionParamKey is the connect parameter correlating a leg to the dialer
// session that initiated it. Incoming legs missing it are not ours.
const SessionParamKey = "dialer_session"

// ConnectParams are passed to the provider when the softphone leg is
// established. The telephony backend's voice application reads
// ConferenceName and joins the leg to that conference.
type ConnectParams struct {
	ConferenceName string
	SessionParam   string
}

// ClientHandlers receive device-level provider events.
type ClientHandlers struct {
	OnRegistered      func()
	OnError           func(err error)
	OnIncoming        func(call IncomingCall)
	OnTokenWillExpire func()
}

// CallHandlers receive per-call provider events. Every callback carries the
// provider call SID so consumers can drop events for calls they no longer
// track.
type CallHandlers struct {
	OnRinging      func(sid string)
	OnAccepted     func(sid string)
	OnDisconnected func(sid string)
	OnError        func(sid string, err error)
}

// Call is an established softphone leg.
type Call interface {
	SID() string
	// SetMuted toggles the provider-side leg. Local track muting is handled
	// separately by the audio path.
	SetMuted(muted bool)
	Disconnect()
	// RemoteStream exposes the remote party's audio once connected.
	RemoteStream() audio.Source
}

// IncomingCall is an inbound leg offered to the registered client.
type IncomingCall interface {
	Param(key string) string
	Accept(h CallHandlers) Call
	Reject()
}

// Client wraps the provider's softphone SDK device: one registration per
// token-bearing identity, placing and receiving call legs.
type Client interface {
	Register(ctx context.Context) error
	// UpdateToken installs a refreshed access token without interrupting an
	// active call.
	UpdateToken(token string)
	Connect(ctx context.Context, params ConnectParams, h CallHandlers) (Call, error)
	// Destroy releases the device. Idempotent.
	Destroy()
}

// Factory constructs a provider client from a fresh access token. The
// session manager owns exactly one live client at a time.
type Factory func(token string, codecs []string, h ClientHandlers) (Client, error)
