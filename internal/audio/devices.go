package audio

import "context"

// Frame is one block of signed 16-bit mono PCM samples.
type Frame []int16

// Source produces PCM frames, typically the remote party's audio leg.
type Source interface {
	// ReadFrame blocks until the next frame is available or the source ends.
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Capture is an acquired local microphone stream.
type Capture interface {
	Source
	// SetEnabled toggles the outbound track without releasing the stream.
	SetEnabled(enabled bool)
	Enabled() bool
	// Live reports whether the underlying track is still held. A Capture
	// that remains live after release is a leaked device indicator.
	Live() bool
}

// Output is the playback path for remote audio and test tones.
type Output interface {
	// Play writes frames at the given sample rate, blocking until drained
	// or ctx is cancelled.
	Play(ctx context.Context, frames Frame, sampleRate int) error
}

// Devices abstracts the host audio hardware so the engine runs without a
// real browser or sound card.
type Devices interface {
	// RequestMicrophone asks for capture permission and opens a stream.
	RequestMicrophone(ctx context.Context) (Capture, error)
	Output() Output
}
