package audio

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"
)

// LoopbackDevices simulates host audio hardware. It stands in for a real
// capture/playback backend the same way the mock telephony client stands in
// for a provider SDK, and paces frames at the configured sample rate so
// timing-sensitive callers behave as they would against real devices.
type LoopbackDevices struct {
	sampleRate int
	frameSize  int
	rng        *rand.Rand
	out        *loopbackOutput
}

// NewLoopbackDevices constructs a simulated device set.
func NewLoopbackDevices(sampleRate int) *LoopbackDevices {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &LoopbackDevices{
		sampleRate: sampleRate,
		frameSize:  sampleRate / 50, // 20ms frames
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		out:        &loopbackOutput{},
	}
}

// RequestMicrophone opens a simulated capture stream producing speech-level
// noise frames.
func (d *LoopbackDevices) RequestMicrophone(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &loopbackCapture{
		frameSize: d.frameSize,
		interval:  20 * time.Millisecond,
		rng:       rand.New(rand.NewSource(d.rng.Int63())),
		live:      true,
		enabled:   true,
	}, nil
}

// Output returns the simulated playback sink.
func (d *LoopbackDevices) Output() Output {
	return d.out
}

type loopbackCapture struct {
	mu        sync.Mutex
	frameSize int
	interval  time.Duration
	rng       *rand.Rand
	live      bool
	enabled   bool
}

func (c *loopbackCapture) ReadFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	live := c.live
	enabled := c.enabled
	c.mu.Unlock()
	if !live {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.interval):
	}

	frame := make(Frame, c.frameSize)
	if enabled {
		for i := range frame {
			frame[i] = int16(c.rng.Intn(8192) - 4096)
		}
	}
	return frame, nil
}

func (c *loopbackCapture) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

func (c *loopbackCapture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *loopbackCapture) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *loopbackCapture) Close() error {
	c.mu.Lock()
	c.live = false
	c.mu.Unlock()
	return nil
}

type loopbackOutput struct{}

// Play paces the write as real playback would, then discards the audio.
func (o *loopbackOutput) Play(ctx context.Context, frames Frame, sampleRate int) error {
	if sampleRate <= 0 || len(frames) == 0 {
		return nil
	}
	d := time.Duration(float64(len(frames)) / float64(sampleRate) * float64(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
