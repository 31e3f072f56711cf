package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
	"github.com/acme/lead-dialer/pkg/logger"
)

// Manager owns the local audio path: microphone acquisition, input level
// metering, remote playback routing and device self-tests. Every acquired
// track is released through ReleaseAll; a track left live after a call ends
// is treated as a bug, not cosmetics.
type Manager struct {
	mu      sync.Mutex
	cfg     config.AudioConfig
	devices Devices
	logger  *logger.Logger

	volume     int
	lastLevel  int
	micTest    domain.AudioTestStatus
	spkTest    domain.AudioTestStatus
	lastError  string

	outbound   Capture
	remote     Source
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewManager builds an audio path manager on the given device capability.
func NewManager(cfg config.AudioConfig, devices Devices, lg *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		devices: devices,
		logger:  lg.Component("audio"),
		volume:  cfg.DefaultVolume,
		micTest: domain.AudioUntested,
		spkTest: domain.AudioUntested,
	}
}

// TestMicrophone acquires the microphone and watches the input level for a
// bounded window. It passes as soon as the level crosses the configured
// threshold and fails on timeout or permission denial. The captured stream
// is released on every exit path.
func (m *Manager) TestMicrophone(ctx context.Context) (domain.AudioTestStatus, error) {
	m.mu.Lock()
	m.micTest = domain.AudioTesting
	m.lastError = ""
	m.mu.Unlock()

	capture, err := m.devices.RequestMicrophone(ctx)
	if err != nil {
		m.setMicResult(domain.AudioFailed, fmt.Sprintf("microphone access denied: %v", err))
		return domain.AudioFailed, fmt.Errorf("audio: request microphone: %w", apperrors.ErrPermissionDenied)
	}
	defer capture.Close()

	testCtx, cancel := context.WithTimeout(ctx, m.cfg.TestWindow)
	defer cancel()

	for {
		frame, err := capture.ReadFrame(testCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.setMicResult(domain.AudioFailed, "no audio detected before timeout")
				return domain.AudioFailed, nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				m.setMicResult(domain.AudioFailed, "microphone test cancelled")
				return domain.AudioFailed, nil
			}
			m.setMicResult(domain.AudioFailed, err.Error())
			return domain.AudioFailed, fmt.Errorf("audio: read microphone: %w", err)
		}

		level := Level(frame)
		m.mu.Lock()
		m.lastLevel = level
		threshold := m.cfg.LevelThreshold
		m.mu.Unlock()

		if level >= threshold {
			m.setMicResult(domain.AudioPassed, "")
			return domain.AudioPassed, nil
		}
	}
}

func (m *Manager) setMicResult(status domain.AudioTestStatus, message string) {
	m.mu.Lock()
	m.micTest = status
	m.lastError = message
	m.mu.Unlock()
}

// TestSpeaker plays a short synthesized tone through the output path. It
// needs no microphone permission.
func (m *Manager) TestSpeaker(ctx context.Context) (domain.AudioTestStatus, error) {
	m.mu.Lock()
	m.spkTest = domain.AudioTesting
	volume := m.volume
	m.mu.Unlock()

	tone := ApplyVolume(Tone(m.cfg.ToneFrequency, m.cfg.SampleRate, m.cfg.ToneDuration), volume)
	if err := m.devices.Output().Play(ctx, tone, m.cfg.SampleRate); err != nil {
		m.mu.Lock()
		m.spkTest = domain.AudioFailed
		m.lastError = err.Error()
		m.mu.Unlock()
		return domain.AudioFailed, fmt.Errorf("audio: play test tone: %w", err)
	}

	m.mu.Lock()
	m.spkTest = domain.AudioPassed
	m.mu.Unlock()
	return domain.AudioPassed, nil
}

// AcquireOutbound opens the microphone for an active call. The stream is
// held until ReleaseAll.
func (m *Manager) AcquireOutbound(ctx context.Context) error {
	capture, err := m.devices.RequestMicrophone(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastError = fmt.Sprintf("microphone access denied: %v", err)
		m.mu.Unlock()
		return fmt.Errorf("audio: acquire outbound: %w", apperrors.ErrPermissionDenied)
	}

	m.mu.Lock()
	if m.outbound != nil {
		m.outbound.Close()
	}
	m.outbound = capture
	m.mu.Unlock()
	return nil
}

// SetOutboundEnabled toggles the held outbound track. Muting a conference
// participant additionally requires a gateway notification; that side is
// owned by the call controller.
func (m *Manager) SetOutboundEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outbound != nil {
		m.outbound.SetEnabled(enabled)
	}
}

// WireRemoteAudio routes the remote party's stream to the output device,
// applying the current volume to each frame. Volume changes mid-call take
// effect on the next frame.
func (m *Manager) WireRemoteAudio(src Source) {
	m.mu.Lock()
	m.stopPumpLocked()
	m.remote = src

	ctx, cancel := context.WithCancel(context.Background())
	m.pumpCancel = cancel
	done := make(chan struct{})
	m.pumpDone = done
	m.mu.Unlock()

	go m.pump(ctx, src, done)
}

func (m *Manager) pump(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)
	out := m.devices.Output()

	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				m.logger.Warn("remote audio pump stopped", zap.Error(err))
			}
			return
		}

		m.mu.Lock()
		volume := m.volume
		m.lastLevel = Level(frame)
		m.mu.Unlock()

		if err := out.Play(ctx, ApplyVolume(frame, volume), m.cfg.SampleRate); err != nil {
			if !errors.Is(err, context.Canceled) {
				m.logger.Warn("remote audio playback failed", zap.Error(err))
			}
			return
		}
	}
}

// SetVolume adjusts playback volume (0-100).
func (m *Manager) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume must be between 0 and 100", apperrors.ErrValidation)
	}
	m.mu.Lock()
	m.volume = percent
	m.mu.Unlock()
	return nil
}

// InputLevel reports the most recent meter reading.
func (m *Manager) InputLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLevel
}

// Snapshot returns the audio path state for the control API.
func (m *Manager) Snapshot() domain.AudioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.AudioState{
		MicrophoneTest: m.micTest,
		SpeakerTest:    m.spkTest,
		InputLevel:     m.lastLevel,
		VolumePercent:  m.volume,
		LastError:      m.lastError,
	}
}

// ReleaseAll stops every acquired track and the remote playback pump. Safe
// to call repeatedly and before anything was acquired.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	if m.outbound != nil {
		m.outbound.Close()
		m.outbound = nil
	}
	m.stopPumpLocked()
	done := m.pumpDone
	m.pumpDone = nil
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (m *Manager) stopPumpLocked() {
	if m.pumpCancel != nil {
		m.pumpCancel()
		m.pumpCancel = nil
	}
	if m.remote != nil {
		m.remote.Close()
		m.remote = nil
	}
}
