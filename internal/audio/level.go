package audio

import (
	"math"
	"time"
)

// Level reduces a PCM frame to a meter reading on a 0-100 scale using the
// root mean square of the samples.
func Level(frame Frame) int {
	if len(frame) == 0 {
		return 0
	}

	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	level := int(math.Round(rms / math.MaxInt16 * 100))
	if level > 100 {
		level = 100
	}
	return level
}

// Tone synthesizes a single-frequency sine wave as 16-bit PCM.
func Tone(freq float64, sampleRate int, duration time.Duration) Frame {
	samples := int(float64(sampleRate) * duration.Seconds())
	frame := make(Frame, samples)

	// 30% of full scale keeps the test tone audible without clipping
	// downstream volume scaling.
	amplitude := 0.3 * math.MaxInt16
	step := 2 * math.Pi * freq / float64(sampleRate)

	for i := range frame {
		frame[i] = int16(amplitude * math.Sin(step*float64(i)))
	}
	return frame
}

// ApplyVolume scales a frame by a 0-100 volume percentage.
func ApplyVolume(frame Frame, percent int) Frame {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	gain := float64(percent) / 100
	out := make(Frame, len(frame))
	for i, s := range frame {
		out[i] = int16(float64(s) * gain)
	}
	return out
}
