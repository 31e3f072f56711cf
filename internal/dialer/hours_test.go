package dialer

import (
	"testing"
	"time"

	"github.com/acme/lead-dialer/internal/config"
)

func TestCallingWindowAllows(t *testing.T) {
	window, err := NewCallingWindow(config.DialerConfig{
		TimeZone: "UTC",
		CallingHours: []config.CallingHourWindow{
			{DayOfWeek: int(time.Monday), Start: "09:00", End: "17:00"},
		},
	})
	if err != nil {
		t.Fatalf("new calling window: %v", err)
	}

	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !window.Allows(mondayMorning) {
		t.Fatalf("expected %v inside calling hours", mondayMorning)
	}

	mondayNight := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if window.Allows(mondayNight) {
		t.Fatalf("expected %v outside calling hours", mondayNight)
	}

	tuesdayMorning := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if window.Allows(tuesdayMorning) {
		t.Fatalf("expected %v outside calling hours (wrong day)", tuesdayMorning)
	}
}

func TestCallingWindowSpanningMidnight(t *testing.T) {
	window, err := NewCallingWindow(config.DialerConfig{
		TimeZone: "UTC",
		CallingHours: []config.CallingHourWindow{
			{DayOfWeek: int(time.Monday), Start: "22:00", End: "02:00"},
		},
	})
	if err != nil {
		t.Fatalf("new calling window: %v", err)
	}

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if !window.Allows(night) {
		t.Fatalf("expected %v within cross-midnight window", night)
	}

	earlyMorning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	if !window.Allows(earlyMorning) {
		t.Fatalf("expected %v within cross-midnight window", earlyMorning)
	}
}

func TestCallingWindowEmptyMeansAlways(t *testing.T) {
	window, err := NewCallingWindow(config.DialerConfig{TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("new calling window: %v", err)
	}
	if window != nil {
		t.Fatal("expected nil window when no hours configured")
	}
}

func TestCallingWindowRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.DialerConfig
	}{
		{
			name: "bad day",
			cfg: config.DialerConfig{CallingHours: []config.CallingHourWindow{
				{DayOfWeek: 9, Start: "09:00", End: "17:00"},
			}},
		},
		{
			name: "bad start",
			cfg: config.DialerConfig{CallingHours: []config.CallingHourWindow{
				{DayOfWeek: 1, Start: "9am", End: "17:00"},
			}},
		},
		{
			name: "zero length",
			cfg: config.DialerConfig{CallingHours: []config.CallingHourWindow{
				{DayOfWeek: 1, Start: "09:00", End: "09:00"},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCallingWindow(tc.cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
