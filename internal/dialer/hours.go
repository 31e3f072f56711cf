package dialer

import (
	"fmt"
	"time"

	"github.com/acme/lead-dialer/internal/config"
)

// CallingWindow restricts when the power dialer may place calls, expressed
// as per-weekday windows in a single time zone. Telemarketing rules make
// dialing outside compliant hours a hard stop, not a warning.
type CallingWindow struct {
	loc     *time.Location
	windows []hourWindow
}

type hourWindow struct {
	day      time.Weekday
	startMin int
	endMin   int
}

// NewCallingWindow parses the configured windows. Returns nil when no
// windows are configured, which means dialing is always allowed.
func NewCallingWindow(cfg config.DialerConfig) (*CallingWindow, error) {
	if len(cfg.CallingHours) == 0 {
		return nil, nil
	}

	tz := cfg.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calling window: load time zone %q: %w", tz, err)
	}

	windows := make([]hourWindow, 0, len(cfg.CallingHours))
	for _, w := range cfg.CallingHours {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return nil, fmt.Errorf("calling window: day_of_week %d out of range", w.DayOfWeek)
		}
		start, err := parseMinuteOfDay(w.Start)
		if err != nil {
			return nil, fmt.Errorf("calling window: start %q: %w", w.Start, err)
		}
		end, err := parseMinuteOfDay(w.End)
		if err != nil {
			return nil, fmt.Errorf("calling window: end %q: %w", w.End, err)
		}
		if start == end {
			return nil, fmt.Errorf("calling window: zero-length window on day %d", w.DayOfWeek)
		}
		windows = append(windows, hourWindow{
			day:      time.Weekday(w.DayOfWeek),
			startMin: start,
			endMin:   end,
		})
	}

	return &CallingWindow{loc: loc, windows: windows}, nil
}

// Allows reports whether now falls inside any configured window. Windows
// whose end precedes their start span midnight into the next day.
func (w *CallingWindow) Allows(now time.Time) bool {
	local := now.In(w.loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range w.windows {
		if window.endMin <= window.startMin {
			nextDay := time.Weekday((int(window.day) + 1) % 7)
			if window.day == weekday && minuteOfDay >= window.startMin {
				return true
			}
			if nextDay == weekday && minuteOfDay < window.endMin {
				return true
			}
			continue
		}

		if window.day != weekday {
			continue
		}
		if minuteOfDay >= window.startMin && minuteOfDay < window.endMin {
			return true
		}
	}
	return false
}

func parseMinuteOfDay(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
