package config

import (
	"fmt"
	"strings"
	"time"
)

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On returns the instant of c on t's date in loc.
func (c Clock) On(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// Window is an inclusive time-of-day range.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid trading window %q", s)
	}
	start, err := ParseClock(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(parts[1])
	if err != nil {
		return Window{}, err
	}
	if end.Minutes() < start.Minutes() {
		return Window{}, fmt.Errorf("trading window %q ends before it starts", s)
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether t, in loc, falls within the window. Both ends are inclusive
// at minute resolution, so 11:30:59 is still inside a window ending at 11:30.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	t = t.In(loc)
	m := t.Hour()*60 + t.Minute()
	return m >= w.Start.Minutes() && m <= w.End.Minutes()
}

// AnyContains reports whether t falls in any window. An empty list imposes no restriction.
func AnyContains(windows []Window, t time.Time, loc *time.Location) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(t, loc) {
			return true
		}
	}
	return false
}

// ParseWindows parses every "HH:MM-HH:MM" window.
func ParseWindows(specs []string) ([]Window, error) {
	out := make([]Window, 0, len(specs))
	for _, s := range specs {
		w, err := ParseWindow(s)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
