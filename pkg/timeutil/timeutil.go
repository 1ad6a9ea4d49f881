package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// TimeFormatError reports an empty or unparseable time input
type TimeFormatError struct {
	Input string
}

func (e *TimeFormatError) Error() string {
	if e.Input == "" {
		return "time input is empty"
	}
	return fmt.Sprintf("unparseable time input: %q", e.Input)
}

// Layouts that already carry an offset; used as-is when they match
var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
}

// Layouts without an offset; interpreted in the configured local zone
var nakedLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalizer converts heterogeneous time strings into absolute instants
// with explicit offsets
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer for the given deployment zone
func NewNormalizer(loc *time.Location) *Normalizer {
	return &Normalizer{loc: loc}
}

// Location returns the normalizer's deployment zone
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Parse converts one time string into an instant with an explicit offset.
// Strings that already encode an offset are used as-is; bare date/times are
// interpreted in the configured zone.
func (n *Normalizer) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &TimeFormatError{Input: s}
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	for _, layout := range nakedLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &TimeFormatError{Input: s}
}

// Normalize converts a start/end pair into absolute instants. Normalizing an
// already-normalized pair returns the same instants.
func (n *Normalizer) Normalize(start, end string) (time.Time, time.Time, error) {
	startT, err := n.Parse(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endT, err := n.Parse(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return startT, endT, nil
}

// FormatTimeRange formats a time range for display, e.g. "3:00 PM to 4:00 PM"
func FormatTimeRange(start, end time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s to %s",
		start.In(loc).Format("3:04 PM"),
		end.In(loc).Format("3:04 PM"))
}

// FormatDateTime formats an instant for display,
// e.g. "Friday, May 23, 2025 at 3:00 PM"
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM")
}

// FormatDate formats the date part of an instant for display
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Monday, January 2, 2006")
}

// DayWindow returns the [startHour, endHour) window of t's day in loc
func DayWindow(t time.Time, startHour, endHour int, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	year, month, day := local.Date()
	start := time.Date(year, month, day, startHour, 0, 0, 0, loc)
	end := time.Date(year, month, day, endHour, 0, 0, 0, loc)
	return start, end
}

// DayBounds returns midnight-to-midnight bounds of t's day in loc
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	year, month, day := local.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
