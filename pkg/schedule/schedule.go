package schedule

import (
	"sort"
	"time"

	"github.com/korjavin/schedulebot/pkg/models"
)

// Default search parameters for the free-slot walk
const (
	DefaultStep       = 30 * time.Minute
	DefaultMaxResults = 3
)

// Hours tried by the heuristic fallback when the calendar cannot be queried
var fallbackHours = []int{9, 12, 16}

// Window bounds a free-slot search, typically one day of business hours
type Window struct {
	Start time.Time
	End   time.Time
}

// SearchOptions tunes the free-slot walk; zero values select the defaults
type SearchOptions struct {
	Step       time.Duration
	MaxResults int
}

// Overlaps reports whether busy interval b overlaps the half-open range
// [start, end). Touching boundaries are not overlaps.
func Overlaps(b models.BusyInterval, start, end time.Time) bool {
	return b.Start.Before(end) && b.End.After(start)
}

// Conflicts returns every busy interval that overlaps [start, end),
// in the order given
func Conflicts(busy []models.BusyInterval, start, end time.Time) []models.BusyInterval {
	var conflicts []models.BusyInterval
	for _, b := range busy {
		if Overlaps(b, start, end) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}

// FindFreeSlots walks the window looking for candidate intervals of the
// requested duration that avoid every busy interval. The walk is first-fit:
// when a candidate overlaps a busy interval the cursor jumps to that
// interval's end instead of re-testing known-busy time. Results are in
// chronological order; there is no re-ranking by proximity to the original
// request.
func FindFreeSlots(window Window, duration time.Duration, busy []models.BusyInterval, opts SearchOptions) []models.FreeSlot {
	step := opts.Step
	if step <= 0 {
		step = DefaultStep
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if duration <= 0 {
		return nil
	}

	sorted := make([]models.BusyInterval, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var slots []models.FreeSlot
	t := window.Start
	for !t.Add(duration).After(window.End) && len(slots) < maxResults {
		candidateEnd := t.Add(duration)

		blocked := false
		for _, b := range sorted {
			if Overlaps(b, t, candidateEnd) {
				// Jump past the obstruction
				t = b.End
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		slots = append(slots, models.FreeSlot{
			Start:    t,
			End:      candidateEnd,
			Duration: duration,
		})
		t = t.Add(step)
	}

	return slots
}

// FallbackSlots returns fixed heuristic candidates for the day of the
// rejected request: 9am, noon and 4pm local, each of the original duration,
// excluding any candidate identical to the rejected start. These slots are
// not checked against the calendar; callers must label them as unverified.
func FallbackSlots(origStart, origEnd time.Time, loc *time.Location) []models.FreeSlot {
	duration := origEnd.Sub(origStart)
	if duration <= 0 {
		return nil
	}

	local := origStart.In(loc)
	year, month, day := local.Date()

	var slots []models.FreeSlot
	for _, hour := range fallbackHours {
		start := time.Date(year, month, day, hour, 0, 0, 0, loc)
		if start.Equal(origStart) {
			continue
		}
		slots = append(slots, models.FreeSlot{
			Start:    start,
			End:      start.Add(duration),
			Duration: duration,
		})
	}
	return slots
}

// FreeGaps returns the maximal free gaps of at least minDuration between
// busy intervals in the window. Unlike FindFreeSlots, each gap is returned
// whole rather than cut into fixed-duration candidates.
func FreeGaps(window Window, minDuration time.Duration, busy []models.BusyInterval) []models.FreeSlot {
	sorted := make([]models.BusyInterval, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var gaps []models.FreeSlot
	cursor := window.Start
	for _, b := range sorted {
		if b.Start.After(cursor) {
			gapEnd := b.Start
			if gapEnd.After(window.End) {
				gapEnd = window.End
			}
			if gapEnd.Sub(cursor) >= minDuration {
				gaps = append(gaps, models.FreeSlot{
					Start:    cursor,
					End:      gapEnd,
					Duration: gapEnd.Sub(cursor),
				})
			}
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(window.End) {
			return gaps
		}
	}

	if window.End.Sub(cursor) >= minDuration {
		gaps = append(gaps, models.FreeSlot{
			Start:    cursor,
			End:      window.End,
			Duration: window.End.Sub(cursor),
		})
	}
	return gaps
}
