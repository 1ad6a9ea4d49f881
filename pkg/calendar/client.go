package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/schedule"
)

// ConflictCheckError reports that the calendar could not be queried during a
// conflict check. Callers fall back to heuristic alternatives and must flag
// them as unverified.
type ConflictCheckError struct {
	Err error
}

func (e *ConflictCheckError) Error() string {
	return fmt.Sprintf("conflict check failed: %v", e.Err)
}

func (e *ConflictCheckError) Unwrap() error {
	return e.Err
}

// EventInput carries the fields for creating or rescheduling an event
type EventInput struct {
	EventID     string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time

	// SkipConflictCheck disables the pre-insert conflict check. Set when the
	// requester has already overridden or resolved the conflicts.
	SkipConflictCheck bool
}

// Client wraps the Google Calendar service for a single calendar
type Client struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	logger     *logger.Logger
}

// New creates a calendar client authenticated with a service-account
// credentials file
func New(ctx context.Context, credentialsPath, calendarID string, loc *time.Location) (*Client, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{
		svc:        svc,
		calendarID: calendarID,
		loc:        loc,
		logger:     logger.New("calendar"),
	}, nil
}

// ListEvents lists busy intervals in the half-open range [timeMin, timeMax)
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.BusyInterval, error) {
	events, err := c.listWithRetry(ctx, timeMin, timeMax)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var intervals []models.BusyInterval
	for _, e := range events {
		interval, ok := c.toBusyInterval(e)
		if !ok {
			continue
		}
		intervals = append(intervals, interval)
	}
	return intervals, nil
}

// CheckConflicts returns every existing event that overlaps [start, end)
// under the half-open overlap rule. An empty result means no conflict.
// Transport failures are reported as *ConflictCheckError.
func (c *Client) CheckConflicts(ctx context.Context, start, end time.Time) ([]models.BusyInterval, error) {
	busy, err := c.ListEvents(ctx, start, end)
	if err != nil {
		return nil, &ConflictCheckError{Err: err}
	}

	// The API already bounds the query, but the overlap predicate is the
	// single source of truth: filter explicitly so touching boundaries are
	// never reported as conflicts.
	conflicts := schedule.Conflicts(busy, start, end)
	c.logger.Info("Conflict check %s..%s: %d overlapping of %d fetched",
		start.Format(time.RFC3339), end.Format(time.RFC3339), len(conflicts), len(busy))
	return conflicts, nil
}

// CreateEvent creates an event, checking for conflicts first unless the
// input disables the check. On conflict it returns a conflict result rather
// than inserting.
func (c *Client) CreateEvent(ctx context.Context, input EventInput) (models.ExecutionResult, error) {
	if !input.SkipConflictCheck {
		conflicts, err := c.CheckConflicts(ctx, input.Start, input.End)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if len(conflicts) > 0 {
			return models.ExecutionResult{
				Status:    models.StatusConflict,
				Message:   fmt.Sprintf("found %d conflicting events in the requested time range", len(conflicts)),
				Conflicts: conflicts,
			}, nil
		}
	}

	event := &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start: &gcal.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to create event: %w", err)
	}

	c.logger.Info("Created event %s (%s)", created.Id, input.Summary)
	return models.ExecutionResult{
		Status:  models.StatusSuccess,
		Message: "Event created successfully",
		EventID: created.Id,
	}, nil
}

// RescheduleEvent moves an existing event to a new time. When input.End is
// zero the original duration is preserved. The event being moved never
// conflicts with itself.
func (c *Client) RescheduleEvent(ctx context.Context, input EventInput) (models.ExecutionResult, error) {
	existing, err := c.svc.Events.Get(c.calendarID, input.EventID).Context(ctx).Do()
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to fetch event %s: %w", input.EventID, err)
	}

	newStart := input.Start
	newEnd := input.End
	if newEnd.IsZero() {
		orig, ok := c.toBusyInterval(existing)
		if !ok {
			return models.ExecutionResult{}, fmt.Errorf("event %s has no parseable times", input.EventID)
		}
		newEnd = newStart.Add(orig.End.Sub(orig.Start))
	}

	if !input.SkipConflictCheck {
		conflicts, err := c.CheckConflicts(ctx, newStart, newEnd)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		// Drop the event being moved from its own conflict set
		filtered := conflicts[:0]
		for _, b := range conflicts {
			if b.ID != input.EventID {
				filtered = append(filtered, b)
			}
		}
		if len(filtered) > 0 {
			return models.ExecutionResult{
				Status:    models.StatusConflict,
				Message:   fmt.Sprintf("found %d conflicting events in the new time range", len(filtered)),
				Conflicts: filtered,
			}, nil
		}
	}

	existing.Start = &gcal.EventDateTime{
		DateTime: newStart.Format(time.RFC3339),
		TimeZone: c.loc.String(),
	}
	existing.End = &gcal.EventDateTime{
		DateTime: newEnd.Format(time.RFC3339),
		TimeZone: c.loc.String(),
	}

	updated, err := c.svc.Events.Update(c.calendarID, input.EventID, existing).Context(ctx).Do()
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to reschedule event: %w", err)
	}

	c.logger.Info("Rescheduled event %s to %s", updated.Id, newStart.Format(time.RFC3339))
	return models.ExecutionResult{
		Status:  models.StatusSuccess,
		Message: "Event rescheduled successfully",
		EventID: updated.Id,
	}, nil
}

// UpdateEvent patches the provided fields of an existing event
func (c *Client) UpdateEvent(ctx context.Context, input EventInput) (models.ExecutionResult, error) {
	patch := &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
	}
	if !input.Start.IsZero() {
		patch.Start = &gcal.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		}
	}
	if !input.End.IsZero() {
		patch.End = &gcal.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		}
	}

	updated, err := c.svc.Events.Patch(c.calendarID, input.EventID, patch).Context(ctx).Do()
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to update event: %w", err)
	}

	return models.ExecutionResult{
		Status:  models.StatusSuccess,
		Message: "Event updated successfully",
		EventID: updated.Id,
	}, nil
}

// DeleteEvent deletes an event by id
func (c *Client) DeleteEvent(ctx context.Context, eventID string) (models.ExecutionResult, error) {
	if err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return models.ExecutionResult{}, fmt.Errorf("failed to delete event: %w", err)
	}
	return models.ExecutionResult{
		Status:  models.StatusSuccess,
		Message: "Event deleted successfully",
		EventID: eventID,
	}, nil
}

// FindFreeTime returns the maximal free gaps of at least minDuration between
// events in [windowStart, windowEnd)
func (c *Client) FindFreeTime(ctx context.Context, windowStart, windowEnd time.Time, minDuration time.Duration) ([]models.FreeSlot, error) {
	busy, err := c.ListEvents(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	window := schedule.Window{Start: windowStart, End: windowEnd}
	return schedule.FreeGaps(window, minDuration, busy), nil
}

// listWithRetry performs the events list call with one retry on failure
func (c *Client) listWithRetry(ctx context.Context, timeMin, timeMax time.Time) ([]*gcal.Event, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.svc.Events.List(c.calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250).
			Context(ctx).
			Do()
		if err == nil {
			return result.Items, nil
		}
		lastErr = err
		c.logger.Warn("Events list attempt %d failed: %v", attempt+1, err)
	}
	return nil, lastErr
}

// toBusyInterval converts a Google Calendar event into a busy interval.
// All-day events block their whole day.
func (c *Client) toBusyInterval(e *gcal.Event) (models.BusyInterval, bool) {
	if e == nil || e.Start == nil || e.End == nil {
		return models.BusyInterval{}, false
	}

	start, ok := c.parseEventTime(e.Start)
	if !ok {
		return models.BusyInterval{}, false
	}
	end, ok := c.parseEventTime(e.End)
	if !ok {
		return models.BusyInterval{}, false
	}
	if !start.Before(end) {
		return models.BusyInterval{}, false
	}

	summary := e.Summary
	if summary == "" {
		summary = "Untitled event"
	}

	return models.BusyInterval{
		ID:      e.Id,
		Summary: summary,
		Start:   start,
		End:     end,
	}, true
}

func (c *Client) parseEventTime(edt *gcal.EventDateTime) (time.Time, bool) {
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, c.loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
