package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/korjavin/schedulebot/pkg/models"
)

// ExecutionError reports a calendar action that could not be carried out
type ExecutionError struct {
	Method string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Method, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Execute dispatches an action to the matching calendar method. Time
// parameters must already be normalized to RFC3339; the planner writes them
// back in that form during validation.
func (c *Client) Execute(ctx context.Context, action models.Action) (models.ExecutionResult, error) {
	result, err := c.dispatch(ctx, action)
	if err != nil {
		return result, &ExecutionError{Method: action.Method, Err: err}
	}
	return result, nil
}

func (c *Client) dispatch(ctx context.Context, action models.Action) (models.ExecutionResult, error) {
	if action.Service != models.ServiceCalendar {
		return models.ExecutionResult{}, fmt.Errorf("unknown service: %s", action.Service)
	}

	switch action.Method {
	case models.MethodCreateEvent:
		input, err := c.eventInputFromAction(&action, true)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return c.CreateEvent(ctx, input)

	case models.MethodRescheduleEvent:
		input, err := c.eventInputFromAction(&action, false)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if input.EventID == "" {
			return models.ExecutionResult{}, fmt.Errorf("reschedule_event requires event_id")
		}
		return c.RescheduleEvent(ctx, input)

	case models.MethodUpdateEvent:
		input, err := c.eventInputFromAction(&action, false)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if input.EventID == "" {
			return models.ExecutionResult{}, fmt.Errorf("update_event requires event_id")
		}
		return c.UpdateEvent(ctx, input)

	case models.MethodDeleteEvent:
		eventID := action.StringParam("event_id")
		if eventID == "" {
			return models.ExecutionResult{}, fmt.Errorf("delete_event requires event_id")
		}
		return c.DeleteEvent(ctx, eventID)
	}

	return models.ExecutionResult{}, fmt.Errorf("unknown method: %s", action.Method)
}

// eventInputFromAction extracts an EventInput from action params.
// requireTimes makes missing start/end an error.
func (c *Client) eventInputFromAction(action *models.Action, requireTimes bool) (EventInput, error) {
	input := EventInput{
		EventID:           action.StringParam("event_id"),
		Summary:           action.StringParam("summary"),
		Description:       action.StringParam("description"),
		Location:          action.StringParam("location"),
		SkipConflictCheck: action.BoolParam("skip_conflict_check"),
	}

	startStr := action.StringParam("start_time")
	endStr := action.StringParam("end_time")
	if requireTimes && (startStr == "" || endStr == "") {
		return EventInput{}, fmt.Errorf("%s requires start_time and end_time", action.Method)
	}

	if startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return EventInput{}, fmt.Errorf("invalid start_time %q: %w", startStr, err)
		}
		input.Start = start
	}
	if endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return EventInput{}, fmt.Errorf("invalid end_time %q: %w", endStr, err)
		}
		input.End = end
	}

	return input, nil
}
