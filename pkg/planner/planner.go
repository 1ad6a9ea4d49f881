package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/timeutil"
)

// ConflictChecker is the calendar capability the planner needs for
// validation
type ConflictChecker interface {
	CheckConflicts(ctx context.Context, start, end time.Time) ([]models.BusyInterval, error)
}

// ErrNotActionable is returned for intents that do not translate into an
// action plan (queries handled elsewhere, unclear requests)
var ErrNotActionable = errors.New("intent does not translate into an action plan")

// Service builds and validates action plans from parsed intents
type Service struct {
	checker    ConflictChecker
	normalizer *timeutil.Normalizer
	logger     *logger.Logger
}

// New creates a new planner service
func New(checker ConflictChecker, normalizer *timeutil.Normalizer) *Service {
	return &Service{
		checker:    checker,
		normalizer: normalizer,
		logger:     logger.New("planner"),
	}
}

// PlanFromIntent converts a parsed intent into an action plan
func (s *Service) PlanFromIntent(intent *models.Intent) (*models.ActionPlan, error) {
	entities := intent.Entities

	switch intent.Name {
	case models.IntentScheduleEvent:
		if entities.StartTime == "" || entities.EndTime == "" {
			return nil, fmt.Errorf("schedule request is missing a time")
		}
		summary := entities.Summary
		if summary == "" {
			summary = "Meeting"
		}
		return &models.ActionPlan{
			Actions: []models.Action{{
				Service: models.ServiceCalendar,
				Method:  models.MethodCreateEvent,
				Params: map[string]interface{}{
					"summary":     summary,
					"start_time":  entities.StartTime,
					"end_time":    entities.EndTime,
					"location":    entities.Location,
					"description": entities.Description,
				},
			}},
			Summary: fmt.Sprintf("Create event '%s' from %s to %s", summary, entities.StartTime, entities.EndTime),
		}, nil

	case models.IntentRescheduleEvent:
		if entities.EventID == "" {
			return nil, fmt.Errorf("could not identify which event to reschedule")
		}
		if entities.StartTime == "" {
			return nil, fmt.Errorf("reschedule request is missing a new time")
		}
		return &models.ActionPlan{
			Actions: []models.Action{{
				Service: models.ServiceCalendar,
				Method:  models.MethodRescheduleEvent,
				Params: map[string]interface{}{
					"event_id":   entities.EventID,
					"start_time": entities.StartTime,
					"end_time":   entities.EndTime,
				},
			}},
			Summary:              fmt.Sprintf("Move event %s to %s", entities.EventID, entities.StartTime),
			RequiresVerification: true,
		}, nil

	case models.IntentCancelEvent:
		if entities.EventID == "" {
			return nil, fmt.Errorf("could not identify which event to cancel")
		}
		summary := entities.Summary
		if summary == "" {
			summary = entities.EventID
		}
		return &models.ActionPlan{
			Actions: []models.Action{{
				Service: models.ServiceCalendar,
				Method:  models.MethodDeleteEvent,
				Params: map[string]interface{}{
					"event_id": entities.EventID,
				},
			}},
			Summary:              fmt.Sprintf("Delete event '%s'", summary),
			RequiresVerification: true,
		}, nil
	}

	return nil, ErrNotActionable
}

// Validate runs the conflict check for every calendar-mutating action in the
// plan. Conflicts force RequiresVerification and annotate the plan summary
// with the conflicting events; the actions themselves are neither dropped
// nor changed, so execution re-derives the same conflict outcome.
// Time parameters are normalized in place to RFC3339.
func (s *Service) Validate(ctx context.Context, plan *models.ActionPlan) (*models.ActionPlan, error) {
	var conflictDetails strings.Builder

	for i := range plan.Actions {
		action := &plan.Actions[i]
		if !action.MutatesCalendar() {
			continue
		}

		startStr := action.StringParam("start_time")
		endStr := action.StringParam("end_time")
		if startStr == "" || endStr == "" {
			// Nothing to check without a time range (e.g. delete_event)
			continue
		}

		start, end, err := s.normalizer.Normalize(startStr, endStr)
		if err != nil {
			return nil, err
		}
		action.Params["start_time"] = start.Format(time.RFC3339)
		action.Params["end_time"] = end.Format(time.RFC3339)

		conflicts, err := s.checker.CheckConflicts(ctx, start, end)
		if err != nil {
			// The calendar is unreachable; execution will re-derive any
			// conflict once it is back.
			s.logger.Warn("Skipping conflict validation: %v", err)
			continue
		}

		if len(conflicts) > 0 {
			plan.RequiresVerification = true
			summary := action.StringParam("summary")
			if summary == "" {
				summary = "Untitled event"
			}
			fmt.Fprintf(&conflictDetails, "- Event '%s' conflicts with %d existing events:\n", summary, len(conflicts))
			for _, c := range conflicts {
				fmt.Fprintf(&conflictDetails, "  • %s at %s\n",
					c.Summary, timeutil.FormatDateTime(c.Start, s.normalizer.Location()))
			}
		}
	}

	if conflictDetails.Len() > 0 {
		plan.Summary += "\n\nPotential conflicts detected:\n" + conflictDetails.String()
	}

	return plan, nil
}
