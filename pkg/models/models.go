package models

import (
	"time"
)

// Service names for actions
const (
	ServiceCalendar = "calendar"
)

// Calendar methods
const (
	MethodCreateEvent     = "create_event"
	MethodUpdateEvent     = "update_event"
	MethodDeleteEvent     = "delete_event"
	MethodRescheduleEvent = "reschedule_event"
	MethodListEvents      = "list_events"
)

// Execution result statuses
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// BusyInterval represents one existing calendar commitment
type BusyInterval struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// FreeSlot represents a candidate interval that can hold the requested event
type FreeSlot struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Action represents a single service call to perform
type Action struct {
	Service string                 `json:"service"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

// StringParam returns a string parameter or "" when absent
func (a *Action) StringParam(key string) string {
	if v, ok := a.Params[key].(string); ok {
		return v
	}
	return ""
}

// BoolParam returns a bool parameter or false when absent
func (a *Action) BoolParam(key string) bool {
	if v, ok := a.Params[key].(bool); ok {
		return v
	}
	return false
}

// MutatesCalendar reports whether the action changes calendar state
func (a *Action) MutatesCalendar() bool {
	if a.Service != ServiceCalendar {
		return false
	}
	switch a.Method {
	case MethodCreateEvent, MethodUpdateEvent, MethodDeleteEvent, MethodRescheduleEvent:
		return true
	}
	return false
}

// ActionPlan represents a plan of actions to execute
type ActionPlan struct {
	Actions              []Action `json:"actions"`
	Summary              string   `json:"summary"`
	RequiresVerification bool     `json:"requires_verification"`
}

// ExecutionResult is the outcome of executing a single action
type ExecutionResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	EventID   string         `json:"event_id,omitempty"`
	Conflicts []BusyInterval `json:"conflicts,omitempty"`
}

// Intent is the structured interpretation of a free-text request
type Intent struct {
	Name       string   `json:"intent"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// Entities extracted from a free-text request
type Entities struct {
	Summary       string  `json:"summary,omitempty"`
	StartTime     string  `json:"start_time_iso,omitempty"`
	EndTime       string  `json:"end_time_iso,omitempty"`
	Location      string  `json:"location,omitempty"`
	Description   string  `json:"description,omitempty"`
	DurationHours float64 `json:"duration_hours,omitempty"`
	EventID       string  `json:"event_id,omitempty"`
}

// Intent names produced by the parser
const (
	IntentScheduleEvent   = "schedule_event"
	IntentRescheduleEvent = "reschedule_event"
	IntentCancelEvent     = "cancel_event"
	IntentListEvents      = "list_events"
	IntentFindFreeTime    = "find_free_time"
	IntentGeneralQuery    = "general_query"
)

// Resolution is the classified meaning of a reply during conflict resolution
type Resolution struct {
	Intent         string `json:"intent"`
	SuggestedIndex int    `json:"suggested_time_index"`
	CustomTime     string `json:"custom_time,omitempty"`
}

// Resolution intents
const (
	ResolveRescheduleSuggested = "reschedule_to_suggested"
	ResolveRescheduleCustom    = "reschedule_to_custom"
	ResolveOverride            = "override_conflicts"
	ResolveCancel              = "cancel"
	ResolveUnclear             = "unclear"
)

// Preferences holds per-requester scheduling preferences
type Preferences struct {
	ChatID        int64     `json:"chat_id"`
	Timezone      string    `json:"timezone,omitempty"`
	BusinessStart int       `json:"business_start,omitempty"`
	BusinessEnd   int       `json:"business_end,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NegotiationRecord captures how one scheduling negotiation ended
type NegotiationRecord struct {
	ChatID     int64     `json:"chat_id"`
	Summary    string    `json:"summary"`
	Outcome    string    `json:"outcome"`
	Conflicts  int       `json:"conflicts"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Negotiation outcomes
const (
	OutcomeExecuted    = "executed"
	OutcomeCancelled   = "cancelled"
	OutcomeOverridden  = "overridden"
	OutcomeRescheduled = "rescheduled"
	OutcomeExpired     = "expired"
)
