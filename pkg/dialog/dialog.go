package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/messages"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/planner"
	"github.com/korjavin/schedulebot/pkg/schedule"
	"github.com/korjavin/schedulebot/pkg/timeutil"
)

// DefaultTTL is how long a pending negotiation survives without a reply
const DefaultTTL = 10 * time.Minute

// Calendar is the calendar capability the dialog needs
type Calendar interface {
	Execute(ctx context.Context, action models.Action) (models.ExecutionResult, error)
	CheckConflicts(ctx context.Context, start, end time.Time) ([]models.BusyInterval, error)
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.BusyInterval, error)
}

// Classifier is the language-model capability the dialog needs
type Classifier interface {
	ParseIntent(ctx context.Context, message string) (*models.Intent, error)
	ClassifyResolution(ctx context.Context, reply, summary string, conflicts []models.BusyInterval, alternatives []models.FreeSlot) (*models.Resolution, error)
	ExtractTimeRange(ctx context.Context, text string, reference time.Time, duration time.Duration) (time.Time, time.Time, error)
}

// Planner builds and validates action plans
type Planner interface {
	PlanFromIntent(intent *models.Intent) (*models.ActionPlan, error)
	Validate(ctx context.Context, plan *models.ActionPlan) (*models.ActionPlan, error)
}

// Messenger delivers outgoing messages to a chat
type Messenger interface {
	Send(chatID int64, text string) error
}

// Historian records negotiation outcomes
type Historian interface {
	RecordOutcome(chatID int64, summary, outcome string, conflicts int)
}

// Prefs resolves per-chat scheduling preferences
type Prefs interface {
	Location(chatID int64) *time.Location
	BusinessHours(chatID int64) (int, int)
}

// Replies the requester can use to confirm or reject a pending plan
var (
	yesReplies = map[string]bool{"yes": true, "oui": true, "y": true, "sure": true, "ok": true, "👍": true}
	noReplies  = map[string]bool{"no": true, "non": true, "n": true, "cancel": true, "👎": true}
)

type mode int

const (
	modeAwaitingVerification mode = iota
	modeAwaitingResolution
)

// conversation is the pending negotiation of one chat
type conversation struct {
	mode mode

	// Set while awaiting verification
	plan *models.ActionPlan

	// Set while awaiting conflict resolution
	action       models.Action
	summary      string
	conflicts    []models.BusyInterval
	alternatives []models.FreeSlot
	unverified   bool

	updatedAt time.Time
}

// entry serializes message handling per chat
type entry struct {
	mu   sync.Mutex
	conv *conversation
}

// Manager routes incoming messages through the scheduling negotiation state
// machine. Each chat has at most one pending negotiation; messages from the
// same chat are handled one at a time, different chats in parallel.
type Manager struct {
	mu      sync.Mutex
	entries map[int64]*entry

	calendar   Calendar
	classifier Classifier
	planner    Planner
	messenger  Messenger
	history    Historian
	prefs      Prefs
	msgs       *messages.Service
	ttl        time.Duration
	logger     *logger.Logger
}

// New creates a new dialog manager. A non-positive ttl selects DefaultTTL.
func New(cal Calendar, cls Classifier, pln Planner, msgr Messenger, hist Historian, prefs Prefs, msgs *messages.Service, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		entries:    make(map[int64]*entry),
		calendar:   cal,
		classifier: cls,
		planner:    pln,
		messenger:  msgr,
		history:    hist,
		prefs:      prefs,
		msgs:       msgs,
		ttl:        ttl,
		logger:     logger.New("dialog"),
	}
}

// HandleMessage processes one incoming message for a chat
func (m *Manager) HandleMessage(ctx context.Context, chatID int64, text string) {
	e := m.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()

	conv := e.conv
	if conv != nil && time.Since(conv.updatedAt) > m.ttl {
		m.logger.Info("Negotiation for chat %d expired, discarding", chatID)
		m.history.RecordOutcome(chatID, conv.negotiationSummary(), models.OutcomeExpired, len(conv.conflicts))
		e.conv = nil
		conv = nil
		m.send(chatID, m.msgs.Expired())
	}

	if conv == nil {
		m.handleFreshRequest(ctx, chatID, e, text)
		return
	}

	conv.updatedAt = time.Now()
	switch conv.mode {
	case modeAwaitingVerification:
		m.handleVerificationReply(ctx, chatID, e, text)
	case modeAwaitingResolution:
		m.handleResolutionReply(ctx, chatID, e, text)
	}
}

// handleFreshRequest interprets a message with no negotiation pending
func (m *Manager) handleFreshRequest(ctx context.Context, chatID int64, e *entry, text string) {
	m.send(chatID, m.msgs.Thinking())

	intent, err := m.classifier.ParseIntent(ctx, text)
	if err != nil {
		m.logger.Error("Intent parsing failed for chat %d: %v", chatID, err)
		m.send(chatID, m.msgs.ProcessingError(err.Error()))
		return
	}

	switch intent.Name {
	case models.IntentListEvents:
		m.handleAgendaQuery(ctx, chatID, intent)
		return
	case models.IntentFindFreeTime:
		m.handleFreeTimeQuery(ctx, chatID, intent)
		return
	case models.IntentGeneralQuery:
		m.send(chatID, m.msgs.NotActionable())
		return
	}

	plan, err := m.planner.PlanFromIntent(intent)
	if err != nil {
		if errors.Is(err, planner.ErrNotActionable) {
			m.send(chatID, m.msgs.NotActionable())
			return
		}
		m.send(chatID, m.msgs.ProcessingError(err.Error()))
		return
	}

	plan, err = m.planner.Validate(ctx, plan)
	if err != nil {
		m.send(chatID, m.msgs.ProcessingError(err.Error()))
		return
	}

	if plan.RequiresVerification {
		e.conv = &conversation{
			mode:      modeAwaitingVerification,
			plan:      plan,
			updatedAt: time.Now(),
		}
		m.send(chatID, m.msgs.VerificationPrompt(plan.Summary))
		return
	}

	m.executePlan(ctx, chatID, e, plan)
}

// handleVerificationReply resolves a yes/no confirmation of a pending plan
func (m *Manager) handleVerificationReply(ctx context.Context, chatID int64, e *entry, text string) {
	reply := strings.ToLower(strings.TrimSpace(text))
	conv := e.conv

	switch {
	case yesReplies[reply]:
		// The conversation is cleared on success or replaced on conflict;
		// execution errors leave it in place so the requester can retry.
		m.executePlan(ctx, chatID, e, conv.plan)

	case noReplies[reply]:
		e.conv = nil
		m.history.RecordOutcome(chatID, conv.negotiationSummary(), models.OutcomeCancelled, 0)
		m.send(chatID, m.msgs.Cancelled())

	default:
		m.send(chatID, m.msgs.UnclearVerification())
	}
}

// handleResolutionReply resolves a free-text reply during conflict resolution
func (m *Manager) handleResolutionReply(ctx context.Context, chatID int64, e *entry, text string) {
	conv := e.conv

	res, err := m.classifier.ClassifyResolution(ctx, text, conv.summary, conv.conflicts, conv.alternatives)
	if err != nil {
		// Treat a failed classification the same as an unclear reply
		m.logger.Warn("Resolution classification failed for chat %d: %v", chatID, err)
		res = &models.Resolution{Intent: models.ResolveUnclear}
	}

	switch res.Intent {
	case models.ResolveCancel:
		e.conv = nil
		m.history.RecordOutcome(chatID, conv.summary, models.OutcomeCancelled, len(conv.conflicts))
		m.send(chatID, m.msgs.Cancelled())

	case models.ResolveOverride:
		m.executeOverride(ctx, chatID, e)

	case models.ResolveRescheduleSuggested:
		m.executeSuggested(ctx, chatID, e, res.SuggestedIndex)

	case models.ResolveRescheduleCustom:
		m.executeCustom(ctx, chatID, e, res.CustomTime)

	default:
		m.send(chatID, m.msgs.ResolutionMenu())
	}
}

// executeOverride creates the conflicted event anyway
func (m *Manager) executeOverride(ctx context.Context, chatID int64, e *entry) {
	conv := e.conv
	action := conv.action
	action.Params["skip_conflict_check"] = true

	result, err := m.calendar.Execute(ctx, action)
	if err != nil || result.Status == models.StatusError {
		m.reportExecutionFailure(chatID, result, err)
		return
	}

	e.conv = nil
	m.history.RecordOutcome(chatID, conv.summary, models.OutcomeOverridden, len(conv.conflicts))
	m.send(chatID, m.msgs.OverrideSuccess(conv.summary))
}

// executeSuggested moves the conflicted event to one of the offered
// alternatives
func (m *Manager) executeSuggested(ctx context.Context, chatID int64, e *entry, index int) {
	conv := e.conv
	if index < 0 || index >= len(conv.alternatives) {
		m.send(chatID, m.msgs.InvalidSuggestionIndex())
		return
	}
	slot := conv.alternatives[index]

	// Fallback alternatives were never checked against the calendar, so the
	// conflict check stays on for them.
	m.executeAtTime(ctx, chatID, e, slot.Start, slot.End, !conv.unverified)
}

// executeCustom moves the conflicted event to a time the requester named
func (m *Manager) executeCustom(ctx context.Context, chatID int64, e *entry, timeText string) {
	conv := e.conv
	loc := m.prefs.Location(chatID)

	duration := time.Hour
	if start, end, ok := actionTimes(&conv.action); ok {
		duration = end.Sub(start)
	}

	start, end, err := m.classifier.ExtractTimeRange(ctx, timeText, time.Now().In(loc), duration)
	if err != nil {
		m.logger.Warn("Time extraction failed for chat %d: %v", chatID, err)
		m.send(chatID, m.msgs.CustomTimeNotUnderstood())
		return
	}

	conflicts, err := m.calendar.CheckConflicts(ctx, start, end)
	if err != nil {
		// Could not verify the proposed time; let execution run its own
		// check once the calendar answers again.
		m.logger.Warn("Conflict check for custom time failed for chat %d: %v", chatID, err)
		m.executeAtTime(ctx, chatID, e, start, end, false)
		return
	}

	if len(conflicts) > 0 {
		conv.conflicts = conflicts
		conv.alternatives = []models.FreeSlot{{Start: start, End: end, Duration: end.Sub(start)}}
		conv.unverified = false
		m.send(chatID, m.msgs.CustomTimeStillConflicts(start, end, conflicts))
		return
	}

	m.executeAtTime(ctx, chatID, e, start, end, true)
}

// executeAtTime rewrites the conflicted action to a new time range and
// executes it
func (m *Manager) executeAtTime(ctx context.Context, chatID int64, e *entry, start, end time.Time, skipCheck bool) {
	conv := e.conv
	action := conv.action
	action.Params["start_time"] = start.Format(time.RFC3339)
	action.Params["end_time"] = end.Format(time.RFC3339)
	action.Params["skip_conflict_check"] = skipCheck

	result, err := m.calendar.Execute(ctx, action)
	if err != nil || result.Status == models.StatusError {
		m.reportExecutionFailure(chatID, result, err)
		return
	}
	if result.Status == models.StatusConflict {
		m.enterConflictResolution(ctx, chatID, e, action, result.Conflicts)
		return
	}

	e.conv = nil
	m.history.RecordOutcome(chatID, conv.summary, models.OutcomeRescheduled, len(conv.conflicts))
	m.send(chatID, m.msgs.ExecutionSuccess(ctx, conv.summary, start, end, action.StringParam("location")))
}

// executePlan executes every action of a plan. A conflict result switches the
// chat into conflict resolution; an execution error is reported and leaves
// any pending conversation in place.
func (m *Manager) executePlan(ctx context.Context, chatID int64, e *entry, plan *models.ActionPlan) {
	for i := range plan.Actions {
		action := plan.Actions[i]

		result, err := m.calendar.Execute(ctx, action)
		if err != nil || result.Status == models.StatusError {
			m.reportExecutionFailure(chatID, result, err)
			return
		}

		if result.Status == models.StatusConflict {
			m.enterConflictResolution(ctx, chatID, e, action, result.Conflicts)
			return
		}

		m.reportSuccess(ctx, chatID, &action, result)
	}

	e.conv = nil
}

// enterConflictResolution computes alternatives for a conflicted action and
// stores the resolution state. When the calendar cannot be read the
// heuristic fallback slots are offered instead, flagged as unverified.
func (m *Manager) enterConflictResolution(ctx context.Context, chatID int64, e *entry, action models.Action, conflicts []models.BusyInterval) {
	start, end, ok := actionTimes(&action)
	if !ok {
		// A conflict without a parseable time range cannot be negotiated
		m.send(chatID, m.msgs.ExecutionFailure("the conflicting request has no usable time range"))
		return
	}

	loc := m.prefs.Location(chatID)
	bhStart, bhEnd := m.prefs.BusinessHours(chatID)
	winStart, winEnd := timeutil.DayWindow(start, bhStart, bhEnd, loc)
	window := schedule.Window{Start: winStart, End: winEnd}
	duration := end.Sub(start)

	var alternatives []models.FreeSlot
	unverified := false
	busy, err := m.calendar.ListEvents(ctx, winStart, winEnd)
	if err != nil {
		m.logger.Warn("Could not list events for alternatives, using fallback slots: %v", err)
		alternatives = schedule.FallbackSlots(start, end, loc)
		unverified = true
	} else {
		alternatives = schedule.FindFreeSlots(window, duration, busy, schedule.SearchOptions{})
	}

	summary := action.StringParam("summary")
	if summary == "" {
		summary = "event"
	}

	e.conv = &conversation{
		mode:         modeAwaitingResolution,
		action:       action,
		summary:      summary,
		conflicts:    conflicts,
		alternatives: alternatives,
		unverified:   unverified,
		updatedAt:    time.Now(),
	}

	m.logger.Info("Chat %d entered conflict resolution: %d conflicts, %d alternatives (unverified=%v)",
		chatID, len(conflicts), len(alternatives), unverified)
	m.send(chatID, m.msgs.ConflictPrompt(summary, conflicts, alternatives, unverified))
}

// handleAgendaQuery answers a list-events request
func (m *Manager) handleAgendaQuery(ctx context.Context, chatID int64, intent *models.Intent) {
	loc := m.prefs.Location(chatID)
	day := time.Now().In(loc)
	if intent.Entities.StartTime != "" {
		if t, err := time.Parse(time.RFC3339, intent.Entities.StartTime); err == nil {
			day = t.In(loc)
		}
	}

	dayStart, dayEnd := timeutil.DayBounds(day, loc)
	events, err := m.calendar.ListEvents(ctx, dayStart, dayEnd)
	if err != nil {
		m.send(chatID, m.msgs.ProcessingError("I couldn't read your calendar right now"))
		return
	}
	m.send(chatID, m.msgs.Agenda(day, events))
}

// handleFreeTimeQuery answers a find-free-time request
func (m *Manager) handleFreeTimeQuery(ctx context.Context, chatID int64, intent *models.Intent) {
	loc := m.prefs.Location(chatID)
	day := time.Now().In(loc)
	if intent.Entities.StartTime != "" {
		if t, err := time.Parse(time.RFC3339, intent.Entities.StartTime); err == nil {
			day = t.In(loc)
		}
	}

	bhStart, bhEnd := m.prefs.BusinessHours(chatID)
	winStart, winEnd := timeutil.DayWindow(day, bhStart, bhEnd, loc)
	busy, err := m.calendar.ListEvents(ctx, winStart, winEnd)
	if err != nil {
		m.send(chatID, m.msgs.ProcessingError("I couldn't read your calendar right now"))
		return
	}

	minDuration := 30 * time.Minute
	if intent.Entities.DurationHours > 0 {
		minDuration = time.Duration(intent.Entities.DurationHours * float64(time.Hour))
	}
	gaps := schedule.FreeGaps(schedule.Window{Start: winStart, End: winEnd}, minDuration, busy)
	m.send(chatID, m.msgs.FreeSlots(day, gaps))
}

// reportSuccess announces a successfully executed action
func (m *Manager) reportSuccess(ctx context.Context, chatID int64, action *models.Action, result models.ExecutionResult) {
	summary := action.StringParam("summary")
	if summary == "" {
		summary = "event"
	}
	m.history.RecordOutcome(chatID, summary, models.OutcomeExecuted, 0)

	if start, end, ok := actionTimes(action); ok && action.Method != models.MethodDeleteEvent {
		m.send(chatID, m.msgs.ExecutionSuccess(ctx, summary, start, end, action.StringParam("location")))
		return
	}
	m.send(chatID, "✅ "+result.Message)
}

// reportExecutionFailure reports an execution error without touching the
// pending conversation
func (m *Manager) reportExecutionFailure(chatID int64, result models.ExecutionResult, err error) {
	text := result.Message
	if err != nil {
		text = err.Error()
	}
	m.logger.Error("Execution failed for chat %d: %s", chatID, text)
	m.send(chatID, m.msgs.ExecutionFailure(text))
}

// entry returns the per-chat entry, creating it on first use
func (m *Manager) entry(chatID int64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[chatID]
	if !ok {
		e = &entry{}
		m.entries[chatID] = e
	}
	return e
}

func (m *Manager) send(chatID int64, text string) {
	if err := m.messenger.Send(chatID, text); err != nil {
		m.logger.Error("Failed to send message to chat %d: %v", chatID, err)
	}
}

func (c *conversation) negotiationSummary() string {
	if c.summary != "" {
		return c.summary
	}
	if c.plan != nil {
		return c.plan.Summary
	}
	return ""
}

// actionTimes parses the normalized time range out of action params
func actionTimes(action *models.Action) (time.Time, time.Time, bool) {
	startStr := action.StringParam("start_time")
	endStr := action.StringParam("end_time")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
