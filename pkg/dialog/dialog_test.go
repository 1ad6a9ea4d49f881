package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/schedulebot/pkg/messages"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/planner"
)

const testChat = int64(42)

func at(hour, min int) time.Time {
	return time.Date(2025, 5, 23, hour, min, 0, 0, time.UTC)
}

type execResponse struct {
	result models.ExecutionResult
	err    error
}

type fakeCalendar struct {
	mu        sync.Mutex
	executed  []models.Action
	execQueue []execResponse

	conflicts []models.BusyInterval
	checkErr  error
	busy      []models.BusyInterval
	listErr   error
}

func (f *fakeCalendar) Execute(ctx context.Context, action models.Action) (models.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	params := make(map[string]interface{}, len(action.Params))
	for k, v := range action.Params {
		params[k] = v
	}
	action.Params = params
	f.executed = append(f.executed, action)

	if len(f.execQueue) == 0 {
		return models.ExecutionResult{Status: models.StatusSuccess, Message: "ok", EventID: "evt1"}, nil
	}
	resp := f.execQueue[0]
	f.execQueue = f.execQueue[1:]
	return resp.result, resp.err
}

func (f *fakeCalendar) CheckConflicts(ctx context.Context, start, end time.Time) ([]models.BusyInterval, error) {
	return f.conflicts, f.checkErr
}

func (f *fakeCalendar) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.BusyInterval, error) {
	return f.busy, f.listErr
}

func (f *fakeCalendar) lastExecuted(t *testing.T) models.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.executed)
	return f.executed[len(f.executed)-1]
}

type fakeClassifier struct {
	intent    *models.Intent
	intentErr error

	resolution    *models.Resolution
	resolutionErr error

	extractStart time.Time
	extractEnd   time.Time
	extractErr   error

	parseCalls    int
	classifyCalls int
}

func (f *fakeClassifier) ParseIntent(ctx context.Context, message string) (*models.Intent, error) {
	f.parseCalls++
	return f.intent, f.intentErr
}

func (f *fakeClassifier) ClassifyResolution(ctx context.Context, reply, summary string, conflicts []models.BusyInterval, alternatives []models.FreeSlot) (*models.Resolution, error) {
	f.classifyCalls++
	return f.resolution, f.resolutionErr
}

func (f *fakeClassifier) ExtractTimeRange(ctx context.Context, text string, reference time.Time, duration time.Duration) (time.Time, time.Time, error) {
	return f.extractStart, f.extractEnd, f.extractErr
}

type fakePlanner struct {
	plan    *models.ActionPlan
	planErr error
}

func (f *fakePlanner) PlanFromIntent(intent *models.Intent) (*models.ActionPlan, error) {
	return f.plan, f.planErr
}

func (f *fakePlanner) Validate(ctx context.Context, plan *models.ActionPlan) (*models.ActionPlan, error) {
	return plan, nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeMessenger) last(t *testing.T) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeHistorian struct {
	outcomes []string
}

func (f *fakeHistorian) RecordOutcome(chatID int64, summary, outcome string, conflicts int) {
	f.outcomes = append(f.outcomes, outcome)
}

type fakePrefs struct{}

func (fakePrefs) Location(chatID int64) *time.Location  { return time.UTC }
func (fakePrefs) BusinessHours(chatID int64) (int, int) { return 9, 18 }

type failingGenerator struct{}

func (failingGenerator) GenerateReply(ctx context.Context, intent string, contextData map[string]interface{}) (string, error) {
	return "", errors.New("no language model in tests")
}

func newTestManager(cal *fakeCalendar, cls *fakeClassifier, pln Planner) (*Manager, *fakeMessenger, *fakeHistorian) {
	msgr := &fakeMessenger{}
	hist := &fakeHistorian{}
	msgs := messages.New(failingGenerator{}, time.UTC)
	m := New(cal, cls, pln, msgr, hist, fakePrefs{}, msgs, 0)
	return m, msgr, hist
}

func (m *Manager) pending(chatID int64) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[chatID]; ok {
		return e.conv
	}
	return nil
}

func scheduleIntent() *models.Intent {
	return &models.Intent{
		Name: models.IntentScheduleEvent,
		Entities: models.Entities{
			Summary:   "Team sync",
			StartTime: "2025-05-23T10:00:00Z",
			EndTime:   "2025-05-23T11:00:00Z",
		},
	}
}

func createPlan(requiresVerification bool) *models.ActionPlan {
	return &models.ActionPlan{
		Actions: []models.Action{{
			Service: models.ServiceCalendar,
			Method:  models.MethodCreateEvent,
			Params: map[string]interface{}{
				"summary":    "Team sync",
				"start_time": "2025-05-23T10:00:00Z",
				"end_time":   "2025-05-23T11:00:00Z",
			},
		}},
		Summary:              "Create event 'Team sync'",
		RequiresVerification: requiresVerification,
	}
}

func conflictSet() []models.BusyInterval {
	return []models.BusyInterval{{
		ID:      "busy1",
		Summary: "Standup",
		Start:   at(10, 0),
		End:     at(10, 30),
	}}
}

// enterResolution drives a manager into conflict resolution for testChat
func enterResolution(t *testing.T, m *Manager, cal *fakeCalendar, cls *fakeClassifier) {
	cal.execQueue = []execResponse{{result: models.ExecutionResult{
		Status:    models.StatusConflict,
		Conflicts: conflictSet(),
	}}}
	cls.intent = scheduleIntent()

	m.HandleMessage(context.Background(), testChat, "schedule a team sync at 10")

	conv := m.pending(testChat)
	require.NotNil(t, conv)
	require.Equal(t, modeAwaitingResolution, conv.mode)
}

func TestFreshRequestExecutesCleanPlan(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, msgr, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	m.HandleMessage(context.Background(), testChat, "schedule a team sync at 10")

	require.Len(t, cal.executed, 1)
	assert.Nil(t, m.pending(testChat))
	assert.Equal(t, []string{models.OutcomeExecuted}, hist.outcomes)
	assert.Contains(t, msgr.last(t), "Team sync")
}

func TestFreshRequestAsksForVerification(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})

	m.HandleMessage(context.Background(), testChat, "move my sync to 10")

	assert.Empty(t, cal.executed, "nothing executes before confirmation")
	conv := m.pending(testChat)
	require.NotNil(t, conv)
	assert.Equal(t, modeAwaitingVerification, conv.mode)
	assert.Contains(t, msgr.last(t), "Would you like me to proceed?")
}

func TestVerificationYesExecutes(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, _, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})

	m.HandleMessage(context.Background(), testChat, "move my sync to 10")

	for _, yes := range []string{"yes", "OUI", " ok ", "👍"} {
		t.Run(yes, func(t *testing.T) {
			// Re-arm the pending plan for each variant
			m.entry(testChat).conv = &conversation{
				mode:      modeAwaitingVerification,
				plan:      createPlan(true),
				updatedAt: time.Now(),
			}
			before := len(cal.executed)

			m.HandleMessage(context.Background(), testChat, yes)

			assert.Len(t, cal.executed, before+1)
			assert.Nil(t, m.pending(testChat))
		})
	}
	assert.NotEmpty(t, hist.outcomes)
}

func TestVerificationNoCancels(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, msgr, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})

	m.HandleMessage(context.Background(), testChat, "move my sync to 10")
	m.HandleMessage(context.Background(), testChat, "no")

	assert.Empty(t, cal.executed)
	assert.Nil(t, m.pending(testChat))
	assert.Equal(t, []string{models.OutcomeCancelled}, hist.outcomes)
	assert.Contains(t, msgr.last(t), "cancelled")
}

func TestVerificationUnclearReplyReprompts(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})

	m.HandleMessage(context.Background(), testChat, "move my sync to 10")
	m.HandleMessage(context.Background(), testChat, "maybe later")

	assert.Empty(t, cal.executed)
	require.NotNil(t, m.pending(testChat), "an unclear reply keeps the plan pending")
	assert.Contains(t, msgr.last(t), "'yes' or 'no'")
}

func TestConflictEntersResolutionWithAlternatives(t *testing.T) {
	cal := &fakeCalendar{busy: conflictSet()}
	cls := &fakeClassifier{}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)

	conv := m.pending(testChat)
	assert.Equal(t, "Team sync", conv.summary)
	assert.Len(t, conv.conflicts, 1)
	assert.NotEmpty(t, conv.alternatives)
	assert.False(t, conv.unverified)
	assert.Contains(t, msgr.last(t), "scheduling conflict")
	assert.Contains(t, msgr.last(t), "alternative times")
}

func TestConflictWithUnreadableCalendarUsesFallbackSlots(t *testing.T) {
	cal := &fakeCalendar{listErr: errors.New("calendar down")}
	cls := &fakeClassifier{}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)

	conv := m.pending(testChat)
	assert.True(t, conv.unverified)
	require.Len(t, conv.alternatives, 3, "10am request keeps all heuristic candidates")
	assert.Contains(t, msgr.last(t), "couldn't verify")
}

func TestResolutionCancel(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveCancel}}
	m, msgr, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "forget it")

	assert.Nil(t, m.pending(testChat))
	assert.Contains(t, hist.outcomes, models.OutcomeCancelled)
	assert.Contains(t, msgr.last(t), "cancelled")
}

func TestResolutionOverrideSkipsConflictCheck(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveOverride}}
	m, msgr, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "create it anyway")

	action := cal.lastExecuted(t)
	assert.True(t, action.BoolParam("skip_conflict_check"))
	assert.Nil(t, m.pending(testChat))
	assert.Contains(t, hist.outcomes, models.OutcomeOverridden)
	assert.Contains(t, msgr.last(t), "despite the conflicts")
}

func TestResolutionSuggestedSlotRewritesAction(t *testing.T) {
	cal := &fakeCalendar{busy: conflictSet()}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveRescheduleSuggested, SuggestedIndex: 0}}
	m, _, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	slot := m.pending(testChat).alternatives[0]

	m.HandleMessage(context.Background(), testChat, "take the first one")

	action := cal.lastExecuted(t)
	assert.Equal(t, slot.Start.Format(time.RFC3339), action.StringParam("start_time"))
	assert.Equal(t, slot.End.Format(time.RFC3339), action.StringParam("end_time"))
	assert.True(t, action.BoolParam("skip_conflict_check"), "verified slots skip the re-check")
	assert.Nil(t, m.pending(testChat))
	assert.Contains(t, hist.outcomes, models.OutcomeRescheduled)
}

func TestResolutionSuggestedInvalidIndexReprompts(t *testing.T) {
	cal := &fakeCalendar{busy: conflictSet()}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveRescheduleSuggested, SuggestedIndex: 99}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	executedBefore := len(cal.executed)

	m.HandleMessage(context.Background(), testChat, "the ninety-ninth one")

	assert.Len(t, cal.executed, executedBefore)
	require.NotNil(t, m.pending(testChat))
	assert.Contains(t, msgr.last(t), "which of the suggested times")
}

func TestResolutionUnverifiedSuggestionKeepsConflictCheck(t *testing.T) {
	cal := &fakeCalendar{listErr: errors.New("calendar down")}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveRescheduleSuggested, SuggestedIndex: 0}}
	m, _, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "the first one")

	action := cal.lastExecuted(t)
	assert.False(t, action.BoolParam("skip_conflict_check"), "unverified fallback slots must be re-checked")
}

func TestResolutionCustomTimeFree(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{
		resolution:   &models.Resolution{Intent: models.ResolveRescheduleCustom, CustomTime: "2pm"},
		extractStart: at(14, 0),
		extractEnd:   at(15, 0),
	}
	m, _, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "move it to 2pm")

	action := cal.lastExecuted(t)
	assert.Equal(t, at(14, 0).Format(time.RFC3339), action.StringParam("start_time"))
	assert.True(t, action.BoolParam("skip_conflict_check"))
	assert.Nil(t, m.pending(testChat))
	assert.Contains(t, hist.outcomes, models.OutcomeRescheduled)
}

func TestResolutionCustomTimeStillConflicts(t *testing.T) {
	newConflicts := []models.BusyInterval{{ID: "busy2", Summary: "Review", Start: at(14, 0), End: at(15, 0)}}
	cal := &fakeCalendar{}
	cls := &fakeClassifier{
		resolution:   &models.Resolution{Intent: models.ResolveRescheduleCustom, CustomTime: "2pm"},
		extractStart: at(14, 0),
		extractEnd:   at(15, 0),
	}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	executedBefore := len(cal.executed)
	cal.conflicts = newConflicts

	m.HandleMessage(context.Background(), testChat, "move it to 2pm")

	assert.Len(t, cal.executed, executedBefore, "a conflicting custom time must not execute")
	conv := m.pending(testChat)
	require.NotNil(t, conv)
	assert.Equal(t, newConflicts, conv.conflicts, "conflicts are replaced by the new ones")
	require.Len(t, conv.alternatives, 1)
	assert.True(t, conv.alternatives[0].Start.Equal(at(14, 0)))
	assert.Contains(t, msgr.last(t), "also has conflicts")
}

func TestResolutionCustomTimeNotUnderstood(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{
		resolution: &models.Resolution{Intent: models.ResolveRescheduleCustom, CustomTime: "whenever"},
		extractErr: errors.New("no time found"),
	}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "whenever works")

	require.NotNil(t, m.pending(testChat))
	assert.Contains(t, msgr.last(t), "couldn't understand the time")
}

func TestResolutionUnclearShowsMenu(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveUnclear}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "what do you mean")

	require.NotNil(t, m.pending(testChat))
	assert.Contains(t, msgr.last(t), "reschedule")
	assert.Contains(t, msgr.last(t), "create anyway")
}

func TestResolutionClassifierFailureTreatedAsUnclear(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{resolutionErr: errors.New("llm timeout")}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	m.HandleMessage(context.Background(), testChat, "mumble")

	require.NotNil(t, m.pending(testChat), "classification failures keep the negotiation alive")
	assert.Contains(t, msgr.last(t), "not sure what you'd like to do")
}

func TestExecutionErrorRetainsState(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{resolution: &models.Resolution{Intent: models.ResolveOverride}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(false)})

	enterResolution(t, m, cal, cls)
	cal.execQueue = []execResponse{{err: errors.New("api unavailable")}}

	m.HandleMessage(context.Background(), testChat, "create it anyway")

	require.NotNil(t, m.pending(testChat), "execution errors keep the negotiation for a retry")
	assert.Contains(t, msgr.last(t), "didn't work")

	// The retry succeeds and clears the negotiation
	m.HandleMessage(context.Background(), testChat, "create it anyway")
	assert.Nil(t, m.pending(testChat))
}

func TestStaleNegotiationExpires(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, msgr, hist := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})
	m.ttl = time.Nanosecond

	m.HandleMessage(context.Background(), testChat, "move my sync to 10")
	require.NotNil(t, m.pending(testChat))
	time.Sleep(time.Millisecond)

	parseCallsBefore := cls.parseCalls
	m.HandleMessage(context.Background(), testChat, "yes")

	assert.Contains(t, hist.outcomes, models.OutcomeExpired)
	assert.Equal(t, parseCallsBefore+1, cls.parseCalls, "the reply is treated as a fresh request")
	for _, sent := range msgr.sent {
		if sent == "yes" {
			t.Fatal("reply must not be echoed")
		}
	}
}

func TestNotActionableIntent(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: &models.Intent{Name: "chitchat"}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{planErr: planner.ErrNotActionable})

	m.HandleMessage(context.Background(), testChat, "how are you?")

	assert.Empty(t, cal.executed)
	assert.Nil(t, m.pending(testChat))
	assert.Contains(t, msgr.last(t), "schedule")
}

func TestAgendaQuery(t *testing.T) {
	cal := &fakeCalendar{busy: conflictSet()}
	cls := &fakeClassifier{intent: &models.Intent{Name: models.IntentListEvents}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{})

	m.HandleMessage(context.Background(), testChat, "what's on my calendar today?")

	assert.Contains(t, msgr.last(t), "Standup")
}

func TestFreeTimeQuery(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: &models.Intent{Name: models.IntentFindFreeTime}}
	m, msgr, _ := newTestManager(cal, cls, &fakePlanner{})

	m.HandleMessage(context.Background(), testChat, "when am I free today?")

	assert.Contains(t, msgr.last(t), "Free time")
}

func TestConcurrentChatsGetSeparateNegotiations(t *testing.T) {
	cal := &fakeCalendar{}
	cls := &fakeClassifier{intent: scheduleIntent()}
	m, _, _ := newTestManager(cal, cls, &fakePlanner{plan: createPlan(true)})

	var wg sync.WaitGroup
	for chat := int64(1); chat <= 5; chat++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			m.HandleMessage(context.Background(), chatID, "move my sync to 10")
		}(chat)
	}
	wg.Wait()

	for chat := int64(1); chat <= 5; chat++ {
		conv := m.pending(chat)
		require.NotNil(t, conv, "chat %d", chat)
		assert.Equal(t, modeAwaitingVerification, conv.mode)
	}
}
