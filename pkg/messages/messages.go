package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/timeutil"
)

// Generator phrases a user-facing message for an intent; the openai client
// implements it
type Generator interface {
	GenerateReply(ctx context.Context, intent string, contextData map[string]interface{}) (string, error)
}

// Service builds the user-facing texts of the bot. Prompts that drive the
// negotiation are deterministic; decorative messages go through the LLM
// with a deterministic fallback.
type Service struct {
	gen    Generator
	loc    *time.Location
	logger *logger.Logger
}

// New creates a new message service
func New(gen Generator, loc *time.Location) *Service {
	return &Service{
		gen:    gen,
		loc:    loc,
		logger: logger.New("messages"),
	}
}

// Welcome generates a welcome message
func (s *Service) Welcome(ctx context.Context) string {
	msg, err := s.gen.GenerateReply(ctx, "welcome", map[string]interface{}{
		"purpose": "Help the user schedule, move and cancel calendar events from chat",
	})
	if err != nil {
		s.logger.Error("Failed to generate welcome message: %v", err)
		return "👋 Hi! I'm your scheduling assistant. Tell me things like \"schedule a meeting with Sara tomorrow at 3pm\" and I'll take care of your calendar."
	}
	return msg
}

// Thinking is the immediate acknowledgement before a fresh request is
// processed
func (s *Service) Thinking() string {
	return "🤔 Thinking about your request..."
}

// VerificationPrompt asks the requester to confirm a pending plan
func (s *Service) VerificationPrompt(planSummary string) string {
	return fmt.Sprintf("I'll help you with this. Here's what I'm planning to do:\n\n%s\n\nWould you like me to proceed? (yes/no)", planSummary)
}

// UnclearVerification re-prompts when a verification reply was neither yes
// nor no
func (s *Service) UnclearVerification() string {
	return "I'm not sure if that's a yes or a no. Please respond with 'yes' or 'no'."
}

// Cancelled confirms a cancelled negotiation
func (s *Service) Cancelled() string {
	return "✅ No problem! I've cancelled that. Let me know if you need anything else."
}

// ConflictPrompt lists the conflicting events and offered alternatives and
// asks the requester what to do. When unverified is set the alternatives
// came from the heuristic fallback and are labelled accordingly.
func (s *Service) ConflictPrompt(summary string, conflicts []models.BusyInterval, alternatives []models.FreeSlot, unverified bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found a scheduling conflict with your '%s'.\n\n", summary)

	b.WriteString("*Existing events at that time:*\n")
	for i, c := range conflicts {
		fmt.Fprintf(&b, "%d. %s at %s\n", i+1, c.Summary, timeutil.FormatDateTime(c.Start, s.loc))
	}

	if len(alternatives) > 0 {
		if unverified {
			b.WriteString("\n*I couldn't verify your calendar, but these times are usually good:*\n")
		} else {
			b.WriteString("\n*Here are some available alternative times:*\n")
		}
		for i, alt := range alternatives {
			fmt.Fprintf(&b, "%d. %s\n", i+1, timeutil.FormatTimeRange(alt.Start, alt.End, s.loc))
		}
	}

	b.WriteString("\n*What would you like to do?*\n")
	b.WriteString(s.resolutionOptions())
	return b.String()
}

// ResolutionMenu re-prompts with the valid replies during conflict
// resolution
func (s *Service) ResolutionMenu() string {
	return "I'm not sure what you'd like to do. You can:\n" + s.resolutionOptions()
}

func (s *Service) resolutionOptions() string {
	return "• Say 'reschedule to 9am' (or pick a numbered suggestion)\n" +
		"• Say 'cancel' to cancel\n" +
		"• Say 'create anyway' to ignore conflicts"
}

// InvalidSuggestionIndex re-prompts when the chosen alternative does not
// exist
func (s *Service) InvalidSuggestionIndex() string {
	return "I'm not sure which of the suggested times you meant. Could you be more specific?"
}

// CustomTimeStillConflicts reports that a proposed custom time collides too
func (s *Service) CustomTimeStillConflicts(start, end time.Time, conflicts []models.BusyInterval) string {
	return fmt.Sprintf("The time you suggested (%s) also has conflicts with %d existing events. Would you like to try a different time or create it anyway?",
		timeutil.FormatTimeRange(start, end, s.loc), len(conflicts))
}

// CustomTimeNotUnderstood asks the requester to rephrase a time fragment
func (s *Service) CustomTimeNotUnderstood() string {
	return "I couldn't understand the time you suggested. Could you try saying it differently? For example: 'reschedule to tomorrow at 2pm'."
}

// ExecutionSuccess announces a successfully scheduled event
func (s *Service) ExecutionSuccess(ctx context.Context, summary string, start, end time.Time, location string) string {
	msg, err := s.gen.GenerateReply(ctx, "event_scheduled", map[string]interface{}{
		"summary":  summary,
		"date":     timeutil.FormatDate(start, s.loc),
		"time":     timeutil.FormatTimeRange(start, end, s.loc),
		"location": location,
	})
	if err == nil {
		return msg
	}
	s.logger.Error("Failed to generate success message: %v", err)

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Done! I've scheduled your event:\n\n*%s*\n📅 %s\n🕐 %s\n",
		summary, timeutil.FormatDate(start, s.loc), timeutil.FormatTimeRange(start, end, s.loc))
	if location != "" {
		fmt.Fprintf(&b, "📍 %s\n", location)
	}
	b.WriteString("\nAnything else I can help you with?")
	return b.String()
}

// OverrideSuccess confirms that an event was created despite conflicts
func (s *Service) OverrideSuccess(summary string) string {
	return fmt.Sprintf("✅ Created your event '%s' despite the conflicts. You now have overlapping events at that time.", summary)
}

// ExecutionFailure reports an execution error so the requester can retry,
// cancel, or try something else
func (s *Service) ExecutionFailure(errText string) string {
	return fmt.Sprintf("❌ Sorry, that didn't work: %s\n\nYou can try again, say 'cancel', or try a different time.", errText)
}

// ProcessingError reports a failure while interpreting a fresh request
func (s *Service) ProcessingError(errText string) string {
	return fmt.Sprintf("I encountered an error while processing your request: %s\n\nPlease try again with a different request.", errText)
}

// NotActionable nudges the requester towards a schedulable request
func (s *Service) NotActionable() string {
	return "I can help you schedule, move or cancel calendar events. Try something like \"schedule lunch with Alex tomorrow at noon\"."
}

// Expired tells the requester a stale negotiation was dropped
func (s *Service) Expired() string {
	return "Our previous conversation timed out, so I've discarded it. Could you tell me again what you'd like to schedule?"
}

// Agenda formats a day's events
func (s *Service) Agenda(day time.Time, events []models.BusyInterval) string {
	if len(events) == 0 {
		return fmt.Sprintf("🗓 Your calendar is clear on %s.", timeutil.FormatDate(day, s.loc))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗓 Your agenda for %s:\n", timeutil.FormatDate(day, s.loc))
	for _, e := range events {
		fmt.Fprintf(&b, "• %s — %s\n", timeutil.FormatTimeRange(e.Start, e.End, s.loc), e.Summary)
	}
	return b.String()
}

// FreeSlots formats a day's free gaps
func (s *Service) FreeSlots(day time.Time, slots []models.FreeSlot) string {
	if len(slots) == 0 {
		return fmt.Sprintf("😬 I couldn't find any free time on %s.", timeutil.FormatDate(day, s.loc))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🕐 Free time on %s:\n", timeutil.FormatDate(day, s.loc))
	for _, slot := range slots {
		fmt.Fprintf(&b, "• %s (%d min)\n",
			timeutil.FormatTimeRange(slot.Start, slot.End, s.loc), int(slot.Duration.Minutes()))
	}
	return b.String()
}
