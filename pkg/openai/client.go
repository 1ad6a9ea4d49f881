package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/timeutil"
	"github.com/sashabaranov/go-openai"
)

// ClassificationError reports a classifier failure or malformed output.
// Callers treat it the same as an unclear reply.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Client represents an OpenAI API client
type Client struct {
	client     *openai.Client
	model      string
	normalizer *timeutil.Normalizer
	logger     *logger.Logger
}

// New creates a new OpenAI client
func New(apiKey, apiBase, model string, normalizer *timeutil.Normalizer) *Client {
	config := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		config.BaseURL = apiBase
	}

	client := openai.NewClientWithConfig(config)
	return &Client{
		client:     client,
		model:      model,
		normalizer: normalizer,
		logger:     logger.New("openai"),
	}
}

// ParseIntent turns a free-text scheduling request into a structured intent
func (c *Client) ParseIntent(ctx context.Context, message string) (*models.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	loc := c.normalizer.Location()
	now := time.Now().In(loc)
	tomorrow := now.AddDate(0, 0, 1)

	systemMessage := fmt.Sprintf(`You are a message parser that extracts scheduling intents and entities from natural language.

CONTEXT:
- Today's date: %s (a %s)
- Tomorrow's date: %s (a %s)
- Current time: %s
- User timezone: %s

RULES:
1. When the user says "tomorrow", they mean %s
2. When the user says "today", they mean %s
3. All times must be returned in ISO 8601 format with a timezone offset
4. Default meeting duration is 1 hour
5. intent must be one of: schedule_event, reschedule_event, cancel_event, list_events, find_free_time, general_query`,
		now.Format("2006-01-02"), now.Format("Monday"),
		tomorrow.Format("2006-01-02"), tomorrow.Format("Monday"),
		now.Format("15:04 MST"), loc.String(),
		tomorrow.Format("2006-01-02"), now.Format("2006-01-02"))

	prompt := fmt.Sprintf(`Parse this message: %q

Return only a JSON object of this shape, no other text:
{
  "intent": "schedule_event",
  "entities": {
    "summary": "Event title",
    "start_time_iso": "start time in ISO format with timezone",
    "end_time_iso": "end time in ISO format with timezone (1 hour after start if not specified)",
    "location": "location if mentioned",
    "description": "additional details if any",
    "duration_hours": 1
  },
  "confidence": 0.9
}`, message)

	c.logger.Info("Parsing intent from message")
	c.logger.Debug("Message (first 100 chars): %s", truncateString(message, 100))

	content, err := c.complete(ctx, systemMessage, prompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	var intent models.Intent
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &intent); err != nil {
		c.logger.Error("Failed to parse intent response: %v, Content: %s", err, content)
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	c.fillMissingTimes(&intent)
	c.logger.Info("Parsed intent %s (confidence %.2f)", intent.Name, intent.Confidence)
	return &intent, nil
}

// ClassifyResolution classifies a free-text reply during conflict resolution
// into one of the resolution intents. Failures are returned as
// *ClassificationError so callers can treat them as unclear.
func (c *Client) ClassifyResolution(ctx context.Context, reply, summary string, conflicts []models.BusyInterval, alternatives []models.FreeSlot) (*models.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	loc := c.normalizer.Location()

	var offered strings.Builder
	for i, alt := range alternatives {
		fmt.Fprintf(&offered, "%d. %s\n", i+1, timeutil.FormatTimeRange(alt.Start, alt.End, loc))
	}

	systemMessage := `You are resolving a calendar scheduling conflict. Analyze the user's reply to determine their intent.

Understand natural replies like:
- "reschedule to 9am" or "move it to 9am tomorrow"
- "cancel" or "forget it"
- "create anyway" or "ignore the conflict"
- "use the first suggestion" or "option 1"`

	prompt := fmt.Sprintf(`The user wanted to schedule: %s

Conflicts found: %d existing events

Alternative times offered:
%s
User's reply: %q

Return only a JSON object, no other text:
{
  "intent": "one of reschedule_to_suggested, reschedule_to_custom, override_conflicts, cancel, unclear",
  "suggested_time_index": 0,
  "custom_time": "the time text if the user suggested their own time"
}
suggested_time_index is the 0-based index of the chosen alternative.`,
		summary, len(conflicts), offered.String(), reply)

	c.logger.Info("Classifying conflict-resolution reply")

	content, err := c.complete(ctx, systemMessage, prompt, 0.2)
	if err != nil {
		return nil, &ClassificationError{Err: err}
	}

	var resolution models.Resolution
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &resolution); err != nil {
		c.logger.Error("Failed to parse resolution response: %v, Content: %s", err, content)
		return nil, &ClassificationError{Err: err}
	}

	switch resolution.Intent {
	case models.ResolveRescheduleSuggested, models.ResolveRescheduleCustom,
		models.ResolveOverride, models.ResolveCancel, models.ResolveUnclear:
	default:
		c.logger.Warn("Classifier returned unknown intent %q, treating as unclear", resolution.Intent)
		resolution.Intent = models.ResolveUnclear
	}

	c.logger.Info("Classified reply as %s", resolution.Intent)
	return &resolution, nil
}

// ExtractTimeRange extracts a concrete start/end pair from a free-text time
// fragment. The contract is deliberately narrow: only the time is
// interpreted, against the given reference instant, and the returned range
// has the given duration when the text names no end.
func (c *Client) ExtractTimeRange(ctx context.Context, text string, reference time.Time, duration time.Duration) (time.Time, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	loc := c.normalizer.Location()
	ref := reference.In(loc)
	tomorrow := ref.AddDate(0, 0, 1)

	systemMessage := fmt.Sprintf(`You extract a single date and time from a short text fragment. Do not interpret anything except the time.

CONTEXT:
- Reference date: %s (a %s)
- "tomorrow" means %s
- User timezone: %s
- Times without a date are on the reference date`,
		ref.Format("2006-01-02"), ref.Format("Monday"),
		tomorrow.Format("2006-01-02"), loc.String())

	prompt := fmt.Sprintf(`Time fragment: %q

Return only a JSON object, no other text:
{
  "start_time_iso": "start time in ISO format with timezone",
  "end_time_iso": "end time in ISO format with timezone, or empty if the fragment names no end"
}`, text)

	c.logger.Info("Extracting time range from fragment")

	content, err := c.complete(ctx, systemMessage, prompt, 0.1)
	if err != nil {
		return time.Time{}, time.Time{}, &ClassificationError{Err: err}
	}

	var extracted struct {
		Start string `json:"start_time_iso"`
		End   string `json:"end_time_iso"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &extracted); err != nil {
		c.logger.Error("Failed to parse time extraction response: %v, Content: %s", err, content)
		return time.Time{}, time.Time{}, &ClassificationError{Err: err}
	}

	start, err := c.normalizer.Parse(extracted.Start)
	if err != nil {
		return time.Time{}, time.Time{}, &ClassificationError{Err: err}
	}

	var end time.Time
	if extracted.End != "" {
		end, err = c.normalizer.Parse(extracted.End)
		if err != nil {
			return time.Time{}, time.Time{}, &ClassificationError{Err: err}
		}
	}
	if end.IsZero() || !end.After(start) {
		end = start.Add(duration)
	}

	return start, end, nil
}

// GenerateReply generates a short user-facing message for an intent with
// the given context data
func (c *Client) GenerateReply(ctx context.Context, intent string, contextData map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	contextJSON, err := json.Marshal(contextData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}

	prompt := fmt.Sprintf(`You are a friendly scheduling assistant. Generate a short, engaging message for the following intent: %q.
Use the context provided below to personalize the message. Keep it concise and mobile-friendly.
Add appropriate emojis for readability.

Context:
%s

Return only the message text, no explanations or other text.`, intent, string(contextJSON))

	c.logger.Info("Generating reply for intent: %s", intent)

	content, err := c.complete(ctx, "", prompt, 0.7)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	return content, nil
}

// fillMissingTimes derives an end time from the start and duration when the
// parser left it out
func (c *Client) fillMissingTimes(intent *models.Intent) {
	entities := &intent.Entities
	if entities.StartTime == "" || entities.EndTime != "" {
		return
	}

	start, err := c.normalizer.Parse(entities.StartTime)
	if err != nil {
		return
	}
	hours := entities.DurationHours
	if hours <= 0 {
		hours = 1
	}
	end := start.Add(time.Duration(hours * float64(time.Hour)))
	entities.EndTime = end.Format(time.RFC3339)
}

// complete runs one chat completion and returns the raw content
func (c *Client) complete(ctx context.Context, systemMessage, prompt string, temperature float32) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if systemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemMessage,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI API")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("OpenAI response (first 100 chars): %s", truncateString(content, 100))
	return content, nil
}

// Helper functions

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// cleanJSONResponse cleans up the JSON response from OpenAI
// Sometimes the model returns markdown code blocks with ```json and ``` delimiters
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		firstLineEnd := strings.Index(s, "\n")
		if firstLineEnd != -1 {
			s = s[firstLineEnd+1:]
		}

		if strings.HasSuffix(s, "```") {
			s = s[:len(s)-3]
		}

		s = strings.TrimSpace(s)
	}

	return s
}
