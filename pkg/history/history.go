package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/storage"
)

// maxRecords bounds the per-chat negotiation log
const maxRecords = 50

// Tracker records how scheduling negotiations ended
type Tracker struct {
	store  *storage.Store
	logger *logger.Logger
}

// New creates a new negotiation history tracker
func New(store *storage.Store) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.New("history"),
	}
}

func historyKey(chatID int64) string {
	return fmt.Sprintf("history:%d", chatID)
}

// RecordOutcome appends one negotiation record to a chat's log, trimming the
// oldest entries past the cap. Recording failures are logged, not returned;
// the negotiation itself already succeeded or failed on its own terms.
func (t *Tracker) RecordOutcome(chatID int64, summary, outcome string, conflicts int) {
	records, err := t.Outcomes(chatID)
	if err != nil {
		t.logger.Error("Failed to load history for chat %d: %v", chatID, err)
		records = nil
	}

	records = append(records, models.NegotiationRecord{
		ChatID:     chatID,
		Summary:    summary,
		Outcome:    outcome,
		Conflicts:  conflicts,
		ResolvedAt: time.Now(),
	})
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}

	if err := t.store.Set(historyKey(chatID), records); err != nil {
		t.logger.Error("Failed to save history for chat %d: %v", chatID, err)
		return
	}
	t.logger.Info("Recorded %s outcome for chat %d", outcome, chatID)
}

// Outcomes returns a chat's negotiation log, oldest first
func (t *Tracker) Outcomes(chatID int64) ([]models.NegotiationRecord, error) {
	var records []models.NegotiationRecord
	err := t.store.Get(historyKey(chatID), &records)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}
