package prefs

import (
	"errors"
	"fmt"
	"time"

	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/models"
	"github.com/korjavin/schedulebot/pkg/storage"
)

// Manager stores per-requester scheduling preferences
type Manager struct {
	store  *storage.Store
	logger *logger.Logger

	defaultLoc   *time.Location
	defaultStart int
	defaultEnd   int
}

// New creates a new preferences manager with deployment-wide defaults
func New(store *storage.Store, defaultLoc *time.Location, defaultStart, defaultEnd int) *Manager {
	return &Manager{
		store:        store,
		logger:       logger.New("prefs"),
		defaultLoc:   defaultLoc,
		defaultStart: defaultStart,
		defaultEnd:   defaultEnd,
	}
}

func prefsKey(chatID int64) string {
	return fmt.Sprintf("prefs:%d", chatID)
}

// Get returns the stored preferences for a chat, or zero preferences when
// none were saved yet
func (m *Manager) Get(chatID int64) (models.Preferences, error) {
	var p models.Preferences
	err := m.store.Get(prefsKey(chatID), &p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Preferences{ChatID: chatID}, nil
		}
		return models.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	return p, nil
}

// SetTimezone stores a chat's timezone after validating it against the tz
// database
func (m *Manager) SetTimezone(chatID int64, name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", name, err)
	}

	p, err := m.Get(chatID)
	if err != nil {
		return err
	}
	p.ChatID = chatID
	p.Timezone = name
	p.UpdatedAt = time.Now()

	if err := m.store.Set(prefsKey(chatID), p); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	m.logger.Info("Set timezone for chat %d to %s", chatID, name)
	return nil
}

// SetBusinessHours stores a chat's business-hours window
func (m *Manager) SetBusinessHours(chatID int64, startHour, endHour int) error {
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return fmt.Errorf("invalid business hours %d..%d", startHour, endHour)
	}

	p, err := m.Get(chatID)
	if err != nil {
		return err
	}
	p.ChatID = chatID
	p.BusinessStart = startHour
	p.BusinessEnd = endHour
	p.UpdatedAt = time.Now()

	if err := m.store.Set(prefsKey(chatID), p); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	m.logger.Info("Set business hours for chat %d to %d..%d", chatID, startHour, endHour)
	return nil
}

// Location resolves a chat's timezone, falling back to the deployment zone
func (m *Manager) Location(chatID int64) *time.Location {
	p, err := m.Get(chatID)
	if err != nil || p.Timezone == "" {
		return m.defaultLoc
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		m.logger.Warn("Stored timezone %q no longer loads, using default: %v", p.Timezone, err)
		return m.defaultLoc
	}
	return loc
}

// BusinessHours resolves a chat's business-hours window, falling back to the
// deployment defaults
func (m *Manager) BusinessHours(chatID int64) (int, int) {
	p, err := m.Get(chatID)
	if err != nil || p.BusinessEnd == 0 {
		return m.defaultStart, m.defaultEnd
	}
	return p.BusinessStart, p.BusinessEnd
}
