package prefs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/schedulebot/pkg/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, time.UTC, 9, 18)
}

func TestDefaultsWhenNothingStored(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, time.UTC, m.Location(1))
	start, end := m.BusinessHours(1)
	assert.Equal(t, 9, start)
	assert.Equal(t, 18, end)
}

func TestSetTimezone(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetTimezone(1, "Europe/Berlin"))
	assert.Equal(t, "Europe/Berlin", m.Location(1).String())

	// Other chats keep the default
	assert.Equal(t, time.UTC, m.Location(2))
}

func TestSetTimezoneRejectsUnknownZone(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.SetTimezone(1, "Mars/Olympus_Mons"))
	assert.Equal(t, time.UTC, m.Location(1))
}

func TestSetBusinessHours(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetBusinessHours(1, 8, 16))
	start, end := m.BusinessHours(1)
	assert.Equal(t, 8, start)
	assert.Equal(t, 16, end)
}

func TestSetBusinessHoursRejectsBadWindow(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.SetBusinessHours(1, 18, 9))
	assert.Error(t, m.SetBusinessHours(1, -1, 9))
	assert.Error(t, m.SetBusinessHours(1, 9, 25))
}

func TestUpdatesDoNotClobberEachOther(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetTimezone(1, "Europe/Berlin"))
	require.NoError(t, m.SetBusinessHours(1, 8, 16))

	assert.Equal(t, "Europe/Berlin", m.Location(1).String())
	start, end := m.BusinessHours(1)
	assert.Equal(t, 8, start)
	assert.Equal(t, 16, end)
}
