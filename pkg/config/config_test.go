package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123456:test-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GOOGLE_CREDENTIALS_PATH", "/tmp/creds.json")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.CalendarID)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, "Africa/Casablanca", cfg.TimezoneName)
	assert.Equal(t, 9, cfg.BusinessStart)
	assert.Equal(t, 18, cfg.BusinessEnd)
	assert.Equal(t, 10*time.Minute, cfg.DialogTTL)
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestLoadFromEnvMissingRequired(t *testing.T) {
	tests := []string{"BOT_TOKEN", "OPENAI_API_KEY", "GOOGLE_CREDENTIALS_PATH"}

	for _, missing := range tests {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("BUSINESS_START", "8")
	t.Setenv("BUSINESS_END", "16")
	t.Setenv("DIALOG_TTL_MINUTES", "5")
	t.Setenv("GOOGLE_CALENDAR_ID", "work@example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, 8, cfg.BusinessStart)
	assert.Equal(t, 16, cfg.BusinessEnd)
	assert.Equal(t, 5*time.Minute, cfg.DialogTTL)
	assert.Equal(t, "work@example.com", cfg.CalendarID)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TIMEZONE", "Not/AZone")
	_, err := LoadFromEnv()
	assert.Error(t, err)

	setRequiredEnv(t)
	t.Setenv("TIMEZONE", "")
	t.Setenv("BUSINESS_START", "18")
	t.Setenv("BUSINESS_END", "9")
	_, err = LoadFromEnv()
	assert.Error(t, err)

	setRequiredEnv(t)
	t.Setenv("BUSINESS_START", "")
	t.Setenv("BUSINESS_END", "")
	t.Setenv("DIALOG_TTL_MINUTES", "soon")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}
