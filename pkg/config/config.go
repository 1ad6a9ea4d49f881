package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Telegram Bot configuration
	BotToken string

	// OpenAI configuration
	OpenAIAPIBase string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Google Calendar configuration
	GoogleCredentialsPath string
	CalendarID            string

	// Scheduling configuration
	TimezoneName  string
	Location      *time.Location
	BusinessStart int // hour, local time
	BusinessEnd   int // hour, local time
	DialogTTL     time.Duration

	// Storage configuration
	DataDir string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{}

	// Required configurations
	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable is required")
	}
	cfg.BotToken = botToken

	openAIAPIKey := os.Getenv("OPENAI_API_KEY")
	if openAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	cfg.OpenAIAPIKey = openAIAPIKey

	cfg.GoogleCredentialsPath = os.Getenv("GOOGLE_CREDENTIALS_PATH")
	if cfg.GoogleCredentialsPath == "" {
		return nil, fmt.Errorf("GOOGLE_CREDENTIALS_PATH environment variable is required")
	}
	cfg.CalendarID = getEnvWithDefault("GOOGLE_CALENDAR_ID", "primary")

	// Optional configurations with defaults
	cfg.OpenAIAPIBase = getEnvWithDefault("OPENAI_API_BASE", "https://api.openai.com/v1")
	cfg.OpenAIModel = getEnvWithDefault("OPENAI_MODEL", "gpt-4o-mini")

	cfg.TimezoneName = getEnvWithDefault("TIMEZONE", "Africa/Casablanca")
	cfg.Location, err = time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.TimezoneName, err)
	}

	cfg.BusinessStart, err = getEnvInt("BUSINESS_START", 9)
	if err != nil {
		return nil, err
	}
	cfg.BusinessEnd, err = getEnvInt("BUSINESS_END", 18)
	if err != nil {
		return nil, err
	}
	if cfg.BusinessStart >= cfg.BusinessEnd {
		return nil, fmt.Errorf("BUSINESS_START (%d) must be before BUSINESS_END (%d)", cfg.BusinessStart, cfg.BusinessEnd)
	}

	ttlMinutes, err := getEnvInt("DIALOG_TTL_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.DialogTTL = time.Duration(ttlMinutes) * time.Minute

	cfg.DataDir = getEnvWithDefault("DATA_DIR", "./data")

	// Log configuration with sensitive data redacted
	logCfg := *cfg
	if len(logCfg.BotToken) > 8 {
		logCfg.BotToken = logCfg.BotToken[:8] + "...REDACTED..."
	}
	if len(logCfg.OpenAIAPIKey) > 8 {
		logCfg.OpenAIAPIKey = logCfg.OpenAIAPIKey[:8] + "...REDACTED..."
	}
	log.Printf("Configuration loaded: %+v", logCfg)
	return cfg, nil
}

// getEnvWithDefault returns the value of the environment variable or the default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt returns an integer environment variable or the default value
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}
