package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"payment-evidence-backend/internal/logger"
)

// Features are optional capabilities fixed at construction time.
type Features struct {
	// BankCredits enables the bank-notification pass and bank credit review.
	BankCredits bool
	// OCR enables PDF and image text extraction through Google Cloud.
	OCR bool
}

type DatabaseConfig struct {
	Driver string // postgres or sqlite
	DSN    string
}

type MailboxConfig struct {
	// Address is the mailbox we read from and send invoices from.
	Address         string
	CredentialsFile string
	CredentialsJSON string
	// SettingsTTL bounds how long a mailbox address read from app settings is trusted.
	SettingsTTL time.Duration
}

type OCRConfig struct {
	ProjectID             string
	Location              string
	DocumentAIProcessorID string
	Timeout               time.Duration
}

type CollectorConfig struct {
	RulesFile   string
	CallTimeout time.Duration
	MaxMessages int64
}

type Config struct {
	Port           string
	AllowedOrigins []string

	Database  DatabaseConfig
	Mailbox   MailboxConfig
	OCR       OCRConfig
	Collector CollectorConfig
	Features  Features

	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "postgres"),
			DSN:    getEnv("DATABASE_URL", ""),
		},
		Mailbox: MailboxConfig{
			Address:         getEnv("MAILBOX_ADDRESS", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			CredentialsJSON: getEnv("GOOGLE_CREDENTIALS", ""),
			SettingsTTL:     getDuration("SETTINGS_TTL", 5*time.Minute),
		},
		OCR: OCRConfig{
			ProjectID:             getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Location:              getEnv("GOOGLE_CLOUD_LOCATION", "us"),
			DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
			Timeout:               getDuration("OCR_TIMEOUT", 60*time.Second),
		},
		Collector: CollectorConfig{
			RulesFile:   getEnv("COLLECTOR_RULES_FILE", ""),
			CallTimeout: getDuration("COLLECTOR_CALL_TIMEOUT", 20*time.Second),
			MaxMessages: int64(getInt("COLLECTOR_MAX_MESSAGES", 100)),
		},
		Features: Features{
			BankCredits: getBool("FEATURE_BANK_CREDITS", true),
			OCR:         getBool("FEATURE_OCR", false),
		},
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.DSN == "" {
			c.Database.DSN = "file:payments.db?_pragma=busy_timeout(5000)"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Features.OCR && c.OCR.ProjectID == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when FEATURE_OCR is enabled")
	}
	if c.Collector.CallTimeout <= 0 {
		return fmt.Errorf("COLLECTOR_CALL_TIMEOUT must be positive")
	}
	return nil
}

// MailboxConfigured reports whether enough is known to talk to Gmail.
func (c *Config) MailboxConfigured() bool {
	return c.Mailbox.Address != "" && (c.Mailbox.CredentialsFile != "" || c.Mailbox.CredentialsJSON != "")
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
