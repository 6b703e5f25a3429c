// Package config loads settings from an optional YAML file and the
// environment. Environment variables always take precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort             int    `yaml:"api_port"`
	SMTPPort             int    `yaml:"smtp_port"`
	SMTPDomain           string `yaml:"smtp_domain"`
	SMTPMaxMessageBytes  int64  `yaml:"smtp_max_message_bytes"`
	SMTPAuthEnabled      bool   `yaml:"smtp_auth_enabled"`
	SMTPUsername         string `yaml:"smtp_username"`
	SMTPPassword         string `yaml:"smtp_password"`
	StoreURL             string `yaml:"store_url"`
	StoreDatabase        string `yaml:"store_db"`
	MessagesCollection   string `yaml:"messages_collection"`
	SavedCollection      string `yaml:"saved_collection"`
	ReportUTCOffsetHours int    `yaml:"report_utc_offset_hours"`
	LogLevel             string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		HTTPPort:             4000,
		SMTPPort:             2525,
		SMTPDomain:           "tempmail",
		SMTPMaxMessageBytes:  25 << 20,
		SMTPAuthEnabled:      false,
		StoreURL:             "",
		StoreDatabase:        "tempmail",
		MessagesCollection:   "emails",
		SavedCollection:      "saved_emails",
		ReportUTCOffsetHours: 4,
		LogLevel:             "info",
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE (if any),
// then environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := getEnvString("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if cfg.ReportUTCOffsetHours < -12 || cfg.ReportUTCOffsetHours > 14 {
		return Config{}, fmt.Errorf("REPORT_UTC_OFFSET_HOURS out of range: %d", cfg.ReportUTCOffsetHours)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("API_PORT", c.HTTPPort)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.SMTPDomain = getEnvString("SMTP_DOMAIN", c.SMTPDomain)
	c.SMTPMaxMessageBytes = int64(getEnvInt("SMTP_MAX_MESSAGE_BYTES", int(c.SMTPMaxMessageBytes)))
	c.SMTPAuthEnabled = getEnvBool("SMTP_AUTH_ENABLED", c.SMTPAuthEnabled)
	c.SMTPUsername = getEnvString("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnvString("SMTP_PASSWORD", c.SMTPPassword)
	c.StoreURL = getEnvString("STORE_URL", c.StoreURL)
	c.StoreDatabase = getEnvString("STORE_DB", c.StoreDatabase)
	c.MessagesCollection = getEnvString("MESSAGES_COLLECTION", c.MessagesCollection)
	c.SavedCollection = getEnvString("SAVED_COLLECTION", c.SavedCollection)
	c.ReportUTCOffsetHours = getEnvInt("REPORT_UTC_OFFSET_HOURS", c.ReportUTCOffsetHours)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
