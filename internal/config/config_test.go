package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_PORT", "")
	t.Setenv("SMTP_PORT", "")
	t.Setenv("SMTP_AUTH_ENABLED", "")
	t.Setenv("REPORT_UTC_OFFSET_HOURS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 4000 || cfg.SMTPPort != 2525 {
		t.Errorf("ports: got %d/%d", cfg.HTTPPort, cfg.SMTPPort)
	}
	if cfg.MessagesCollection != "emails" || cfg.SavedCollection != "saved_emails" || cfg.StoreDatabase != "tempmail" {
		t.Errorf("collections: got %+v", cfg)
	}
	if cfg.ReportUTCOffsetHours != 4 {
		t.Errorf("report offset: got %d", cfg.ReportUTCOffsetHours)
	}
	if cfg.SMTPAuthEnabled {
		t.Error("smtp auth must default to off")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tempmail.yaml")
	content := "api_port: 8080\nsaved_collection: grants\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("API_PORT", "9090")
	t.Setenv("SMTP_AUTH_ENABLED", "true")
	t.Setenv("SAVED_COLLECTION", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("env must override file, got port %d", cfg.HTTPPort)
	}
	if cfg.SavedCollection != "grants" {
		t.Errorf("saved collection from file: got %q", cfg.SavedCollection)
	}
	if !cfg.SMTPAuthEnabled {
		t.Error("expected smtp auth enabled from env")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level: got %v", cfg.SlogLevel())
	}
}

func TestLoadRejectsBadOffset(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("REPORT_UTC_OFFSET_HOURS", "20")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range offset")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
