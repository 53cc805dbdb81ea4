package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr == "" {
		t.Fatal("expected a default listen addr")
	}
	if cfg.WebhookDeliveryBatchSize != 50 {
		t.Fatalf("expected default batch size 50, got %d", cfg.WebhookDeliveryBatchSize)
	}
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brokkr.json")
	if err := os.WriteFile(path, []byte(`{"listen_addr":":9090","log_level":"debug"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BROKKR_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected file value :9090, got %s", cfg.ListenAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env override warn, got %s", cfg.LogLevel)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Fatal("expected defaults when file is absent")
	}
}

func TestApplyHotReloadablePreservesStatic(t *testing.T) {
	cfg := Default()
	cfg.DatastoreDSN = "postgres://original"
	cfg.WebhookEncryptionKey = "original-key"

	reloaded := Default()
	reloaded.DatastoreDSN = "postgres://attacker-supplied"
	reloaded.LogLevel = "debug"
	reloaded.AuditRetentionDays = 7

	cfg.ApplyHotReloadable(reloaded)

	if cfg.DatastoreDSN != "postgres://original" {
		t.Fatal("static field must not change on reload")
	}
	if cfg.WebhookEncryptionKey != "original-key" {
		t.Fatal("static field must not change on reload")
	}
	if cfg.LogLevel != "debug" || cfg.AuditRetentionDays != 7 {
		t.Fatal("hot-reloadable fields should have been applied")
	}
}
