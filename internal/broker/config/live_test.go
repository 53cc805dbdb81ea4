package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestLiveReloadAppliesHotFieldsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()
	cfg.DatastoreDSN = "postgres://static-should-not-change"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	live := NewLive(path, cfg)

	var notified Config
	live.OnReload(func(c Config) { notified = c })

	updated := Default()
	updated.DatastoreDSN = "postgres://if-this-leaks-in-its-a-bug"
	updated.AuditRetentionDays = 7
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save updated: %v", err)
	}

	if err := live.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	got := live.Get()
	if got.DatastoreDSN != "postgres://static-should-not-change" {
		t.Fatalf("static field changed on reload: %q", got.DatastoreDSN)
	}
	if got.AuditRetentionDays != 7 {
		t.Fatalf("hot-reloadable field did not apply: %d", got.AuditRetentionDays)
	}
	if notified.AuditRetentionDays != 7 {
		t.Fatal("reload callback was not invoked with the new snapshot")
	}
}

func TestLiveCORSAccessors(t *testing.T) {
	cfg := Default()
	cfg.CORSAllowedOrigins = []string{"https://example.com"}
	live := NewLive("", cfg)

	if got := live.CORSOrigins(); len(got) != 1 || got[0] != "https://example.com" {
		t.Fatalf("unexpected CORS origins: %v", got)
	}
	if got := live.CORSMethods(); len(got) == 0 {
		t.Fatal("expected default CORS methods")
	}
}

func TestLiveDiagnosticMaxAgeReflectsReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Default()
	cfg.DiagnosticMaxAgeSeconds = 60
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	live := NewLive(path, cfg)
	if got := live.DiagnosticMaxAge(); got != 60*time.Second {
		t.Fatalf("expected 60s default, got %v", got)
	}

	updated := Default()
	updated.DiagnosticMaxAgeSeconds = 120
	if err := updated.Save(path); err != nil {
		t.Fatalf("Save updated: %v", err)
	}
	if err := live.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := live.DiagnosticMaxAge(); got != 120*time.Second {
		t.Fatalf("expected 120s after reload, got %v", got)
	}
}
