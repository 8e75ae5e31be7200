package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("CLUBSYNC_BASE_URL", "https://club.example.com")
	t.Setenv("CLUBSYNC_DRAIN_DEBOUNCE", "250ms")
	t.Setenv("CLUBSYNC_MIN_EVENT_SYNC_INTERVAL", "5m")
	t.Setenv("CLUBSYNC_STORAGE_BACKEND", "SQLite")
	t.Setenv("CLUBSYNC_CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := LoadClientConfigFromEnv(Defaults())
	if err != nil {
		t.Fatalf("LoadClientConfigFromEnv() err=%v", err)
	}
	if cfg.BaseURL != "https://club.example.com" {
		t.Fatalf("BaseURL=%q", cfg.BaseURL)
	}
	if cfg.DrainDebounce != 250*time.Millisecond {
		t.Fatalf("DrainDebounce=%v, want 250ms", cfg.DrainDebounce)
	}
	if cfg.MinEventSyncInterval != 5*time.Minute {
		t.Fatalf("MinEventSyncInterval=%v, want 5m", cfg.MinEventSyncInterval)
	}
	if cfg.StorageBackend != StorageSQLite {
		t.Fatalf("StorageBackend=%q, want %q", cfg.StorageBackend, StorageSQLite)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("CORSOrigins=%v", cfg.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestLoadClientConfigFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("CLUBSYNC_HTTP_TIMEOUT", "soon")

	if _, err := LoadClientConfigFromEnv(Defaults()); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoadFile_OverlaysOnlyPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clubsync.toml")
	data := []byte(`
base_url = "https://club.example.com"
drain_debounce = "2s"
storage_backend = "postgres"
database_url = "postgres://localhost/club"
cors_origins = ["http://localhost:3000"]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path, Defaults())
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if cfg.DrainDebounce != 2*time.Second {
		t.Fatalf("DrainDebounce=%v, want 2s", cfg.DrainDebounce)
	}
	if cfg.HTTPTimeout != Defaults().HTTPTimeout {
		t.Fatalf("HTTPTimeout=%v, want default", cfg.HTTPTimeout)
	}
	if cfg.StorageBackend != StoragePostgres || cfg.DatabaseURL == "" {
		t.Fatalf("storage=%q url=%q", cfg.StorageBackend, cfg.DatabaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestValidate_RejectsMissingBackendSettings(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.PrefsBackend = PrefsRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for redis without url")
	}

	cfg = Defaults()
	cfg.StorageBackend = "floppy"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	cfg = Defaults()
	cfg.TimeZone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown time zone")
	}
}
