package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageSQLite   StorageBackend = "sqlite"
	StoragePostgres StorageBackend = "postgres"
)

type PrefsBackend string

const (
	PrefsMemory PrefsBackend = "memory"
	PrefsRedis  PrefsBackend = "redis"
)

// ClientConfig configures the sync client.
type ClientConfig struct {
	// BaseURL is the backend used before any credentials carry a domain.
	BaseURL     string
	HTTPTimeout time.Duration

	// DrainDebounce is how long the request counter must stay at zero before
	// the drained callback fires.
	DrainDebounce time.Duration
	// MinEventSyncInterval throttles event list syncs. Zero disables throttling.
	MinEventSyncInterval time.Duration
	// DefaultReminderOffset applies to events without their own override.
	DefaultReminderOffset time.Duration
	// TimeZone is the zone server date records are interpreted in.
	TimeZone string

	StorageBackend StorageBackend
	SQLitePath     string
	DatabaseURL    string `masq:"secret"`

	PrefsBackend PrefsBackend
	RedisURL     string `masq:"secret"`

	KeychainPassphrase string `masq:"secret"`

	ViewerAddr  string
	ViewerToken string `masq:"secret"`
	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// Defaults returns a configuration that runs fully in memory.
func Defaults() ClientConfig {
	return ClientConfig{
		BaseURL:               "http://localhost:8080",
		HTTPTimeout:           30 * time.Second,
		DrainDebounce:         time.Second,
		MinEventSyncInterval:  0,
		DefaultReminderOffset: time.Hour,
		TimeZone:              "UTC",
		StorageBackend:        StorageMemory,
		SQLitePath:            "clubsync.db",
		PrefsBackend:          PrefsMemory,
		ViewerAddr:            "127.0.0.1:8787",
		CORSOrigins:           []string{"*"},
		LogLevel:              "info",
		LogFormat:             "console",
	}
}

// Location resolves TimeZone.
func (c ClientConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid time zone", goerr.V("timeZone", c.TimeZone))
	}
	return loc, nil
}

// Validate checks cross-field requirements.
func (c ClientConfig) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return goerr.New("sqlite storage requires a database path")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return goerr.New("postgres storage requires a database url")
		}
	default:
		return goerr.New("unknown storage backend", goerr.V("backend", c.StorageBackend))
	}

	switch c.PrefsBackend {
	case PrefsMemory:
	case PrefsRedis:
		if c.RedisURL == "" {
			return goerr.New("redis prefs require a redis url")
		}
	default:
		return goerr.New("unknown prefs backend", goerr.V("backend", c.PrefsBackend))
	}

	if c.DrainDebounce < 0 || c.MinEventSyncInterval < 0 || c.HTTPTimeout < 0 {
		return goerr.New("durations must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// LoadClientConfigFromEnv overlays CLUBSYNC_* environment variables on base.
func LoadClientConfigFromEnv(base ClientConfig) (ClientConfig, error) {
	cfg := base

	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s must be a duration (e.g. 30s): %w", key, err)
		}
		*dst = d
		return nil
	}

	setString(&cfg.BaseURL, "CLUBSYNC_BASE_URL")
	setString(&cfg.TimeZone, "CLUBSYNC_TIME_ZONE")
	setString(&cfg.SQLitePath, "CLUBSYNC_SQLITE_PATH")
	setString(&cfg.DatabaseURL, "CLUBSYNC_DATABASE_URL")
	setString(&cfg.RedisURL, "CLUBSYNC_REDIS_URL")
	setString(&cfg.KeychainPassphrase, "CLUBSYNC_KEYCHAIN_PASSPHRASE")
	setString(&cfg.ViewerAddr, "CLUBSYNC_VIEWER_ADDR")
	setString(&cfg.ViewerToken, "CLUBSYNC_VIEWER_TOKEN")
	setString(&cfg.LogLevel, "CLUBSYNC_LOG_LEVEL")
	setString(&cfg.LogFormat, "CLUBSYNC_LOG_FORMAT")

	if v := os.Getenv("CLUBSYNC_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = StorageBackend(strings.ToLower(v))
	}
	if v := os.Getenv("CLUBSYNC_PREFS_BACKEND"); v != "" {
		cfg.PrefsBackend = PrefsBackend(strings.ToLower(v))
	}
	if v := os.Getenv("CLUBSYNC_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"CLUBSYNC_HTTP_TIMEOUT":            &cfg.HTTPTimeout,
		"CLUBSYNC_DRAIN_DEBOUNCE":          &cfg.DrainDebounce,
		"CLUBSYNC_MIN_EVENT_SYNC_INTERVAL": &cfg.MinEventSyncInterval,
		"CLUBSYNC_DEFAULT_REMINDER_OFFSET": &cfg.DefaultReminderOffset,
	} {
		if err := setDuration(dst, key); err != nil {
			return ClientConfig{}, err
		}
	}

	return cfg, nil
}

// fileConfig mirrors ClientConfig in TOML. Durations are Go duration strings.
type fileConfig struct {
	BaseURL               *string  `toml:"base_url"`
	HTTPTimeout           *string  `toml:"http_timeout"`
	DrainDebounce         *string  `toml:"drain_debounce"`
	MinEventSyncInterval  *string  `toml:"min_event_sync_interval"`
	DefaultReminderOffset *string  `toml:"default_reminder_offset"`
	TimeZone              *string  `toml:"time_zone"`
	StorageBackend        *string  `toml:"storage_backend"`
	SQLitePath            *string  `toml:"sqlite_path"`
	DatabaseURL           *string  `toml:"database_url"`
	PrefsBackend          *string  `toml:"prefs_backend"`
	RedisURL              *string  `toml:"redis_url"`
	ViewerAddr            *string  `toml:"viewer_addr"`
	ViewerToken           *string  `toml:"viewer_token"`
	CORSOrigins           []string `toml:"cors_origins"`
	LogLevel              *string  `toml:"log_level"`
	LogFormat             *string  `toml:"log_format"`
}

// LoadFile overlays the TOML file at path on base. Keys absent from the
// file keep their base value.
func LoadFile(path string, base ClientConfig) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	return parseTOML(data, base)
}

func parseTOML(data []byte, base ClientConfig) (ClientConfig, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return ClientConfig{}, goerr.Wrap(err, "failed to parse config file")
	}

	cfg := base
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.TimeZone, fc.TimeZone)
	setString(&cfg.SQLitePath, fc.SQLitePath)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.RedisURL, fc.RedisURL)
	setString(&cfg.ViewerAddr, fc.ViewerAddr)
	setString(&cfg.ViewerToken, fc.ViewerToken)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	if fc.StorageBackend != nil {
		cfg.StorageBackend = StorageBackend(strings.ToLower(*fc.StorageBackend))
	}
	if fc.PrefsBackend != nil {
		cfg.PrefsBackend = PrefsBackend(strings.ToLower(*fc.PrefsBackend))
	}
	if fc.CORSOrigins != nil {
		cfg.CORSOrigins = append([]string(nil), fc.CORSOrigins...)
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"http_timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
		{"drain_debounce", fc.DrainDebounce, &cfg.DrainDebounce},
		{"min_event_sync_interval", fc.MinEventSyncInterval, &cfg.MinEventSyncInterval},
		{"default_reminder_offset", fc.DefaultReminderOffset, &cfg.DefaultReminderOffset},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return ClientConfig{}, goerr.Wrap(err, "invalid duration in config file", goerr.V("key", d.name))
		}
		*d.dst = v
	}
	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
