package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/Overland-East-Bay/club-sync/internal/platform/config"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
)

// globalFlags holds flags shared by every command. Flags override the
// config file, which overrides the environment defaults.
type globalFlags struct {
	envFile    string
	configFile string

	baseURL      string
	storage      string
	sqlitePath   string
	databaseURL  string
	prefsBackend string
	redisURL     string
	logLevel     string
	logFormat    string

	username string
	password string
	domain   string
}

func (g *globalFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "env-file", Usage: "dotenv file loaded before reading the environment", Value: ".env", Destination: &g.envFile},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config file", Sources: cli.EnvVars("CLUBSYNC_CONFIG"), Destination: &g.configFile},
		&cli.StringFlag{Name: "base-url", Usage: "backend base URL used until credentials name a domain", Destination: &g.baseURL},
		&cli.StringFlag{Name: "storage", Usage: "local store backend (memory, sqlite or postgres)", Destination: &g.storage},
		&cli.StringFlag{Name: "sqlite-path", Usage: "SQLite database file", Destination: &g.sqlitePath},
		&cli.StringFlag{Name: "database-url", Usage: "Postgres connection URL", Destination: &g.databaseURL},
		&cli.StringFlag{Name: "prefs", Usage: "prefs backend (memory or redis)", Destination: &g.prefsBackend},
		&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the prefs backend", Destination: &g.redisURL},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Category: "Logging", Destination: &g.logLevel},
		&cli.StringFlag{Name: "log-format", Usage: "console or json", Category: "Logging", Destination: &g.logFormat},
		&cli.StringFlag{Name: "username", Usage: "club account user name", Category: "Credentials", Sources: cli.EnvVars("CLUBSYNC_USERNAME"), Destination: &g.username},
		&cli.StringFlag{Name: "password", Usage: "club account password", Category: "Credentials", Sources: cli.EnvVars("CLUBSYNC_PASSWORD"), Destination: &g.password},
		&cli.StringFlag{Name: "domain", Usage: "club backend domain", Category: "Credentials", Sources: cli.EnvVars("CLUBSYNC_DOMAIN"), Destination: &g.domain},
	}
}

// load resolves the client configuration from the dotenv file, the
// environment, the config file and the command line.
func (g *globalFlags) load(cmd *cli.Command) (config.ClientConfig, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			if cmd.IsSet("env-file") || !errors.Is(err, fs.ErrNotExist) {
				return config.ClientConfig{}, goerr.Wrap(err, "failed to load env file", goerr.V("path", g.envFile))
			}
		}
	}

	cfg, err := config.LoadClientConfigFromEnv(config.Defaults())
	if err != nil {
		return config.ClientConfig{}, goerr.Wrap(err, "invalid environment")
	}
	if g.configFile != "" {
		if cfg, err = config.LoadFile(g.configFile, cfg); err != nil {
			return config.ClientConfig{}, err
		}
	}

	set := func(name string, dst *string, v string) {
		if cmd.IsSet(name) {
			*dst = v
		}
	}
	set("base-url", &cfg.BaseURL, g.baseURL)
	set("sqlite-path", &cfg.SQLitePath, g.sqlitePath)
	set("database-url", &cfg.DatabaseURL, g.databaseURL)
	set("redis-url", &cfg.RedisURL, g.redisURL)
	set("log-level", &cfg.LogLevel, g.logLevel)
	set("log-format", &cfg.LogFormat, g.logFormat)
	if cmd.IsSet("storage") {
		cfg.StorageBackend = config.StorageBackend(strings.ToLower(g.storage))
	}
	if cmd.IsSet("prefs") {
		cfg.PrefsBackend = config.PrefsBackend(strings.ToLower(g.prefsBackend))
	}

	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func configureLogging(cfg config.ClientConfig) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(strings.ToLower(cfg.LogFormat)),
	}))
	return nil
}

func run(ctx context.Context, args []string) error {
	var (
		g   globalFlags
		cfg config.ClientConfig
	)

	app := &cli.Command{
		Name:    "clubsync",
		Usage:   "Club backend sync client with a local viewer API",
		Version: version,
		Flags:   g.flags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var err error
			if cfg, err = g.load(cmd); err != nil {
				return ctx, err
			}
			if err := configureLogging(cfg); err != nil {
				return ctx, err
			}
			logging.Default().Debug("configuration loaded",
				slog.String("base_url", cfg.BaseURL),
				slog.String("storage", string(cfg.StorageBackend)),
				slog.String("prefs", string(cfg.PrefsBackend)),
				slog.String("time_zone", cfg.TimeZone),
			)
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmdServe(&g, &cfg),
			cmdSync(&g, &cfg),
			cmdLogin(&g, &cfg),
			cmdLogout(&cfg),
			cmdFlush(&cfg),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("clubsync failed", logging.ErrAttr(err))
		return err
	}
	return nil
}

const shutdownTimeout = 10 * time.Second
