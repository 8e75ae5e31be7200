package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/httpapi"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/platform/config"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

// withApp opens the sync core for the duration of fn.
func withApp(ctx context.Context, cfg *config.ClientConfig, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(ctx, *cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func cmdLogin(g *globalFlags, cfg *config.ClientConfig) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and record the backend identity",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
				id, err := a.ensureSession(ctx, g)
				if errors.Is(err, clubapi.ErrNotLoggedIn) {
					return errNoCredentials
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.Root().Writer, "logged in as %s (system %s, version %s)\n", id.UserID, id.SystemID, id.SystemVersion)
				return nil
			})
		},
	}
}

func cmdLogout(cfg *config.ClientConfig) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget stored credentials and the recorded identity",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
				return a.session.Logout(ctx)
			})
		},
	}
}

func cmdFlush(cfg *config.ClientConfig) *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "Remove every entity from the local store",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
				if err := a.store.Flush(ctx); err != nil {
					return goerr.Wrap(err, "failed to flush local store")
				}
				logging.Default().Info("local store flushed")
				return nil
			})
		},
	}
}

func cmdSync(g *globalFlags, cfg *config.ClientConfig) *cli.Command {
	var scope string
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync against the backend and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "scope",
				Usage:       "all, divisions, events or messages",
				Value:       "all",
				Destination: &scope,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
				if _, err := a.ensureSession(ctx, g); err != nil {
					return err
				}
				if err := runSync(ctx, a, scope); err != nil {
					return err
				}
				a.syncer.Wait()
				logging.Default().Info("sync finished", slog.String("scope", scope))
				return nil
			})
		},
	}
}

func runSync(ctx context.Context, a *app, scope string) error {
	switch scope {
	case "all":
		return a.club.SyncAll(ctx)
	case "divisions":
		diff, err := a.club.SyncDivisions(ctx)
		if err != nil {
			return err
		}
		logging.Default().Info("divisions synced", slog.Int("added", len(diff.Added)), slog.Int("removed", len(diff.Removed)))
	case "events":
		res, err := a.club.SyncEvents(ctx)
		if err != nil {
			return err
		}
		logging.Default().Info("events synced", slog.Int("listed", res.Listed), slog.Int("synced", res.Synced), slog.Int("failed", res.Failed))
	case "messages":
		res, err := a.club.SyncMessages(ctx, true)
		if err != nil {
			return err
		}
		logging.Default().Info("messages synced", slog.Int("listed", res.Listed), slog.Int("synced", res.Synced), slog.Int("failed", res.Failed))
	default:
		return goerr.New("unknown sync scope", goerr.V("scope", scope))
	}
	return nil
}

func cmdServe(g *globalFlags, cfg *config.ClientConfig) *cli.Command {
	var (
		addr         string
		token        string
		syncInterval time.Duration
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Keep the local store in sync and serve the viewer API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "viewer API listen address", Destination: &addr},
			&cli.StringFlag{Name: "viewer-token", Usage: "bearer token required by the viewer API", Destination: &token},
			&cli.DurationFlag{
				Name:        "sync-interval",
				Usage:       "period between background syncs; 0 syncs once at startup",
				Value:       15 * time.Minute,
				Sources:     cli.EnvVars("CLUBSYNC_SYNC_INTERVAL"),
				Destination: &syncInterval,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.IsSet("addr") {
				cfg.ViewerAddr = addr
			}
			if cmd.IsSet("viewer-token") {
				cfg.ViewerToken = token
			}
			return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
				return serve(ctx, g, a, syncInterval)
			})
		},
	}
}

func serve(ctx context.Context, g *globalFlags, a *app, syncInterval time.Duration) error {
	log := logging.Default()

	if _, err := a.ensureSession(ctx, g); err != nil {
		// The viewer still serves the local store; requests log in on demand.
		log.Warn("starting without a backend session", logging.ErrAttr(err))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := httpapi.NewServer(a.club, a.bus, a.idem, a.clock)
	api.Settle = a.orch
	server := &http.Server{
		Addr: a.cfg.ViewerAddr,
		Handler: httpapi.NewRouter(api, httpapi.RouterOptions{
			AuthMiddleware: httpapi.NewTokenAuthMiddleware(a.cfg.ViewerToken),
			CORSOrigins:    a.cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		backgroundSync(ctx, a, syncInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("viewer API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- goerr.Wrap(err, "failed to start viewer API")
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		stop()
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("viewer API shutdown", logging.ErrAttr(err))
	}
	<-syncDone
	log.Info("shutdown completed")
	return serveErr
}

// backgroundSync syncs at startup and then every interval until ctx ends.
func backgroundSync(ctx context.Context, a *app, interval time.Duration) {
	syncOnce := func() {
		if err := a.club.SyncAll(ctx); err != nil {
			if ctx.Err() == nil {
				logging.Default().Warn("background sync failed", logging.ErrAttr(err))
			}
			return
		}
		if err := a.orch.WaitDrained(ctx); err != nil {
			return
		}
		a.bus.Publish(notify.TopicSyncSettled, "all")
	}
	syncOnce()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}
