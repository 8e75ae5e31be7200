package main

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/httpclient"
	memidempotency "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/idempotency"
	memkeychain "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/keychain"
	memstore "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/localstore"
	memprefs "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/prefs"
	"github.com/Overland-East-Bay/club-sync/internal/adapters/redisprefs"
	"github.com/Overland-East-Bay/club-sync/internal/adapters/sealedkeychain"
	"github.com/Overland-East-Bay/club-sync/internal/adapters/sqlstore"
	"github.com/Overland-East-Bay/club-sync/internal/app/club"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/app/orchestrator"
	"github.com/Overland-East-Bay/club-sync/internal/app/session"
	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	platformclock "github.com/Overland-East-Bay/club-sync/internal/platform/clock"
	"github.com/Overland-East-Bay/club-sync/internal/platform/config"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/club-sync/internal/ports/out/clock"
	idempotencyport "github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
	keychainport "github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
	localstoreport "github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
	prefsport "github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

const redisPrefix = "clubsync:"

// app is the wired sync core. Close releases everything it opened.
type app struct {
	cfg config.ClientConfig

	clock   clockport.Clock
	store   localstoreport.Store
	prefs   prefsport.Store
	idem    idempotencyport.Store
	client  *httpclient.Client
	orch    *orchestrator.Orchestrator
	bus     *notify.Bus
	session *session.Manager
	syncer  *syncer.Syncer
	club    *club.Service

	closers []func() error
}

func openApp(ctx context.Context, cfg config.ClientConfig) (a *app, err error) {
	log := logging.Default()
	a = &app{cfg: cfg, clock: platformclock.NewSystemClock()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	switch cfg.StorageBackend {
	case config.StorageSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.store, a.idem = s, s.Idempotency()
		a.closers = append(a.closers, s.Close)
	case config.StoragePostgres:
		s, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.store, a.idem = s, s.Idempotency()
		a.closers = append(a.closers, s.Close)
	default:
		a.store, a.idem = memstore.NewStore(), memidempotency.NewStore()
	}

	switch cfg.PrefsBackend {
	case config.PrefsRedis:
		p, err := redisprefs.Open(ctx, cfg.RedisURL, redisPrefix)
		if err != nil {
			return nil, err
		}
		a.prefs = p
		a.closers = append(a.closers, p.Close)
	default:
		a.prefs = memprefs.NewStore()
	}

	var kc keychainport.Store
	if cfg.KeychainPassphrase != "" {
		if kc, err = sealedkeychain.New(a.prefs, cfg.KeychainPassphrase); err != nil {
			return nil, err
		}
	} else {
		log.Info("no keychain passphrase set; credentials are kept in memory only")
		kc = memkeychain.NewStore()
	}

	if a.client, err = httpclient.New(cfg.BaseURL, cfg.HTTPTimeout); err != nil {
		return nil, err
	}

	a.bus = notify.NewBus()
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	a.session = session.NewManager(session.Config{
		Security:  session.NewSecurityState(kc, a.client),
		Transport: a.client,
		Prefs:     a.prefs,
		Store:     a.store,
	})

	a.orch = orchestrator.New(a.client, a.session.Relogin,
		orchestrator.WithDrainDebounce(cfg.DrainDebounce),
		orchestrator.WithHostUnreachable(func(err error) {
			a.bus.Publish(notify.TopicHostUnreachable)
		}),
	)

	a.syncer = syncer.New(syncer.Config{
		Store:    a.store,
		Sender:   a.orch,
		Bus:      a.bus,
		Clock:    a.clock,
		Location: loc,
	})
	// Registered after the bus so pending syncs finish before it closes.
	a.closers = append(a.closers, func() error { a.syncer.Close(); return nil })

	a.club = club.NewService(club.Config{
		Syncer:                a.syncer,
		Sender:                a.orch,
		Store:                 a.store,
		Prefs:                 a.prefs,
		Identity:              a.session,
		Clock:                 a.clock,
		MinEventSyncInterval:  cfg.MinEventSyncInterval,
		DefaultReminderOffset: cfg.DefaultReminderOffset,
	})
	return a, nil
}

// Close runs the closers in reverse order of registration.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Default().Warn("close failed", logging.ErrAttr(err))
		}
	}
	a.closers = nil
}

// applyCredentials stores credentials given on the command line. Without a
// domain the configured base URL is used.
func (a *app) applyCredentials(ctx context.Context, g *globalFlags) error {
	if g.username == "" && g.password == "" {
		return nil
	}
	domain := g.domain
	if domain == "" {
		domain = a.cfg.BaseURL
	}
	return a.session.Security().SetCredentials(ctx, keychainport.Credentials{
		Username: g.username,
		Password: g.password,
		Domain:   domain,
	})
}

// ensureSession logs in so the backend session and identity are current.
func (a *app) ensureSession(ctx context.Context, g *globalFlags) (session.Identity, error) {
	if err := a.applyCredentials(ctx, g); err != nil {
		return session.Identity{}, err
	}
	id, err := a.session.Login(ctx)
	if err != nil {
		return session.Identity{}, goerr.Wrap(err, "login failed")
	}
	return id, nil
}

var errNoCredentials = errors.New("no credentials: pass --username and --password or log in first")
