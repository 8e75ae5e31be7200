// Package club holds the client use cases: list syncs against the backend,
// user actions that write through to it, and read views of the local store.
package club

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clock"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

const DefaultSyncConcurrency = 4

// Identity reports the logged-in user.
type Identity interface {
	UserID(ctx context.Context) (domain.UserID, error)
}

type Config struct {
	Syncer   *syncer.Syncer
	Sender   syncer.Sender
	Store    localstore.Store
	Prefs    prefs.Store
	Identity Identity
	Clock    clock.Clock

	// MinEventSyncInterval throttles SyncEvents. Zero disables throttling.
	MinEventSyncInterval  time.Duration
	DefaultReminderOffset time.Duration
	// SyncConcurrency bounds the detail syncs a list sync runs at once.
	SyncConcurrency int
}

type Service struct {
	syncer   *syncer.Syncer
	sender   syncer.Sender
	store    localstore.Store
	prefs    prefs.Store
	identity Identity
	clock    clock.Clock

	minEventInterval time.Duration
	reminder         time.Duration
	concurrency      int
}

func NewService(cfg Config) *Service {
	n := cfg.SyncConcurrency
	if n <= 0 {
		n = DefaultSyncConcurrency
	}
	return &Service{
		syncer:           cfg.Syncer,
		sender:           cfg.Sender,
		store:            cfg.Store,
		prefs:            cfg.Prefs,
		identity:         cfg.Identity,
		clock:            cfg.Clock,
		minEventInterval: cfg.MinEventSyncInterval,
		reminder:         cfg.DefaultReminderOffset,
		concurrency:      n,
	}
}

// fetch sends req and returns its body, which must not be empty.
func (s *Service) fetch(ctx context.Context, req clubapi.Request, what string) ([]byte, error) {
	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "fetch "+what)
	}
	if len(resp.Body) == 0 {
		return nil, goerr.Wrap(clubapi.ErrEmptyResponse, "fetch "+what)
	}
	return resp.Body, nil
}

// job is one detail sync started by a list sync. A job with an inline
// payload is populated without another request.
type job struct {
	kind   syncer.Kind
	id     string
	inline []byte
}

// runJobs runs jobs with bounded concurrency. Failures are logged, not
// returned; the affected entities stay stale for the next sync.
func (s *Service) runJobs(ctx context.Context, jobs []job) (failed int) {
	var (
		g     errgroup.Group
		count atomic.Int32
	)
	g.SetLimit(s.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			var err error
			if j.inline != nil {
				err = s.syncer.Populate(ctx, j.kind, j.id, j.inline)
			} else {
				err = s.syncer.Sync(ctx, j.kind, j.id)
			}
			if err != nil {
				count.Add(1)
				log := logging.From(ctx).With(slog.String("kind", string(j.kind)), slog.String("id", j.id))
				if clubapi.IsCancelled(err) {
					log.Debug("detail sync cancelled")
				} else {
					log.Warn("detail sync failed", logging.ErrAttr(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(count.Load())
}
