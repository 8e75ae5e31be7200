package club

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

// ListSyncResult summarizes a list sync.
type ListSyncResult struct {
	Listed int
	Synced int
	Failed int
}

// SyncDivisions reconciles the membership list and fills in member
// divisions that are still stale.
func (s *Service) SyncDivisions(ctx context.Context) (syncer.Diff, error) {
	body, err := s.fetch(ctx, clubapi.Get(clubapi.PathDivisionSync, nil), "division memberships")
	if err != nil {
		return syncer.Diff{}, err
	}
	diff, err := s.syncer.ReconcileMemberships(ctx, body)
	if err != nil {
		return syncer.Diff{}, goerr.Wrap(err, "reconcile memberships")
	}

	member := domain.MembershipMember
	var jobs []job
	err = s.store.View(ctx, func(tx localstore.Tx) error {
		ds, err := tx.Divisions().List(ctx, localstore.DivisionFilter{Status: &member})
		if err != nil {
			return err
		}
		for _, d := range ds {
			if d.SyncRequired() {
				jobs = append(jobs, job{kind: syncer.KindDivision, id: string(d.ID)})
			}
		}
		return nil
	})
	if err != nil {
		return diff, goerr.Wrap(err, "list member divisions")
	}
	s.runJobs(ctx, jobs)
	return diff, nil
}

// SyncEvents fetches the events changed since the last successful event
// sync and syncs the ones that are stale or carry a newer change stamp.
// The stamp only advances when every detail sync succeeded.
func (s *Service) SyncEvents(ctx context.Context) (ListSyncResult, error) {
	now := s.clock.Now().UTC()
	key := prefs.LastSyncedKey(prefs.SyncDomainEvent)
	last, ok, err := s.lastSynced(ctx, key)
	if err != nil {
		return ListSyncResult{}, err
	}
	if ok && s.minEventInterval > 0 && now.Sub(last) < s.minEventInterval {
		return ListSyncResult{}, goerr.Wrap(clubapi.ErrSyncTooSoon, "event sync",
			goerr.V("last_synced", last), goerr.V("min_interval", s.minEventInterval))
	}

	params := url.Values{}
	if ok {
		params.Set("lastChanged", clubapi.FormatDateTime(last, s.syncer.Location()))
	}
	body, err := s.fetch(ctx, clubapi.Get(clubapi.PathEvent, params), "event list")
	if err != nil {
		return ListSyncResult{}, err
	}
	refs, err := syncer.ParseRefs(body)
	if err != nil {
		return ListSyncResult{}, goerr.Wrap(err, "parse event list")
	}

	var jobs []job
	err = s.syncer.Update(ctx, func(ctx context.Context, u *syncer.Unit) error {
		res, err := s.syncer.Resolve(ctx, u, syncer.KindEvent, body, syncer.WithoutSync())
		if err != nil {
			return err
		}
		created := toSet(res.Created)
		seen := make(map[string]bool, len(refs))
		for _, r := range refs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			e, err := u.Tx().Events().Get(ctx, domain.EventID(r.ID))
			if err != nil {
				return goerr.Wrap(err, "load event", goerr.V("id", r.ID))
			}
			changed, err := s.eventChanged(e, r)
			if err != nil {
				return err
			}
			if created[r.ID] || e.SyncRequired() || changed {
				jobs = append(jobs, eventJob(r))
			}
		}
		return nil
	})
	if err != nil {
		return ListSyncResult{}, goerr.Wrap(err, "resolve event list")
	}

	failed := s.runJobs(ctx, jobs)
	result := ListSyncResult{Listed: len(toSet(idsOf(refs))), Synced: len(jobs) - failed, Failed: failed}
	if failed == 0 {
		if err := s.prefs.Set(ctx, key, now.Format(time.RFC3339Nano)); err != nil {
			return result, goerr.Wrap(err, "store last synced", goerr.V("key", key))
		}
	}
	return result, nil
}

func (s *Service) lastSynced(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := s.prefs.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, goerr.Wrap(err, "read last synced", goerr.V("key", key))
	}
	if !ok || v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		// An unreadable stamp means a full sync.
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func (s *Service) eventChanged(e domain.Event, r syncer.Ref) (bool, error) {
	if !r.Has("lastChanged") {
		return false, nil
	}
	t, _, ok, err := syncer.ParseServerTime(r.Field("lastChanged"), s.syncer.Location())
	if err != nil {
		return false, goerr.Wrap(err, "parse lastChanged", goerr.V("id", r.ID))
	}
	if !ok {
		return false, nil
	}
	return e.LastChanged == nil || !e.LastChanged.Equal(t), nil
}

func eventJob(r syncer.Ref) job {
	j := job{kind: syncer.KindEvent, id: r.ID}
	if r.Has("name") && r.Has("startDateTime") && r.Has("endDateTime") {
		j.inline = r.Fields
	}
	return j
}

// SyncMessages fetches the message list; all=false asks for unread messages
// only. Full message objects are populated directly and bare references
// are synced when stale.
func (s *Service) SyncMessages(ctx context.Context, all bool) (ListSyncResult, error) {
	body, err := s.fetch(ctx, clubapi.Get(clubapi.PathMessage, url.Values{"all": {strconv.FormatBool(all)}}), "message list")
	if err != nil {
		return ListSyncResult{}, err
	}
	refs, err := syncer.ParseRefs(body)
	if err != nil {
		return ListSyncResult{}, goerr.Wrap(err, "parse message list")
	}

	var jobs []job
	err = s.syncer.Update(ctx, func(ctx context.Context, u *syncer.Unit) error {
		res, err := s.syncer.Resolve(ctx, u, syncer.KindMessage, body, syncer.WithoutSync())
		if err != nil {
			return err
		}
		created := toSet(res.Created)
		seen := make(map[string]bool, len(refs))
		for _, r := range refs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if r.Has("content") {
				jobs = append(jobs, job{kind: syncer.KindMessage, id: r.ID, inline: r.Fields})
				continue
			}
			m, err := u.Tx().Messages().Get(ctx, domain.MessageID(r.ID))
			if err != nil {
				return goerr.Wrap(err, "load message", goerr.V("id", r.ID))
			}
			if created[r.ID] || m.SyncRequired() {
				jobs = append(jobs, job{kind: syncer.KindMessage, id: r.ID})
			}
		}
		return nil
	})
	if err != nil {
		return ListSyncResult{}, goerr.Wrap(err, "resolve message list")
	}

	failed := s.runJobs(ctx, jobs)
	return ListSyncResult{Listed: len(toSet(idsOf(refs))), Synced: len(jobs) - failed, Failed: failed}, nil
}

// SyncAll runs the division, event and message syncs concurrently. A
// throttled event sync is not an error.
func (s *Service) SyncAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.SyncDivisions(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.SyncEvents(ctx)
		if errors.Is(err, clubapi.ErrSyncTooSoon) {
			logging.From(ctx).Debug("event sync skipped", logging.ErrAttr(err))
			return nil
		}
		return err
	})
	g.Go(func() error {
		_, err := s.SyncMessages(ctx, false)
		return err
	})
	return g.Wait()
}

func idsOf(refs []syncer.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ID
	}
	return out
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
