package syncer

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
)

// Resolution lists the resolved ids in payload order and the ids that were
// created as stubs.
type Resolution struct {
	IDs     []string
	Created []string
}

type resolveConfig struct {
	noSync bool
}

type ResolveOption func(*resolveConfig)

// WithoutSync creates stubs without scheduling their detail sync.
func WithoutSync() ResolveOption {
	return func(c *resolveConfig) { c.noSync = true }
}

// Resolve maps a reference payload to local entities inside u. Existing
// entities are left untouched; missing ones become stubs that are synced
// after u commits. A malformed element fails the whole payload.
func (s *Syncer) Resolve(ctx context.Context, u *Unit, kind Kind, payload json.RawMessage, opts ...ResolveOption) (Resolution, error) {
	var cfg resolveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	refs, err := ParseRefs(payload)
	if err != nil {
		return Resolution{}, goerr.Wrap(err, "resolve references", goerr.V("kind", kind))
	}
	return s.resolveRefs(ctx, u, kind, refs, cfg)
}

func (s *Syncer) resolveRefs(ctx context.Context, u *Unit, kind Kind, refs []Ref, cfg resolveConfig) (Resolution, error) {
	res := Resolution{IDs: make([]string, 0, len(refs))}
	for _, r := range refs {
		created, err := u.ensure(ctx, kind, r.ID)
		if err != nil {
			return Resolution{}, err
		}
		res.IDs = append(res.IDs, r.ID)
		if created {
			res.Created = append(res.Created, r.ID)
			if !cfg.noSync {
				u.ScheduleSync(kind, r.ID)
			}
		}
	}
	return res, nil
}

// resolveOne resolves an optional single reference; null resolves to nil.
func (s *Syncer) resolveOne(ctx context.Context, u *Unit, kind Kind, raw json.RawMessage, field string) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	ref, err := parseRef(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "resolve reference field", goerr.V("field", field))
	}
	res, err := s.resolveRefs(ctx, u, kind, []Ref{ref}, resolveConfig{})
	if err != nil {
		return nil, goerr.Wrap(err, "resolve reference field", goerr.V("field", field))
	}
	return &res.IDs[0], nil
}

// resolveSet resolves an optional reference list into a sorted, duplicate
// free id set; null resolves to nil.
func (s *Syncer) resolveSet(ctx context.Context, u *Unit, kind Kind, raw json.RawMessage, field string) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	res, err := s.Resolve(ctx, u, kind, raw)
	if err != nil {
		return nil, goerr.Wrap(err, "resolve reference list", goerr.V("field", field))
	}
	added, _ := DiffSets(nil, res.IDs)
	return added, nil
}

func userIDs(ids []string) []domain.UserID {
	if ids == nil {
		return nil
	}
	out := make([]domain.UserID, len(ids))
	for i, id := range ids {
		out[i] = domain.UserID(id)
	}
	return out
}

func divisionIDs(ids []string) []domain.DivisionID {
	if ids == nil {
		return nil
	}
	out := make([]domain.DivisionID, len(ids))
	for i, id := range ids {
		out[i] = domain.DivisionID(id)
	}
	return out
}
