package syncer

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

// Diff is the outcome of a membership reconciliation.
type Diff struct {
	Added   []domain.DivisionID
	Removed []domain.DivisionID
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// ReconcileMemberships makes the set of Member divisions equal to the server
// list. Added divisions become Member, removed ones FormerMember. When the
// sets already match nothing is written or published; otherwise one
// division notification names every affected division.
func (s *Syncer) ReconcileMemberships(ctx context.Context, payload json.RawMessage) (Diff, error) {
	var diff Diff
	err := s.Update(ctx, func(ctx context.Context, u *Unit) error {
		refs, err := ParseRefs(payload)
		if err != nil {
			return goerr.Wrap(err, "parse membership list")
		}

		member := domain.MembershipMember
		current, err := u.tx.Divisions().List(ctx, localstore.DivisionFilter{Status: &member})
		if err != nil {
			return goerr.Wrap(err, "list member divisions")
		}
		currentIDs := make([]domain.DivisionID, len(current))
		for i, d := range current {
			currentIDs[i] = d.ID
		}
		nextIDs := make([]domain.DivisionID, len(refs))
		for i, r := range refs {
			nextIDs[i] = domain.DivisionID(r.ID)
		}

		added, removed := DiffSets(currentIDs, nextIDs)
		if len(added) == 0 && len(removed) == 0 {
			return nil
		}
		// Only ids outside the current member set can be missing locally.
		addedRefs := make([]Ref, len(added))
		for i, id := range added {
			addedRefs[i] = Ref{ID: string(id)}
		}
		if _, err := s.resolveRefs(ctx, u, KindDivision, addedRefs, resolveConfig{}); err != nil {
			return err
		}

		subjects := make([]string, 0, len(added)+len(removed))
		for _, id := range added {
			if err := setMembership(ctx, u.tx, id, domain.MembershipMember); err != nil {
				return err
			}
			subjects = append(subjects, string(id))
		}
		for _, id := range removed {
			if err := setMembership(ctx, u.tx, id, domain.MembershipFormerMember); err != nil {
				return err
			}
			subjects = append(subjects, string(id))
		}
		u.Notify(notify.TopicDivisionSync, subjects...)
		diff = Diff{Added: added, Removed: removed}
		return nil
	})
	if err != nil {
		return Diff{}, err
	}
	return diff, nil
}

func setMembership(ctx context.Context, tx localstore.Tx, id domain.DivisionID, status domain.MembershipStatus) error {
	d, err := tx.Divisions().Get(ctx, id)
	if err != nil {
		return goerr.Wrap(err, "load division", goerr.V("id", id))
	}
	if d.MembershipStatus == status {
		return nil
	}
	d.MembershipStatus = status
	if err := tx.Divisions().Save(ctx, d); err != nil {
		return goerr.Wrap(err, "save division membership", goerr.V("id", id), goerr.V("status", status))
	}
	return nil
}
