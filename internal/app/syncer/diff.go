package syncer

import (
	"cmp"
	"slices"
)

// DiffSets compares two id sets. added holds ids only in next, removed ids
// only in current; both are sorted and free of duplicates, so they never
// intersect.
func DiffSets[T cmp.Ordered](current, next []T) (added, removed []T) {
	cur := make(map[T]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	nxt := make(map[T]struct{}, len(next))
	for _, id := range next {
		nxt[id] = struct{}{}
	}
	for id := range nxt {
		if _, ok := cur[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range cur {
		if _, ok := nxt[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

func sameSet[T cmp.Ordered](a, b []T) bool {
	added, removed := DiffSets(a, b)
	return len(added) == 0 && len(removed) == 0
}
