package store

import "github.com/mgreer/stagesync/internal/domain"

// MetaDiff routes incoming user metadata against existing target metadata.
// Keys are not guaranteed unique, so a naive delete-all/insert-all would
// lose extension data added independently on the target.
//
// Routing rules:
//   - an incoming key appearing more than once goes straight to insert and
//     is excluded from update matching
//   - an existing record whose key is absent from the incoming unique keys,
//     or collides with an insert-routed key, goes to delete
//   - remaining existing/incoming pairs sharing a key go to update
//
// Callers must execute deletes, then inserts, then updates, in that order.
type MetaDiff struct {
	Deletes []domain.UserMeta
	Inserts []domain.UserMeta
	Updates []MetaUpdate
}

// MetaUpdate pairs an existing record with the incoming value for its key.
type MetaUpdate struct {
	Existing domain.UserMeta
	Incoming domain.UserMeta
}

// DiffUserMeta computes the routing of incoming metadata against existing.
func DiffUserMeta(existing, incoming []domain.UserMeta) MetaDiff {
	var diff MetaDiff

	// Partition incoming by key; duplicate keys are never matched for
	// update, only added.
	counts := make(map[string]int, len(incoming))
	for _, m := range incoming {
		counts[m.Key]++
	}

	uniqueIncoming := make(map[string]domain.UserMeta)
	for _, m := range incoming {
		if counts[m.Key] > 1 {
			diff.Inserts = append(diff.Inserts, m)
		} else {
			uniqueIncoming[m.Key] = m
		}
	}

	matched := make(map[string]bool)
	for _, e := range existing {
		in, ok := uniqueIncoming[e.Key]
		if !ok || counts[e.Key] > 1 || matched[e.Key] {
			// Key gone from incoming, collides with an insert-routed
			// key, or its single incoming pair is already matched.
			diff.Deletes = append(diff.Deletes, e)
			continue
		}
		matched[e.Key] = true
		diff.Updates = append(diff.Updates, MetaUpdate{Existing: e, Incoming: in})
	}

	// Unique incoming keys with no existing counterpart are plain inserts.
	for _, m := range incoming {
		if counts[m.Key] > 1 {
			continue
		}
		if !matched[m.Key] {
			diff.Inserts = append(diff.Inserts, m)
		}
	}

	return diff
}
