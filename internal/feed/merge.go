package feed

import "sort"

// Replace returns fetched as the new snapshot, minus duplicate ids and any id
// in exclude. Used when the filter changes.
func Replace(fetched Snapshot, exclude map[string]struct{}) Snapshot {
	out := make(Snapshot, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))
	for _, n := range fetched {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		if _, skip := exclude[n.ID]; skip {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Prepend merges a background refresh into current. Entries already present
// keep their current fields; only ids new to current are added, at the head,
// in fetched order. When fetched leads with the same id as current nothing
// changed and current is returned as is. added is the number of new entries.
func Prepend(current, fetched Snapshot, exclude map[string]struct{}) (merged Snapshot, added int) {
	if len(fetched) == 0 {
		return current, 0
	}
	if len(current) > 0 && fetched[0].ID == current[0].ID {
		return current, 0
	}
	present := make(map[string]struct{}, len(current)+len(fetched))
	for _, n := range current {
		present[n.ID] = struct{}{}
	}
	var fresh Snapshot
	for _, n := range fetched {
		if _, ok := present[n.ID]; ok {
			continue
		}
		if _, skip := exclude[n.ID]; skip {
			continue
		}
		present[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 {
		return current, 0
	}
	merged = make(Snapshot, 0, len(fresh)+len(current))
	merged = append(merged, fresh...)
	merged = append(merged, current...)
	return merged, len(fresh)
}

// without returns s minus the entry with id, plus that entry.
func without(s Snapshot, id string) (Snapshot, NoteSummary, bool) {
	i := s.index(id)
	if i < 0 {
		return s, NoteSummary{}, false
	}
	removed := s[i]
	out := make(Snapshot, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out, removed, true
}

// insertOrdered puts n back where feed order places it, which is its old
// position unless newer entries arrived since. It is a no-op if the id is
// already present.
func insertOrdered(s Snapshot, n NoteSummary) Snapshot {
	if s.index(n.ID) >= 0 {
		return s
	}
	i := sort.Search(len(s), func(i int) bool { return before(n, s[i]) })
	out := make(Snapshot, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, n)
	out = append(out, s[i:]...)
	return out
}

// before reports whether a sorts ahead of b in feed order.
func before(a, b NoteSummary) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// update returns a copy of s with fn applied to the entry with id.
func update(s Snapshot, id string, fn func(*NoteSummary)) (Snapshot, bool) {
	i := s.index(id)
	if i < 0 {
		return s, false
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	fn(&out[i])
	return out, true
}
