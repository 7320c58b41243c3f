package replication

// InterestSet is the set of entities a connection may receive, in priority
// order: the first listed id is the most important. The zero value is the
// empty set; Everything returns a set that admits every entity.
type InterestSet struct {
	all bool
	ids []EntityID
	set map[EntityID]struct{}
}

// NewInterestSet builds a set from ids in priority order. Repeated ids keep
// their first position.
func NewInterestSet(ids ...EntityID) InterestSet {
	s := InterestSet{
		ids: make([]EntityID, 0, len(ids)),
		set: make(map[EntityID]struct{}, len(ids)),
	}
	for _, id := range ids {
		if _, dup := s.set[id]; dup {
			continue
		}
		s.set[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// Everything returns a set that admits every entity, ordered by id when a
// limit applies.
func Everything() InterestSet {
	return InterestSet{all: true}
}

// All reports whether the set admits every entity.
func (s InterestSet) All() bool { return s.all }

// Contains reports whether id is in the set.
func (s InterestSet) Contains(id EntityID) bool {
	if s.all {
		return true
	}
	_, ok := s.set[id]
	return ok
}

// Len returns the number of listed ids. It is 0 for Everything.
func (s InterestSet) Len() int { return len(s.ids) }

// IDs returns the ids in priority order.
func (s InterestSet) IDs() []EntityID {
	out := make([]EntityID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Limit keeps the n highest-priority ids and returns how many were
// dropped. n <= 0 means no limit.
func (s InterestSet) Limit(n int) (InterestSet, int) {
	if s.all || n <= 0 || len(s.ids) <= n {
		return s, 0
	}
	return NewInterestSet(s.ids[:n]...), len(s.ids) - n
}

// restrict returns the part of w visible through s, keeping at most limit
// entities, and the number of entities dropped by the limit.
func (s InterestSet) restrict(w *State, limit int) (*State, int) {
	out := &State{Tick: w.Tick, Entities: make(map[EntityID]Components)}
	if s.all {
		ids := w.IDs()
		dropped := 0
		if limit > 0 && len(ids) > limit {
			dropped = len(ids) - limit
			ids = ids[:limit]
		}
		for _, id := range ids {
			out.Entities[id] = w.Entities[id]
		}
		return out, dropped
	}

	dropped := 0
	for _, id := range s.ids {
		c, ok := w.Entities[id]
		if !ok {
			continue
		}
		if limit > 0 && len(out.Entities) >= limit {
			dropped++
			continue
		}
		out.Entities[id] = c
	}
	return out, dropped
}
