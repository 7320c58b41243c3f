package replication

import (
	"fmt"
	"maps"
	"slices"
)

// EntityID identifies an entity of the simulation.
type EntityID uint32

// Components maps component types to serialized values. A value is never
// empty: on the wire an empty value means the component was removed.
type Components map[ComponentType][]byte

// Clone returns a copy of the map. Values are shared; they are treated as
// immutable once stored.
func (c Components) Clone() Components {
	if c == nil {
		return Components{}
	}
	return maps.Clone(c)
}

// EntitySnapshot is the state of one entity at a tick.
type EntitySnapshot struct {
	ID         EntityID
	Components Components
}

// WorldSnapshot is the authoritative world at one tick, as supplied by the
// simulation. Entity ids must be unique.
type WorldSnapshot struct {
	Tick     uint32
	Entities []EntitySnapshot
}

// Validate checks that entity ids are unique, that no value is empty and,
// when reg is non-nil, that every component type is registered.
func (w *WorldSnapshot) Validate(reg *Registry) error {
	seen := make(map[EntityID]struct{}, len(w.Entities))
	for _, e := range w.Entities {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: %d at tick %d", ErrDuplicateEntity, e.ID, w.Tick)
		}
		seen[e.ID] = struct{}{}
		for t, v := range e.Components {
			if len(v) == 0 {
				return fmt.Errorf("%w: entity %d component %d", ErrEmptyValue, e.ID, t)
			}
			if reg != nil && !reg.Known(t) {
				return fmt.Errorf("%w: %d on entity %d", ErrUnknownComponent, t, e.ID)
			}
		}
	}
	return nil
}

// State is a reconstructed world state at one tick. States are immutable
// once built; applying a delta produces a new State.
type State struct {
	Tick     uint32
	Entities map[EntityID]Components
}

// NewState builds a State from a WorldSnapshot.
func NewState(w WorldSnapshot) *State {
	s := &State{Tick: w.Tick, Entities: make(map[EntityID]Components, len(w.Entities))}
	for _, e := range w.Entities {
		s.Entities[e.ID] = e.Components.Clone()
	}
	return s
}

// Entity returns the components of id.
func (s *State) Entity(id EntityID) (Components, bool) {
	c, ok := s.Entities[id]
	return c, ok
}

// Component returns one serialized component value.
func (s *State) Component(id EntityID, t ComponentType) ([]byte, bool) {
	c, ok := s.Entities[id]
	if !ok {
		return nil, false
	}
	v, ok := c[t]
	return v, ok
}

// IDs returns the entity ids in ascending order.
func (s *State) IDs() []EntityID {
	return slices.Sorted(maps.Keys(s.Entities))
}

// Len returns the number of entities.
func (s *State) Len() int {
	return len(s.Entities)
}

// Snapshot converts the state back into a WorldSnapshot ordered by id.
func (s *State) Snapshot() WorldSnapshot {
	w := WorldSnapshot{Tick: s.Tick, Entities: make([]EntitySnapshot, 0, len(s.Entities))}
	for _, id := range s.IDs() {
		w.Entities = append(w.Entities, EntitySnapshot{ID: id, Components: s.Entities[id].Clone()})
	}
	return w
}

// Equal reports whether two states hold the same entities and values.
// Ticks are not compared.
func (s *State) Equal(o *State) bool {
	if len(s.Entities) != len(o.Entities) {
		return false
	}
	for id, a := range s.Entities {
		b, ok := o.Entities[id]
		if !ok || !maps.EqualFunc(a, b, func(x, y []byte) bool { return string(x) == string(y) }) {
			return false
		}
	}
	return true
}
