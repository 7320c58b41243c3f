package replication

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

// Full encodes every entity of s, ordered by id.
func Full(s *State) *protocol.SnapshotFull {
	msg := &protocol.SnapshotFull{Tick: s.Tick, Entities: make([]protocol.EntityState, 0, len(s.Entities))}
	for _, id := range s.IDs() {
		msg.Entities = append(msg.Entities, entityState(id, s.Entities[id]))
	}
	return msg
}

// Diff encodes the changes from base to cur. Entities new to cur are sent
// whole; changed components are sent with their new value and removed
// components with an empty value; entities missing from cur are listed as
// removed. Unchanged entities are omitted.
func Diff(reg *Registry, base, cur *State) *protocol.SnapshotDelta {
	msg := &protocol.SnapshotDelta{Tick: cur.Tick, BaselineTick: base.Tick}

	for _, id := range cur.IDs() {
		now := cur.Entities[id]
		old, existed := base.Entities[id]
		if !existed {
			msg.Entities = append(msg.Entities, entityState(id, now))
			continue
		}

		var changed []protocol.ComponentValue
		for _, t := range sortedTypes(now) {
			prev, ok := old[t]
			if ok && reg.Equal(t, prev, now[t]) {
				continue
			}
			changed = append(changed, protocol.ComponentValue{Type: uint16(t), Value: now[t]})
		}
		for _, t := range sortedTypes(old) {
			if _, still := now[t]; !still {
				changed = append(changed, protocol.ComponentValue{Type: uint16(t), Value: []byte{}})
			}
		}
		if len(changed) > 0 {
			msg.Entities = append(msg.Entities, protocol.EntityState{ID: uint32(id), Components: changed})
		}
	}

	for _, id := range base.IDs() {
		if _, ok := cur.Entities[id]; !ok {
			msg.Removed = append(msg.Removed, uint32(id))
		}
	}
	return msg
}

// FromFull builds the state carried by a full snapshot.
func FromFull(reg *Registry, msg *protocol.SnapshotFull) (*State, error) {
	s := &State{Tick: msg.Tick, Entities: make(map[EntityID]Components, len(msg.Entities))}
	for _, e := range msg.Entities {
		c := make(Components, len(e.Components))
		for _, v := range e.Components {
			if err := checkComponent(reg, e.ID, v); err != nil {
				return nil, err
			}
			if len(v.Value) == 0 {
				continue
			}
			c[ComponentType(v.Type)] = v.Value
		}
		s.Entities[EntityID(e.ID)] = c
	}
	return s, nil
}

// ApplyDelta builds the state at msg.Tick from base. base is not modified.
// Entities unknown to base are created; an empty value removes the
// component; components absent from the delta are unchanged.
func ApplyDelta(reg *Registry, base *State, msg *protocol.SnapshotDelta) (*State, error) {
	if base.Tick != msg.BaselineTick {
		return nil, fmt.Errorf("replication: delta for baseline %d applied to tick %d", msg.BaselineTick, base.Tick)
	}
	s := &State{Tick: msg.Tick, Entities: maps.Clone(base.Entities)}
	if s.Entities == nil {
		s.Entities = make(map[EntityID]Components)
	}
	for _, e := range msg.Entities {
		id := EntityID(e.ID)
		c := s.Entities[id].Clone()
		for _, v := range e.Components {
			if err := checkComponent(reg, e.ID, v); err != nil {
				return nil, err
			}
			if len(v.Value) == 0 {
				delete(c, ComponentType(v.Type))
				continue
			}
			c[ComponentType(v.Type)] = v.Value
		}
		s.Entities[id] = c
	}
	for _, id := range msg.Removed {
		delete(s.Entities, EntityID(id))
	}
	return s, nil
}

func checkComponent(reg *Registry, entity uint32, v protocol.ComponentValue) error {
	if reg != nil && !reg.Known(ComponentType(v.Type)) {
		return fmt.Errorf("%w: %d on entity %d", ErrUnknownComponent, v.Type, entity)
	}
	return nil
}

func entityState(id EntityID, c Components) protocol.EntityState {
	e := protocol.EntityState{ID: uint32(id), Components: make([]protocol.ComponentValue, 0, len(c))}
	for _, t := range sortedTypes(c) {
		e.Components = append(e.Components, protocol.ComponentValue{Type: uint16(t), Value: c[t]})
	}
	return e
}

func sortedTypes(c Components) []ComponentType {
	return slices.Sorted(maps.Keys(c))
}
