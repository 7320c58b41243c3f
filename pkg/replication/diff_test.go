package replication

import (
	"testing"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

func TestDiffContents(t *testing.T) {
	k := newTestKinds(t)
	base := k.world(10,
		k.entity(t, 1, 0, 0, 100),
		k.entity(t, 2, 5, 5, 100),
		k.entity(t, 3, 9, 9, 100),
	)
	cur := k.world(11,
		k.entity(t, 1, 1, 0, 100), // moved
		k.entity(t, 2, 5, 5, -1),  // lost health
		k.entity(t, 4, 7, 7, 50),  // new
	)

	d := Diff(k.reg, base, cur)
	if d.Tick != 11 || d.BaselineTick != 10 {
		t.Fatalf("ticks = %d/%d, want 11/10", d.Tick, d.BaselineTick)
	}
	if len(d.Removed) != 1 || d.Removed[0] != 3 {
		t.Errorf("Removed = %v, want [3]", d.Removed)
	}
	if len(d.Entities) != 3 {
		t.Fatalf("Entities = %+v, want 3 entries", d.Entities)
	}

	e1 := d.Entities[0]
	if e1.ID != 1 || len(e1.Components) != 1 || e1.Components[0].Type != uint16(positionType) {
		t.Errorf("entity 1 = %+v, want only its position", e1)
	}
	e2 := d.Entities[1]
	if e2.ID != 2 || len(e2.Components) != 1 || e2.Components[0].Type != uint16(healthType) || len(e2.Components[0].Value) != 0 {
		t.Errorf("entity 2 = %+v, want an empty health value", e2)
	}
	e4 := d.Entities[2]
	if e4.ID != 4 || len(e4.Components) != 2 {
		t.Errorf("entity 4 = %+v, want both components", e4)
	}
}

func TestDiffUnchangedIsEmpty(t *testing.T) {
	k := newTestKinds(t)
	a := k.world(1, k.entity(t, 1, 3, 4, 10))
	b := k.world(2, k.entity(t, 1, 3, 4, 10))
	d := Diff(k.reg, a, b)
	if len(d.Entities) != 0 || len(d.Removed) != 0 {
		t.Errorf("Diff of equal states = %+v", d)
	}
}

func TestApplyDeltaReproducesState(t *testing.T) {
	k := newTestKinds(t)
	base := k.world(10, k.entity(t, 1, 0, 0, 100), k.entity(t, 2, 5, 5, 100), k.entity(t, 3, 1, 1, -1))
	cur := k.world(11, k.entity(t, 1, 2, 0, 90), k.entity(t, 2, 5, 5, -1), k.entity(t, 5, 0, 1, 1))

	d := wire(t, Diff(k.reg, base, cur)).(*protocol.SnapshotDelta)
	got, err := ApplyDelta(k.reg, base, d)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tick != 11 || !got.Equal(cur) {
		t.Errorf("ApplyDelta() = %+v, want %+v", got.Entities, cur.Entities)
	}
	// base is untouched.
	if _, ok := base.Component(2, healthType); !ok {
		t.Error("ApplyDelta modified its baseline")
	}
}

func TestApplyDeltaIdempotent(t *testing.T) {
	k := newTestKinds(t)
	base := k.world(1, k.entity(t, 1, 0, 0, 3))
	cur := k.world(2, k.entity(t, 1, 4, 4, -1), k.entity(t, 2, 1, 1, 1))
	d := Diff(k.reg, base, cur)

	once, err := ApplyDelta(k.reg, base, d)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := ApplyDelta(k.reg, base, d)
	if err != nil {
		t.Fatal(err)
	}
	if !once.Equal(twice) {
		t.Error("applying a delta twice to the same baseline differs")
	}

	c := NewClient(k.reg, DefaultConfig())
	if _, err := c.Apply(Full(base)); err != nil {
		t.Fatal(err)
	}
	for i, want := range []ApplyResult{Applied, Duplicate} {
		res, err := c.Apply(d)
		if err != nil || res != want {
			t.Fatalf("Apply #%d = %v, %v; want %v", i+1, res, err, want)
		}
	}
	if !c.State().Equal(once) {
		t.Error("client state differs after duplicate delta")
	}
}

func TestApplyDeltaCreatesUnknownEntity(t *testing.T) {
	k := newTestKinds(t)
	base := k.world(1)
	d := &protocol.SnapshotDelta{
		Tick:         2,
		BaselineTick: 1,
		Entities: []protocol.EntityState{
			{ID: 7, Components: []protocol.ComponentValue{{Type: uint16(healthType), Value: []byte{9}}}},
			{ID: 8},
		},
	}
	got, err := ApplyDelta(k.reg, base, d)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Component(7, healthType); !ok || v[0] != 9 {
		t.Errorf("entity 7 health = %v, %v", v, ok)
	}
	if _, ok := got.Entity(8); !ok {
		t.Error("entity 8 with no components was not created")
	}
}

func TestApplyRejectsUnknownComponent(t *testing.T) {
	k := newTestKinds(t)
	full := &protocol.SnapshotFull{Tick: 1, Entities: []protocol.EntityState{
		{ID: 1, Components: []protocol.ComponentValue{{Type: 99, Value: []byte{1}}}},
	}}
	if _, err := FromFull(k.reg, full); err == nil {
		t.Error("FromFull() accepted an unregistered component type")
	}
	if _, err := ApplyDelta(k.reg, k.world(3), &protocol.SnapshotDelta{Tick: 4, BaselineTick: 2}); err == nil {
		t.Error("ApplyDelta() accepted a mismatched baseline")
	}
}
