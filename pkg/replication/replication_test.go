package replication

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

type vec2 struct{ X, Y float64 }

func encodeVec2(v vec2) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, math.Float64bits(v.X))
	binary.BigEndian.PutUint64(b[8:], math.Float64bits(v.Y))
	return b
}

func decodeVec2(b []byte) (vec2, error) {
	if len(b) != 16 {
		return vec2{}, errors.New("vec2: want 16 bytes")
	}
	return vec2{
		X: math.Float64frombits(binary.BigEndian.Uint64(b)),
		Y: math.Float64frombits(binary.BigEndian.Uint64(b[8:])),
	}, nil
}

func lerpVec2(a, b vec2, t float64) vec2 {
	return vec2{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

const (
	positionType ComponentType = 1
	healthType   ComponentType = 2
)

type testKinds struct {
	reg      *Registry
	position Kind[vec2]
	health   Kind[uint8]
}

func newTestKinds(t *testing.T) testKinds {
	t.Helper()
	reg := NewRegistry()
	pos, err := Register(reg, Definition[vec2]{
		ID:          positionType,
		Name:        "position",
		Encode:      encodeVec2,
		Decode:      decodeVec2,
		Interpolate: lerpVec2,
	})
	if err != nil {
		t.Fatal(err)
	}
	hp := MustRegister(reg, Definition[uint8]{
		ID:     healthType,
		Name:   "health",
		Encode: func(v uint8) []byte { return []byte{v} },
		Decode: func(b []byte) (uint8, error) {
			if len(b) != 1 {
				return 0, errors.New("health: want 1 byte")
			}
			return b[0], nil
		},
	})
	return testKinds{reg: reg, position: pos, health: hp}
}

// entity builds an EntitySnapshot with a position and an optional health.
func (k testKinds) entity(t *testing.T, id EntityID, x, y float64, hp int) EntitySnapshot {
	t.Helper()
	e := EntitySnapshot{ID: id}
	if err := k.position.Set(&e, vec2{x, y}); err != nil {
		t.Fatal(err)
	}
	if hp >= 0 {
		if err := k.health.Set(&e, uint8(hp)); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func (k testKinds) world(tick uint32, entities ...EntitySnapshot) *State {
	return NewState(WorldSnapshot{Tick: tick, Entities: entities})
}

// wire round-trips a snapshot through the packet codec.
func wire(t *testing.T, msg protocol.Message) protocol.Message {
	t.Helper()
	data, err := protocol.Encode(&protocol.Packet{Message: msg})
	if err != nil {
		t.Fatal(err)
	}
	p, err := protocol.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	return p.Message
}
