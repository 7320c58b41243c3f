// Package demo is the simulation worldsyncd serves when no game is linked
// in: a ring of orbiting markers plus one avatar per connected peer that
// moves by the inputs its peer sends.
package demo

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"

	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/netsync"
	"github.com/vango-dev/worldsync/pkg/replication"
)

// Component ids.
const (
	PositionID replication.ComponentType = 1
	OwnerID    replication.ComponentType = 2
)

// ErrBadPosition is returned when a position value is not 8 bytes.
var ErrBadPosition = errors.New("demo: position must be 8 bytes")

// Position is a point on the plane.
type Position struct {
	X, Y float32
}

// Components holds the typed handles of the demo components.
type Components struct {
	Position replication.Kind[Position]
	Owner    replication.Kind[uint32]
}

// NewRegistry returns a registry with the demo components. Servers and
// probes must use the same registry.
func NewRegistry() (*replication.Registry, Components) {
	reg := replication.NewRegistry()
	c := Components{
		Position: replication.MustRegister(reg, replication.Definition[Position]{
			ID:     PositionID,
			Name:   "position",
			Encode: encodePosition,
			Decode: decodePosition,
			Interpolate: func(a, b Position, alpha float64) Position {
				t := float32(alpha)
				return Position{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
			},
		}),
		Owner: replication.MustRegister(reg, replication.Definition[uint32]{
			ID:   OwnerID,
			Name: "owner",
			Encode: func(v uint32) []byte {
				return binary.BigEndian.AppendUint32(nil, v)
			},
			Decode: func(b []byte) (uint32, error) {
				if len(b) != 4 {
					return 0, errors.New("demo: owner must be 4 bytes")
				}
				return binary.BigEndian.Uint32(b), nil
			},
		}),
	}
	return reg, c
}

func encodePosition(p Position) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b, math.Float32bits(p.X))
	binary.BigEndian.PutUint32(b[4:], math.Float32bits(p.Y))
	return b
}

func decodePosition(b []byte) (Position, error) {
	if len(b) != 8 {
		return Position{}, ErrBadPosition
	}
	return Position{
		X: math.Float32frombits(binary.BigEndian.Uint32(b)),
		Y: math.Float32frombits(binary.BigEndian.Uint32(b[4:])),
	}, nil
}

// EncodeInput builds an input payload: a velocity in units per tick,
// each axis clamped to [-127, 127] hundredths.
func EncodeInput(dx, dy float32) []byte {
	q := func(v float32) byte {
		v = float32(math.Round(float64(v * 100)))
		v = max(-127, min(127, v))
		return byte(int8(v))
	}
	return []byte{q(dx), q(dy)}
}

func decodeInput(b []byte) (dx, dy float32, ok bool) {
	if len(b) != 2 {
		return 0, 0, false
	}
	return float32(int8(b[0])) / 100, float32(int8(b[1])) / 100, true
}

const (
	npcBase    replication.EntityID = 1
	avatarBase replication.EntityID = 1 << 20
)

const orbit = 10.0

type avatar struct {
	id     replication.EntityID
	pos    Position
	dx, dy float32
}

// World is the demo simulation. It implements netsync.Simulation and is
// driven from a single goroutine.
type World struct {
	comps   Components
	npcs    int
	avatars map[conn.PeerID]*avatar
	logger  *slog.Logger
}

var _ netsync.Simulation = (*World)(nil)

// NewWorld creates a world with npcs orbiting markers.
func NewWorld(comps Components, npcs int, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	return &World{
		comps:   comps,
		npcs:    npcs,
		avatars: make(map[conn.PeerID]*avatar),
		logger:  logger.With("component", "demo"),
	}
}

// AvatarID returns the entity controlled by peer.
func AvatarID(peer conn.PeerID) replication.EntityID {
	return avatarBase + replication.EntityID(peer)
}

// Step applies inbound messages and returns the world at tick.
func (w *World) Step(_ context.Context, tick uint32, inbound []netsync.Message) (replication.WorldSnapshot, error) {
	for _, m := range inbound {
		switch m.Kind {
		case netsync.MessageConnected:
			w.avatars[m.Peer] = &avatar{id: AvatarID(m.Peer)}
			w.logger.Info("avatar spawned", "peer", m.Peer)
		case netsync.MessageDisconnected:
			delete(w.avatars, m.Peer)
			w.logger.Info("avatar removed", "peer", m.Peer, "reason", m.Reason)
		case netsync.MessageInput:
			a := w.avatars[m.Peer]
			if a == nil {
				continue
			}
			if dx, dy, ok := decodeInput(m.Payload); ok {
				a.dx, a.dy = dx, dy
			}
		}
	}

	snap := replication.WorldSnapshot{Tick: tick}
	for i := 0; i < w.npcs; i++ {
		phase := 2*math.Pi*float64(i)/float64(w.npcs) + float64(tick)*0.02
		pos := Position{X: float32(orbit * math.Cos(phase)), Y: float32(orbit * math.Sin(phase))}
		p, err := w.comps.Position.Encode(pos)
		if err != nil {
			return snap, err
		}
		snap.Entities = append(snap.Entities, replication.EntitySnapshot{
			ID:         npcBase + replication.EntityID(i),
			Components: replication.Components{PositionID: p},
		})
	}
	for peer, a := range w.avatars {
		a.pos.X += a.dx
		a.pos.Y += a.dy
		p, err := w.comps.Position.Encode(a.pos)
		if err != nil {
			return snap, err
		}
		o, err := w.comps.Owner.Encode(uint32(peer))
		if err != nil {
			return snap, err
		}
		snap.Entities = append(snap.Entities, replication.EntitySnapshot{
			ID:         a.id,
			Components: replication.Components{PositionID: p, OwnerID: o},
		})
	}
	return snap, nil
}

// Avatars returns the number of connected avatars.
func (w *World) Avatars() int {
	return len(w.avatars)
}
