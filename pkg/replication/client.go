package replication

import (
	"fmt"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

// ApplyResult says what Client.Apply did with a snapshot.
type ApplyResult uint8

const (
	// Applied: the snapshot is newer than every earlier one and is now the
	// current state.
	Applied ApplyResult = iota
	// Retained: the snapshot is older than the current state. It was not
	// applied but is kept as a baseline for later deltas.
	Retained
	// Duplicate: the tick was already reconstructed.
	Duplicate
	// Stale: the tick is older than the window.
	Stale
	// MissingBaseline: the delta's baseline is not held.
	MissingBaseline
)

// String returns the string representation of the result.
func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "Applied"
	case Retained:
		return "Retained"
	case Duplicate:
		return "Duplicate"
	case Stale:
		return "Stale"
	case MissingBaseline:
		return "MissingBaseline"
	default:
		return "Unknown"
	}
}

// Client reconstructs the server's world from snapshots. Reconstructed
// states are kept for Window ticks so that deltas against any of them can
// be applied; only a tick strictly newer than the current one replaces it.
// Not safe for concurrent use.
type Client struct {
	reg     *Registry
	cfg     Config
	states  *History
	current *State
	buffer  *Buffer
}

// NewClient creates a client and seals reg.
func NewClient(reg *Registry, cfg Config) *Client {
	reg.Seal()
	cfg = cfg.withDefaults()
	return &Client{
		reg:    reg,
		cfg:    cfg,
		states: NewHistory(cfg.Window),
		buffer: NewBuffer(cfg.InterpolationDepth),
	}
}

// Apply reconstructs the state carried by a SnapshotFull or SnapshotDelta.
// Applying the same snapshot twice has no further effect.
func (c *Client) Apply(msg protocol.Message) (ApplyResult, error) {
	var tick uint32
	switch m := msg.(type) {
	case *protocol.SnapshotFull:
		tick = m.Tick
	case *protocol.SnapshotDelta:
		tick = m.Tick
	default:
		return Stale, fmt.Errorf("%w: %T", ErrNotSnapshot, msg)
	}

	if c.states.Has(tick) {
		return Duplicate, nil
	}
	if newest, ok := c.states.Newest(); ok && tick < newest && newest-tick >= uint32(c.cfg.Window) {
		return Stale, nil
	}

	var (
		s   *State
		err error
	)
	switch m := msg.(type) {
	case *protocol.SnapshotFull:
		s, err = FromFull(c.reg, m)
	case *protocol.SnapshotDelta:
		base, ok := c.states.Get(m.BaselineTick)
		if !ok {
			return MissingBaseline, nil
		}
		s, err = ApplyDelta(c.reg, base, m)
	}
	if err != nil {
		return Stale, err
	}

	c.states.Add(s)
	if c.current != nil && s.Tick <= c.current.Tick {
		return Retained, nil
	}
	c.current = s
	c.buffer.Push(s)
	return Applied, nil
}

// State returns the current authoritative state, or nil before the first
// snapshot.
func (c *Client) State() *State {
	return c.current
}

// Tick returns the tick of the current state.
func (c *Client) Tick() (uint32, bool) {
	if c.current == nil {
		return 0, false
	}
	return c.current.Tick, true
}

// Sample returns the interpolation pair around render tick t.
func (c *Client) Sample(t float64) (Sample, bool) {
	return c.buffer.Sample(t)
}

// Interpolate returns the rendered value of one component at sample s.
func (c *Client) Interpolate(s Sample, id EntityID, t ComponentType) ([]byte, bool, error) {
	return s.Value(c.reg, id, t)
}

// Reset drops every reconstructed state, as after a reconnect.
func (c *Client) Reset() {
	c.states.Clear()
	c.current = nil
	c.buffer.Clear()
}
