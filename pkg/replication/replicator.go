package replication

import (
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/protocol"
)

// Config configures a Replicator or Client.
type Config struct {
	// Window is how many ticks back a baseline may lie. A connection whose
	// acknowledged baseline is older receives a full snapshot.
	// Default: DefaultWindow.
	Window int

	// MaxInterest bounds the entities sent to one connection per tick.
	// Lower-priority entities beyond it are dropped. Zero means no limit.
	// Default: 1024.
	MaxInterest int

	// InterpolationDepth is how many applied states the client keeps for
	// interpolation.
	// Default: 3.
	InterpolationDepth int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:             DefaultWindow,
		MaxInterest:        1024,
		InterpolationDepth: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MaxInterest < 0 {
		c.MaxInterest = 0
	}
	if c.InterpolationDepth < 2 {
		c.InterpolationDepth = def.InterpolationDepth
	}
	return c
}

// Frame is the snapshot built for one connection at one tick.
type Frame struct {
	Message  protocol.Message // *protocol.SnapshotFull or *protocol.SnapshotDelta
	Tick     uint32
	Baseline uint32 // Baseline tick; meaningful only when Full is false
	Full     bool
	Entities int // Entities visible through the interest set
	Dropped  int // Entities cut by MaxInterest
}

// peerState is the server's replication bookkeeping for one connection.
type peerState struct {
	interest InterestSet
	staged   *InterestSet

	sent        *History
	inFlight    map[uint16]uint32 // packet sequence -> tick
	outstanding map[uint32]int    // tick -> packets not yet acknowledged

	baseline    uint32
	hasBaseline bool

	// Ticks below resyncFrom never become baselines; the client reported
	// it could not reconstruct them.
	resyncFrom uint32
	lastBuilt  uint32
	built      bool
}

// Replicator turns world snapshots into per-connection full or delta
// snapshots. It runs in the server's tick context and is not safe for
// concurrent use.
type Replicator struct {
	reg   *Registry
	cfg   Config
	peers map[conn.PeerID]*peerState
}

// NewReplicator creates a replicator and seals reg.
func NewReplicator(reg *Registry, cfg Config) *Replicator {
	reg.Seal()
	return &Replicator{
		reg:   reg,
		cfg:   cfg.withDefaults(),
		peers: make(map[conn.PeerID]*peerState),
	}
}

// Add starts tracking peer. New peers see every entity until SetInterest
// is called.
func (r *Replicator) Add(peer conn.PeerID) {
	if _, ok := r.peers[peer]; ok {
		return
	}
	r.peers[peer] = &peerState{
		interest:    Everything(),
		sent:        NewHistory(r.cfg.Window),
		inFlight:    make(map[uint16]uint32),
		outstanding: make(map[uint32]int),
	}
}

// Remove forgets peer.
func (r *Replicator) Remove(peer conn.PeerID) {
	delete(r.peers, peer)
}

// Peers returns the number of tracked peers.
func (r *Replicator) Peers() int {
	return len(r.peers)
}

// SetInterest stages the interest set of peer. It takes effect at the next
// Build, never during one.
func (r *Replicator) SetInterest(peer conn.PeerID, set InterestSet) bool {
	p, ok := r.peers[peer]
	if !ok {
		return false
	}
	p.staged = &set
	return true
}

// Baseline returns the acknowledged baseline tick of peer.
func (r *Replicator) Baseline(peer conn.PeerID) (uint32, bool) {
	p, ok := r.peers[peer]
	if !ok || !p.hasBaseline {
		return 0, false
	}
	return p.baseline, true
}

// Build produces the snapshot of world for peer: a delta against the
// newest acknowledged tick still inside the window, or a full snapshot.
// The restricted state is retained as a future baseline.
func (r *Replicator) Build(peer conn.PeerID, world *State) (Frame, bool) {
	p, ok := r.peers[peer]
	if !ok {
		return Frame{}, false
	}
	if p.staged != nil {
		p.interest = *p.staged
		p.staged = nil
	}

	visible, dropped := p.interest.restrict(world, r.cfg.MaxInterest)
	frame := Frame{Tick: world.Tick, Entities: visible.Len(), Dropped: dropped}

	var base *State
	if p.hasBaseline {
		base, _ = p.sent.Get(p.baseline)
	}
	if base != nil && base.Tick < world.Tick && world.Tick-base.Tick < uint32(r.cfg.Window) {
		frame.Message = Diff(r.reg, base, visible)
		frame.Baseline = base.Tick
	} else {
		frame.Message = Full(visible)
		frame.Full = true
	}

	p.sent.Add(visible)
	p.lastBuilt, p.built = world.Tick, true
	r.prune(p)
	return frame, true
}

// Resync handles a client report that the delta for tick could not be
// applied. The baseline is dropped so the next Build is a full snapshot,
// and ticks already built can no longer become baselines: their packets
// may be acknowledged without the client holding their state. Reports
// for ticks built before an earlier Resync are ignored. It reports
// whether the report was acted on.
func (r *Replicator) Resync(peer conn.PeerID, tick uint32) bool {
	p, ok := r.peers[peer]
	if !ok || !p.built || tick < p.resyncFrom || tick > p.lastBuilt {
		return false
	}
	p.hasBaseline = false
	p.resyncFrom = p.lastBuilt + 1
	return true
}

// Sent records the packet sequences that carry tick for peer. The tick
// becomes a baseline once every one of them is acknowledged.
func (r *Replicator) Sent(peer conn.PeerID, tick uint32, seqs []uint16) {
	p, ok := r.peers[peer]
	if !ok || len(seqs) == 0 {
		return
	}
	for _, seq := range seqs {
		p.inFlight[seq] = tick
	}
	p.outstanding[tick] += len(seqs)
}

// Acked handles the acknowledgment of one packet sent to peer.
func (r *Replicator) Acked(peer conn.PeerID, seq uint16) {
	p, ok := r.peers[peer]
	if !ok {
		return
	}
	tick, ok := p.inFlight[seq]
	if !ok {
		return
	}
	delete(p.inFlight, seq)
	p.outstanding[tick]--
	if p.outstanding[tick] > 0 {
		return
	}
	delete(p.outstanding, tick)
	if tick < p.resyncFrom || !p.sent.Has(tick) {
		return
	}
	if !p.hasBaseline || tick > p.baseline {
		p.baseline = tick
		p.hasBaseline = true
	}
}

// prune forgets in-flight packets of ticks that left the window; they can
// no longer become baselines.
func (r *Replicator) prune(p *peerState) {
	for seq, tick := range p.inFlight {
		if !p.sent.Has(tick) {
			delete(p.inFlight, seq)
		}
	}
	for tick := range p.outstanding {
		if !p.sent.Has(tick) {
			delete(p.outstanding, tick)
		}
	}
	if p.hasBaseline && !p.sent.Has(p.baseline) {
		p.hasBaseline = false
	}
}
