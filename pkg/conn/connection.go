package conn

import (
	"net"
	"time"

	"github.com/vango-dev/worldsync/pkg/clock"
	"github.com/vango-dev/worldsync/pkg/sequence"
	"github.com/vango-dev/worldsync/pkg/transport"
)

// Connection is the per-peer state owned by an Endpoint. All fields are
// mutated only from the endpoint's tick context.
type Connection struct {
	id    PeerID
	addr  net.Addr
	state State
	mtu   int

	seq       sequence.Counter
	recv      sequence.Window // remote sequences received
	sentAcked sequence.Window // local sequences the peer acknowledged

	sender   reliableSender
	receiver reliableReceiver

	est        *clock.Estimator
	echoSentAt uint32 // SentAt of the newest packet from the peer
	echoRecvAt uint32 // local clock when it arrived

	frag  transport.Fragmenter
	reasm *transport.Reassembler

	salt          uint32
	acceptQueued  bool
	acceptIndex   uint16
	serverTick    uint32
	tickRate      uint16
	announced     bool // an event about this connection reached the host
	reported      bool // its Disconnected event was emitted
	reason        Reason
	notice        Reason // reason carried by Disconnect notices while lingering
	lingerUntil   uint64
	createdTick   uint64
	lastRecvTick  uint64
	lastSendTick  uint64
	receivedNow   bool
	sentNow       bool
	retransmits   uint64
	capacityDrops uint64
}

func newConnection(addr net.Addr, tick uint64, cfg *Config) *Connection {
	return &Connection{
		addr:         addr,
		state:        StateConnecting,
		mtu:          cfg.MTU,
		sender:       reliableSender{max: cfg.MaxPendingReliable},
		receiver:     reliableReceiver{max: cfg.MaxOrderBuffer},
		est:          clock.NewEstimator(cfg.Clock),
		reasm:        transport.NewReassembler(cfg.MaxFragmentGroups),
		createdTick:  tick,
		lastRecvTick: tick,
		lastSendTick: tick,
	}
}

// ID returns the connection's PeerID.
func (c *Connection) ID() PeerID { return c.id }

// Addr returns the remote address.
func (c *Connection) Addr() net.Addr { return c.addr }

// State returns the lifecycle state.
func (c *Connection) State() State { return c.state }

// Reason returns why the connection ended, or ReasonNone while it is live.
func (c *Connection) Reason() Reason { return c.reason }

// RTT returns the smoothed round-trip time.
func (c *Connection) RTT() time.Duration { return c.est.RTT() }

// Offset returns the smoothed remote clock offset.
func (c *Connection) Offset() time.Duration { return c.est.Offset() }

// RemoteNow converts a local wire clock value to the peer's clock.
func (c *Connection) RemoteNow(local uint32) uint32 { return c.est.RemoteNow(local) }

// PendingReliable returns the number of unacknowledged reliable messages.
func (c *Connection) PendingReliable() int { return len(c.sender.pending) }

// ServerTick returns the server tick announced in HandshakeAccept. Only
// meaningful on the client side.
func (c *Connection) ServerTick() uint32 { return c.serverTick }

// TickRate returns the tick rate announced in HandshakeAccept. Only
// meaningful on the client side.
func (c *Connection) TickRate() uint16 { return c.tickRate }

// MTU returns the datagram size limit in effect.
func (c *Connection) MTU() int { return c.mtu }

// Info is a point-in-time description of a connection for diagnostics.
type Info struct {
	Peer            PeerID  `json:"peer"`
	Addr            string  `json:"addr"`
	State           string  `json:"state"`
	RTTMillis       float64 `json:"rtt_ms"`
	OffsetMillis    float64 `json:"offset_ms"`
	PendingReliable int     `json:"pending_reliable"`
	LastReceived    uint64  `json:"last_received_tick"`
	Retransmits     uint64  `json:"retransmits"`
	CapacityDrops   uint64  `json:"capacity_drops"`
}

func (c *Connection) info() Info {
	return Info{
		Peer:            c.id,
		Addr:            c.addr.String(),
		State:           c.state.String(),
		RTTMillis:       float64(c.est.RTT()) / float64(time.Millisecond),
		OffsetMillis:    float64(c.est.Offset()) / float64(time.Millisecond),
		PendingReliable: len(c.sender.pending),
		LastReceived:    c.lastRecvTick,
		Retransmits:     c.retransmits,
		CapacityDrops:   c.capacityDrops,
	}
}
