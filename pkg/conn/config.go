package conn

import (
	"log/slog"
	"net"
	"time"

	"github.com/vango-dev/worldsync/pkg/clock"
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/transport"
)

// Config holds configuration for an Endpoint. Every deadline is counted in
// ticks; internal/config converts durations from the config file.
type Config struct {
	// TickRate is the number of ticks per second, announced to clients.
	// Default: 30.
	TickRate int

	// Timeouts

	// HandshakeTimeout closes a connection that is still Connecting.
	// Default: 150 ticks (5 seconds at 30 Hz).
	HandshakeTimeout uint64

	// Timeout closes a Connected connection that has received nothing.
	// Default: 300 ticks (10 seconds at 30 Hz).
	Timeout uint64

	// HeartbeatInterval sends an Ack-only packet on a connection that has
	// sent nothing for this many ticks.
	// Default: 30 ticks.
	HeartbeatInterval uint64

	// LingerTicks is how long a Disconnecting connection keeps sending
	// Disconnect notices before it is closed.
	// Default: 3.
	LingerTicks uint64

	// Reliability

	// RetransmitInterval is the first retransmit delay of a reliable message.
	// Default: 3 ticks.
	RetransmitInterval uint64

	// MaxRetransmitInterval caps the exponential backoff.
	// Default: 30 ticks.
	MaxRetransmitInterval uint64

	// MaxPendingReliable bounds unacknowledged reliable messages per
	// connection. Beyond it the oldest is abandoned.
	// Default: 256.
	MaxPendingReliable int

	// MaxOrderBuffer bounds reliable messages received ahead of a gap.
	// Default: 256.
	MaxOrderBuffer int

	// Limits

	// MaxConnections rejects handshakes beyond this many connections.
	// Zero means no limit. Default: 1024.
	MaxConnections int

	// MTU is the largest datagram this endpoint sends. Servers use the
	// smaller of this and the client's advertised MTU.
	// Default: protocol.DefaultMTU.
	MTU int

	// MaxFragmentGroups bounds partially reassembled messages per connection.
	// Default: transport.DefaultMaxGroups.
	MaxFragmentGroups int

	// Clock configures the RTT and offset estimator of each connection.
	Clock clock.Config

	// Admission is consulted for every handshake from a new address.
	// nil admits everyone.
	Admission Admission

	// Observer receives counters. nil discards them.
	Observer Observer

	// Now returns the current time for packet stamps. Default: time.Now.
	Now func() time.Time

	// Logger for connection events. Default: slog.Default().
	Logger *slog.Logger
}

// Admission decides whether a new address may connect.
type Admission interface {
	Admit(addr net.Addr) (reason protocol.RejectReason, message string, ok bool)
}

// AdmissionFunc adapts a function to Admission.
type AdmissionFunc func(addr net.Addr) (protocol.RejectReason, string, bool)

// Admit implements Admission.
func (f AdmissionFunc) Admit(addr net.Addr) (protocol.RejectReason, string, bool) {
	return f(addr)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TickRate:              30,
		HandshakeTimeout:      150,
		Timeout:               300,
		HeartbeatInterval:     30,
		LingerTicks:           3,
		RetransmitInterval:    3,
		MaxRetransmitInterval: 30,
		MaxPendingReliable:    256,
		MaxOrderBuffer:        256,
		MaxConnections:        1024,
		MTU:                   protocol.DefaultMTU,
		MaxFragmentGroups:     transport.DefaultMaxGroups,
		Clock:                 clock.DefaultConfig(),
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	} else {
		c = c.Clone()
	}
	if c.TickRate <= 0 {
		c.TickRate = def.TickRate
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.LingerTicks == 0 {
		c.LingerTicks = def.LingerTicks
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = def.RetransmitInterval
	}
	if c.MaxRetransmitInterval < c.RetransmitInterval {
		c.MaxRetransmitInterval = max(def.MaxRetransmitInterval, c.RetransmitInterval)
	}
	if c.MaxPendingReliable <= 0 {
		c.MaxPendingReliable = def.MaxPendingReliable
	}
	if c.MaxOrderBuffer <= 0 {
		c.MaxOrderBuffer = def.MaxOrderBuffer
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.MTU <= 0 {
		c.MTU = def.MTU
	}
	if c.MTU < protocol.MinMTU {
		c.MTU = protocol.MinMTU
	}
	if c.MaxFragmentGroups <= 0 {
		c.MaxFragmentGroups = def.MaxFragmentGroups
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
