package conn

import (
	"net"
	"time"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

// EventKind identifies an Event.
type EventKind uint8

const (
	// EventConnected: the handshake completed. Emitted once per connection.
	EventConnected EventKind = iota
	// EventDisconnected: the connection ended. Reason says why.
	EventDisconnected
	// EventMessage: an application message (Input, Control, snapshots).
	EventMessage
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventMessage:
		return "Message"
	default:
		return "Unknown"
	}
}

// Event is something the host must react to.
type Event struct {
	Kind    EventKind
	Peer    PeerID
	Addr    net.Addr
	Reason  Reason
	Detail  string           // Human readable detail for Disconnected
	Message protocol.Message // Set for EventMessage
}

// AckFunc is called once for each local packet sequence the peer
// acknowledges.
type AckFunc func(peer PeerID, seq uint16)

// Observer receives connection-layer counters. internal/metrics implements
// it with Prometheus collectors.
type Observer interface {
	PacketReceived(bytes int)
	PacketSent(bytes int)
	DecodeFailed(kind protocol.DecodeErrorKind)
	PacketDropped(reason string)
	ProtocolViolation()
	Timeout()
	CapacityDropped(what string)
	Retransmit()
	ConnectionOpened()
	ConnectionClosed(reason Reason)
	RTT(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) PacketReceived(int) {}
func (nopObserver) PacketSent(int) {}
func (nopObserver) DecodeFailed(protocol.DecodeErrorKind) {}
func (nopObserver) PacketDropped(string) {}
func (nopObserver) ProtocolViolation() {}
func (nopObserver) Timeout() {}
func (nopObserver) CapacityDropped(string) {}
func (nopObserver) Retransmit() {}
func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed(Reason) {}
func (nopObserver) RTT(time.Duration) {}
