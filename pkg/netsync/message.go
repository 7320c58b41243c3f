package netsync

import (
	"errors"

	"github.com/vango-dev/worldsync/pkg/conn"
)

// Sentinel errors for the facades.
var (
	// ErrUnknownPeer is returned for a PeerID with no live connection.
	ErrUnknownPeer = errors.New("netsync: unknown peer")

	// ErrNotConnected is returned by client operations before the
	// handshake completes or after the connection ended.
	ErrNotConnected = errors.New("netsync: not connected")

	// ErrAlreadyDialed is returned by a second Client.Dial.
	ErrAlreadyDialed = errors.New("netsync: already dialed")
)

// MessageKind identifies an inbound Message.
type MessageKind uint8

const (
	// MessageInput carries a client's input for a tick.
	MessageInput MessageKind = iota
	// MessageControl carries an application control payload.
	MessageControl
	// MessageConnected reports a completed handshake.
	MessageConnected
	// MessageDisconnected reports a closed connection; Reason says why.
	MessageDisconnected
)

// String returns the string representation of the kind.
func (k MessageKind) String() string {
	switch k {
	case MessageInput:
		return "Input"
	case MessageControl:
		return "Control"
	case MessageConnected:
		return "Connected"
	case MessageDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Message is a decoded inbound message or connection event, produced in
// delivery order.
type Message struct {
	Kind    MessageKind
	Peer    conn.PeerID
	Tick    uint32 // Input tick
	Payload []byte
	Reason  conn.Reason // Set for MessageDisconnected
	Detail  string
}
