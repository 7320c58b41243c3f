package protocol

import "errors"

// Packet constants.
const (
	// Version is the protocol version byte of this build. Peers with a
	// different version byte are rejected at decode time.
	Version uint8 = 1

	// HeaderSize is the size of the fixed packet header in bytes:
	// version, type, sequence, ack, ack bits and payload length.
	HeaderSize = 12

	// PreambleSize is the size of the stamp and reliable ack that open
	// every payload.
	PreambleSize = 12

	// ReliableHeaderSize is the size of the reliable index and floor that
	// open ReliableOrdered message bodies.
	ReliableHeaderSize = 4

	// MaxPayloadSize is the maximum payload size (2^16 - 1 bytes).
	MaxPayloadSize = 65535

	// DefaultMTU is the datagram size the transport aims to stay under.
	DefaultMTU = 1200

	// MinMTU is the smallest MTU a peer may advertise during the handshake.
	MinMTU = 256
)

// Encoding errors.
var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrNilMessage      = errors.New("protocol: packet has no message")
)

// Channel selects the delivery guarantees of a message type.
type Channel uint8

const (
	// Unreliable messages may be dropped or reordered.
	Unreliable Channel = iota
	// ReliableOrdered messages are retransmitted until acknowledged and
	// delivered in send order.
	ReliableOrdered
)

// String returns the string representation of the channel.
func (c Channel) String() string {
	switch c {
	case Unreliable:
		return "Unreliable"
	case ReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Unknown"
	}
}

// MessageType is the tag byte identifying a message body.
type MessageType uint8

const (
	TypeHandshakeRequest MessageType = 0x01 // Client asks to connect
	TypeHandshakeAccept  MessageType = 0x02 // Server admits the client
	TypeHandshakeReject  MessageType = 0x03 // Server refuses the client
	TypeDisconnect       MessageType = 0x04 // Either side leaves
	TypeInput            MessageType = 0x05 // Client → Server commands
	TypeSnapshotFull     MessageType = 0x06 // Server → Client complete state
	TypeSnapshotDelta    MessageType = 0x07 // Server → Client changes since baseline
	TypeAck              MessageType = 0x08 // Empty heartbeat carrying acks
	TypeControl          MessageType = 0x09 // Application reliable payload
	TypeFragment         MessageType = 0x0A // Piece of an oversized message
	TypeResync           MessageType = 0x0B // Client → Server baseline lost
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeHandshakeRequest:
		return "HandshakeRequest"
	case TypeHandshakeAccept:
		return "HandshakeAccept"
	case TypeHandshakeReject:
		return "HandshakeReject"
	case TypeDisconnect:
		return "Disconnect"
	case TypeInput:
		return "Input"
	case TypeSnapshotFull:
		return "SnapshotFull"
	case TypeSnapshotDelta:
		return "SnapshotDelta"
	case TypeAck:
		return "Ack"
	case TypeControl:
		return "Control"
	case TypeFragment:
		return "Fragment"
	case TypeResync:
		return "Resync"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t >= TypeHandshakeRequest && t <= TypeResync
}

// Channel returns the delivery channel of the message type.
func (t MessageType) Channel() Channel {
	switch t {
	case TypeHandshakeRequest, TypeHandshakeAccept, TypeControl:
		return ReliableOrdered
	default:
		return Unreliable
	}
}

// Fragmentable reports whether messages of this type may be split into
// Fragment messages when they exceed the MTU.
func (t MessageType) Fragmentable() bool {
	switch t {
	case TypeInput, TypeSnapshotFull, TypeSnapshotDelta:
		return true
	default:
		return false
	}
}

// Header is the sequencing part of the fixed packet header.
//
// Invariant: AckBits bit i is set if and only if the packet with sequence
// Ack - i was received. Bit 0 therefore always describes Ack itself.
type Header struct {
	Sequence uint16
	Ack      uint16
	AckBits  uint32
}

// Stamp carries the clock samples piggybacked on every packet.
type Stamp struct {
	SentAt     uint32 // Sender's clock in milliseconds
	EchoSentAt uint32 // SentAt of the newest packet accepted from the peer
	EchoDelay  uint16 // Milliseconds that packet was held before this send
}

// ReliableHeader orders ReliableOrdered messages independently of the
// packet sequence, which is shared with unreliable traffic.
type ReliableHeader struct {
	Seq   uint16 // Reliable index of this message
	Floor uint16 // Oldest reliable index the sender still retransmits
}

// Packet is one datagram.
//
// Wire format (12 bytes header + variable payload):
//
//	┌─────────┬────────┬──────────┬────────┬──────────┬─────────┐
//	│ Version │ Type   │ Sequence │ Ack    │ Ack Bits │ Length  │
//	│ (1)     │ (1)    │ (2)      │ (2)    │ (4)      │ (2)     │
//	└─────────┴────────┴──────────┴────────┴──────────┴─────────┘
//	│ SentAt (4) │ EchoSentAt (4) │ EchoDelay (2) │ ReliableAck (2) │
//	│ [ReliableSeq (2) │ ReliableFloor (2)]  (reliable types only)  │
//	│ Message body                                                 │
//	└──────────────────────────────────────────────────────────────┘
type Packet struct {
	Header      Header
	Stamp       Stamp
	ReliableAck uint16 // Next reliable index expected from the peer
	Reliable    ReliableHeader
	Message     Message
}

// Type returns the message type of the packet, or 0 if it has no message.
func (p *Packet) Type() MessageType {
	if p.Message == nil {
		return 0
	}
	return p.Message.Type()
}
