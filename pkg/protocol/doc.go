// Package protocol implements the binary wire protocol of worldsync.
//
// The protocol carries simulation traffic over an unreliable datagram
// socket. Every datagram is one Packet: a fixed header used for sequencing
// and acknowledgment, a clock stamp, and one typed message body.
//
// # Design Goals
//
//   - Small: snapshot deltas carry only changed components
//   - Fast encoding/decoding: no reflection, direct byte manipulation
//   - Pure: no I/O and no shared state, so the codec can be fuzzed alone
//   - Safe: every length prefix is bounded before allocation
//
// # Wire Format
//
// All multi-byte integers are big-endian.
//
//	┌─────────┬────────┬──────────┬────────┬──────────┬─────────┐
//	│ Version │ Type   │ Sequence │ Ack    │ Ack Bits │ Length  │
//	│ (1)     │ (1)    │ (2)      │ (2)    │ (4)      │ (2)     │
//	└─────────┴────────┴──────────┴────────┴──────────┴─────────┘
//
// The payload opens with the stamp preamble:
//
//	[SentAt u32][EchoSentAt u32][EchoDelay u16][ReliableAck u16]
//
// Messages on the ReliableOrdered channel add their reliable index and the
// sender's retransmit floor:
//
//	[ReliableSeq u16][ReliableFloor u16]
//
// # Message Types
//
//   - TypeHandshakeRequest (0x01): client asks to connect (reliable)
//   - TypeHandshakeAccept (0x02): server admits the client (reliable)
//   - TypeHandshakeReject (0x03): server refuses the client
//   - TypeDisconnect (0x04): either side leaves
//   - TypeInput (0x05): client commands for a tick
//   - TypeSnapshotFull (0x06): complete state of the interest set
//   - TypeSnapshotDelta (0x07): changes relative to an acknowledged tick
//   - TypeAck (0x08): empty heartbeat carrying acknowledgments
//   - TypeControl (0x09): application payload (reliable)
//   - TypeFragment (0x0A): piece of an oversized unreliable message
//   - TypeResync (0x0B): client cannot apply a delta; asks for a full snapshot
//
// # Encoding
//
//   - Varint: entity, component and removal counts (protobuf-style)
//   - Length-prefixed: strings and byte arrays prefixed with varint length
//   - Big-endian: fixed-width integers (uint16, uint32)
//
// # Errors
//
// Decode returns a *DecodeError for any datagram it cannot parse. Use
// errors.Is with ErrVersionMismatch, ErrTruncated, ErrUnknownType or
// ErrMalformed to classify it. A decode error only ever drops the packet.
package protocol
