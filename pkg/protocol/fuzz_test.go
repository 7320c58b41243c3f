package protocol

import (
	"reflect"
	"testing"
)

// FuzzDecodeUvarint tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeUvarint(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0x7F})
	f.Add([]byte{0x80, 0x01})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeUvarint(data)
	})
}

// FuzzDecode tests that decoding arbitrary datagrams never panics, and that
// anything that decodes re-encodes to the same bytes.
func FuzzDecode(f *testing.F) {
	seeds := []Message{
		&HandshakeRequest{Salt: 1, MTU: DefaultMTU},
		&HandshakeAccept{PeerID: 1, Salt: 1, TickRate: 30},
		&HandshakeReject{Reason: RejectMTU, Message: "mtu"},
		&Disconnect{Reason: DisconnectNormal},
		&Input{Tick: 1, Payload: []byte{1}},
		&Ack{},
		&Control{Payload: []byte("x")},
		&SnapshotFull{Tick: 2, Entities: []EntityState{{ID: 1, Components: []ComponentValue{{Type: 1, Value: []byte{1}}}}}},
		&SnapshotDelta{Tick: 3, BaselineTick: 2, Removed: []uint32{1}},
		&Fragment{Count: 2, Inner: TypeSnapshotFull, Chunk: []byte{1}},
	}
	for _, m := range seeds {
		data, err := Encode(&Packet{Header: Header{Sequence: 9, Ack: 8, AckBits: 3}, Message: m})
		if err != nil {
			f.Fatal(err)
		}
		f.Add(data)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Decode(data)
		if err != nil {
			return
		}
		out, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(decoded) error = %v", err)
		}
		again, err := Decode(out)
		if err != nil {
			t.Fatalf("Decode(re-encoded) error = %v", err)
		}
		if !reflect.DeepEqual(p, again) {
			t.Fatalf("round trip mismatch: %+v != %+v", p, again)
		}
	})
}

// FuzzDecodeBody tests that reassembled bodies of any type never panic.
func FuzzDecodeBody(f *testing.F) {
	f.Add(byte(TypeSnapshotDelta), EncodeBody(&SnapshotDelta{Tick: 1}))
	f.Add(byte(TypeInput), EncodeBody(&Input{Tick: 1, Payload: []byte{1, 2}}))

	f.Fuzz(func(t *testing.T, typ byte, body []byte) {
		_, _ = DecodeBody(MessageType(typ), body)
	})
}
