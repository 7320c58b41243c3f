package protocol

import "fmt"

// Message is a typed packet body.
type Message interface {
	// Type returns the wire tag of the message.
	Type() MessageType

	encode(e *Encoder)
}

// Encode serializes a packet into a new byte slice.
func Encode(p *Packet) ([]byte, error) {
	e := NewEncoderWithCap(HeaderSize + PreambleSize + 64)
	if err := EncodeTo(e, p); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeTo appends the encoded packet to e. On error e is left as it was.
// ReliableHeader is written only for ReliableOrdered message types.
func EncodeTo(e *Encoder, p *Packet) error {
	if p == nil || p.Message == nil {
		return ErrNilMessage
	}
	start := e.Len()
	t := p.Message.Type()

	e.WriteUint8(Version)
	e.WriteUint8(byte(t))
	e.WriteUint16(p.Header.Sequence)
	e.WriteUint16(p.Header.Ack)
	e.WriteUint32(p.Header.AckBits)
	lenOff := e.beginLength()

	e.WriteUint32(p.Stamp.SentAt)
	e.WriteUint32(p.Stamp.EchoSentAt)
	e.WriteUint16(p.Stamp.EchoDelay)
	e.WriteUint16(p.ReliableAck)
	if t.Channel() == ReliableOrdered {
		e.WriteUint16(p.Reliable.Seq)
		e.WriteUint16(p.Reliable.Floor)
	}
	p.Message.encode(e)
	return e.endLength(lenOff, start)
}

// Decode parses one datagram. Errors are *DecodeError and are checked in
// wire order: header size, version, type tag, declared length, body.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, truncated("header")
	}
	if data[0] != Version {
		return nil, &DecodeError{
			Kind:   DecodeVersionMismatch,
			Detail: fmt.Sprintf("got %d, want %d", data[0], Version),
		}
	}
	t := MessageType(data[1])
	if !t.Valid() {
		return nil, &DecodeError{
			Kind:   DecodeUnknownType,
			Detail: fmt.Sprintf("0x%02x", data[1]),
		}
	}

	d := NewDecoder(data[2:HeaderSize])
	p := &Packet{}
	// Header reads cannot fail: the slice is exactly 10 bytes.
	p.Header.Sequence, _ = d.ReadUint16()
	p.Header.Ack, _ = d.ReadUint16()
	p.Header.AckBits, _ = d.ReadUint32()
	length, _ := d.ReadUint16()

	payload := data[HeaderSize:]
	if int(length) > len(payload) {
		return nil, truncated("payload")
	}
	if int(length) < len(payload) {
		return nil, malformed("trailing bytes after payload")
	}

	d = NewDecoder(payload)
	var err error
	if p.Stamp.SentAt, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if p.Stamp.EchoSentAt, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if p.Stamp.EchoDelay, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if p.ReliableAck, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if t.Channel() == ReliableOrdered {
		if p.Reliable.Seq, err = d.ReadUint16(); err != nil {
			return nil, err
		}
		if p.Reliable.Floor, err = d.ReadUint16(); err != nil {
			return nil, err
		}
	}

	if p.Message, err = decodeMessage(d, t); err != nil {
		return nil, err
	}
	if !d.EOF() {
		return nil, malformed("trailing bytes after message")
	}
	return p, nil
}

// EncodeBody serializes only the message body. Fragment chunks are slices
// of this encoding.
func EncodeBody(m Message) []byte {
	e := NewEncoder()
	m.encode(e)
	return e.Bytes()
}

// DecodeBody parses a message body of type t, as reassembled from fragments.
func DecodeBody(t MessageType, body []byte) (Message, error) {
	if !t.Valid() {
		return nil, &DecodeError{Kind: DecodeUnknownType, Detail: fmt.Sprintf("0x%02x", byte(t))}
	}
	d := NewDecoder(body)
	m, err := decodeMessage(d, t)
	if err != nil {
		return nil, err
	}
	if !d.EOF() {
		return nil, malformed("trailing bytes after message")
	}
	return m, nil
}

func decodeMessage(d *Decoder, t MessageType) (Message, error) {
	switch t {
	case TypeHandshakeRequest:
		return decodeHandshakeRequest(d)
	case TypeHandshakeAccept:
		return decodeHandshakeAccept(d)
	case TypeHandshakeReject:
		return decodeHandshakeReject(d)
	case TypeDisconnect:
		return decodeDisconnect(d)
	case TypeInput:
		return decodeInput(d)
	case TypeSnapshotFull:
		return decodeSnapshotFull(d)
	case TypeSnapshotDelta:
		return decodeSnapshotDelta(d)
	case TypeAck:
		return &Ack{}, nil
	case TypeControl:
		return decodeControl(d)
	case TypeFragment:
		return decodeFragment(d)
	case TypeResync:
		return decodeResync(d)
	default:
		return nil, &DecodeError{Kind: DecodeUnknownType, Detail: fmt.Sprintf("0x%02x", byte(t))}
	}
}
