package protocol

import "encoding/binary"

// Encoder appends wire values to a growing buffer. Fixed-width integers
// are big-endian; counts and lengths are varints.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder sized for a small packet.
func NewEncoder() *Encoder {
	return NewEncoderWithCap(HeaderSize + PreambleSize + 64)
}

// NewEncoderWithCap returns an encoder with n bytes preallocated.
func NewEncoderWithCap(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Reset empties the encoder and keeps its buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns what has been encoded. The slice aliases the buffer until
// the next write or Reset.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) WriteUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) WriteUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) WriteUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) WriteUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// WriteBytes appends b as is.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteLenBytes appends b behind its varint length.
func (e *Encoder) WriteLenBytes(b []byte) {
	e.WriteUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteString appends s behind its varint length.
func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// beginLength reserves the u16 length field of a packet header and returns
// its offset for endLength.
func (e *Encoder) beginLength() int {
	off := len(e.buf)
	e.buf = append(e.buf, 0, 0)
	return off
}

// endLength fills the length field at off with the number of bytes written
// after it. A payload over MaxPayloadSize truncates the buffer to rollback
// and fails.
func (e *Encoder) endLength(off, rollback int) error {
	n := len(e.buf) - off - 2
	if n > MaxPayloadSize {
		e.buf = e.buf[:rollback]
		return ErrPayloadTooLarge
	}
	binary.BigEndian.PutUint16(e.buf[off:], uint16(n))
	return nil
}
