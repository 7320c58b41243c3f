package protocol

// Allocation limits to prevent DoS attacks via malicious length prefixes.
const (
	// MaxAllocation is the largest byte string a single field may declare.
	// A datagram can never carry more than MaxPayloadSize bytes, so anything
	// above that is malformed by construction.
	MaxAllocation = MaxPayloadSize

	// MaxCollectionCount is the maximum number of items in a collection
	// (entities in a snapshot, components on an entity, removed ids).
	MaxCollectionCount = 16_384
)

// Decoder is a binary decoder that reads from a byte buffer.
// Every failure is reported as a *DecodeError.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, truncated("byte")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadUvarint reads an unsigned varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := DecodeUvarint(d.buf[d.pos:])
	switch {
	case n == -1:
		return 0, truncated("varint")
	case n < 0:
		return 0, malformed("varint overflow")
	}
	d.pos += n
	return v, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.readLen("string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLenBytes reads length-prefixed bytes.
// Returns a copy of the bytes (safe to retain). A zero length yields an
// empty, non-nil slice.
func (d *Decoder) ReadLenBytes() ([]byte, error) {
	b, err := d.readLen("bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *Decoder) readLen(what string) ([]byte, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	// Allocation limit check first: a huge prefix is malformed, not short.
	if length > MaxAllocation {
		return nil, malformed(what + " length exceeds limit")
	}
	if length > uint64(d.Remaining()) {
		return nil, truncated(what)
	}
	n := int(length)
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadUint16 reads a uint16 in big-endian byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, truncated("uint16")
	}
	v := uint16(d.buf[d.pos])<<8 | uint16(d.buf[d.pos+1])
	d.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 in big-endian byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, truncated("uint32")
	}
	v := uint32(d.buf[d.pos])<<24 | uint32(d.buf[d.pos+1])<<16 |
		uint32(d.buf[d.pos+2])<<8 | uint32(d.buf[d.pos+3])
	d.pos += 4
	return v, nil
}

// ReadCollectionCount reads a varint count and validates it against limits.
// Every collection item occupies at least one byte, so a count larger than
// the remaining input is reported as truncation.
func (d *Decoder) ReadCollectionCount() (int, error) {
	count, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if count > MaxCollectionCount {
		return 0, malformed("collection count exceeds limit")
	}
	if count > uint64(d.Remaining()) {
		return 0, truncated("collection")
	}
	return int(count), nil
}
