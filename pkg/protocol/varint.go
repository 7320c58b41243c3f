package protocol

import "encoding/binary"

// MaxVarintLen is the longest varint the decoder accepts.
const MaxVarintLen = binary.MaxVarintLen64

// DecodeUvarint reads a varint from the front of buf and returns it with
// the number of bytes consumed. The count is -1 when buf ends inside the
// varint and -2 when the varint does not fit 64 bits.
func DecodeUvarint(buf []byte) (uint64, int) {
	v, n := binary.Uvarint(buf)
	switch {
	case n > 0:
		return v, n
	case n < 0 || len(buf) >= MaxVarintLen:
		return 0, -2
	default:
		return 0, -1
	}
}

// UvarintLen returns the encoded size of v.
func UvarintLen(v uint64) int {
	n := 1
	for ; v >= 0x80; v >>= 7 {
		n++
	}
	return n
}
