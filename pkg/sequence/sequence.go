// Package sequence implements wraparound-safe ordering of 16-bit packet
// sequence numbers and the 32-packet acknowledgment window carried in every
// packet header.
package sequence

import "iter"

// Half is half the sequence space. Numbers less than Half ahead of a
// reference are newer than it.
const Half = 1 << 15

// WindowSize is the number of sequence numbers an ack mask describes,
// counting the ack itself.
const WindowSize = 32

// Class is the result of comparing a received sequence number against the
// latest accepted one.
type Class uint8

const (
	// Stale is older than anything the receiver still tracks.
	Stale Class = iota
	// Duplicate has already been accepted.
	Duplicate
	// Newer advances the latest accepted sequence.
	Newer
	// Late is older than the latest but inside the window and not yet seen.
	// It is accepted without moving the window.
	Late
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case Stale:
		return "Stale"
	case Duplicate:
		return "Duplicate"
	case Newer:
		return "Newer"
	case Late:
		return "Late"
	default:
		return "Unknown"
	}
}

// Accepted reports whether a packet of this class should be processed.
func (c Class) Accepted() bool {
	return c == Newer || c == Late
}

// Classify compares n against latest using the forward distance
// d = n - latest (mod 2^16). d == 0 is Duplicate, 0 < d < Half is Newer and
// everything else is Stale. When d == Half both numbers are exactly half the
// space apart and the numerically larger one is newer.
func Classify(latest, n uint16) Class {
	d := n - latest
	switch {
	case d == 0:
		return Duplicate
	case d < Half:
		return Newer
	case d == Half && n > latest:
		return Newer
	default:
		return Stale
	}
}

// IsNewer reports whether a is newer than b. For a != b exactly one of
// IsNewer(a, b) and IsNewer(b, a) holds.
func IsNewer(a, b uint16) bool {
	return Classify(b, a) == Newer
}

// Distance returns the signed distance from b to a, in [-Half, Half]. Its
// sign agrees with IsNewer.
func Distance(a, b uint16) int {
	d := int(a - b)
	if d > Half || (d == Half && a < b) {
		d -= 1 << 16
	}
	return d
}

// Acked returns the sequence numbers reported as received by an incoming
// header: bit i of bits stands for ack - i.
func Acked(ack uint16, bits uint32) iter.Seq[uint16] {
	return func(yield func(uint16) bool) {
		for i := 0; i < WindowSize; i++ {
			if bits&(1<<i) == 0 {
				continue
			}
			if !yield(ack - uint16(i)) {
				return
			}
		}
	}
}

// Counter hands out outgoing sequence numbers. The zero value starts at 0.
type Counter struct {
	next uint16
}

// Next returns the next sequence number and advances the counter.
func (c *Counter) Next() uint16 {
	n := c.next
	c.next++
	return n
}

// Peek returns the sequence number Next will return.
func (c *Counter) Peek() uint16 {
	return c.next
}
