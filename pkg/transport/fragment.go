package transport

import (
	"errors"
	"fmt"

	"github.com/vango-dev/worldsync/pkg/protocol"
)

// FragmentOverhead is the worst-case size of a Fragment's own fields before
// its chunk: group, index, count, inner type and a three-byte length prefix.
const FragmentOverhead = 2 + 1 + 1 + 1 + 3

// DefaultMaxGroups bounds the number of partially received messages kept
// per connection.
const DefaultMaxGroups = 16

// Fragmentation errors.
var (
	ErrTooManyFragments = errors.New("transport: message needs too many fragments")
	ErrNotFragmentable  = errors.New("transport: message type cannot be fragmented")
)

// ChunkSize returns the largest fragment chunk that keeps a Fragment
// packet within mtu bytes.
func ChunkSize(mtu int) int {
	return mtu - protocol.HeaderSize - protocol.PreambleSize - FragmentOverhead
}

// Fragmenter splits oversized message bodies. Each call to Split uses a new
// group id.
type Fragmenter struct {
	group uint16
}

// Split cuts body, the encoding of a message of type inner, into Fragment
// messages of at most chunk bytes each.
func (f *Fragmenter) Split(inner protocol.MessageType, body []byte, chunk int) ([]*protocol.Fragment, error) {
	if !inner.Fragmentable() {
		return nil, fmt.Errorf("%w: %s", ErrNotFragmentable, inner)
	}
	if chunk <= 0 {
		return nil, fmt.Errorf("transport: invalid chunk size %d", chunk)
	}
	count := (len(body) + chunk - 1) / chunk
	if count == 0 {
		count = 1
	}
	if count > protocol.MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes in %d-byte chunks", ErrTooManyFragments, len(body), chunk)
	}

	group := f.group
	f.group++
	frags := make([]*protocol.Fragment, count)
	for i := range frags {
		lo := i * chunk
		hi := min(lo+chunk, len(body))
		frags[i] = &protocol.Fragment{
			Group: group,
			Index: uint8(i),
			Count: uint8(count),
			Inner: inner,
			Chunk: body[lo:hi],
		}
	}
	return frags, nil
}

type fragmentGroup struct {
	inner    protocol.MessageType
	chunks   [][]byte
	received int
	size     int
}

// Reassembler rebuilds messages from fragments. At most maxGroups partial
// messages are kept; starting a new one beyond that evicts the oldest.
// Not safe for concurrent use.
type Reassembler struct {
	maxGroups int
	groups    map[uint16]*fragmentGroup
	order     []uint16
	evicted   uint64
}

// NewReassembler creates a reassembler. maxGroups <= 0 uses DefaultMaxGroups.
func NewReassembler(maxGroups int) *Reassembler {
	if maxGroups <= 0 {
		maxGroups = DefaultMaxGroups
	}
	return &Reassembler{
		maxGroups: maxGroups,
		groups:    make(map[uint16]*fragmentGroup),
	}
}

// Add stores f. When f completes its message, the decoded message is
// returned. A fragment that contradicts the earlier pieces of its group
// discards the group and returns a malformed decode error.
func (r *Reassembler) Add(f *protocol.Fragment) (protocol.Message, error) {
	g := r.groups[f.Group]
	if g == nil {
		for len(r.order) >= r.maxGroups {
			r.drop(r.order[0])
			r.evicted++
		}
		g = &fragmentGroup{inner: f.Inner, chunks: make([][]byte, f.Count)}
		r.groups[f.Group] = g
		r.order = append(r.order, f.Group)
	}

	if g.inner != f.Inner || len(g.chunks) != int(f.Count) || int(f.Index) >= len(g.chunks) {
		r.drop(f.Group)
		return nil, &protocol.DecodeError{Kind: protocol.DecodeMalformed, Detail: "fragment does not match its group"}
	}
	if g.chunks[f.Index] != nil {
		return nil, nil
	}
	chunk := f.Chunk
	if chunk == nil {
		chunk = []byte{}
	}
	g.chunks[f.Index] = chunk
	g.received++
	g.size += len(chunk)
	if g.received < len(g.chunks) {
		return nil, nil
	}

	r.drop(f.Group)
	body := make([]byte, 0, g.size)
	for _, c := range g.chunks {
		body = append(body, c...)
	}
	return protocol.DecodeBody(g.inner, body)
}

func (r *Reassembler) drop(group uint16) {
	delete(r.groups, group)
	for i, id := range r.order {
		if id == group {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Pending returns the number of partially received messages.
func (r *Reassembler) Pending() int {
	return len(r.groups)
}

// Evicted returns how many partial messages were dropped to make room.
func (r *Reassembler) Evicted() uint64 {
	return r.evicted
}
