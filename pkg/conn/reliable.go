package conn

import (
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/sequence"
)

// pendingReliable is a reliable message awaiting acknowledgment. Its packet
// sequence is fixed at first send and reused by every retransmission.
type pendingReliable struct {
	index    uint16
	seq      uint16
	msg      protocol.Message
	nextSend uint64
	interval uint64
	sends    int
}

// reliableSender numbers outgoing reliable messages and keeps them until
// acknowledged. pending is ordered by index.
type reliableSender struct {
	nextIndex uint16
	pending   []*pendingReliable
	max       int
	abandoned uint64
}

// push appends msg. If the queue is full the oldest entry is abandoned and
// reported.
func (s *reliableSender) push(msg protocol.Message, seq uint16, now, interval uint64) (entry *pendingReliable, dropped bool) {
	if s.max > 0 && len(s.pending) >= s.max {
		s.pending = s.pending[1:]
		s.abandoned++
		dropped = true
	}
	entry = &pendingReliable{
		index:    s.nextIndex,
		seq:      seq,
		msg:      msg,
		nextSend: now + interval,
		interval: interval,
		sends:    1,
	}
	s.nextIndex++
	s.pending = append(s.pending, entry)
	return entry, dropped
}

// floor returns the oldest index still retransmitted. The receiver may skip
// anything older.
func (s *reliableSender) floor() uint16 {
	if len(s.pending) == 0 {
		return s.nextIndex
	}
	return s.pending[0].index
}

// ackSeq releases the entry sent with packet sequence seq.
func (s *reliableSender) ackSeq(seq uint16) bool {
	for i, p := range s.pending {
		if p.seq == seq {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// ackCumulative releases every entry whose index precedes next, the
// receiver's next expected index.
func (s *reliableSender) ackCumulative(next uint16) int {
	n := 0
	for n < len(s.pending) && sequence.IsNewer(next, s.pending[n].index) {
		n++
	}
	if n > 0 {
		s.pending = s.pending[n:]
	}
	return n
}

// has reports whether index is still pending.
func (s *reliableSender) has(index uint16) bool {
	for _, p := range s.pending {
		if p.index == index {
			return true
		}
	}
	return false
}

// due returns entries whose retransmit deadline has passed and backs off
// their interval.
func (s *reliableSender) due(now, maxInterval uint64) []*pendingReliable {
	var out []*pendingReliable
	for _, p := range s.pending {
		if now < p.nextSend {
			continue
		}
		p.interval = min(p.interval*2, maxInterval)
		p.nextSend = now + p.interval
		p.sends++
		out = append(out, p)
	}
	return out
}

func (s *reliableSender) clear() {
	s.pending = nil
}

// reliableReceiver restores send order of reliable messages. Messages ahead
// of a gap wait in buffer, which holds at most max entries.
type reliableReceiver struct {
	next   uint16
	buffer map[uint16]protocol.Message
	max    int
}

// receiveResult describes what happened to one incoming reliable message.
type receiveResult uint8

const (
	receivedInOrder receiveResult = iota
	receivedBuffered
	receivedDuplicate
	receivedOverflow
)

// receive stores msg and returns the messages now deliverable in order.
// floor is the sender's oldest retransmitted index; indices before it will
// never arrive and are skipped.
func (r *reliableReceiver) receive(index, floor uint16, msg protocol.Message) ([]protocol.Message, receiveResult) {
	if r.buffer == nil {
		r.buffer = make(map[uint16]protocol.Message)
	}
	if sequence.IsNewer(floor, r.next) {
		for idx := range r.buffer {
			if sequence.IsNewer(floor, idx) {
				delete(r.buffer, idx)
			}
		}
		r.next = floor
	}

	var result receiveResult
	switch {
	case index == r.next:
		result = receivedInOrder
		r.buffer[index] = msg
	case sequence.IsNewer(index, r.next):
		if _, ok := r.buffer[index]; ok {
			return nil, receivedDuplicate
		}
		if r.max > 0 && sequence.Distance(index, r.next) >= r.max {
			return nil, receivedOverflow
		}
		r.buffer[index] = msg
		result = receivedBuffered
	default:
		return nil, receivedDuplicate
	}

	var out []protocol.Message
	for {
		m, ok := r.buffer[r.next]
		if !ok {
			break
		}
		delete(r.buffer, r.next)
		out = append(out, m)
		r.next++
	}
	if len(out) > 0 && result == receivedBuffered {
		result = receivedInOrder
	}
	return out, result
}

// buffered returns the number of messages waiting behind a gap.
func (r *reliableReceiver) buffered() int {
	return len(r.buffer)
}
