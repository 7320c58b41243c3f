package sequence

// Window tracks which of the last WindowSize remote sequence numbers were
// received. Bit i of the mask is set if and only if latest - i was accepted,
// so bit 0 always describes latest itself.
//
// The zero value is an empty window that accepts any first sequence number
// as Newer.
type Window struct {
	latest  uint16
	bits    uint32
	started bool
}

// Record classifies n and, if it is accepted, marks it received.
func (w *Window) Record(n uint16) Class {
	if !w.started {
		w.started = true
		w.latest = n
		w.bits = 1
		return Newer
	}

	switch Classify(w.latest, n) {
	case Newer:
		shift := n - w.latest
		if shift >= WindowSize {
			w.bits = 0
		} else {
			w.bits <<= shift
		}
		w.bits |= 1
		w.latest = n
		return Newer
	case Duplicate:
		return Duplicate
	}

	back := w.latest - n
	if back >= WindowSize {
		return Stale
	}
	mask := uint32(1) << back
	if w.bits&mask != 0 {
		return Duplicate
	}
	w.bits |= mask
	return Late
}

// Has reports whether n is inside the window and was received.
func (w *Window) Has(n uint16) bool {
	if !w.started {
		return false
	}
	back := w.latest - n
	if back >= WindowSize || IsNewer(n, w.latest) {
		return false
	}
	return w.bits&(1<<back) != 0
}

// Ack returns the values for the ack and ack_bits fields of an outgoing
// header. An empty window reports ack 0 with no bits set.
func (w *Window) Ack() (ack uint16, bits uint32) {
	return w.latest, w.bits
}

// Started reports whether any sequence number has been recorded.
func (w *Window) Started() bool {
	return w.started
}

// Latest returns the newest accepted sequence number.
func (w *Window) Latest() uint16 {
	return w.latest
}

// Reset empties the window.
func (w *Window) Reset() {
	*w = Window{}
}
