package replication

// Sample is a pair of applied states bracketing a render time. Alpha is
// the blend factor from From (0) to To (1). When the render time is
// outside the buffer both states are the same.
type Sample struct {
	From  *State
	To    *State
	Alpha float64
}

// Value returns the rendered value of one component. It is interpolated
// when both states carry it and the type has an interpolation function;
// otherwise the value of To is returned.
func (s Sample) Value(reg *Registry, id EntityID, t ComponentType) ([]byte, bool, error) {
	b, ok := s.To.Component(id, t)
	if !ok {
		return nil, false, nil
	}
	if s.From == s.To || s.Alpha >= 1 {
		return b, true, nil
	}
	a, ok := s.From.Component(id, t)
	if !ok {
		return b, true, nil
	}
	v, err := reg.Interpolate(t, a, b, s.Alpha)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Buffer is a ring of the most recently applied states, oldest first.
// Pushed states must have increasing ticks.
type Buffer struct {
	entries  []*State
	head     int // Next write position (circular)
	count    int
	capacity int
}

// NewBuffer creates a buffer holding capacity states.
func NewBuffer(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{
		entries:  make([]*State, capacity),
		capacity: capacity,
	}
}

// Push appends s, overwriting the oldest state when full.
func (b *Buffer) Push(s *State) {
	b.entries[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// at returns the i-th state from the oldest.
func (b *Buffer) at(i int) *State {
	return b.entries[(b.head-b.count+i+b.capacity)%b.capacity]
}

// Len returns the number of buffered states.
func (b *Buffer) Len() int {
	return b.count
}

// Latest returns the newest state.
func (b *Buffer) Latest() (*State, bool) {
	if b.count == 0 {
		return nil, false
	}
	return b.at(b.count - 1), true
}

// Sample returns the states around render tick t. Render times beyond the
// newest state clamp to it; there is no extrapolation.
func (b *Buffer) Sample(t float64) (Sample, bool) {
	if b.count == 0 {
		return Sample{}, false
	}
	oldest := b.at(0)
	if t <= float64(oldest.Tick) {
		return Sample{From: oldest, To: oldest}, true
	}
	for i := 1; i < b.count; i++ {
		to := b.at(i)
		if t > float64(to.Tick) {
			continue
		}
		from := b.at(i - 1)
		span := float64(to.Tick - from.Tick)
		return Sample{From: from, To: to, Alpha: (t - float64(from.Tick)) / span}, true
	}
	latest := b.at(b.count - 1)
	return Sample{From: latest, To: latest}, true
}

// Clear removes every state.
func (b *Buffer) Clear() {
	for i := range b.entries {
		b.entries[i] = nil
	}
	b.head = 0
	b.count = 0
}
