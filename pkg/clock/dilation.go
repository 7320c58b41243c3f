package clock

import "time"

// Dilation bounds.
const (
	MinDilation = 0.9
	MaxDilation = 1.1

	// DilationGain is the rate change applied per tick of lead error.
	DilationGain = 0.02
)

// Dilation returns the tick-rate multiplier that steers actual toward
// target. Both are measured in ticks of input lead: how far ahead of the
// server's tick the client's inputs arrive. A client that is behind its
// target runs faster, one that is ahead runs slower. The result is clamped
// to [MinDilation, MaxDilation].
func Dilation(target, actual float64) float64 {
	return clamp(1+(target-actual)*DilationGain, MinDilation, MaxDilation)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// MaxCatchUp is the largest number of ticks Advance reports at once. A
// process that stalls for longer drops the excess instead of spinning.
const MaxCatchUp = 8

// TickClock converts wall time into fixed simulation ticks using an
// accumulator. The multiplier set by SetDilation scales how fast wall time
// accumulates.
type TickClock struct {
	interval time.Duration
	acc      time.Duration
	last     time.Time
	tick     uint32
	dilation float64
}

// NewTickClock creates a clock running rate ticks per second from start.
func NewTickClock(rate int, start time.Time) *TickClock {
	if rate <= 0 {
		rate = 1
	}
	return &TickClock{
		interval: time.Second / time.Duration(rate),
		last:     start,
		dilation: 1,
	}
}

// Advance accumulates the wall time since the previous call and returns the
// number of whole ticks that elapsed.
func (c *TickClock) Advance(now time.Time) int {
	elapsed := now.Sub(c.last)
	c.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	c.acc += time.Duration(float64(elapsed) * c.dilation)

	n := 0
	for c.acc >= c.interval {
		c.acc -= c.interval
		c.tick++
		n++
		if n == MaxCatchUp {
			c.acc = 0
			break
		}
	}
	return n
}

// SetDilation sets the tick-rate multiplier, clamped to the dilation bounds.
func (c *TickClock) SetDilation(m float64) {
	c.dilation = clamp(m, MinDilation, MaxDilation)
}

// Dilation returns the current multiplier.
func (c *TickClock) Dilation() float64 {
	return c.dilation
}

// Tick returns the current tick.
func (c *TickClock) Tick() uint32 {
	return c.tick
}

// SetTick jumps the clock to tick, as when a client adopts the server's tick.
func (c *TickClock) SetTick(tick uint32) {
	c.tick = tick
	c.acc = 0
}

// Interval returns the nominal duration of one tick.
func (c *TickClock) Interval() time.Duration {
	return c.interval
}

// Alpha returns how far the clock is into the current tick, in [0, 1).
func (c *TickClock) Alpha() float64 {
	return float64(c.acc) / float64(c.interval)
}
