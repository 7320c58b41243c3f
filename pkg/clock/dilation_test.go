package clock

import (
	"testing"
	"time"
)

func TestDilation(t *testing.T) {
	tests := []struct {
		name           string
		target, actual float64
		want           float64
	}{
		{"on_target", 2, 2, 1},
		{"behind", 3, 2, 1.02},
		{"ahead", 2, 3, 0.98},
		{"far_behind", 50, 0, MaxDilation},
		{"far_ahead", 0, 50, MinDilation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Dilation(tc.target, tc.actual)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Dilation(%v, %v) = %v, want %v", tc.target, tc.actual, got, tc.want)
			}
		})
	}
}

func TestTickClockAdvance(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewTickClock(20, start) // 50ms ticks

	if n := c.Advance(start.Add(49 * time.Millisecond)); n != 0 {
		t.Errorf("Advance(49ms) = %d, want 0", n)
	}
	if n := c.Advance(start.Add(101 * time.Millisecond)); n != 2 {
		t.Errorf("Advance(101ms) = %d, want 2", n)
	}
	if c.Tick() != 2 {
		t.Errorf("Tick() = %d, want 2", c.Tick())
	}
	if a := c.Alpha(); a < 0.01 || a > 0.03 {
		t.Errorf("Alpha() = %v, want 0.02", a)
	}
}

func TestTickClockCatchUpBounded(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewTickClock(10, start)
	if n := c.Advance(start.Add(10 * time.Second)); n != MaxCatchUp {
		t.Errorf("Advance(10s) = %d, want %d", n, MaxCatchUp)
	}
	if c.Alpha() != 0 {
		t.Errorf("Alpha() = %v after catch-up, want 0", c.Alpha())
	}
}

func TestTickClockDilation(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewTickClock(10, start)
	c.SetDilation(5)
	if c.Dilation() != MaxDilation {
		t.Errorf("Dilation() = %v, want %v", c.Dilation(), MaxDilation)
	}
	// 10 ticks of wall time at 1.1x yields 11 ticks.
	total := 0
	for i := 1; i <= 10; i++ {
		total += c.Advance(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if total != 11 {
		t.Errorf("ticks = %d, want 11", total)
	}

	c.SetTick(500)
	if c.Tick() != 500 || c.Alpha() != 0 {
		t.Errorf("SetTick: Tick() = %d Alpha() = %v", c.Tick(), c.Alpha())
	}
}
