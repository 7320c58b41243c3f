package replication

import (
	"slices"
	"testing"
)

func TestHistoryWindow(t *testing.T) {
	h := NewHistory(3)
	for tick := uint32(1); tick <= 5; tick++ {
		if !h.Add(&State{Tick: tick}) {
			t.Fatalf("Add(%d) = false", tick)
		}
	}
	if got := h.Ticks(); !slices.Equal(got, []uint32{3, 4, 5}) {
		t.Errorf("Ticks() = %v, want [3 4 5]", got)
	}
	if h.Has(2) {
		t.Error("tick 2 kept outside the window")
	}
	if h.Add(&State{Tick: 2}) {
		t.Error("Add() of an aged out tick succeeded")
	}

	// Out of order inside the window is fine.
	h.Clear()
	h.Add(&State{Tick: 10})
	if !h.Add(&State{Tick: 9}) {
		t.Error("Add(9) after 10 = false")
	}
	if n, ok := h.Newest(); !ok || n != 10 {
		t.Errorf("Newest() = %d, %v", n, ok)
	}
	if _, ok := h.Get(9); !ok {
		t.Error("Get(9) missing")
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
}

func TestBufferRing(t *testing.T) {
	b := NewBuffer(3)
	if _, ok := b.Sample(1); ok {
		t.Error("Sample() on an empty buffer succeeded")
	}
	for tick := uint32(10); tick <= 50; tick += 10 {
		b.Push(&State{Tick: tick})
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	if s, _ := b.Latest(); s.Tick != 50 {
		t.Errorf("Latest() = %d, want 50", s.Tick)
	}

	tests := []struct {
		t        float64
		from, to uint32
		alpha    float64
	}{
		{25, 30, 30, 0},
		{30, 30, 30, 0},
		{35, 30, 40, 0.5},
		{40, 30, 40, 1},
		{42, 40, 50, 0.2},
		{60, 50, 50, 0},
	}
	for _, tt := range tests {
		s, ok := b.Sample(tt.t)
		if !ok {
			t.Fatalf("Sample(%v) failed", tt.t)
		}
		if s.From.Tick != tt.from || s.To.Tick != tt.to || s.Alpha < tt.alpha-1e-9 || s.Alpha > tt.alpha+1e-9 {
			t.Errorf("Sample(%v) = %d..%d @%v, want %d..%d @%v", tt.t, s.From.Tick, s.To.Tick, s.Alpha, tt.from, tt.to, tt.alpha)
		}
	}

	b.Clear()
	if b.Len() != 0 {
		t.Error("Clear() left states")
	}
}

func TestInterestSet(t *testing.T) {
	s := NewInterestSet(5, 3, 5, 9)
	if got := s.IDs(); !slices.Equal(got, []EntityID{5, 3, 9}) {
		t.Errorf("IDs() = %v, want [5 3 9]", got)
	}
	if !s.Contains(3) || s.Contains(4) {
		t.Error("Contains() wrong")
	}
	limited, dropped := s.Limit(2)
	if dropped != 1 || !slices.Equal(limited.IDs(), []EntityID{5, 3}) {
		t.Errorf("Limit(2) = %v dropped %d", limited.IDs(), dropped)
	}
	if _, dropped := s.Limit(0); dropped != 0 {
		t.Error("Limit(0) dropped entries")
	}

	all := Everything()
	if !all.All() || !all.Contains(12345) || all.Len() != 0 {
		t.Error("Everything() does not admit every entity")
	}
	var none InterestSet
	if none.Contains(1) {
		t.Error("zero InterestSet admits entities")
	}
}
