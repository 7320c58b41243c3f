package sequence

import (
	"slices"
	"testing"
)

// TestWindowSkippedPackets receives 1..40 except 5 and 17 and checks the
// header a receiver would emit: ack 40 and every bit for 9..40 set except
// the one for 17. Packet 5 is older than the window and never reported.
func TestWindowSkippedPackets(t *testing.T) {
	var w Window
	for n := uint16(1); n <= 40; n++ {
		if n == 5 || n == 17 {
			continue
		}
		if got := w.Record(n); got != Newer {
			t.Fatalf("Record(%d) = %v, want Newer", n, got)
		}
	}

	ack, bits := w.Ack()
	if ack != 40 {
		t.Errorf("ack = %d, want 40", ack)
	}
	wantBits := ^uint32(0) &^ (1 << (40 - 17))
	if bits != wantBits {
		t.Errorf("ack_bits = %032b, want %032b", bits, wantBits)
	}

	var want []uint16
	for n := uint16(40); n >= 9; n-- {
		if n != 17 {
			want = append(want, n)
		}
	}
	if got := slices.Collect(Acked(ack, bits)); !slices.Equal(got, want) {
		t.Errorf("Acked() = %v, want %v", got, want)
	}
	if w.Has(5) || w.Has(17) {
		t.Error("Has reported a packet that was never received")
	}
}

func TestWindowRecordClasses(t *testing.T) {
	var w Window
	steps := []struct {
		n    uint16
		want Class
	}{
		{100, Newer},
		{100, Duplicate},
		{102, Newer},
		{101, Late},
		{101, Duplicate},
		{70, Stale}, // 32 behind
		{71, Late},  // 31 behind, unseen
		{99, Late},
		{140, Newer}, // jump larger than the window clears it
		{102, Stale},
		{139, Late},
	}
	for i, s := range steps {
		if got := w.Record(s.n); got != s.want {
			t.Errorf("step %d: Record(%d) = %v, want %v", i, s.n, got, s.want)
		}
	}
	ack, bits := w.Ack()
	if ack != 140 || bits != 0b11 {
		t.Errorf("Ack() = (%d, %b), want (140, 11)", ack, bits)
	}
}

func TestWindowWraparound(t *testing.T) {
	var w Window
	for n := uint16(65530); n != 6; n++ {
		w.Record(n)
	}
	ack, bits := w.Ack()
	if ack != 5 {
		t.Errorf("ack = %d, want 5", ack)
	}
	if bits != 0xFFF {
		t.Errorf("bits = %b, want 12 ones", bits)
	}
	if got := w.Record(65533); got != Duplicate {
		t.Errorf("Record(65533) = %v, want Duplicate", got)
	}
	if !w.Has(65535) || !w.Has(0) {
		t.Error("Has lost numbers across wraparound")
	}
}

func TestWindowEmpty(t *testing.T) {
	var w Window
	if w.Started() {
		t.Error("zero window reports started")
	}
	if ack, bits := w.Ack(); ack != 0 || bits != 0 {
		t.Errorf("Ack() = (%d, %b), want (0, 0)", ack, bits)
	}
	if w.Has(0) {
		t.Error("zero window has 0")
	}
	if got := w.Record(40000); got != Newer {
		t.Errorf("first Record = %v, want Newer", got)
	}
	w.Reset()
	if w.Started() {
		t.Error("Reset window reports started")
	}
}

func TestClassAccepted(t *testing.T) {
	for c, want := range map[Class]bool{Newer: true, Late: true, Duplicate: false, Stale: false} {
		if c.Accepted() != want {
			t.Errorf("%v.Accepted() = %v, want %v", c, !want, want)
		}
	}
}
