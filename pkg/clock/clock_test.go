package clock

import (
	"math"
	"testing"
	"time"
)

func TestEstimatorInitialRTT(t *testing.T) {
	e := NewEstimator(Config{})
	if got := e.RTT(); got != DefaultInitialRTT {
		t.Errorf("RTT() = %v, want %v", got, DefaultInitialRTT)
	}
	if e.Samples() != 0 {
		t.Errorf("Samples() = %d, want 0", e.Samples())
	}
}

func TestEstimatorRTTConverges(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	// The peer echoes our stamp after holding it 5ms; the real RTT is 40ms.
	now := uint32(1000)
	for i := 0; i < 100; i++ {
		e.Observe(now, now, now-45, 5)
		now += 33
	}
	if got := e.RTT(); got < 39*time.Millisecond || got > 41*time.Millisecond {
		t.Errorf("RTT() = %v, want about 40ms", got)
	}
}

func TestEstimatorRTTWeight(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	e.Observe(1200, 1200, 1000, 0) // sample 200ms
	// 100 + 0.1 * (200 - 100)
	if got := e.RTT(); got != 110*time.Millisecond {
		t.Errorf("RTT() = %v, want 110ms", got)
	}
}

func TestEstimatorIgnoresBadSamples(t *testing.T) {
	tests := []struct {
		name  string
		now   uint32
		echo  uint32
		delay uint16
	}{
		{"no_echo", 500, 0, 0},
		{"negative", 1000, 990, 50},
		{"huge", 60000, 1000, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEstimator(DefaultConfig())
			e.Observe(tc.now, tc.now, tc.echo, tc.delay)
			if e.RTT() != DefaultInitialRTT || e.Samples() != 0 {
				t.Errorf("RTT() = %v after bad sample, want unchanged", e.RTT())
			}
		})
	}
}

func TestEstimatorRTTAcrossWrap(t *testing.T) {
	e := NewEstimator(Config{RTTWeight: 1})
	e.Observe(20, 20, math.MaxUint32-29, 0) // 50ms across the wrap
	if got := e.RTT(); got != 50*time.Millisecond {
		t.Errorf("RTT() = %v, want 50ms", got)
	}
}

func TestEstimatorOffset(t *testing.T) {
	// Remote clock runs 5000ms ahead; one-way latency 20ms.
	const ahead = 5000
	e := NewEstimator(Config{InitialRTT: 40 * time.Millisecond})
	local := uint32(10_000)
	for i := 0; i < 200; i++ {
		remoteSent := local - 20 + ahead
		e.Observe(local, remoteSent, local-40, 0)
		local += 16
	}
	if got := e.Offset(); got < 4999*time.Millisecond || got > 5001*time.Millisecond {
		t.Errorf("Offset() = %v, want about 5s", got)
	}
	if got := e.RemoteNow(100); got < 5099 || got > 5101 {
		t.Errorf("RemoteNow(100) = %d, want about 5100", got)
	}
}

func TestEstimatorNegativeOffset(t *testing.T) {
	e := NewEstimator(Config{InitialRTT: 20 * time.Millisecond})
	e.Observe(10_000, 7_990, 0, 0) // remote is 2000ms behind, 10ms one way
	if got := e.Offset(); got != -2000*time.Millisecond {
		t.Errorf("Offset() = %v, want -2s", got)
	}
	if got := e.RemoteNow(10_000); got != 8_000 {
		t.Errorf("RemoteNow() = %d, want 8000", got)
	}
}

func TestMillis(t *testing.T) {
	epoch := time.Unix(0, 0)
	if got := Millis(epoch, epoch.Add(1500*time.Millisecond)); got != 1500 {
		t.Errorf("Millis() = %d, want 1500", got)
	}
}
