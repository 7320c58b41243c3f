// Package clock estimates round-trip time and remote clock offset from the
// stamps carried in every packet, and converts wall time into fixed
// simulation ticks.
//
// Clock values on the wire are milliseconds truncated to 32 bits. All
// arithmetic on them is modular, so a process may run for longer than the
// 49 days it takes the counter to wrap.
package clock

import (
	"math"
	"time"
)

// Defaults for the estimator.
const (
	DefaultRTTWeight    = 0.1
	DefaultOffsetWeight = 0.1
	DefaultInitialRTT   = 100 * time.Millisecond

	// MaxRTTSample discards samples that can only come from a corrupted or
	// hostile stamp.
	MaxRTTSample = 10 * time.Second
)

// Config configures an Estimator.
type Config struct {
	// RTTWeight is the weight of a new RTT sample in the moving average.
	RTTWeight float64

	// OffsetWeight is the weight of a new offset sample in the moving average.
	OffsetWeight float64

	// InitialRTT is the estimate before any sample arrives.
	InitialRTT time.Duration
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		RTTWeight:    DefaultRTTWeight,
		OffsetWeight: DefaultOffsetWeight,
		InitialRTT:   DefaultInitialRTT,
	}
}

// Estimator tracks the smoothed RTT and clock offset of one peer.
// It is not safe for concurrent use; a connection owns one.
type Estimator struct {
	cfg Config

	rtt        float64 // ms
	offset     float64 // ms, remote minus local
	hasOffset  bool
	rttSamples int
}

// NewEstimator creates an estimator. Zero fields in cfg take defaults.
func NewEstimator(cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.RTTWeight <= 0 || cfg.RTTWeight > 1 {
		cfg.RTTWeight = def.RTTWeight
	}
	if cfg.OffsetWeight <= 0 || cfg.OffsetWeight > 1 {
		cfg.OffsetWeight = def.OffsetWeight
	}
	if cfg.InitialRTT <= 0 {
		cfg.InitialRTT = def.InitialRTT
	}
	return &Estimator{
		cfg: cfg,
		rtt: float64(cfg.InitialRTT) / float64(time.Millisecond),
	}
}

// Observe folds in the stamp of a packet accepted as newer than any before
// it. now is the local clock when the packet was received. An echoSentAt of
// zero means the peer has not yet heard from us and only the offset is
// updated.
func (e *Estimator) Observe(now, sentAt, echoSentAt uint32, echoDelay uint16) {
	if echoSentAt != 0 {
		sample := int64(int32(now - echoSentAt - uint32(echoDelay)))
		if sample >= 0 && sample <= MaxRTTSample.Milliseconds() {
			e.rtt += e.cfg.RTTWeight * (float64(sample) - e.rtt)
			e.rttSamples++
		}
	}

	off := float64(int32(sentAt-now)) + e.rtt/2
	if !e.hasOffset {
		e.offset = off
		e.hasOffset = true
		return
	}
	e.offset += e.cfg.OffsetWeight * (off - e.offset)
}

// RTT returns the smoothed round-trip time.
func (e *Estimator) RTT() time.Duration {
	return time.Duration(e.rtt * float64(time.Millisecond))
}

// Offset returns the smoothed difference between the remote clock and the
// local clock.
func (e *Estimator) Offset() time.Duration {
	return time.Duration(e.offset * float64(time.Millisecond))
}

// Samples returns the number of RTT samples folded in so far.
func (e *Estimator) Samples() int {
	return e.rttSamples
}

// RemoteNow converts a local clock reading to the remote clock.
func (e *Estimator) RemoteNow(local uint32) uint32 {
	return local + uint32(int32(math.Round(e.offset)))
}

// Millis returns the wire clock value of now relative to epoch.
func Millis(epoch, now time.Time) uint32 {
	return uint32(now.Sub(epoch).Milliseconds())
}
