package netsync

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/replication"
)

const defaultTracerName = "worldsync"

// Stats receives replication and tick counters. internal/metrics
// implements it with Prometheus collectors.
type Stats interface {
	SnapshotSent(full bool, bytes int)
	SnapshotApplied(result replication.ApplyResult)
	InterestDropped(n int)
	TickDuration(phase string, d time.Duration)
}

// Recorder receives every submitted world snapshot. internal/replay
// implements it.
type Recorder interface {
	Record(w replication.WorldSnapshot)
}

type nopStats struct{}

func (nopStats) SnapshotSent(bool, int) {}
func (nopStats) SnapshotApplied(replication.ApplyResult) {}
func (nopStats) InterestDropped(int) {}
func (nopStats) TickDuration(string, time.Duration) {}

type options struct {
	conn        *conn.Config
	replication replication.Config
	logger      *slog.Logger
	tracer      trace.Tracer
	stats       Stats
	recorder    Recorder
	inputLead   int
}

// Option configures a Server or Client.
type Option func(*options)

// WithConnConfig sets the connection layer configuration.
func WithConnConfig(cfg *conn.Config) Option {
	return func(o *options) {
		o.conn = cfg
	}
}

// WithReplicationConfig sets the replication configuration.
func WithReplicationConfig(cfg replication.Config) Option {
	return func(o *options) {
		o.replication = cfg
	}
}

// WithLogger sets the logger. It is also used by the connection layer
// unless the conn config carries its own.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the tracer for tick phase spans.
// Default: the global provider's "worldsync" tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithStats sets the replication counters sink.
func WithStats(stats Stats) Option {
	return func(o *options) {
		o.stats = stats
	}
}

// WithRecorder records every submitted world snapshot. Server only.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithInputLead sets how many ticks ahead of the server the client aims
// its input clock, on top of the round trip. Client only. Default: 2.
func WithInputLead(ticks int) Option {
	return func(o *options) {
		o.inputLead = ticks
	}
}

func buildOptions(opts []Option) options {
	o := options{
		replication: replication.DefaultConfig(),
		inputLead:   2,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.conn == nil {
		o.conn = conn.DefaultConfig()
	} else {
		o.conn = o.conn.Clone()
	}
	if o.conn.Logger == nil {
		o.conn.Logger = o.logger
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(defaultTracerName)
	}
	if o.stats == nil {
		o.stats = nopStats{}
	}
	if o.conn.Now == nil {
		o.conn.Now = time.Now
	}
	return o
}
