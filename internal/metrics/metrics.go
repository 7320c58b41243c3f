// Package metrics exports connection and replication counters to
// Prometheus. A Collector satisfies both conn.Observer and netsync.Stats,
// so one instance can be handed to every layer of a server or client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/netsync"
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/replication"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "worldsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for tick phase duration.
	// Default: 0.1ms to ~100ms, exponential.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the tick duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "worldsync",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 11),
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the Prometheus collectors.
type Collector struct {
	packetsReceived   prometheus.Counter
	packetsSent       prometheus.Counter
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	decodeFailures    *prometheus.CounterVec
	packetsDropped    *prometheus.CounterVec
	violations        prometheus.Counter
	timeouts          prometheus.Counter
	capacityDrops     *prometheus.CounterVec
	retransmits       prometheus.Counter
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	activeConnections prometheus.Gauge
	rtt               prometheus.Histogram

	snapshotsSent    *prometheus.CounterVec
	snapshotBytes    *prometheus.HistogramVec
	snapshotsApplied *prometheus.CounterVec
	interestDropped  prometheus.Counter
	tickDuration     *prometheus.HistogramVec
}

var (
	_ conn.Observer = (*Collector)(nil)
	_ netsync.Stats = (*Collector)(nil)
)

// New registers the collectors and returns them. Registering twice on the
// same registry panics, as with promauto.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Collector{
		packetsReceived: counter("packets_received_total", "Total datagrams received"),
		packetsSent:     counter("packets_sent_total", "Total datagrams sent"),
		bytesReceived:   counter("received_bytes_total", "Total bytes received"),
		bytesSent:       counter("sent_bytes_total", "Total bytes sent"),
		decodeFailures:  counterVec("decode_failures_total", "Datagrams that failed to decode, by error kind", "kind"),
		packetsDropped:  counterVec("packets_dropped_total", "Datagrams dropped after decoding, by reason", "reason"),
		violations:      counter("protocol_violations_total", "Connections closed for protocol violations"),
		timeouts:        counter("timeouts_total", "Connections closed by handshake or liveness timeout"),
		capacityDrops:   counterVec("capacity_drops_total", "Messages abandoned because a bounded buffer was full", "what"),
		retransmits:     counter("retransmits_total", "Reliable message retransmissions"),

		connectionsOpened: counter("connections_opened_total", "Connections created"),
		connectionsClosed: counterVec("connections_closed_total", "Connections closed, by reason", "reason"),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of live connections",
			ConstLabels: config.ConstLabels,
		}),
		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rtt_seconds",
			Help:        "Round trip time samples",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
		}),

		snapshotsSent: counterVec("snapshots_sent_total", "Snapshots sent, by kind", "kind"),
		snapshotBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "snapshot_bytes",
			Help:        "Encoded snapshot body size",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 2, 12), // 64B to 128KB
		}, []string{"kind"}),
		snapshotsApplied: counterVec("snapshots_applied_total", "Snapshots handled by a client, by result", "result"),
		interestDropped:  counter("interest_dropped_total", "Entities cut from snapshots by the interest limit"),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tick_phase_duration_seconds",
			Help:        "Duration of tick phases",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"phase"}),
	}
}

// PacketReceived implements conn.Observer.
func (c *Collector) PacketReceived(bytes int) {
	c.packetsReceived.Inc()
	c.bytesReceived.Add(float64(bytes))
}

// PacketSent implements conn.Observer.
func (c *Collector) PacketSent(bytes int) {
	c.packetsSent.Inc()
	c.bytesSent.Add(float64(bytes))
}

// DecodeFailed implements conn.Observer.
func (c *Collector) DecodeFailed(kind protocol.DecodeErrorKind) {
	c.decodeFailures.WithLabelValues(kind.String()).Inc()
}

// PacketDropped implements conn.Observer.
func (c *Collector) PacketDropped(reason string) {
	c.packetsDropped.WithLabelValues(reason).Inc()
}

// ProtocolViolation implements conn.Observer.
func (c *Collector) ProtocolViolation() { c.violations.Inc() }

// Timeout implements conn.Observer.
func (c *Collector) Timeout() { c.timeouts.Inc() }

// CapacityDropped implements conn.Observer.
func (c *Collector) CapacityDropped(what string) {
	c.capacityDrops.WithLabelValues(what).Inc()
}

// Retransmit implements conn.Observer.
func (c *Collector) Retransmit() { c.retransmits.Inc() }

// ConnectionOpened implements conn.Observer.
func (c *Collector) ConnectionOpened() {
	c.connectionsOpened.Inc()
	c.activeConnections.Inc()
}

// ConnectionClosed implements conn.Observer.
func (c *Collector) ConnectionClosed(reason conn.Reason) {
	c.connectionsClosed.WithLabelValues(reason.String()).Inc()
	c.activeConnections.Dec()
}

// RTT implements conn.Observer.
func (c *Collector) RTT(d time.Duration) {
	c.rtt.Observe(d.Seconds())
}

// SnapshotSent implements netsync.Stats.
func (c *Collector) SnapshotSent(full bool, bytes int) {
	kind := "delta"
	if full {
		kind = "full"
	}
	c.snapshotsSent.WithLabelValues(kind).Inc()
	c.snapshotBytes.WithLabelValues(kind).Observe(float64(bytes))
}

// SnapshotApplied implements netsync.Stats.
func (c *Collector) SnapshotApplied(result replication.ApplyResult) {
	c.snapshotsApplied.WithLabelValues(result.String()).Inc()
}

// InterestDropped implements netsync.Stats.
func (c *Collector) InterestDropped(n int) {
	c.interestDropped.Add(float64(n))
}

// TickDuration implements netsync.Stats.
func (c *Collector) TickDuration(phase string, d time.Duration) {
	c.tickDuration.WithLabelValues(phase).Observe(d.Seconds())
}
