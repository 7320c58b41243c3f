package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/replication"
)

const (
	// ConfigFileName is the default name of the configuration file.
	ConfigFileName = "worldsync.yaml"

	// DefaultListen is the default game listen address.
	DefaultListen = ":7777"

	// DefaultAdminListen is the default admin HTTP address.
	DefaultAdminListen = "127.0.0.1:7778"

	// DefaultTickRate is the default simulation and network tick rate.
	DefaultTickRate = 30
)

// Transports.
const (
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"
)

// Config represents the complete worldsync.yaml configuration.
type Config struct {
	// Listen is the game traffic address.
	Listen string `yaml:"listen"`

	// Transport is "udp" or "websocket".
	Transport string `yaml:"transport"`

	// WebSocketPath is the upgrade path when Transport is "websocket".
	WebSocketPath string `yaml:"websocket_path,omitempty"`

	// TickRate is the number of ticks per second.
	TickRate int `yaml:"tick_rate"`

	// MaxConnections rejects handshakes beyond this many connections.
	MaxConnections int `yaml:"max_connections"`

	// MTU is the largest datagram sent.
	MTU int `yaml:"mtu"`

	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Replication ReplicationConfig `yaml:"replication"`
	Admin       AdminConfig       `yaml:"admin"`
	Log         LogConfig         `yaml:"log"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Banlist     BanlistConfig     `yaml:"banlist"`
	Replay      ReplayConfig      `yaml:"replay"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// TimeoutsConfig holds connection deadlines. They are converted to ticks.
type TimeoutsConfig struct {
	Handshake time.Duration `yaml:"handshake"`
	Liveness  time.Duration `yaml:"liveness"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Linger    time.Duration `yaml:"linger"`
}

// ReliabilityConfig tunes the reliable channel.
type ReliabilityConfig struct {
	Retransmit     time.Duration `yaml:"retransmit"`
	MaxRetransmit  time.Duration `yaml:"max_retransmit"`
	MaxPending     int           `yaml:"max_pending"`
	MaxOrderBuffer int           `yaml:"max_order_buffer"`
	MaxFragments   int           `yaml:"max_fragment_groups"`
}

// ReplicationConfig tunes snapshot replication.
type ReplicationConfig struct {
	// Window is how many ticks back a delta baseline may lie.
	Window int `yaml:"window"`

	// MaxInterest bounds entities per connection per tick. 0 is unlimited.
	MaxInterest int `yaml:"max_interest"`

	// InterpolationDepth is how many states clients keep for interpolation.
	InterpolationDepth int `yaml:"interpolation_depth"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	// Listen is the admin address. Empty disables the admin server.
	Listen string `yaml:"listen"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TracerName string `yaml:"tracer_name,omitempty"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// BanlistConfig configures the SQLite ban list.
type BanlistConfig struct {
	// Path is the database file. Empty disables the ban list.
	Path string `yaml:"path"`
}

// ReplayConfig configures snapshot recording.
type ReplayConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir receives recording segments.
	Dir string `yaml:"dir"`

	// SegmentSnapshots is how many snapshots go into one segment file.
	SegmentSnapshots int `yaml:"segment_snapshots"`

	// S3 uploads finished segments when Bucket is set.
	S3 S3Config `yaml:"s3"`
}

// S3Config names the upload bucket.
type S3Config struct {
	Bucket   string `yaml:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// New returns a Config filled with defaults.
func New() *Config {
	return &Config{
		Listen:         DefaultListen,
		Transport:      TransportUDP,
		WebSocketPath:  "/sync",
		TickRate:       DefaultTickRate,
		MaxConnections: 1024,
		MTU:            protocol.DefaultMTU,
		Timeouts: TimeoutsConfig{
			Handshake: 5 * time.Second,
			Liveness:  10 * time.Second,
			Heartbeat: time.Second,
			Linger:    100 * time.Millisecond,
		},
		Reliability: ReliabilityConfig{
			Retransmit:     100 * time.Millisecond,
			MaxRetransmit:  time.Second,
			MaxPending:     256,
			MaxOrderBuffer: 256,
			MaxFragments:   8,
		},
		Replication: ReplicationConfig{
			Window:             replication.DefaultWindow,
			MaxInterest:        1024,
			InterpolationDepth: 3,
		},
		Admin:   AdminConfig{Listen: DefaultAdminListen},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "worldsync"},
		Tracing: TracingConfig{TracerName: "worldsync"},
		Replay: ReplayConfig{
			Dir:              "recordings",
			SegmentSnapshots: 900,
		},
	}
}

// Load reads worldsync.yaml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. Fields the
// file leaves out keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path))
		}
		return nil, errors.New(errors.CodeConfigNotFound).Wrap(err)
	}

	cfg := New()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigParse).
			WithLocationFromYAML(path, err).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Newf(errors.CategoryConfig, "write %s", path).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in values the file set to zero.
func (c *Config) applyDefaults() {
	def := New()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.WebSocketPath == "" {
		c.WebSocketPath = def.WebSocketPath
	}
	if c.TickRate == 0 {
		c.TickRate = def.TickRate
	}
	if c.MTU == 0 {
		c.MTU = def.MTU
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = def.Tracing.TracerName
	}
	if c.Replay.Dir == "" {
		c.Replay.Dir = def.Replay.Dir
	}
	if c.Replay.SegmentSnapshots <= 0 {
		c.Replay.SegmentSnapshots = def.Replay.SegmentSnapshots
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeConfigInvalid).WithDetail(fmt.Sprintf(format, args...))
	}
	switch {
	case c.TickRate < 1 || c.TickRate > 1000:
		return invalid("tick_rate must be between 1 and 1000, got %d", c.TickRate)
	case c.Transport != TransportUDP && c.Transport != TransportWebSocket:
		return invalid("transport must be %q or %q, got %q", TransportUDP, TransportWebSocket, c.Transport)
	case c.MTU < protocol.MinMTU || c.MTU > 65507:
		return invalid("mtu must be between %d and 65507, got %d", protocol.MinMTU, c.MTU)
	case c.MaxConnections < 0:
		return invalid("max_connections must not be negative")
	case c.Timeouts.Handshake < 0 || c.Timeouts.Liveness < 0 || c.Timeouts.Heartbeat < 0 || c.Timeouts.Linger < 0:
		return invalid("timeouts must not be negative")
	case c.Timeouts.Heartbeat > 0 && c.Timeouts.Liveness > 0 && c.Timeouts.Heartbeat >= c.Timeouts.Liveness:
		return invalid("heartbeat (%s) must be shorter than the liveness timeout (%s)", c.Timeouts.Heartbeat, c.Timeouts.Liveness)
	case c.Reliability.Retransmit < 0 || c.Reliability.MaxRetransmit < 0:
		return invalid("retransmit intervals must not be negative")
	case c.Replication.Window < 0 || c.Replication.MaxInterest < 0:
		return invalid("replication window and max_interest must not be negative")
	case c.Replication.InterpolationDepth == 1:
		return invalid("interpolation_depth must be at least 2")
	case c.Replay.S3.Bucket != "" && c.Replay.S3.Region == "":
		return invalid("replay.s3.region is required with a bucket")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return invalid("%v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// TickInterval returns the duration of one tick.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// Ticks converts d to whole ticks, rounding up. Zero stays zero so that
// the package default applies.
func (c *Config) Ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	interval := c.TickInterval()
	return uint64((d + interval - 1) / interval)
}

// ConnConfig converts the connection settings into a conn.Config.
// Admission, Observer, Now and Logger are left for the caller.
func (c *Config) ConnConfig() *conn.Config {
	cfg := conn.DefaultConfig()
	cfg.TickRate = c.TickRate
	cfg.MaxConnections = c.MaxConnections
	cfg.MTU = c.MTU
	if t := c.Ticks(c.Timeouts.Handshake); t > 0 {
		cfg.HandshakeTimeout = t
	}
	if t := c.Ticks(c.Timeouts.Liveness); t > 0 {
		cfg.Timeout = t
	}
	if t := c.Ticks(c.Timeouts.Heartbeat); t > 0 {
		cfg.HeartbeatInterval = t
	}
	if t := c.Ticks(c.Timeouts.Linger); t > 0 {
		cfg.LingerTicks = t
	}
	if t := c.Ticks(c.Reliability.Retransmit); t > 0 {
		cfg.RetransmitInterval = t
	}
	if t := c.Ticks(c.Reliability.MaxRetransmit); t > 0 {
		cfg.MaxRetransmitInterval = t
	}
	if c.Reliability.MaxPending > 0 {
		cfg.MaxPendingReliable = c.Reliability.MaxPending
	}
	if c.Reliability.MaxOrderBuffer > 0 {
		cfg.MaxOrderBuffer = c.Reliability.MaxOrderBuffer
	}
	if c.Reliability.MaxFragments > 0 {
		cfg.MaxFragmentGroups = c.Reliability.MaxFragments
	}
	return cfg
}

// ReplicationConfig converts the replication settings.
func (c *Config) ReplicationConfig() replication.Config {
	cfg := replication.DefaultConfig()
	if c.Replication.Window > 0 {
		cfg.Window = c.Replication.Window
	}
	cfg.MaxInterest = c.Replication.MaxInterest
	if c.Replication.InterpolationDepth > 0 {
		cfg.InterpolationDepth = c.Replication.InterpolationDepth
	}
	return cfg
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
	return level, nil
}

// Logger builds the slog logger described by Log, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
