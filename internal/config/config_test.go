package config

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/worldsync/internal/errors"
	"github.com/vango-dev/worldsync/pkg/replication"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func code(err error) string {
	var se *errors.Error
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

func TestNew(t *testing.T) {
	cfg := New()
	if cfg.Listen != DefaultListen || cfg.TickRate != DefaultTickRate {
		t.Errorf("Listen = %q, TickRate = %d", cfg.Listen, cfg.TickRate)
	}
	if cfg.Replication.Window != replication.DefaultWindow {
		t.Errorf("Replication.Window = %d, want %d", cfg.Replication.Window, replication.DefaultWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	if _, err := Load(t.TempDir()); code(err) != errors.CodeConfigNotFound {
		t.Errorf("Load(empty dir) error = %v, want %s", err, errors.CodeConfigNotFound)
	}

	dir := writeConfig(t, `
listen: ":9000"
transport: WebSocket
tick_rate: 60
timeouts:
  liveness: 4s
  heartbeat: 250ms
replication:
  window: 16
log:
  format: json
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":9000" || cfg.TickRate != 60 {
		t.Errorf("Listen = %q, TickRate = %d", cfg.Listen, cfg.TickRate)
	}
	if cfg.Transport != TransportWebSocket {
		t.Errorf("Transport = %q, want lower-cased websocket", cfg.Transport)
	}
	if cfg.Timeouts.Liveness != 4*time.Second || cfg.Timeouts.Handshake != 5*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Path() != filepath.Join(dir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadSyntaxError(t *testing.T) {
	dir := writeConfig(t, "listen: \":7777\"\ntick_rate: [\n")
	_, err := Load(dir)
	if code(err) != errors.CodeConfigParse {
		t.Fatalf("Load() error = %v, want %s", err, errors.CodeConfigParse)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := writeConfig(t, "listen: \":7777\"\ntickrate: 30\n")
	if _, err := Load(dir); code(err) != errors.CodeConfigParse {
		t.Errorf("Load() error = %v, want %s", err, errors.CodeConfigParse)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tick rate", func(c *Config) { c.TickRate = 0 }},
		{"transport", func(c *Config) { c.Transport = "tcp" }},
		{"mtu", func(c *Config) { c.MTU = 100 }},
		{"heartbeat", func(c *Config) { c.Timeouts.Heartbeat = 20 * time.Second }},
		{"negative timeout", func(c *Config) { c.Timeouts.Linger = -time.Second }},
		{"interpolation", func(c *Config) { c.Replication.InterpolationDepth = 1 }},
		{"s3 region", func(c *Config) { c.Replay.S3.Bucket = "recordings" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); code(err) != errors.CodeConfigInvalid {
				t.Errorf("Validate() = %v, want %s", err, errors.CodeConfigInvalid)
			}
		})
	}
}

func TestConnConfigConvertsToTicks(t *testing.T) {
	cfg := New()
	cfg.TickRate = 20 // 50ms ticks
	cfg.Timeouts = TimeoutsConfig{
		Handshake: 2 * time.Second,
		Liveness:  5 * time.Second,
		Heartbeat: 120 * time.Millisecond, // rounds up
		Linger:    0,                      // package default
	}
	cfg.Reliability.Retransmit = 50 * time.Millisecond

	cc := cfg.ConnConfig()
	tests := []struct {
		name      string
		got, want uint64
	}{
		{"handshake", cc.HandshakeTimeout, 40},
		{"liveness", cc.Timeout, 100},
		{"heartbeat", cc.HeartbeatInterval, 3},
		{"linger", cc.LingerTicks, 3},
		{"retransmit", cc.RetransmitInterval, 1},
		{"max retransmit", cc.MaxRetransmitInterval, 20},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d ticks, want %d", tt.name, tt.got, tt.want)
		}
	}
	if cc.TickRate != 20 || cc.MTU != cfg.MTU {
		t.Errorf("TickRate = %d, MTU = %d", cc.TickRate, cc.MTU)
	}
}

func TestReplicationConfig(t *testing.T) {
	cfg := New()
	cfg.Replication = ReplicationConfig{Window: 0, MaxInterest: 0, InterpolationDepth: 4}
	rc := cfg.ReplicationConfig()
	if rc.Window != replication.DefaultWindow || rc.MaxInterest != 0 || rc.InterpolationDepth != 4 {
		t.Errorf("ReplicationConfig() = %+v", rc)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := New()
	cfg.Listen = ":1234"
	cfg.Timeouts.Liveness = 7 * time.Second
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "liveness: 7s") {
		t.Errorf("saved config does not spell durations:\n%s", data)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Listen != ":1234" || loaded.Timeouts.Liveness != 7*time.Second {
		t.Errorf("reloaded Listen = %q, Liveness = %s", loaded.Listen, loaded.Timeouts.Liveness)
	}
}

func TestLogger(t *testing.T) {
	cfg := New()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "peer", 7)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"peer":7`) {
		t.Errorf("Logger() output = %q", out)
	}
}
