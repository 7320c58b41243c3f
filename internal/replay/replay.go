// Package replay records the world snapshots a server submits.
//
// Snapshots are batched into segments of newline-delimited JSON and handed
// to a Store: a local directory or an S3 bucket. Each recording gets a
// random id, so segment keys look like
//
//	3f0c2d8e-.../000000.jsonl
//	3f0c2d8e-.../000001.jsonl
//
// A Recorder satisfies netsync.Recorder:
//
//	store, _ := replay.NewDiskStore("recordings")
//	rec := replay.NewRecorder(store, replay.WithSegmentSnapshots(900))
//	defer rec.Close(context.Background())
//
//	server := netsync.NewServer(tr, reg, netsync.WithRecorder(rec))
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vango-dev/worldsync/pkg/replication"
)

// Defaults.
const (
	DefaultSegmentSnapshots = 900
	DefaultQueue            = 256
)

type config struct {
	segment int
	queue   int
	logger  *slog.Logger
	id      string
}

// Option configures a Recorder.
type Option func(*config)

// WithSegmentSnapshots sets how many snapshots make one segment.
func WithSegmentSnapshots(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.segment = n
		}
	}
}

// WithQueue sets how many snapshots may wait for encoding before Record
// starts dropping.
func WithQueue(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queue = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecordingID overrides the generated recording id.
func WithRecordingID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// Recorder batches snapshots into segments on a background goroutine.
// Record never blocks the tick loop; when the queue is full the snapshot
// is dropped and counted.
type Recorder struct {
	store  Store
	cfg    config
	logger *slog.Logger
	done   chan struct{}

	// qmu orders Record against Close closing the queue.
	qmu    sync.RWMutex
	queue  chan replication.WorldSnapshot
	closed bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	segments atomic.Uint64
	failed   atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	cfg := config{
		segment: DefaultSegmentSnapshots,
		queue:   DefaultQueue,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	r := &Recorder{
		store:  store,
		cfg:    cfg,
		logger: cfg.logger.With("component", "replay", "recording", cfg.id),
		queue:  make(chan replication.WorldSnapshot, cfg.queue),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// ID returns the recording id.
func (r *Recorder) ID() string {
	return r.cfg.id
}

// Record queues w. The snapshot is copied; the caller may reuse its maps.
func (r *Recorder) Record(w replication.WorldSnapshot) {
	cp := replication.WorldSnapshot{Tick: w.Tick, Entities: make([]replication.EntitySnapshot, len(w.Entities))}
	for i, e := range w.Entities {
		cp.Entities[i] = replication.EntitySnapshot{ID: e.ID, Components: e.Components.Clone()}
	}

	r.qmu.RLock()
	defer r.qmu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- cp:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("replay queue full, dropping snapshots", "tick", w.Tick)
		}
	}
}

// Close flushes the last partial segment and stops the recorder. It
// returns the last store error, if any.
func (r *Recorder) Close(ctx context.Context) error {
	r.qmu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.qmu.Unlock()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Err()
}

// Err returns the most recent store error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Stats reports recorder counters.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Segments uint64 `json:"segments"`
	Failed   uint64 `json:"failed"`
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Segments: r.segments.Load(),
		Failed:   r.failed.Load(),
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	var (
		buf   bytes.Buffer
		n     int
		index int
	)
	enc := json.NewEncoder(&buf)
	flush := func() {
		if n == 0 {
			return
		}
		key := fmt.Sprintf("%s/%06d.jsonl", r.cfg.id, index)
		if err := r.store.Save(context.Background(), key, buf.Bytes()); err != nil {
			r.failed.Add(1)
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			r.logger.Error("segment store failed", "key", key, "error", err)
		} else {
			r.segments.Add(1)
			r.logger.Debug("segment stored", "key", key, "snapshots", n, "bytes", buf.Len())
		}
		index++
		n = 0
		buf.Reset()
	}

	for w := range r.queue {
		if err := enc.Encode(toFrame(w)); err != nil {
			r.logger.Error("encode snapshot", "tick", w.Tick, "error", err)
			continue
		}
		n++
		r.recorded.Add(1)
		if n >= r.cfg.segment {
			flush()
		}
	}
	flush()
}

// frame is the JSON form of one snapshot. Component values are base64.
type frame struct {
	Tick     uint32        `json:"tick"`
	Entities []frameEntity `json:"entities"`
}

type frameEntity struct {
	ID         replication.EntityID   `json:"id"`
	Components replication.Components `json:"components"`
}

func toFrame(w replication.WorldSnapshot) frame {
	f := frame{Tick: w.Tick, Entities: make([]frameEntity, len(w.Entities))}
	for i, e := range w.Entities {
		f.Entities[i] = frameEntity{ID: e.ID, Components: e.Components}
	}
	return f
}

// ReadSegment decodes every snapshot in a segment.
func ReadSegment(r io.Reader) ([]replication.WorldSnapshot, error) {
	var out []replication.WorldSnapshot
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var f frame
		if err := dec.Decode(&f); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("replay: decode snapshot %d: %w", len(out), err)
		}
		w := replication.WorldSnapshot{Tick: f.Tick, Entities: make([]replication.EntitySnapshot, len(f.Entities))}
		for i, e := range f.Entities {
			w.Entities[i] = replication.EntitySnapshot{ID: e.ID, Components: e.Components}
		}
		out = append(out, w)
	}
}
