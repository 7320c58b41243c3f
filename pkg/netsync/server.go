package netsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/worldsync/pkg/clock"
	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/replication"
)

// Simulation is the host game loop driven by Server.Run. Step receives the
// messages that arrived since the previous tick and returns the world
// state for tick.
type Simulation interface {
	Step(ctx context.Context, tick uint32, inbound []Message) (replication.WorldSnapshot, error)
}

// SimulationFunc adapts a function to Simulation.
type SimulationFunc func(ctx context.Context, tick uint32, inbound []Message) (replication.WorldSnapshot, error)

// Step implements Simulation.
func (f SimulationFunc) Step(ctx context.Context, tick uint32, inbound []Message) (replication.WorldSnapshot, error) {
	return f(ctx, tick, inbound)
}

// ConnectionInfo extends conn.Info with replication state.
type ConnectionInfo struct {
	conn.Info
	Baseline    uint32 `json:"baseline_tick"`
	HasBaseline bool   `json:"has_baseline"`
}

// Server is the authoritative side of a session. It accepts connections,
// collects inputs and replicates submitted world snapshots.
//
// All methods are safe for concurrent use; the tick work itself is
// serialized by an internal mutex.
type Server struct {
	mu     sync.Mutex
	ep     *conn.Endpoint
	repl   *replication.Replicator
	reg    *replication.Registry
	opts   options
	logger *slog.Logger
	world  *replication.State
	inbox  []Message
	peers  map[conn.PeerID]struct{}
	closed bool
}

// NewServer creates a server on tr. reg is sealed.
func NewServer(tr conn.Transport, reg *replication.Registry, opts ...Option) *Server {
	o := buildOptions(opts)
	s := &Server{
		ep:     conn.NewEndpoint(tr, conn.RoleServer, o.conn),
		repl:   replication.NewReplicator(reg, o.replication),
		reg:    reg,
		opts:   o,
		logger: o.logger.With("component", "netsync", "role", "server"),
		peers:  make(map[conn.PeerID]struct{}),
	}
	s.ep.OnAck(s.repl.Acked)
	return s
}

// Registry returns the component registry.
func (s *Server) Registry() *replication.Registry {
	return s.reg
}

// Addr returns the local transport address.
func (s *Server) Addr() string {
	return s.ep.LocalAddr().String()
}

// CurrentTick returns the tick the next Flush sends.
func (s *Server) CurrentTick() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.ep.Tick())
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Connections returns a diagnostic view of every connection.
func (s *Server) Connections() []ConnectionInfo {
	infos := s.ep.Connections()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionInfo, len(infos))
	for i, info := range infos {
		out[i].Info = info
		out[i].Baseline, out[i].HasBaseline = s.repl.Baseline(info.Peer)
	}
	return out
}

// SubmitWorldSnapshot stages the world state replicated at the next Flush.
// A later submission in the same tick replaces the earlier one.
func (s *Server) SubmitWorldSnapshot(w replication.WorldSnapshot) error {
	if err := w.Validate(s.reg); err != nil {
		return fmt.Errorf("submit tick %d: %w", w.Tick, err)
	}
	state := replication.NewState(w)
	s.mu.Lock()
	s.world = state
	s.mu.Unlock()
	if s.opts.recorder != nil {
		s.opts.recorder.Record(w)
	}
	return nil
}

// PollInboundMessages returns the inputs, control payloads and connection
// events received since the previous poll, in arrival order.
func (s *Server) PollInboundMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

// SetInterest replaces the interest set of peer from the next tick on.
func (s *Server) SetInterest(peer conn.PeerID, set replication.InterestSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.repl.SetInterest(peer, set) {
		return fmt.Errorf("set interest %d: %w", peer, ErrUnknownPeer)
	}
	return nil
}

// SendControl queues a reliable control payload to peer.
func (s *Server) SendControl(peer conn.PeerID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ep.Send(peer, &protocol.Control{Payload: payload})
	return err
}

// Disconnect starts a graceful disconnect of peer.
func (s *Server) Disconnect(peer conn.PeerID, reason conn.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ep.Disconnect(peer, reason); err != nil {
		if errors.Is(err, conn.ErrUnknownPeer) {
			return fmt.Errorf("disconnect %d: %w", peer, ErrUnknownPeer)
		}
		return err
	}
	return nil
}

// Receive drains the transport and turns connection events into inbound
// messages.
func (s *Server) Receive(ctx context.Context) {
	_, span := s.opts.tracer.Start(ctx, "netsync.receive",
		trace.WithAttributes(attribute.String("worldsync.role", "server")))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ep.Receive()
	s.drainEvents()
	span.SetAttributes(attribute.Int("worldsync.peers", len(s.peers)))
	s.opts.stats.TickDuration("receive", time.Since(start))
}

// Flush replicates the staged world to every connected peer, runs
// timeouts and retransmits, and writes the tick's datagrams.
func (s *Server) Flush(ctx context.Context) error {
	ctx, span := s.opts.tracer.Start(ctx, "netsync.flush",
		trace.WithAttributes(attribute.String("worldsync.role", "server")))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	span.SetAttributes(attribute.Int64("worldsync.tick", int64(s.ep.Tick())))

	if s.world != nil {
		s.replicate(ctx, s.world)
		s.world = nil
	}
	s.ep.Update()
	s.drainEvents()
	err := s.ep.Flush()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.opts.stats.TickDuration("flush", time.Since(start))
	return err
}

// Tick runs one full network tick: Receive then Flush. Hosts that drive
// their own loop submit the world between ticks. A transport failure is
// returned as conn.ErrTransportFailed and the server should be closed.
func (s *Server) Tick(ctx context.Context) error {
	s.Receive(ctx)
	if err := s.Err(); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Err returns conn.ErrTransportFailed once the transport is unusable.
func (s *Server) Err() error {
	return s.ep.Err()
}

// Run drives sim at the configured tick rate until ctx is done, then shuts
// every connection down. A simulation error or a failed transport stops
// the loop and is returned.
func (s *Server) Run(ctx context.Context, sim Simulation) error {
	rate := s.opts.conn.TickRate
	if rate <= 0 {
		rate = conn.DefaultConfig().TickRate
	}
	now := s.opts.conn.Now
	tc := clock.NewTickClock(rate, now())
	ticker := time.NewTicker(tc.Interval())
	defer ticker.Stop()

	s.logger.Info("server running", "addr", s.Addr(), "tick_rate", rate)
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-ticker.C:
		}
		if err := s.Err(); err != nil {
			s.logger.Error("transport failed, stopping", "error", err)
			s.Close()
			return err
		}
		for n := tc.Advance(now()); n > 0; n-- {
			if err := s.step(ctx, sim); err != nil {
				s.Close()
				return err
			}
		}
	}
}

func (s *Server) step(ctx context.Context, sim Simulation) error {
	ctx, span := s.opts.tracer.Start(ctx, "netsync.tick")
	defer span.End()

	s.Receive(ctx)
	tick := s.CurrentTick()
	w, err := sim.Step(ctx, tick, s.PollInboundMessages())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("simulate tick %d: %w", tick, err)
	}
	if err := s.SubmitWorldSnapshot(w); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.Flush(ctx); err != nil {
		// Send failures are per datagram; the tick goes on.
		s.logger.Warn("flush failed", "tick", tick, "error", err)
	}
	return nil
}

// Close disconnects every peer with a shutdown notice and sends it.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ep.Close()
	s.drainEvents()
	if err := s.ep.Flush(); err != nil {
		s.logger.Debug("final flush failed", "error", err)
	}
}

// replicate sends world to every connected peer. Called with s.mu held.
func (s *Server) replicate(ctx context.Context, world *replication.State) {
	_, span := s.opts.tracer.Start(ctx, "netsync.replicate", trace.WithAttributes(
		attribute.Int64("worldsync.world_tick", int64(world.Tick)),
		attribute.Int("worldsync.entities", world.Len()),
	))
	defer span.End()

	var full, delta int
	for peer := range s.peers {
		frame, ok := s.repl.Build(peer, world)
		if !ok {
			continue
		}
		if frame.Dropped > 0 {
			s.opts.stats.InterestDropped(frame.Dropped)
		}
		seqs, err := s.ep.Send(peer, frame.Message)
		if errors.Is(err, conn.ErrNotConnected) {
			continue // lingering
		}
		if err != nil {
			s.logger.Warn("snapshot not sent",
				"peer", peer,
				"tick", frame.Tick,
				"full", frame.Full,
				"error", err)
			continue
		}
		s.repl.Sent(peer, frame.Tick, seqs)
		s.opts.stats.SnapshotSent(frame.Full, len(protocol.EncodeBody(frame.Message)))
		if frame.Full {
			full++
		} else {
			delta++
		}
	}
	span.SetAttributes(
		attribute.Int("worldsync.full", full),
		attribute.Int("worldsync.delta", delta),
	)
}

// drainEvents moves endpoint events into the inbox. Called with s.mu held.
func (s *Server) drainEvents() {
	for _, ev := range s.ep.Events() {
		switch ev.Kind {
		case conn.EventConnected:
			s.peers[ev.Peer] = struct{}{}
			s.repl.Add(ev.Peer)
			s.inbox = append(s.inbox, Message{Kind: MessageConnected, Peer: ev.Peer})
			s.logger.Info("peer connected", "peer", ev.Peer, "addr", ev.Addr)

		case conn.EventDisconnected:
			delete(s.peers, ev.Peer)
			s.repl.Remove(ev.Peer)
			s.inbox = append(s.inbox, Message{
				Kind:   MessageDisconnected,
				Peer:   ev.Peer,
				Reason: ev.Reason,
				Detail: ev.Detail,
			})
			s.logger.Info("peer disconnected", "peer", ev.Peer, "reason", ev.Reason.String())

		case conn.EventMessage:
			switch m := ev.Message.(type) {
			case *protocol.Input:
				s.inbox = append(s.inbox, Message{Kind: MessageInput, Peer: ev.Peer, Tick: m.Tick, Payload: m.Payload})
			case *protocol.Control:
				s.inbox = append(s.inbox, Message{Kind: MessageControl, Peer: ev.Peer, Payload: m.Payload})
			case *protocol.Resync:
				if s.repl.Resync(ev.Peer, m.Tick) {
					s.logger.Debug("resync requested", "peer", ev.Peer, "tick", m.Tick)
				}
			}
		}
	}
}
