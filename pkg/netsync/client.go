package netsync

import (
	"context"
	"fmt"
	"log/slog"
	"net"
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

// resyncTicks is how far the input clock may drift from its target before
// it jumps instead of dilating.
const resyncTicks = 30

// Client is the predicting side of a session. It dials one server,
// reconstructs the replicated world and sends inputs stamped with an input
// clock that runs ahead of the server by the round trip plus a lead.
//
// All methods are safe for concurrent use.
type Client struct {
	mu     sync.Mutex
	ep     *conn.Endpoint
	repl   *replication.Client
	opts   options
	logger *slog.Logger

	dialing   bool
	connected bool
	peer      conn.PeerID
	server    net.Addr
	clock     *clock.TickClock
	inbox     []Message
	last      *Message // final Disconnected, kept for Err
}

// NewClient creates a client on tr. reg is sealed.
func NewClient(tr conn.Transport, reg *replication.Registry, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		ep:     conn.NewEndpoint(tr, conn.RoleClient, o.conn),
		repl:   replication.NewClient(reg, o.replication),
		opts:   o,
		logger: o.logger.With("component", "netsync", "role", "client"),
	}
}

// Dial starts the handshake with the server at addr. Connection completes
// during later Ticks and is reported by a MessageConnected.
func (c *Client) Dial(addr net.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialing || c.connected {
		return ErrAlreadyDialed
	}
	cn, err := c.ep.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c.dialing = true
	c.peer = cn.ID()
	c.server = addr
	c.last = nil
	c.repl.Reset()
	c.logger.Info("dialing", "addr", addr)
	return nil
}

// Connected reports whether the handshake has completed and the connection
// is still up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Peer returns the PeerID the server assigned.
func (c *Client) Peer() conn.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Err returns why the last connection ended, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	if c.last.Detail != "" {
		return fmt.Errorf("disconnected: %s: %s", c.last.Reason, c.last.Detail)
	}
	return fmt.Errorf("disconnected: %s", c.last.Reason)
}

// RTT returns the smoothed round trip time to the server.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cn := c.ep.Connection(c.peer); cn != nil {
		return cn.RTT()
	}
	return 0
}

// Tick runs one network tick: it receives and applies snapshots, runs
// timeouts and retransmits, flushes, and advances the input clock. It
// returns how many input ticks elapsed since the previous call. Once the
// transport has failed it returns conn.ErrTransportFailed and does nothing.
func (c *Client) Tick(ctx context.Context) (int, error) {
	_, span := c.opts.tracer.Start(ctx, "netsync.tick",
		trace.WithAttributes(attribute.String("worldsync.role", "client")))
	defer span.End()
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ep.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	c.ep.Receive()
	c.drainEvents()
	c.ep.Update()
	c.drainEvents()
	err := c.ep.Flush()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	steps := 0
	if c.clock != nil {
		steps = c.clock.Advance(c.opts.conn.Now())
		span.SetAttributes(
			attribute.Int64("worldsync.input_tick", int64(c.clock.Tick())),
			attribute.Float64("worldsync.dilation", c.clock.Dilation()),
		)
	}
	c.opts.stats.TickDuration("client", time.Since(start))
	return steps, err
}

// InputTick returns the tick the next input should be stamped with.
func (c *Client) InputTick() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		return 0
	}
	return c.clock.Tick()
}

// Dilation returns the current input clock rate multiplier.
func (c *Client) Dilation() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		return 1
	}
	return c.clock.Dilation()
}

// RenderTick returns the server tick to render at: one tick behind the
// newest snapshot expected to have arrived, so that Sample has a pair to
// blend.
func (c *Client) RenderTick() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		return 0
	}
	return float64(c.clock.Tick()) + c.clock.Alpha() - c.leadTicks() - 1
}

// SendInput sends an unreliable input for tick.
func (c *Client) SendInput(tick uint32, payload []byte) error {
	return c.send(&protocol.Input{Tick: tick, Payload: payload})
}

// SendControl sends a reliable, ordered control payload.
func (c *Client) SendControl(payload []byte) error {
	return c.send(&protocol.Control{Payload: payload})
}

func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	_, err := c.ep.Send(c.peer, msg)
	return err
}

// State returns the newest reconstructed world, or nil before the first
// snapshot.
func (c *Client) State() *replication.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repl.State()
}

// Sample returns the interpolation pair around render tick t.
func (c *Client) Sample(t float64) (replication.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repl.Sample(t)
}

// PollInboundMessages returns the control payloads and connection events
// received since the previous poll.
func (c *Client) PollInboundMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}

// Disconnect starts a graceful disconnect. Notices go out on the following
// Ticks.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dialing && !c.connected {
		return ErrNotConnected
	}
	return c.ep.Disconnect(c.peer, conn.ReasonLocal)
}

// leadTicks is how far the input clock runs ahead of the newest snapshot:
// the round trip in ticks plus the configured lead. Called with c.mu held.
func (c *Client) leadTicks() float64 {
	var rtt time.Duration
	if cn := c.ep.Connection(c.peer); cn != nil {
		rtt = cn.RTT()
	}
	return rtt.Seconds()/c.clock.Interval().Seconds() + float64(c.opts.inputLead)
}

// steer adjusts the input clock after snapshot tick was applied. Called
// with c.mu held.
func (c *Client) steer(tick uint32) {
	if c.clock == nil {
		return
	}
	target := float64(tick) + c.leadTicks()
	actual := float64(c.clock.Tick())
	if diff := target - actual; diff > resyncTicks || diff < -resyncTicks {
		c.logger.Debug("input clock resync", "from", c.clock.Tick(), "to", uint32(target))
		c.clock.SetTick(uint32(target))
		c.clock.SetDilation(1)
		return
	}
	c.clock.SetDilation(clock.Dilation(target, actual))
}

// requestResync asks the server for a full snapshot after the delta for
// tick could not be applied. Called with c.mu held.
func (c *Client) requestResync(tick uint32) {
	if !c.connected {
		return
	}
	c.logger.Debug("requesting resync", "tick", tick)
	if _, err := c.ep.Send(c.peer, &protocol.Resync{Tick: tick}); err != nil {
		c.logger.Warn("resync request not sent", "tick", tick, "error", err)
	}
}

// drainEvents applies snapshots and queues the rest. Called with c.mu held.
func (c *Client) drainEvents() {
	for _, ev := range c.ep.Events() {
		switch ev.Kind {
		case conn.EventConnected:
			c.dialing = false
			c.connected = true
			c.peer = ev.Peer
			rate := c.opts.conn.TickRate
			start := uint32(0)
			if cn := c.ep.Connection(ev.Peer); cn != nil {
				if cn.TickRate() > 0 {
					rate = int(cn.TickRate())
				}
				start = cn.ServerTick()
			}
			c.clock = clock.NewTickClock(rate, c.opts.conn.Now())
			c.clock.SetTick(start + uint32(c.leadTicks()))
			c.inbox = append(c.inbox, Message{Kind: MessageConnected, Peer: ev.Peer})
			c.logger.Info("connected", "peer", ev.Peer, "server_tick", start, "tick_rate", rate)

		case conn.EventDisconnected:
			c.dialing = false
			c.connected = false
			msg := Message{
				Kind:   MessageDisconnected,
				Peer:   ev.Peer,
				Reason: ev.Reason,
				Detail: ev.Detail,
			}
			c.last = &msg
			c.inbox = append(c.inbox, msg)
			c.logger.Info("disconnected", "reason", ev.Reason.String(), "detail", ev.Detail)

		case conn.EventMessage:
			switch m := ev.Message.(type) {
			case *protocol.SnapshotFull, *protocol.SnapshotDelta:
				res, err := c.repl.Apply(m)
				if err != nil {
					c.logger.Warn("snapshot dropped", "error", err)
					if d, ok := m.(*protocol.SnapshotDelta); ok {
						c.requestResync(d.Tick)
					}
					continue
				}
				c.opts.stats.SnapshotApplied(res)
				switch res {
				case replication.Applied:
					tick, _ := c.repl.Tick()
					c.steer(tick)
				case replication.MissingBaseline:
					c.requestResync(m.(*protocol.SnapshotDelta).Tick)
				}
			case *protocol.Control:
				c.inbox = append(c.inbox, Message{Kind: MessageControl, Peer: ev.Peer, Payload: m.Payload})
			}
		}
	}
}
