package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"github.com/vango-dev/worldsync/pkg/clock"
	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/sequence"
	"github.com/vango-dev/worldsync/pkg/transport"
)

// Transport is the datagram boundary an Endpoint drives. *transport.Socket
// and *transport.MemoryConn implement it.
type Transport interface {
	Drain(dst []transport.Datagram) []transport.Datagram
	Send(addr net.Addr, data []byte) error
	LocalAddr() net.Addr
}

// FailingTransport is a Transport that can become unusable, such as
// transport.Socket after its reader stops. Err returns why, or nil.
type FailingTransport interface {
	Transport
	Err() error
}

type outgoing struct {
	addr net.Addr
	data []byte
}

// Endpoint is the per-tick processing context for every connection of one
// socket. A tick is Receive, then host work, then Update and Flush.
// Endpoint is not safe for concurrent use except for Connections.
type Endpoint struct {
	cfg    *Config
	role   Role
	tr     Transport
	reg    *Registry
	logger *slog.Logger
	obs    Observer

	tick   uint64
	epoch  time.Time // zero of the wire clock
	events []Event
	outq   []outgoing
	inbuf  []transport.Datagram
	onAck  AckFunc

	info atomic.Pointer[[]Info]
}

// NewEndpoint creates an endpoint on tr. Zero fields of cfg take defaults.
func NewEndpoint(tr Transport, role Role, cfg *Config) *Endpoint {
	cfg = cfg.withDefaults()
	e := &Endpoint{
		cfg:    cfg,
		role:   role,
		tr:     tr,
		reg:    NewRegistry(),
		logger: cfg.Logger.With("component", "conn", "role", role.String()),
		obs:    cfg.Observer,
		epoch:  cfg.Now(),
	}
	empty := []Info{}
	e.info.Store(&empty)
	return e
}

// OnAck installs the acknowledgment hook.
func (e *Endpoint) OnAck(fn AckFunc) {
	e.onAck = fn
}

// Tick returns the current tick. It advances at the end of Flush.
func (e *Endpoint) Tick() uint64 {
	return e.tick
}

// Role returns the endpoint's role.
func (e *Endpoint) Role() Role {
	return e.role
}

// LocalAddr returns the transport's address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.tr.LocalAddr()
}

// Connection returns the connection for peer, or nil.
func (e *Endpoint) Connection(peer PeerID) *Connection {
	return e.reg.ByID(peer)
}

// Len returns the number of live connections.
func (e *Endpoint) Len() int {
	return e.reg.Len()
}

// Connections returns diagnostics for every connection as of the last
// Flush. Safe to call from any goroutine.
func (e *Endpoint) Connections() []Info {
	return *e.info.Load()
}

// Events returns the events produced since the previous call.
func (e *Endpoint) Events() []Event {
	ev := e.events
	e.events = nil
	return ev
}

func (e *Endpoint) millis() uint32 {
	ms := clock.Millis(e.epoch, e.cfg.Now())
	if ms == 0 {
		// Zero is reserved for "no echo".
		ms = 1
	}
	return ms
}

// Dial starts a handshake with the server at addr. The returned connection
// is Connecting until a Connected event is emitted for it.
func (e *Endpoint) Dial(addr net.Addr) (*Connection, error) {
	if e.role != RoleClient {
		return nil, ErrWrongRole
	}
	if c := e.reg.ByAddr(addr); c != nil {
		return nil, NewConnError(c.id, "dial", ErrAlreadyConnected)
	}

	c := newConnection(addr, e.tick, e.cfg)
	c.salt = rand.Uint32() | 1
	c.announced = true
	e.reg.Add(c)
	e.obs.ConnectionOpened()

	req := &protocol.HandshakeRequest{Salt: c.salt, MTU: uint16(c.mtu)}
	if _, err := e.queueReliable(c, req); err != nil {
		e.reg.Remove(c)
		return nil, NewConnError(c.id, "dial", err)
	}
	e.logger.Debug("dialing", "addr", addr, "salt", c.salt)
	return c, nil
}

// Send queues msg for peer and returns the packet sequences that carry it.
// ReliableOrdered messages are retransmitted until acknowledged; oversized
// unreliable messages are fragmented.
func (e *Endpoint) Send(peer PeerID, msg protocol.Message) ([]uint16, error) {
	c := e.reg.ByID(peer)
	if c == nil {
		return nil, NewConnError(peer, "send", ErrUnknownPeer)
	}
	if c.state != StateConnected {
		return nil, NewConnError(peer, "send", ErrNotConnected)
	}
	if msg.Type().Channel() == protocol.ReliableOrdered {
		seq, err := e.queueReliable(c, msg)
		if err != nil {
			return nil, NewConnError(peer, "send", err)
		}
		return []uint16{seq}, nil
	}
	seqs, err := e.queueUnreliable(c, msg)
	if err != nil {
		return nil, NewConnError(peer, "send", err)
	}
	return seqs, nil
}

// Disconnect starts an orderly shutdown of peer. Pending reliable messages
// are abandoned and Disconnect notices are sent for the linger period.
func (e *Endpoint) Disconnect(peer PeerID, reason Reason) error {
	c := e.reg.ByID(peer)
	if c == nil {
		return NewConnError(peer, "disconnect", ErrUnknownPeer)
	}
	if reason == ReasonNone {
		reason = ReasonLocal
	}
	e.beginDisconnect(c, reason)
	return nil
}

// Close disconnects every connection with ReasonShutdown.
func (e *Endpoint) Close() {
	for _, c := range e.reg.All() {
		if c.state == StateConnecting || c.state == StateConnected {
			e.beginDisconnect(c, ReasonShutdown)
		}
	}
}

// Err returns ErrTransportFailed, wrapping the cause, once the transport
// is unusable. The host should stop ticking the endpoint.
func (e *Endpoint) Err() error {
	ft, ok := e.tr.(FailingTransport)
	if !ok {
		return nil
	}
	if err := ft.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailed, err)
	}
	return nil
}

// Receive drains the transport and processes every datagram.
func (e *Endpoint) Receive() {
	e.inbuf = e.tr.Drain(e.inbuf[:0])
	for i := range e.inbuf {
		e.handleDatagram(e.inbuf[i])
		e.inbuf[i] = transport.Datagram{}
	}
}

func (e *Endpoint) handleDatagram(d transport.Datagram) {
	e.obs.PacketReceived(len(d.Data))

	p, err := protocol.Decode(d.Data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			e.obs.DecodeFailed(de.Kind)
		}
		e.logger.Debug("dropping undecodable packet", "addr", d.Addr, "error", err)
		return
	}

	c := e.reg.ByAddr(d.Addr)
	if c == nil {
		if e.role != RoleServer || p.Type() != protocol.TypeHandshakeRequest {
			e.obs.PacketDropped("unknown_peer")
			return
		}
		if c = e.accept(d.Addr, p); c == nil {
			return
		}
	}
	e.process(c, p)
}

// accept creates a server-side connection for a handshake from a new
// address, or sends a HandshakeReject and returns nil.
func (e *Endpoint) accept(addr net.Addr, p *protocol.Packet) *Connection {
	req := p.Message.(*protocol.HandshakeRequest)

	reject := func(reason protocol.RejectReason, msg string) *Connection {
		e.logger.Info("handshake rejected", "addr", addr, "reason", reason.String(), "detail", msg)
		e.sendDirect(addr, p.Header.Sequence, &protocol.HandshakeReject{Reason: reason, Message: msg})
		return nil
	}

	if int(req.MTU) < protocol.MinMTU {
		return reject(protocol.RejectMTU, fmt.Sprintf("mtu %d below %d", req.MTU, protocol.MinMTU))
	}
	if e.cfg.Admission != nil {
		if reason, msg, ok := e.cfg.Admission.Admit(addr); !ok {
			return reject(reason, msg)
		}
	}
	if e.cfg.MaxConnections > 0 && e.reg.Len() >= e.cfg.MaxConnections {
		return reject(protocol.RejectServerFull, "server full")
	}

	c := newConnection(addr, e.tick, e.cfg)
	c.mtu = min(e.cfg.MTU, int(req.MTU))
	c.salt = req.Salt
	e.reg.Add(c)
	e.obs.ConnectionOpened()
	e.logger.Debug("connection created", "peer", c.id, "addr", addr)
	return c
}

// sendDirect queues a best-effort packet to an address that has no
// connection state.
func (e *Endpoint) sendDirect(addr net.Addr, ack uint16, msg protocol.Message) {
	p := &protocol.Packet{
		Header:  protocol.Header{Ack: ack, AckBits: 1},
		Stamp:   protocol.Stamp{SentAt: e.millis()},
		Message: msg,
	}
	data, err := protocol.Encode(p)
	if err != nil {
		e.logger.Error("encode failed", "type", msg.Type().String(), "error", err)
		return
	}
	e.outq = append(e.outq, outgoing{addr: addr, data: data})
}

func (e *Endpoint) process(c *Connection, p *protocol.Packet) {
	if c.state != StateConnecting && c.state != StateConnected {
		e.obs.PacketDropped("closing")
		return
	}

	class := c.recv.Record(p.Header.Sequence)

	// Acks only ever report facts, so even a stale packet's are safe.
	e.processAcks(c, p)

	if class.Accepted() {
		c.lastRecvTick = e.tick
		// Acks are not themselves acked, or two idle peers would ping-pong.
		if p.Type() != protocol.TypeAck {
			c.receivedNow = true
		}
		if class == sequence.Newer {
			now := e.millis()
			c.est.Observe(now, p.Stamp.SentAt, p.Stamp.EchoSentAt, p.Stamp.EchoDelay)
			if p.Stamp.EchoSentAt != 0 {
				e.obs.RTT(c.est.RTT())
			}
			c.echoSentAt = p.Stamp.SentAt
			c.echoRecvAt = now
		}
	}

	if req, ok := p.Message.(*protocol.HandshakeRequest); ok && e.role == RoleServer && req.Salt != c.salt {
		e.violate(c, "handshake request with a different salt")
		return
	}

	if p.Type().Channel() == protocol.ReliableOrdered {
		// Retransmissions reuse their packet sequence and may arrive Stale;
		// the reliable index alone decides whether they are new.
		c.receivedNow = true
		msgs, res := c.receiver.receive(p.Reliable.Seq, p.Reliable.Floor, p.Message)
		switch res {
		case receivedDuplicate:
			e.obs.PacketDropped("duplicate_reliable")
		case receivedOverflow:
			c.capacityDrops++
			e.obs.CapacityDropped("order_buffer")
		}
		for _, m := range msgs {
			e.dispatch(c, m)
			if c.state != StateConnecting && c.state != StateConnected {
				return
			}
		}
		return
	}

	if !class.Accepted() {
		e.obs.PacketDropped(class.String())
		return
	}
	e.dispatch(c, p.Message)
}

func (e *Endpoint) processAcks(c *Connection, p *protocol.Packet) {
	sent := c.seq.Peek()
	for seq := range sequence.Acked(p.Header.Ack, p.Header.AckBits) {
		// Never sent: ignore rather than let it move the window.
		if !sequence.IsNewer(sent, seq) {
			continue
		}
		if !c.sentAcked.Record(seq).Accepted() {
			continue
		}
		c.sender.ackSeq(seq)
		if e.onAck != nil {
			e.onAck(c.id, seq)
		}
	}
	c.sender.ackCumulative(p.ReliableAck)

	if e.role == RoleServer && c.state == StateConnecting && c.acceptQueued && !c.sender.has(c.acceptIndex) {
		e.setConnected(c)
	}
}

func (e *Endpoint) dispatch(c *Connection, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HandshakeRequest:
		if e.role != RoleServer {
			e.violate(c, "handshake request sent to a client")
			return
		}
		if c.acceptQueued {
			return
		}
		accept := &protocol.HandshakeAccept{
			PeerID:     uint32(c.id),
			Salt:       c.salt,
			TickRate:   uint16(e.cfg.TickRate),
			ServerTick: uint32(e.tick),
		}
		c.acceptQueued = true
		c.acceptIndex = c.sender.nextIndex
		if _, err := e.queueReliable(c, accept); err != nil {
			e.logger.Error("queue handshake accept failed", "peer", c.id, "error", err)
		}

	case *protocol.HandshakeAccept:
		if e.role != RoleClient {
			e.violate(c, "handshake accept sent to a server")
			return
		}
		if m.Salt != c.salt {
			e.violate(c, "handshake accept with a different salt")
			return
		}
		if c.state != StateConnecting {
			return
		}
		if !e.reg.Rekey(c, PeerID(m.PeerID)) {
			e.violate(c, "peer id already in use")
			return
		}
		c.serverTick = m.ServerTick
		c.tickRate = m.TickRate
		e.setConnected(c)

	case *protocol.HandshakeReject:
		if e.role != RoleClient {
			e.obs.PacketDropped("unexpected_reject")
			return
		}
		e.logger.Info("handshake rejected by server", "addr", c.addr, "reason", m.Reason.String(), "detail", m.Message)
		e.terminate(c, StateRejected, ReasonRejected, m.Reason.String()+": "+m.Message)

	case *protocol.Disconnect:
		e.logger.Debug("peer disconnected", "peer", c.id, "reason", m.Reason.String())
		e.beginDisconnect(c, ReasonRemote)

	case *protocol.Ack:

	case *protocol.Fragment:
		if !e.acceptsUnreliable(m.Inner) {
			e.violate(c, "fragment of "+m.Inner.String())
			return
		}
		inner, err := c.reasm.Add(m)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				e.obs.DecodeFailed(de.Kind)
			}
			return
		}
		if inner != nil {
			e.dispatch(c, inner)
		}

	case *protocol.Input, *protocol.SnapshotFull, *protocol.SnapshotDelta, *protocol.Control, *protocol.Resync:
		if !e.acceptsUnreliable(msg.Type()) {
			e.violate(c, msg.Type().String()+" sent to a "+e.role.String())
			return
		}
		if c.state != StateConnected {
			e.obs.PacketDropped("not_connected")
			return
		}
		e.events = append(e.events, Event{Kind: EventMessage, Peer: c.id, Addr: c.addr, Message: msg})
	}
}

// acceptsUnreliable reports whether this endpoint's role may receive t.
func (e *Endpoint) acceptsUnreliable(t protocol.MessageType) bool {
	switch t {
	case protocol.TypeInput, protocol.TypeResync:
		return e.role == RoleServer
	case protocol.TypeSnapshotFull, protocol.TypeSnapshotDelta:
		return e.role == RoleClient
	case protocol.TypeControl:
		return true
	default:
		return false
	}
}

func (e *Endpoint) setConnected(c *Connection) {
	if c.state != StateConnecting {
		return
	}
	c.state = StateConnected
	c.announced = true
	c.lastRecvTick = e.tick
	e.events = append(e.events, Event{Kind: EventConnected, Peer: c.id, Addr: c.addr})
	e.logger.Info("connection established", "peer", c.id, "addr", c.addr)
}

// violate rejects c after a protocol violation. Other connections are
// unaffected.
func (e *Endpoint) violate(c *Connection, detail string) {
	e.obs.ProtocolViolation()
	e.logger.Warn("protocol violation", "peer", c.id, "addr", c.addr,
		"error", NewConnError(c.id, "receive", fmt.Errorf("%w: %s", ErrProtocolViolation, detail)))
	reject := &protocol.HandshakeReject{Reason: protocol.RejectProtocolViolation, Message: detail}
	e.sendPacket(c, c.seq.Next(), reject, protocol.ReliableHeader{})
	e.terminate(c, StateRejected, ReasonProtocolViolation, detail)
}

// terminate moves c to a terminal state, reports it once and releases it.
func (e *Endpoint) terminate(c *Connection, state State, reason Reason, detail string) {
	if c.state.Terminal() {
		return
	}
	c.state = state
	if c.reason == ReasonNone {
		c.reason = reason
	}
	c.sender.clear()
	e.report(c, detail)
	e.reg.Remove(c)
	e.obs.ConnectionClosed(c.reason)
}

func (e *Endpoint) report(c *Connection, detail string) {
	if !c.announced || c.reported {
		return
	}
	c.reported = true
	e.events = append(e.events, Event{
		Kind:   EventDisconnected,
		Peer:   c.id,
		Addr:   c.addr,
		Reason: c.reason,
		Detail: detail,
	})
}

func (e *Endpoint) beginDisconnect(c *Connection, reason Reason) {
	if c.state != StateConnecting && c.state != StateConnected {
		return
	}
	c.state = StateDisconnecting
	c.reason = reason
	c.notice = reason
	c.sender.clear()
	c.lingerUntil = e.tick + e.cfg.LingerTicks
	e.report(c, "")
	e.sendNotice(c)
}

func (e *Endpoint) sendNotice(c *Connection) {
	msg := &protocol.Disconnect{Reason: c.notice.wireReason(), Message: c.notice.String()}
	e.sendPacket(c, c.seq.Next(), msg, protocol.ReliableHeader{})
}

// Update runs timeouts, retransmissions and disconnect lingering for the
// current tick.
func (e *Endpoint) Update() {
	for _, c := range e.reg.All() {
		switch c.state {
		case StateConnecting:
			if e.tick-c.createdTick >= e.cfg.HandshakeTimeout {
				e.obs.Timeout()
				e.logger.Info("handshake timed out", "peer", c.id, "addr", c.addr)
				e.terminate(c, StateClosed, ReasonHandshakeTimeout, "handshake timeout")
				continue
			}
			e.retransmit(c)

		case StateConnected:
			if e.tick-c.lastRecvTick >= e.cfg.Timeout {
				e.obs.Timeout()
				e.logger.Info("connection timed out", "peer", c.id, "addr", c.addr)
				e.terminate(c, StateClosed, ReasonTimeout, "timeout")
				continue
			}
			e.retransmit(c)

		case StateDisconnecting:
			if e.tick >= c.lingerUntil {
				e.terminate(c, StateClosed, c.reason, "")
				continue
			}
			e.sendNotice(c)

		default:
			e.reg.Remove(c)
		}
	}
}

func (e *Endpoint) retransmit(c *Connection) {
	for _, p := range c.sender.due(e.tick, e.cfg.MaxRetransmitInterval) {
		c.retransmits++
		e.obs.Retransmit()
		e.sendPacket(c, p.seq, p.msg, protocol.ReliableHeader{Seq: p.index, Floor: c.sender.floor()})
	}
}

// Flush adds heartbeats, writes every queued datagram and advances the
// tick. It returns the first transport error; the remaining datagrams are
// still attempted.
func (e *Endpoint) Flush() error {
	for _, c := range e.reg.All() {
		if c.state == StateConnecting || c.state == StateConnected {
			idle := e.tick-c.lastSendTick >= e.cfg.HeartbeatInterval
			if (c.receivedNow && !c.sentNow) || idle {
				e.sendPacket(c, c.seq.Next(), &protocol.Ack{}, protocol.ReliableHeader{})
			}
		}
		c.receivedNow = false
		c.sentNow = false
	}

	var firstErr error
	for i, out := range e.outq {
		if err := e.tr.Send(out.addr, out.data); err != nil {
			e.obs.PacketDropped("send_error")
			if firstErr == nil {
				firstErr = err
				e.logger.Warn("send failed", "addr", out.addr, "error", err)
			}
		} else {
			e.obs.PacketSent(len(out.data))
		}
		e.outq[i] = outgoing{}
	}
	e.outq = e.outq[:0]

	e.publish()
	e.tick++
	return firstErr
}

func (e *Endpoint) publish() {
	all := e.reg.All()
	infos := make([]Info, 0, len(all))
	for _, c := range all {
		infos = append(infos, c.info())
	}
	e.info.Store(&infos)
}

func (e *Endpoint) queueReliable(c *Connection, msg protocol.Message) (uint16, error) {
	size := protocol.HeaderSize + protocol.PreambleSize + protocol.ReliableHeaderSize + len(protocol.EncodeBody(msg))
	if size > c.mtu {
		return 0, fmt.Errorf("%w: %d bytes, mtu %d", ErrMessageTooLarge, size, c.mtu)
	}
	seq := c.seq.Next()
	entry, dropped := c.sender.push(msg, seq, e.tick, e.cfg.RetransmitInterval)
	if dropped {
		c.capacityDrops++
		e.obs.CapacityDropped("pending_reliable")
		e.logger.Warn("pending reliable queue full, oldest abandoned", "peer", c.id)
	}
	e.sendPacket(c, seq, msg, protocol.ReliableHeader{Seq: entry.index, Floor: c.sender.floor()})
	return seq, nil
}

func (e *Endpoint) queueUnreliable(c *Connection, msg protocol.Message) ([]uint16, error) {
	body := protocol.EncodeBody(msg)
	if protocol.HeaderSize+protocol.PreambleSize+len(body) <= c.mtu {
		seq := c.seq.Next()
		e.sendPacket(c, seq, msg, protocol.ReliableHeader{})
		return []uint16{seq}, nil
	}
	if !msg.Type().Fragmentable() {
		return nil, fmt.Errorf("%w: %d byte %s", ErrMessageTooLarge, len(body), msg.Type())
	}
	frags, err := c.frag.Split(msg.Type(), body, transport.ChunkSize(c.mtu))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	}
	seqs := make([]uint16, len(frags))
	for i, f := range frags {
		seqs[i] = c.seq.Next()
		e.sendPacket(c, seqs[i], f, protocol.ReliableHeader{})
	}
	return seqs, nil
}

func (e *Endpoint) sendPacket(c *Connection, seq uint16, msg protocol.Message, rel protocol.ReliableHeader) {
	ack, bits := c.recv.Ack()
	now := e.millis()
	var delay uint16
	if c.echoSentAt != 0 {
		delay = uint16(min(now-c.echoRecvAt, 0xFFFF))
	}
	p := &protocol.Packet{
		Header:      protocol.Header{Sequence: seq, Ack: ack, AckBits: bits},
		Stamp:       protocol.Stamp{SentAt: now, EchoSentAt: c.echoSentAt, EchoDelay: delay},
		ReliableAck: c.receiver.next,
		Reliable:    rel,
		Message:     msg,
	}
	data, err := protocol.Encode(p)
	if err != nil {
		e.logger.Error("encode failed", "peer", c.id, "type", msg.Type().String(), "error", err)
		return
	}
	e.outq = append(e.outq, outgoing{addr: c.addr, data: data})
	c.sentNow = true
	c.lastSendTick = e.tick
}

// WireClock returns the endpoint's current wire clock value.
func (e *Endpoint) WireClock() uint32 {
	return e.millis()
}
