package conn

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/vango-dev/worldsync/pkg/protocol"
	"github.com/vango-dev/worldsync/pkg/transport"
)

const (
	serverAddr = "server:1"
	clientAddr = "client:1"
)

type pair struct {
	t       *testing.T
	net     *transport.MemoryNetwork
	now     time.Time
	server  *Endpoint
	client  *Endpoint
	srvConn *transport.MemoryConn
	cliConn *transport.MemoryConn

	serverEvents []Event
	clientEvents []Event
}

func testConfig(now *time.Time) *Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return *now }
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func newPair(t *testing.T, mutate func(server, client *Config)) *pair {
	t.Helper()
	p := &pair{
		t:   t,
		net: transport.NewMemoryNetwork(1),
		now: time.Unix(1_700_000_000, 0),
	}
	scfg, ccfg := testConfig(&p.now), testConfig(&p.now)
	if mutate != nil {
		mutate(scfg, ccfg)
	}
	p.srvConn = p.net.Listen(serverAddr)
	p.cliConn = p.net.Listen(clientAddr)
	p.server = NewEndpoint(p.srvConn, RoleServer, scfg)
	p.client = NewEndpoint(p.cliConn, RoleClient, ccfg)
	return p
}

func (p *pair) step() {
	for _, e := range []*Endpoint{p.server, p.client} {
		e.Receive()
		e.Update()
		if err := e.Flush(); err != nil {
			p.t.Fatalf("Flush() error = %v", err)
		}
	}
	p.serverEvents = append(p.serverEvents, p.server.Events()...)
	p.clientEvents = append(p.clientEvents, p.client.Events()...)
	p.now = p.now.Add(33 * time.Millisecond)
}

// until steps at most n ticks and reports whether cond became true.
func (p *pair) until(n int, cond func() bool) bool {
	for i := 0; i < n; i++ {
		if cond() {
			return true
		}
		p.step()
	}
	return cond()
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (p *pair) connect() PeerID {
	p.t.Helper()
	c, err := p.client.Dial(transport.MemoryAddr(serverAddr))
	if err != nil {
		p.t.Fatalf("Dial() error = %v", err)
	}
	ok := p.until(100, func() bool {
		return countKind(p.serverEvents, EventConnected) == 1 && countKind(p.clientEvents, EventConnected) == 1
	})
	if !ok {
		p.t.Fatalf("handshake did not complete: server %v client %v", p.serverEvents, p.clientEvents)
	}
	return c.ID()
}

func TestHandshake(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()

	srv := p.serverEvents[0]
	cli := p.clientEvents[0]
	if srv.Peer != peer || cli.Peer != peer {
		t.Errorf("peer ids: server event %d, client event %d, client conn %d", srv.Peer, cli.Peer, peer)
	}
	if srv.Addr.String() != clientAddr {
		t.Errorf("server event addr = %v, want %s", srv.Addr, clientAddr)
	}

	c := p.client.Connection(peer)
	if c == nil || c.State() != StateConnected {
		t.Fatalf("client connection = %v", c)
	}
	if c.TickRate() != 30 {
		t.Errorf("TickRate() = %d, want 30", c.TickRate())
	}
	if s := p.server.Connection(peer); s == nil || s.State() != StateConnected {
		t.Fatalf("server connection = %v", s)
	}

	// Settle acks; nothing stays pending.
	for i := 0; i < 5; i++ {
		p.step()
	}
	if n := c.PendingReliable(); n != 0 {
		t.Errorf("client PendingReliable() = %d, want 0", n)
	}
	if n := p.server.Connection(peer).PendingReliable(); n != 0 {
		t.Errorf("server PendingReliable() = %d, want 0", n)
	}
}

func TestHandshakeWithLossyAccept(t *testing.T) {
	p := newPair(t, nil)

	// Drop every other HandshakeAccept.
	accepts := 0
	p.net.SetFilter(func(from, to string, data []byte) bool {
		if len(data) > 1 && protocol.MessageType(data[1]) == protocol.TypeHandshakeAccept {
			accepts++
			return accepts%2 == 0
		}
		return true
	})

	p.connect()
	for i := 0; i < 60; i++ {
		p.step()
	}

	if n := countKind(p.serverEvents, EventConnected); n != 1 {
		t.Errorf("server Connected events = %d, want 1", n)
	}
	if n := countKind(p.clientEvents, EventConnected); n != 1 {
		t.Errorf("client Connected events = %d, want 1", n)
	}
	if accepts < 2 {
		t.Errorf("accept sent %d times, want a retransmission", accepts)
	}
	if n := p.server.Len(); n != 1 {
		t.Errorf("server connections = %d, want 1", n)
	}
}

func TestHandshakeUnderRandomLoss(t *testing.T) {
	p := newPair(t, func(s, c *Config) {
		s.RetransmitInterval, c.RetransmitInterval = 1, 1
		s.MaxRetransmitInterval, c.MaxRetransmitInterval = 4, 4
	})
	p.net.SetLoss(0.5)
	if _, err := p.client.Dial(transport.MemoryAddr(serverAddr)); err != nil {
		t.Fatal(err)
	}
	ok := p.until(140, func() bool {
		return countKind(p.serverEvents, EventConnected) == 1 && countKind(p.clientEvents, EventConnected) == 1
	})
	if !ok {
		t.Fatalf("handshake did not complete under loss")
	}
	for i := 0; i < 50; i++ {
		p.step()
	}
	if n := countKind(p.serverEvents, EventConnected); n != 1 {
		t.Errorf("server Connected events = %d, want 1", n)
	}
	if n := countKind(p.clientEvents, EventConnected); n != 1 {
		t.Errorf("client Connected events = %d, want 1", n)
	}
}

func TestReliableOrderUnderLossAndReorder(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()

	p.net.SetLoss(0.2)
	p.net.SetReorder(0.3)
	p.net.SetDuplicate(0.1)

	const total = 50
	sent := 0
	var got []byte
	collect := func() {
		for _, ev := range p.serverEvents {
			if ev.Kind != EventMessage {
				continue
			}
			if c, ok := ev.Message.(*protocol.Control); ok {
				got = append(got, c.Payload...)
			}
		}
		p.serverEvents = p.serverEvents[:0]
	}

	for i := 0; i < 3000 && len(got) < total; i++ {
		for k := 0; k < 2 && sent < total; k++ {
			if _, err := p.client.Send(peer, &protocol.Control{Payload: []byte{byte(sent)}}); err != nil {
				t.Fatalf("Send(%d) error = %v", sent, err)
			}
			sent++
		}
		p.step()
		if i%10 == 0 {
			p.net.Release()
		}
		collect()
	}

	if len(got) != total {
		t.Fatalf("received %d control messages, want %d", len(got), total)
	}
	for i, b := range got {
		if int(b) != i {
			t.Fatalf("message %d has payload %d: order broken", i, b)
		}
	}
	if n := countKind(p.clientEvents, EventDisconnected); n != 0 {
		t.Errorf("client disconnected during test: %v", p.clientEvents)
	}
}

func TestUnreliableDuplicatesDropped(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()
	p.serverEvents = nil
	p.net.SetDuplicate(1)

	for i := 0; i < 10; i++ {
		if _, err := p.client.Send(peer, &protocol.Input{Tick: uint32(i), Payload: []byte("move")}); err != nil {
			t.Fatal(err)
		}
		p.step()
	}
	p.step()

	inputs := 0
	for _, ev := range p.serverEvents {
		if ev.Kind == EventMessage {
			if _, ok := ev.Message.(*protocol.Input); ok {
				inputs++
			}
		}
	}
	if inputs != 10 {
		t.Errorf("server received %d inputs, want 10", inputs)
	}
}

func TestFragmentedSnapshot(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()
	p.clientEvents = nil

	snap := &protocol.SnapshotFull{Tick: 42}
	for i := 0; i < 40; i++ {
		snap.Entities = append(snap.Entities, protocol.EntityState{
			ID:         uint32(i + 1),
			Components: []protocol.ComponentValue{{Type: 1, Value: bytes.Repeat([]byte{byte(i)}, 100)}},
		})
	}
	seqs, err := p.server.Send(peer, snap)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(seqs) < 2 {
		t.Fatalf("Send() used %d packets, want fragmentation", len(seqs))
	}
	p.step()
	p.step()

	var got *protocol.SnapshotFull
	for _, ev := range p.clientEvents {
		if m, ok := ev.Message.(*protocol.SnapshotFull); ok {
			got = m
		}
	}
	if got == nil {
		t.Fatal("client did not receive the snapshot")
	}
	if got.Tick != 42 || len(got.Entities) != 40 {
		t.Fatalf("snapshot tick %d with %d entities", got.Tick, len(got.Entities))
	}
	if !bytes.Equal(got.Entities[39].Components[0].Value, snap.Entities[39].Components[0].Value) {
		t.Error("entity 40 value differs after reassembly")
	}
}

func TestAckHook(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()

	acked := map[uint16]bool{}
	p.server.OnAck(func(id PeerID, seq uint16) {
		if id != peer {
			t.Errorf("ack for peer %d, want %d", id, peer)
		}
		if acked[seq] {
			t.Errorf("seq %d acked twice", seq)
		}
		acked[seq] = true
	})

	seqs, err := p.server.Send(peer, &protocol.SnapshotFull{Tick: 7})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		p.step()
	}
	if !acked[seqs[0]] {
		t.Errorf("seq %d was not reported acked; got %v", seqs[0], acked)
	}
}

func TestSendErrors(t *testing.T) {
	p := newPair(t, nil)

	if _, err := p.server.Dial(transport.MemoryAddr(clientAddr)); !errors.Is(err, ErrWrongRole) {
		t.Errorf("server Dial() error = %v, want ErrWrongRole", err)
	}
	if _, err := p.server.Send(99, &protocol.Input{}); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("Send(unknown) error = %v, want ErrUnknownPeer", err)
	}

	c, err := p.client.Dial(transport.MemoryAddr(serverAddr))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.client.Dial(transport.MemoryAddr(serverAddr)); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Dial() error = %v, want ErrAlreadyConnected", err)
	}
	if _, err := p.client.Send(c.ID(), &protocol.Input{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send(connecting) error = %v, want ErrNotConnected", err)
	}

	p.until(20, func() bool { return countKind(p.clientEvents, EventConnected) == 1 })
	peer := c.ID()
	big := &protocol.Control{Payload: make([]byte, 2*protocol.DefaultMTU)}
	_, err = p.client.Send(peer, big)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Send(oversized control) error = %v, want ErrMessageTooLarge", err)
	}
	var ce *ConnError
	if !errors.As(err, &ce) || ce.PeerID != peer || ce.Op != "send" {
		t.Errorf("error %v is not a ConnError for peer %d", err, peer)
	}
}

func TestLivenessTimeout(t *testing.T) {
	p := newPair(t, func(s, c *Config) {
		s.Timeout, c.Timeout = 20, 20
		s.HeartbeatInterval, c.HeartbeatInterval = 5, 5
	})
	peer := p.connect()

	// Heartbeats keep an idle connection alive.
	for i := 0; i < 80; i++ {
		p.step()
	}
	if n := countKind(p.serverEvents, EventDisconnected); n != 0 {
		t.Fatalf("idle connection timed out: %v", p.serverEvents)
	}

	p.net.SetFilter(func(string, string, []byte) bool { return false })
	for i := 0; i < 25; i++ {
		p.step()
	}

	for name, events := range map[string][]Event{"server": p.serverEvents, "client": p.clientEvents} {
		if n := countKind(events, EventDisconnected); n != 1 {
			t.Errorf("%s Disconnected events = %d, want 1", name, n)
			continue
		}
		ev := events[len(events)-1]
		if ev.Kind != EventDisconnected || ev.Reason != ReasonTimeout || ev.Peer != peer {
			t.Errorf("%s last event = %+v, want Disconnected/Timeout for peer %d", name, ev, peer)
		}
	}
	if p.server.Len() != 0 || p.client.Len() != 0 {
		t.Errorf("connections left: server %d client %d", p.server.Len(), p.client.Len())
	}
}

func TestHandshakeTimeout(t *testing.T) {
	p := newPair(t, func(s, c *Config) {
		c.HandshakeTimeout = 10
	})
	if _, err := p.client.Dial(transport.MemoryAddr("nobody:1")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		p.step()
	}
	if len(p.clientEvents) != 1 {
		t.Fatalf("client events = %v, want one Disconnected", p.clientEvents)
	}
	if ev := p.clientEvents[0]; ev.Kind != EventDisconnected || ev.Reason != ReasonHandshakeTimeout {
		t.Errorf("event = %+v, want Disconnected/HandshakeTimeout", ev)
	}
	if p.client.Len() != 0 {
		t.Errorf("client connections = %d, want 0", p.client.Len())
	}
}

func TestDisconnect(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()

	if err := p.client.Disconnect(peer, ReasonNone); err != nil {
		t.Fatal(err)
	}
	if err := p.client.Disconnect(peer, ReasonLocal); err != nil {
		t.Fatal(err)
	}
	if _, err := p.client.Send(peer, &protocol.Input{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send(disconnecting) error = %v, want ErrNotConnected", err)
	}
	for i := 0; i < 10; i++ {
		p.step()
	}

	if n := countKind(p.clientEvents, EventDisconnected); n != 1 {
		t.Fatalf("client Disconnected events = %d, want 1", n)
	}
	if ev := p.clientEvents[len(p.clientEvents)-1]; ev.Reason != ReasonLocal {
		t.Errorf("client reason = %v, want Local", ev.Reason)
	}
	if n := countKind(p.serverEvents, EventDisconnected); n != 1 {
		t.Fatalf("server Disconnected events = %d, want 1", n)
	}
	if ev := p.serverEvents[len(p.serverEvents)-1]; ev.Reason != ReasonRemote {
		t.Errorf("server reason = %v, want Remote", ev.Reason)
	}
	if p.server.Len() != 0 || p.client.Len() != 0 {
		t.Errorf("connections left: server %d client %d", p.server.Len(), p.client.Len())
	}

	// A new handshake from the same address starts a fresh connection.
	p.serverEvents, p.clientEvents = nil, nil
	if next := p.connect(); next == peer {
		t.Errorf("reconnect reused PeerID %d", peer)
	}
}

func TestProtocolViolation(t *testing.T) {
	p := newPair(t, nil)
	peer := p.connect()

	// Snapshots only flow from server to client.
	if _, err := p.client.Send(peer, &protocol.SnapshotFull{Tick: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p.step()
	}

	ev := p.serverEvents[len(p.serverEvents)-1]
	if ev.Kind != EventDisconnected || ev.Reason != ReasonProtocolViolation {
		t.Errorf("server event = %+v, want Disconnected/ProtocolViolation", ev)
	}
	ev = p.clientEvents[len(p.clientEvents)-1]
	if ev.Kind != EventDisconnected || ev.Reason != ReasonRejected {
		t.Errorf("client event = %+v, want Disconnected/Rejected", ev)
	}
	if p.server.Len() != 0 {
		t.Errorf("server connections = %d, want 0", p.server.Len())
	}
}

func TestAdmissionReject(t *testing.T) {
	p := newPair(t, func(s, c *Config) {
		s.Admission = AdmissionFunc(func(addr net.Addr) (protocol.RejectReason, string, bool) {
			return protocol.RejectBanned, "banned for griefing", false
		})
	})
	if _, err := p.client.Dial(transport.MemoryAddr(serverAddr)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p.step()
	}

	if len(p.serverEvents) != 0 || p.server.Len() != 0 {
		t.Errorf("server kept state for a rejected peer: %v", p.serverEvents)
	}
	if len(p.clientEvents) != 1 {
		t.Fatalf("client events = %v", p.clientEvents)
	}
	ev := p.clientEvents[0]
	if ev.Reason != ReasonRejected || ev.Detail != "Banned: banned for griefing" {
		t.Errorf("client event = %+v", ev)
	}
}

func TestServerFull(t *testing.T) {
	p := newPair(t, func(s, c *Config) { s.MaxConnections = 1 })
	p.connect()

	other := NewEndpoint(p.net.Listen("client:2"), RoleClient, testConfig(&p.now))
	if _, err := other.Dial(transport.MemoryAddr(serverAddr)); err != nil {
		t.Fatal(err)
	}
	var events []Event
	for i := 0; i < 3; i++ {
		if err := other.Flush(); err != nil {
			t.Fatal(err)
		}
		p.step()
		other.Receive()
		other.Update()
		events = append(events, other.Events()...)
	}
	if len(events) != 1 || events[0].Reason != ReasonRejected {
		t.Fatalf("second client events = %v, want one rejection", events)
	}
	if p.server.Len() != 1 {
		t.Errorf("server connections = %d, want 1", p.server.Len())
	}
}

func TestRawPackets(t *testing.T) {
	p := newPair(t, nil)
	raw := p.net.Listen("raw:1")
	send := func(pkt *protocol.Packet) {
		t.Helper()
		data, err := protocol.Encode(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if err := raw.Send(transport.MemoryAddr(serverAddr), data); err != nil {
			t.Fatal(err)
		}
	}

	// Garbage and non-handshake traffic from strangers create nothing.
	if err := raw.Send(transport.MemoryAddr(serverAddr), []byte{9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	send(&protocol.Packet{Message: &protocol.Input{Tick: 1}})
	p.step()
	if p.server.Len() != 0 {
		t.Fatalf("server connections = %d, want 0", p.server.Len())
	}

	// An MTU below the minimum is refused with a reject.
	send(&protocol.Packet{
		Header:  protocol.Header{Sequence: 5},
		Message: &protocol.HandshakeRequest{Salt: 1, MTU: 100},
	})
	p.step()
	if p.server.Len() != 0 {
		t.Fatalf("server connections = %d, want 0", p.server.Len())
	}
	got := raw.Drain(nil)
	if len(got) != 1 {
		t.Fatalf("raw peer received %d datagrams, want 1", len(got))
	}
	pkt, err := protocol.Decode(got[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	rej, ok := pkt.Message.(*protocol.HandshakeReject)
	if !ok || rej.Reason != protocol.RejectMTU {
		t.Fatalf("reply = %#v, want MTU reject", pkt.Message)
	}
	if pkt.Header.Ack != 5 || pkt.Header.AckBits != 1 {
		t.Errorf("reject acks %d/%b, want 5/1", pkt.Header.Ack, pkt.Header.AckBits)
	}
}

func TestConnectionsSnapshot(t *testing.T) {
	p := newPair(t, nil)
	if got := p.server.Connections(); len(got) != 0 {
		t.Fatalf("Connections() = %v before any peer", got)
	}
	peer := p.connect()
	p.step()

	infos := p.server.Connections()
	if len(infos) != 1 {
		t.Fatalf("Connections() len = %d, want 1", len(infos))
	}
	if infos[0].Peer != peer || infos[0].State != "Connected" || infos[0].Addr != clientAddr {
		t.Errorf("Connections()[0] = %+v", infos[0])
	}
}

func TestCloseShutsDownAll(t *testing.T) {
	p := newPair(t, nil)
	p.connect()
	p.server.Close()
	for i := 0; i < 6; i++ {
		p.step()
	}
	ev := p.serverEvents[len(p.serverEvents)-1]
	if ev.Kind != EventDisconnected || ev.Reason != ReasonShutdown {
		t.Errorf("server event = %+v, want Disconnected/Shutdown", ev)
	}
	ev = p.clientEvents[len(p.clientEvents)-1]
	if ev.Kind != EventDisconnected || ev.Reason != ReasonRemote {
		t.Errorf("client event = %+v, want Disconnected/Remote", ev)
	}
}
