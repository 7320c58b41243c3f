package transport

import (
	"math/rand"
	"net"
	"os"
	"sync"
	"time"
)

// MemoryAddr addresses a MemoryConn.
type MemoryAddr string

// Network implements net.Addr.
func (MemoryAddr) Network() string { return "memory" }

// String implements net.Addr.
func (a MemoryAddr) String() string { return string(a) }

// Filter decides whether a datagram travelling from one address to another
// is delivered. Returning false drops it.
type Filter func(from, to string, data []byte) bool

// MemoryNetwork is an in-process datagram network with configurable loss,
// duplication and reordering. Randomness is seeded, so a given seed and
// traffic pattern always loses the same datagrams.
type MemoryNetwork struct {
	mu        sync.Mutex
	rng       *rand.Rand
	conns     map[string]*MemoryConn
	loss      float64
	duplicate float64
	reorder   float64
	filter    Filter
	held      map[string][]Datagram
}

// NewMemoryNetwork creates an empty lossless network.
func NewMemoryNetwork(seed int64) *MemoryNetwork {
	return &MemoryNetwork{
		rng:   rand.New(rand.NewSource(seed)),
		conns: make(map[string]*MemoryConn),
		held:  make(map[string][]Datagram),
	}
}

// SetLoss sets the probability that a datagram is dropped.
func (n *MemoryNetwork) SetLoss(p float64) {
	n.mu.Lock()
	n.loss = p
	n.mu.Unlock()
}

// SetDuplicate sets the probability that a datagram is delivered twice.
func (n *MemoryNetwork) SetDuplicate(p float64) {
	n.mu.Lock()
	n.duplicate = p
	n.mu.Unlock()
}

// SetReorder sets the probability that a datagram is held back and
// delivered after the next datagram to the same destination.
func (n *MemoryNetwork) SetReorder(p float64) {
	n.mu.Lock()
	n.reorder = p
	n.mu.Unlock()
}

// SetFilter installs a filter consulted before random loss. nil removes it.
func (n *MemoryNetwork) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Listen creates a connection bound to addr. Listening twice on the same
// address replaces the earlier connection.
func (n *MemoryNetwork) Listen(addr string) *MemoryConn {
	c := &MemoryConn{
		network: n,
		addr:    MemoryAddr(addr),
		notify:  make(chan struct{}, 1),
	}
	n.mu.Lock()
	n.conns[addr] = c
	n.mu.Unlock()
	return c
}

// Release delivers every held-back datagram.
func (n *MemoryNetwork) Release() {
	n.mu.Lock()
	held := n.held
	n.held = make(map[string][]Datagram)
	n.mu.Unlock()
	for to, ds := range held {
		n.mu.Lock()
		c := n.conns[to]
		n.mu.Unlock()
		if c == nil {
			continue
		}
		for _, d := range ds {
			c.push(d)
		}
	}
}

func (n *MemoryNetwork) send(from MemoryAddr, to string, data []byte) error {
	n.mu.Lock()
	dst, ok := n.conns[to]
	if !ok {
		n.mu.Unlock()
		// Like UDP, sending to nobody succeeds.
		return nil
	}
	if n.filter != nil && !n.filter(string(from), to, data) {
		n.mu.Unlock()
		return nil
	}
	if n.loss > 0 && n.rng.Float64() < n.loss {
		n.mu.Unlock()
		return nil
	}
	copies := 1
	if n.duplicate > 0 && n.rng.Float64() < n.duplicate {
		copies = 2
	}
	hold := n.reorder > 0 && n.rng.Float64() < n.reorder

	d := Datagram{Addr: from, Data: append([]byte(nil), data...), At: time.Now()}
	var release []Datagram
	if hold {
		n.held[to] = append(n.held[to], d)
		copies--
	} else {
		release = n.held[to]
		delete(n.held, to)
	}
	n.mu.Unlock()

	for i := 0; i < copies; i++ {
		dst.push(d)
	}
	for _, h := range release {
		dst.push(h)
	}
	return nil
}

// MemoryConn is one endpoint of a MemoryNetwork. It implements
// net.PacketConn, and also offers Drain and Send directly so that a tick
// loop can use it without a reader goroutine.
type MemoryConn struct {
	network *MemoryNetwork
	addr    MemoryAddr

	mu           sync.Mutex
	inbox        []Datagram
	closed       bool
	readDeadline time.Time
	notify       chan struct{}
}

func (c *MemoryConn) push(d Datagram) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inbox = append(c.inbox, d)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Drain appends every delivered datagram to dst.
func (c *MemoryConn) Drain(dst []Datagram) []Datagram {
	c.mu.Lock()
	dst = append(dst, c.inbox...)
	c.inbox = c.inbox[:0]
	c.mu.Unlock()
	return dst
}

// Send delivers data to addr through the network.
func (c *MemoryConn) Send(addr net.Addr, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.network.send(c.addr, addr.String(), data)
}

// ReadFrom implements net.PacketConn.
func (c *MemoryConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, nil, net.ErrClosed
		}
		if len(c.inbox) > 0 {
			d := c.inbox[0]
			c.inbox = c.inbox[1:]
			c.mu.Unlock()
			return copy(p, d.Data), d.Addr, nil
		}
		deadline := c.readDeadline
		c.mu.Unlock()

		if deadline.IsZero() {
			<-c.notify
			continue
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		select {
		case <-c.notify:
			timer.Stop()
		case <-timer.C:
			return 0, nil, os.ErrDeadlineExceeded
		}
	}
}

// WriteTo implements net.PacketConn.
func (c *MemoryConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if err := c.Send(addr, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements net.PacketConn.
func (c *MemoryConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.inbox = nil
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}

	n := c.network
	n.mu.Lock()
	if n.conns[string(c.addr)] == c {
		delete(n.conns, string(c.addr))
	}
	n.mu.Unlock()
	return nil
}

// LocalAddr implements net.PacketConn.
func (c *MemoryConn) LocalAddr() net.Addr { return c.addr }

// SetDeadline implements net.PacketConn.
func (c *MemoryConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

// SetReadDeadline implements net.PacketConn.
func (c *MemoryConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// SetWriteDeadline implements net.PacketConn. Writes never block.
func (c *MemoryConn) SetWriteDeadline(time.Time) error { return nil }
