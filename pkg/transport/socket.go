// Package transport moves whole datagrams between the network and the
// tick-driven connection layer.
//
// A Socket owns one net.PacketConn. A reader goroutine copies every
// datagram into a bounded queue and does nothing else; the tick loop takes
// everything queued with Drain. Sends are serialized under a mutex so a
// datagram is never interleaved with another.
//
// Three PacketConn flavors are provided: UDP (ListenUDP), WebSocket
// (WSListener and DialWS) for peers that cannot open raw UDP, and an
// in-memory lossy network (MemoryNetwork) for deterministic tests.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for socket configuration.
const (
	DefaultQueueSize   = 4096
	DefaultMaxDatagram = 2048
)

// Transport errors.
var (
	ErrClosed      = errors.New("transport: socket closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrTooLarge    = errors.New("transport: datagram too large")
)

// Datagram is one received packet and where it came from.
type Datagram struct {
	Addr net.Addr
	Data []byte
	At   time.Time
}

// Config configures a Socket.
type Config struct {
	// QueueSize bounds the number of datagrams waiting for Drain.
	// Datagrams arriving while the queue is full are dropped and counted.
	QueueSize int

	// MaxDatagram is the read buffer size. Longer datagrams are truncated
	// by the OS and will fail to decode.
	MaxDatagram int

	// Logger for socket events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   DefaultQueueSize,
		MaxDatagram: DefaultMaxDatagram,
	}
}

// Stats is a snapshot of socket counters.
type Stats struct {
	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64
	Dropped    uint64 // Datagrams dropped because the queue was full
}

// Socket is a datagram socket drained once per tick.
type Socket struct {
	conn   net.PacketConn
	queue  chan Datagram
	logger *slog.Logger
	maxLen int

	sendMu sync.Mutex

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	dropped    atomic.Uint64

	readErr   atomic.Pointer[error]
	done      chan struct{}
	closeOnce sync.Once
}

// NewSocket wraps conn and starts its reader goroutine.
func NewSocket(conn net.PacketConn, cfg Config) *Socket {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = DefaultMaxDatagram
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Socket{
		conn:   conn,
		queue:  make(chan Datagram, cfg.QueueSize),
		logger: logger.With("component", "transport", "local", conn.LocalAddr().String()),
		maxLen: cfg.MaxDatagram,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// ListenUDP binds a UDP socket. A bind failure is the only fatal transport
// error and is returned to the caller.
func ListenUDP(addr string) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return conn, nil
}

func (s *Socket) readLoop() {
	buf := make([]byte, s.maxLen)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-s.done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("socket read failed", "error", err)
				}
				s.readErr.Store(&err)
			}
			return
		}

		s.packetsIn.Add(1)
		s.bytesIn.Add(uint64(n))
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.queue <- Datagram{Addr: addr, Data: data, At: time.Now()}:
		default:
			s.dropped.Add(1)
		}
	}
}

// Drain appends every queued datagram to dst without blocking.
func (s *Socket) Drain(dst []Datagram) []Datagram {
	for {
		select {
		case d := <-s.queue:
			dst = append(dst, d)
		default:
			return dst
		}
	}
}

// Send writes one datagram to addr.
func (s *Socket) Send(addr net.Addr, data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.sendMu.Lock()
	n, err := s.conn.WriteTo(data, addr)
	s.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	s.packetsOut.Add(1)
	s.bytesOut.Add(uint64(n))
	return nil
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Err returns the error that stopped the reader, if any. A non-nil result
// means the socket is unusable.
func (s *Socket) Err() error {
	if p := s.readErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns the current counters.
func (s *Socket) Stats() Stats {
	return Stats{
		PacketsIn:  s.packetsIn.Load(),
		PacketsOut: s.packetsOut.Load(),
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// Close stops the reader and closes the underlying connection.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
