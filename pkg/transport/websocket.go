package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSAddr identifies a WebSocket peer by its remote address.
type WSAddr string

// Network implements net.Addr.
func (WSAddr) Network() string { return "websocket" }

// String implements net.Addr.
func (a WSAddr) String() string { return string(a) }

// WSConfig configures the WebSocket datagram adapter.
type WSConfig struct {
	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the request origin. nil allows all origins.
	CheckOrigin func(r *http.Request) bool

	// MaxMessageSize bounds one binary message, which carries one datagram.
	MaxMessageSize int64

	// WriteTimeout bounds a single message write.
	WriteTimeout time.Duration

	// QueueSize bounds datagrams received but not yet read.
	QueueSize int

	// Logger for adapter events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultWSConfig returns a WSConfig with sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  DefaultMaxDatagram,
		WriteTimeout:    5 * time.Second,
		QueueSize:       DefaultQueueSize,
	}
}

func (c *WSConfig) applyDefaults() {
	def := DefaultWSConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *wsPeer) write(data []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return p.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WSListener accepts WebSocket peers over HTTP and presents all of them as
// a single net.PacketConn. Each binary message is one datagram; the peer's
// remote address is its net.Addr. Mount it on an HTTP router as a handler.
type WSListener struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
	local    WSAddr
	logger   *slog.Logger

	mu    sync.Mutex
	peers map[string]*wsPeer

	incoming  chan Datagram
	closed    chan struct{}
	closeOnce sync.Once

	deadlineMu   sync.Mutex
	readDeadline time.Time
}

// NewWSListener creates a listener. local names the listener in LocalAddr.
func NewWSListener(local string, cfg WSConfig) *WSListener {
	cfg.applyDefaults()
	return &WSListener{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		local:    WSAddr(local),
		logger:   cfg.Logger.With("component", "transport.ws"),
		peers:    make(map[string]*wsPeer),
		incoming: make(chan Datagram, cfg.QueueSize),
		closed:   make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and reads datagrams from the peer until
// the WebSocket closes.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(l.cfg.MaxMessageSize)

	addr := WSAddr(r.RemoteAddr)
	peer := &wsPeer{conn: conn}
	l.mu.Lock()
	if old := l.peers[addr.String()]; old != nil {
		_ = old.conn.Close()
	}
	l.peers[addr.String()] = peer
	l.mu.Unlock()
	l.logger.Debug("websocket peer attached", "addr", addr)

	defer func() {
		l.mu.Lock()
		if l.peers[addr.String()] == peer {
			delete(l.peers, addr.String())
		}
		l.mu.Unlock()
		_ = conn.Close()
		l.logger.Debug("websocket peer detached", "addr", addr)
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case l.incoming <- Datagram{Addr: addr, Data: msg, At: time.Now()}:
		case <-l.closed:
			return
		}
	}
}

// ReadFrom implements net.PacketConn.
func (l *WSListener) ReadFrom(p []byte) (int, net.Addr, error) {
	l.deadlineMu.Lock()
	deadline := l.readDeadline
	l.deadlineMu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-l.incoming:
		return copy(p, d.Data), d.Addr, nil
	case <-l.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo implements net.PacketConn.
func (l *WSListener) WriteTo(p []byte, addr net.Addr) (int, error) {
	if int64(len(p)) > l.cfg.MaxMessageSize {
		return 0, ErrTooLarge
	}
	l.mu.Lock()
	peer := l.peers[addr.String()]
	l.mu.Unlock()
	if peer == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if err := peer.write(p, l.cfg.WriteTimeout); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close disconnects every peer and unblocks readers.
func (l *WSListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		for key, peer := range l.peers {
			_ = peer.conn.Close()
			delete(l.peers, key)
		}
		l.mu.Unlock()
	})
	return nil
}

// Peers returns the number of attached WebSocket peers.
func (l *WSListener) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// LocalAddr implements net.PacketConn.
func (l *WSListener) LocalAddr() net.Addr { return l.local }

// SetDeadline implements net.PacketConn.
func (l *WSListener) SetDeadline(t time.Time) error { return l.SetReadDeadline(t) }

// SetReadDeadline implements net.PacketConn.
func (l *WSListener) SetReadDeadline(t time.Time) error {
	l.deadlineMu.Lock()
	l.readDeadline = t
	l.deadlineMu.Unlock()
	return nil
}

// SetWriteDeadline implements net.PacketConn. Writes use WriteTimeout.
func (l *WSListener) SetWriteDeadline(time.Time) error { return nil }

// WSConn is the client side of the adapter: a net.PacketConn over one
// WebSocket connection. Every write goes to the server regardless of addr.
type WSConn struct {
	peer    *wsPeer
	remote  WSAddr
	local   WSAddr
	timeout time.Duration
}

// DialWS connects to a WSListener at url.
func DialWS(ctx context.Context, url string, cfg WSConfig) (*WSConn, error) {
	cfg.applyDefaults()
	dialer := websocket.Dialer{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.WriteTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &WSConn{
		peer:    &wsPeer{conn: conn},
		remote:  WSAddr(url),
		local:   WSAddr(conn.LocalAddr().String()),
		timeout: cfg.WriteTimeout,
	}, nil
}

// RemoteAddr returns the address to pass to WriteTo.
func (c *WSConn) RemoteAddr() net.Addr { return c.remote }

// ReadFrom implements net.PacketConn.
func (c *WSConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		mt, msg, err := c.peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, nil, net.ErrClosed
			}
			return 0, nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return copy(p, msg), c.remote, nil
	}
}

// WriteTo implements net.PacketConn.
func (c *WSConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if err := c.peer.write(p, c.timeout); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection.
func (c *WSConn) Close() error {
	c.peer.writeMu.Lock()
	_ = c.peer.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.peer.writeMu.Unlock()
	return c.peer.conn.Close()
}

// LocalAddr implements net.PacketConn.
func (c *WSConn) LocalAddr() net.Addr { return c.local }

// SetDeadline implements net.PacketConn.
func (c *WSConn) SetDeadline(t time.Time) error { return c.peer.conn.SetReadDeadline(t) }

// SetReadDeadline implements net.PacketConn.
func (c *WSConn) SetReadDeadline(t time.Time) error { return c.peer.conn.SetReadDeadline(t) }

// SetWriteDeadline implements net.PacketConn. Writes use WriteTimeout.
func (c *WSConn) SetWriteDeadline(time.Time) error { return nil }
