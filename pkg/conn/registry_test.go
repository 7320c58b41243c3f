package conn

import (
	"testing"

	"github.com/vango-dev/worldsync/pkg/transport"
)

func newTestConn(addr string) *Connection {
	return newConnection(transport.MemoryAddr(addr), 0, DefaultConfig().withDefaults())
}

func TestRegistryAddLookupRemove(t *testing.T) {
	r := NewRegistry()
	a := newTestConn("a:1")
	b := newTestConn("b:1")

	if id := r.Add(a); id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}
	if id := r.Add(b); id != 2 {
		t.Errorf("second id = %d, want 2", id)
	}
	if r.ByAddr(transport.MemoryAddr("a:1")) != a || r.ByID(2) != b {
		t.Fatal("lookup returned the wrong connection")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	r.Remove(a)
	r.Remove(a)
	if r.ByID(1) != nil || r.ByAddr(transport.MemoryAddr("a:1")) != nil {
		t.Error("removed connection still registered")
	}

	// IDs are not reused.
	if id := r.Add(newTestConn("a:1")); id != 3 {
		t.Errorf("id after remove = %d, want 3", id)
	}
}

func TestRegistryAllocateSkipsLiveAndZero(t *testing.T) {
	r := NewRegistry()
	live := newTestConn("live:1")
	r.Add(live)
	r.nextID = 0xFFFFFFFF

	if id := r.Add(newTestConn("x:1")); id != 0xFFFFFFFF {
		t.Errorf("id = %d, want max", id)
	}
	// Wraps past 0 and the live id 1.
	if id := r.Add(newTestConn("y:1")); id != 2 {
		t.Errorf("id after wrap = %d, want 2", id)
	}
}

func TestRegistryRekey(t *testing.T) {
	r := NewRegistry()
	a := newTestConn("a:1")
	b := newTestConn("b:1")
	r.Add(a)
	r.Add(b)

	if r.Rekey(a, 2) {
		t.Error("Rekey onto a live id succeeded")
	}
	if !r.Rekey(a, 40) {
		t.Fatal("Rekey() = false")
	}
	if a.ID() != 40 || r.ByID(40) != a || r.ByID(1) != nil {
		t.Errorf("after Rekey: id %d, ByID(40) %v, ByID(1) %v", a.ID(), r.ByID(40), r.ByID(1))
	}

	all := r.All()
	if len(all) != 2 || all[0] != b || all[1] != a {
		t.Errorf("All() not ordered by id")
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StateConnecting.String(), "Connecting"},
		{StateRejected.String(), "Rejected"},
		{State(99).String(), "Unknown"},
		{ReasonHandshakeTimeout.String(), "HandshakeTimeout"},
		{Reason(99).String(), "Unknown"},
		{RoleClient.String(), "client"},
		{RoleServer.String(), "server"},
		{EventDisconnected.String(), "Disconnected"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	for _, s := range []State{StateClosed, StateRejected} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false", s)
		}
	}
	if StateDisconnecting.Terminal() {
		t.Error("Disconnecting is terminal")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{MTU: 10, MaxRetransmitInterval: 1}).withDefaults()
	if cfg.MTU != 256 {
		t.Errorf("MTU = %d, want clamp to 256", cfg.MTU)
	}
	if cfg.MaxRetransmitInterval < cfg.RetransmitInterval {
		t.Errorf("MaxRetransmitInterval %d below RetransmitInterval %d", cfg.MaxRetransmitInterval, cfg.RetransmitInterval)
	}
	if cfg.Observer == nil || cfg.Now == nil || cfg.Logger == nil {
		t.Error("withDefaults left nil collaborators")
	}

	var nilCfg *Config
	if got := nilCfg.withDefaults(); got.TickRate != 30 {
		t.Errorf("nil config TickRate = %d", got.TickRate)
	}
}
