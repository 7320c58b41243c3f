package conn

import (
	"net"
	"slices"
)

// Registry maps remote addresses and PeerIDs to connections. It is owned
// by one Endpoint and is not safe for concurrent use.
type Registry struct {
	byAddr map[string]*Connection
	byID   map[PeerID]*Connection
	nextID PeerID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddr: make(map[string]*Connection),
		byID:   make(map[PeerID]*Connection),
		nextID: 1,
	}
}

// allocate returns an unused PeerID. IDs increase monotonically, skipping 0
// and any id still registered after wraparound.
func (r *Registry) allocate() PeerID {
	for {
		id := r.nextID
		r.nextID++
		if id == 0 {
			continue
		}
		if _, used := r.byID[id]; !used {
			return id
		}
	}
}

// Add registers c under its address and a newly allocated PeerID.
func (r *Registry) Add(c *Connection) PeerID {
	c.id = r.allocate()
	r.byAddr[c.addr.String()] = c
	r.byID[c.id] = c
	return c.id
}

// Rekey moves c to id, as when a client learns the PeerID the server
// assigned. It reports false if id is held by another connection.
func (r *Registry) Rekey(c *Connection, id PeerID) bool {
	if other, ok := r.byID[id]; ok && other != c {
		return false
	}
	delete(r.byID, c.id)
	c.id = id
	r.byID[id] = c
	return true
}

// Remove unregisters c. Removing an unknown connection is a no-op.
func (r *Registry) Remove(c *Connection) {
	if r.byID[c.id] == c {
		delete(r.byID, c.id)
	}
	key := c.addr.String()
	if r.byAddr[key] == c {
		delete(r.byAddr, key)
	}
}

// ByAddr returns the connection for addr, or nil.
func (r *Registry) ByAddr(addr net.Addr) *Connection {
	return r.byAddr[addr.String()]
}

// ByID returns the connection for id, or nil.
func (r *Registry) ByID(id PeerID) *Connection {
	return r.byID[id]
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.byID)
}

// All returns the registered connections ordered by PeerID.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return out
}
