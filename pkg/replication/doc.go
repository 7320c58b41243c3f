// Package replication implements snapshot based world state replication.
//
// The server side Replicator restricts each tick's WorldSnapshot to a
// connection's InterestSet and encodes it either as a full snapshot or as a
// delta against the newest tick that connection acknowledged. A tick is
// acknowledged when every packet carrying it was acked by the connection
// layer; Sent and Acked feed that bookkeeping.
//
// The client side Client rebuilds states from those snapshots. Every
// reconstructed tick inside the window is kept so later deltas can be
// applied to it, but only a tick strictly newer than the current state
// becomes current. The last few applied states feed an interpolation
// Buffer for rendering; authoritative values always come from State.
//
// # Component Registry
//
// Component values travel as opaque bytes keyed by a 16-bit type id.
// Register binds an id to typed encode and decode functions, and optionally
// to equality and interpolation:
//
//	var Position = replication.MustRegister(reg, replication.Definition[Vec3]{
//	    ID:          1,
//	    Name:        "position",
//	    Encode:      encodeVec3,
//	    Decode:      decodeVec3,
//	    Interpolate: lerpVec3,
//	})
//
// An empty value on the wire means the component was removed, so encoders
// must never produce zero bytes.
package replication
