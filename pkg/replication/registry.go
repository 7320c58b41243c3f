package replication

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

// ComponentType is the stable wire id of a component type.
type ComponentType uint16

// Definition describes a component type of Go type T.
type Definition[T any] struct {
	ID   ComponentType
	Name string

	// Encode and Decode convert between T and its wire form. Encode must
	// never return an empty slice.
	Encode func(T) []byte
	Decode func([]byte) (T, error)

	// Equal decides whether a value changed since the baseline. nil compares
	// the serialized bytes.
	Equal func(a, b T) bool

	// Interpolate blends two values for rendering, with alpha in [0, 1].
	// nil means the type snaps to the newer value.
	Interpolate func(a, b T, alpha float64) T
}

// componentInfo is the type-erased form of a Definition.
type componentInfo struct {
	id          ComponentType
	name        string
	equal       func(a, b []byte) bool
	interpolate func(a, b []byte, alpha float64) ([]byte, error)
}

// Registry is the table of component types known to a process. It is built
// once at startup and sealed when a Replicator or Client starts using it.
type Registry struct {
	mu     sync.RWMutex
	types  map[ComponentType]*componentInfo
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[ComponentType]*componentInfo)}
}

// Register adds a component type and returns its typed handle.
func Register[T any](r *Registry, def Definition[T]) (Kind[T], error) {
	if def.Encode == nil || def.Decode == nil {
		return Kind[T]{}, fmt.Errorf("replication: component %d (%s) needs Encode and Decode", def.ID, def.Name)
	}

	info := &componentInfo{id: def.ID, name: def.Name, equal: bytes.Equal}
	if def.Equal != nil {
		eq := def.Equal
		info.equal = func(a, b []byte) bool {
			va, err := def.Decode(a)
			if err != nil {
				return false
			}
			vb, err := def.Decode(b)
			if err != nil {
				return false
			}
			return eq(va, vb)
		}
	}
	if def.Interpolate != nil {
		lerp := def.Interpolate
		info.interpolate = func(a, b []byte, alpha float64) ([]byte, error) {
			va, err := def.Decode(a)
			if err != nil {
				return nil, err
			}
			vb, err := def.Decode(b)
			if err != nil {
				return nil, err
			}
			out := def.Encode(lerp(va, vb, alpha))
			if len(out) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrEmptyValue, def.Name)
			}
			return out, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return Kind[T]{}, ErrRegistrySealed
	}
	if existing, ok := r.types[def.ID]; ok {
		return Kind[T]{}, fmt.Errorf("%w: %d (%s, already %s)", ErrDuplicateComponent, def.ID, def.Name, existing.name)
	}
	r.types[def.ID] = info
	return Kind[T]{id: def.ID, name: def.Name, enc: def.Encode, dec: def.Decode}, nil
}

// MustRegister is like Register but panics on error. Use it for package
// level component declarations.
func MustRegister[T any](r *Registry, def Definition[T]) Kind[T] {
	k, err := Register(r, def)
	if err != nil {
		panic(err)
	}
	return k
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Known reports whether t is registered.
func (r *Registry) Known(t ComponentType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// Name returns the registered name of t.
func (r *Registry) Name(t ComponentType) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.types[t]; ok {
		return info.name
	}
	return fmt.Sprintf("component(%d)", t)
}

// Types returns the registered ids in ascending order.
func (r *Registry) Types() []ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ComponentType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether two serialized values of t are equal.
func (r *Registry) Equal(t ComponentType, a, b []byte) bool {
	if r == nil {
		return bytes.Equal(a, b)
	}
	r.mu.RLock()
	info := r.types[t]
	r.mu.RUnlock()
	if info == nil {
		return bytes.Equal(a, b)
	}
	return info.equal(a, b)
}

// Interpolate blends two serialized values of t. Types without an
// interpolation function return b.
func (r *Registry) Interpolate(t ComponentType, a, b []byte, alpha float64) ([]byte, error) {
	r.mu.RLock()
	info := r.types[t]
	r.mu.RUnlock()
	if info == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponent, t)
	}
	if info.interpolate == nil {
		return b, nil
	}
	return info.interpolate(a, b, alpha)
}

// Kind is the typed handle of a registered component type.
type Kind[T any] struct {
	id   ComponentType
	name string
	enc  func(T) []byte
	dec  func([]byte) (T, error)
}

// ID returns the component type id.
func (k Kind[T]) ID() ComponentType { return k.id }

// Name returns the registered name.
func (k Kind[T]) Name() string { return k.name }

// Encode serializes v.
func (k Kind[T]) Encode(v T) ([]byte, error) {
	b := k.enc(v)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyValue, k.name)
	}
	return b, nil
}

// Decode parses a serialized value.
func (k Kind[T]) Decode(b []byte) (T, error) {
	return k.dec(b)
}

// Set stores v on e, allocating its component map if needed.
func (k Kind[T]) Set(e *EntitySnapshot, v T) error {
	b, err := k.Encode(v)
	if err != nil {
		return err
	}
	if e.Components == nil {
		e.Components = Components{}
	}
	e.Components[k.id] = b
	return nil
}

// Get decodes the value of this component on an entity of s.
func (k Kind[T]) Get(s *State, id EntityID) (v T, ok bool, err error) {
	b, ok := s.Component(id, k.id)
	if !ok {
		return v, false, nil
	}
	v, err = k.dec(b)
	return v, err == nil, err
}
