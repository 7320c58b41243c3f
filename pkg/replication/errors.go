package replication

import "errors"

// Sentinel errors for replication operations.
var (
	// ErrDuplicateComponent is returned when a component type id is
	// registered twice.
	ErrDuplicateComponent = errors.New("replication: component type already registered")

	// ErrRegistrySealed is returned by Register after the registry was
	// handed to a Replicator or Client.
	ErrRegistrySealed = errors.New("replication: registry is sealed")

	// ErrUnknownComponent is returned for a component type that was never
	// registered.
	ErrUnknownComponent = errors.New("replication: unknown component type")

	// ErrEmptyValue is returned when a component serializes to zero bytes,
	// which the wire reserves for removal.
	ErrEmptyValue = errors.New("replication: empty component value")

	// ErrDuplicateEntity is returned for a snapshot listing an entity twice.
	ErrDuplicateEntity = errors.New("replication: duplicate entity id")

	// ErrNotSnapshot is returned when Client.Apply receives another message.
	ErrNotSnapshot = errors.New("replication: message is not a snapshot")
)
