package protocol

// ComponentValue is one serialized component of an entity. In a delta a
// zero-length Value means the component was removed from the entity.
type ComponentValue struct {
	Type  uint16
	Value []byte
}

// EntityState is an entity as it appears on the wire.
type EntityState struct {
	ID         uint32
	Components []ComponentValue
}

// SnapshotFull is a complete dump of every entity in the receiver's
// interest set at Tick.
type SnapshotFull struct {
	Tick     uint32
	Entities []EntityState
}

// Type implements Message.
func (*SnapshotFull) Type() MessageType { return TypeSnapshotFull }

func (m *SnapshotFull) encode(e *Encoder) {
	e.WriteUint32(m.Tick)
	encodeEntities(e, m.Entities)
}

func decodeSnapshotFull(d *Decoder) (*SnapshotFull, error) {
	tick, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	entities, err := decodeEntities(d)
	if err != nil {
		return nil, err
	}
	return &SnapshotFull{Tick: tick, Entities: entities}, nil
}

// SnapshotDelta lists the changes between BaselineTick and Tick: changed
// components of existing or new entities, and ids of entities that left.
type SnapshotDelta struct {
	Tick         uint32
	BaselineTick uint32
	Entities     []EntityState
	Removed      []uint32
}

// Type implements Message.
func (*SnapshotDelta) Type() MessageType { return TypeSnapshotDelta }

func (m *SnapshotDelta) encode(e *Encoder) {
	e.WriteUint32(m.Tick)
	e.WriteUint32(m.BaselineTick)
	encodeEntities(e, m.Entities)
	e.WriteUvarint(uint64(len(m.Removed)))
	for _, id := range m.Removed {
		e.WriteUint32(id)
	}
}

func decodeSnapshotDelta(d *Decoder) (*SnapshotDelta, error) {
	m := &SnapshotDelta{}
	var err error
	if m.Tick, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.BaselineTick, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.Entities, err = decodeEntities(d); err != nil {
		return nil, err
	}
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		m.Removed = make([]uint32, count)
		for i := range m.Removed {
			if m.Removed[i], err = d.ReadUint32(); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func encodeEntities(e *Encoder, entities []EntityState) {
	e.WriteUvarint(uint64(len(entities)))
	for i := range entities {
		ent := &entities[i]
		e.WriteUint32(ent.ID)
		e.WriteUvarint(uint64(len(ent.Components)))
		for _, c := range ent.Components {
			e.WriteUint16(c.Type)
			e.WriteLenBytes(c.Value)
		}
	}
}

func decodeEntities(d *Decoder) ([]EntityState, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	entities := make([]EntityState, count)
	for i := range entities {
		ent := &entities[i]
		if ent.ID, err = d.ReadUint32(); err != nil {
			return nil, err
		}
		n, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		ent.Components = make([]ComponentValue, n)
		for j := range ent.Components {
			c := &ent.Components[j]
			if c.Type, err = d.ReadUint16(); err != nil {
				return nil, err
			}
			if c.Value, err = d.ReadLenBytes(); err != nil {
				return nil, err
			}
		}
	}
	return entities, nil
}
