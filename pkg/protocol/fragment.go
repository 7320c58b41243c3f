package protocol

// MaxFragments is the largest number of pieces one message may be split into.
const MaxFragments = 255

// Fragment is one piece of an unreliable message whose packet would not fit
// in the MTU. Chunk holds a slice of the inner message body as produced by
// EncodeBody; pieces of one message share Group.
type Fragment struct {
	Group uint16
	Index uint8
	Count uint8
	Inner MessageType
	Chunk []byte
}

// Type implements Message.
func (*Fragment) Type() MessageType { return TypeFragment }

func (m *Fragment) encode(e *Encoder) {
	e.WriteUint16(m.Group)
	e.WriteUint8(m.Index)
	e.WriteUint8(m.Count)
	e.WriteUint8(byte(m.Inner))
	e.WriteLenBytes(m.Chunk)
}

func decodeFragment(d *Decoder) (*Fragment, error) {
	m := &Fragment{}
	var err error
	if m.Group, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if m.Index, err = d.ReadByte(); err != nil {
		return nil, err
	}
	if m.Count, err = d.ReadByte(); err != nil {
		return nil, err
	}
	inner, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	m.Inner = MessageType(inner)
	if m.Chunk, err = d.ReadLenBytes(); err != nil {
		return nil, err
	}
	if m.Count == 0 || m.Index >= m.Count {
		return nil, malformed("fragment index out of range")
	}
	if !m.Inner.Fragmentable() {
		return nil, malformed("fragment of non-fragmentable " + m.Inner.String())
	}
	return m, nil
}
