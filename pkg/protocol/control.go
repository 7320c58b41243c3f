package protocol

// DisconnectReason indicates why a connection is being closed.
type DisconnectReason uint8

const (
	DisconnectNormal    DisconnectReason = 0x00 // Normal closure
	DisconnectGoingAway DisconnectReason = 0x01 // Peer is shutting down
	DisconnectTimeout   DisconnectReason = 0x02 // Liveness deadline exceeded
	DisconnectKicked    DisconnectReason = 0x03 // Removed by the simulation
	DisconnectProtocol  DisconnectReason = 0x04 // Protocol violation
)

// String returns the string representation of the disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectNormal:
		return "Normal"
	case DisconnectGoingAway:
		return "GoingAway"
	case DisconnectTimeout:
		return "Timeout"
	case DisconnectKicked:
		return "Kicked"
	case DisconnectProtocol:
		return "Protocol"
	default:
		return "Unknown"
	}
}

// Disconnect announces that the sender is closing the connection.
type Disconnect struct {
	Reason  DisconnectReason
	Message string
}

// Type implements Message.
func (*Disconnect) Type() MessageType { return TypeDisconnect }

func (m *Disconnect) encode(e *Encoder) {
	e.WriteUint8(byte(m.Reason))
	e.WriteString(m.Message)
}

func decodeDisconnect(d *Decoder) (*Disconnect, error) {
	reason, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	msg, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &Disconnect{Reason: DisconnectReason(reason), Message: msg}, nil
}

// Ack is an empty message. Its packet exists only to carry the header's
// acknowledgments and clock stamp.
type Ack struct{}

// Type implements Message.
func (*Ack) Type() MessageType { return TypeAck }

func (*Ack) encode(*Encoder) {}

// Control carries an application payload on the ReliableOrdered channel
// (chat, match control, inventory actions).
type Control struct {
	Payload []byte
}

// Type implements Message.
func (*Control) Type() MessageType { return TypeControl }

func (m *Control) encode(e *Encoder) {
	e.WriteLenBytes(m.Payload)
}

func decodeControl(d *Decoder) (*Control, error) {
	payload, err := d.ReadLenBytes()
	if err != nil {
		return nil, err
	}
	return &Control{Payload: payload}, nil
}

// Input carries client commands for a simulation tick. Inputs are
// unreliable; the client repeats its intent every tick.
type Input struct {
	Tick    uint32
	Payload []byte
}

// Type implements Message.
func (*Input) Type() MessageType { return TypeInput }

func (m *Input) encode(e *Encoder) {
	e.WriteUint32(m.Tick)
	e.WriteLenBytes(m.Payload)
}

func decodeInput(d *Decoder) (*Input, error) {
	tick, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	payload, err := d.ReadLenBytes()
	if err != nil {
		return nil, err
	}
	return &Input{Tick: tick, Payload: payload}, nil
}

// Resync tells the server that the delta for Tick could not be applied
// because its baseline is not held. The server answers with a full
// snapshot. It is unreliable; the next unusable delta repeats it.
type Resync struct {
	Tick uint32
}

// Type implements Message.
func (*Resync) Type() MessageType { return TypeResync }

func (m *Resync) encode(e *Encoder) {
	e.WriteUint32(m.Tick)
}

func decodeResync(d *Decoder) (*Resync, error) {
	tick, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	return &Resync{Tick: tick}, nil
}
