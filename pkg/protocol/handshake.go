package protocol

// RejectReason explains a HandshakeReject.
type RejectReason uint8

const (
	RejectUnknown           RejectReason = 0x00 // Unspecified
	RejectVersion           RejectReason = 0x01 // Protocol version not supported
	RejectBanned            RejectReason = 0x02 // Address is banned
	RejectServerFull        RejectReason = 0x03 // Connection limit reached
	RejectMTU               RejectReason = 0x04 // Advertised MTU too low
	RejectProtocolViolation RejectReason = 0x05 // Peer broke the protocol
)

// String returns the string representation of the reject reason.
func (r RejectReason) String() string {
	switch r {
	case RejectUnknown:
		return "Unknown"
	case RejectVersion:
		return "Version"
	case RejectBanned:
		return "Banned"
	case RejectServerFull:
		return "ServerFull"
	case RejectMTU:
		return "MTU"
	case RejectProtocolViolation:
		return "ProtocolViolation"
	default:
		return "Unknown"
	}
}

// HandshakeRequest is sent reliably by a client to open a connection.
// The salt identifies the attempt so that retransmissions are recognized
// as duplicates rather than a second connection attempt.
type HandshakeRequest struct {
	Salt uint32 // Random per connection attempt
	MTU  uint16 // Largest datagram the client accepts
}

// Type implements Message.
func (*HandshakeRequest) Type() MessageType { return TypeHandshakeRequest }

func (m *HandshakeRequest) encode(e *Encoder) {
	e.WriteUint32(m.Salt)
	e.WriteUint16(m.MTU)
}

func decodeHandshakeRequest(d *Decoder) (*HandshakeRequest, error) {
	m := &HandshakeRequest{}
	var err error
	if m.Salt, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.MTU, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	return m, nil
}

// HandshakeAccept is the server's reliable answer to HandshakeRequest.
type HandshakeAccept struct {
	PeerID     uint32 // Identifier assigned to the connection
	Salt       uint32 // Echo of the request salt
	TickRate   uint16 // Server ticks per second
	ServerTick uint32 // Server tick when the accept was queued
}

// Type implements Message.
func (*HandshakeAccept) Type() MessageType { return TypeHandshakeAccept }

func (m *HandshakeAccept) encode(e *Encoder) {
	e.WriteUint32(m.PeerID)
	e.WriteUint32(m.Salt)
	e.WriteUint16(m.TickRate)
	e.WriteUint32(m.ServerTick)
}

func decodeHandshakeAccept(d *Decoder) (*HandshakeAccept, error) {
	m := &HandshakeAccept{}
	var err error
	if m.PeerID, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.Salt, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	if m.TickRate, err = d.ReadUint16(); err != nil {
		return nil, err
	}
	if m.ServerTick, err = d.ReadUint32(); err != nil {
		return nil, err
	}
	return m, nil
}

// HandshakeReject refuses a connection attempt. It is sent best-effort.
type HandshakeReject struct {
	Reason  RejectReason
	Message string
}

// Type implements Message.
func (*HandshakeReject) Type() MessageType { return TypeHandshakeReject }

func (m *HandshakeReject) encode(e *Encoder) {
	e.WriteUint8(byte(m.Reason))
	e.WriteString(m.Message)
}

func decodeHandshakeReject(d *Decoder) (*HandshakeReject, error) {
	reason, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	msg, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &HandshakeReject{Reason: RejectReason(reason), Message: msg}, nil
}
