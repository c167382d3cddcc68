package rcon

// PacketType indicates the purpose of a packet. AUTH_RESPONSE and EXECCOMMAND
// share the value 2, so a PacketType alone does not identify a message; see
// Classify.
type PacketType int32

const (
	// PacketTypeResponseValue carries the output of a command, server to client.
	PacketTypeResponseValue PacketType = 0
	// PacketTypeExecCommand carries a command to execute, client to server.
	PacketTypeExecCommand PacketType = 2
	// PacketTypeAuthResponse reports the auth result, server to client. A failed
	// attempt is signalled by an ID of AuthFailedID.
	PacketTypeAuthResponse PacketType = 2
	// PacketTypeAuth carries the RCON password, client to server.
	PacketTypeAuth PacketType = 3
)

const (
	// PacketWrapperSize is the number of bytes counted by the size field besides
	// the body: ID, type and the two terminating zero bytes.
	PacketWrapperSize = 4 + 4 + 2

	// PacketMinSize is the smallest legal value of the size field (empty body).
	PacketMinSize = PacketWrapperSize

	// PacketHeaderSize is the length of the size, ID and type fields on the wire.
	PacketHeaderSize = 4 + 4 + 4

	// MaximumPacketSize is the default upper bound for the size field of an
	// inbound packet.
	MaximumPacketSize = 4096

	// AuthFailedID is the ID a server puts on an AUTH_RESPONSE to reject a password.
	AuthFailedID int32 = -1
)

// Packet is one RCON protocol message. Packets are values; build a new one
// rather than mutating a received one.
type Packet struct {
	// ID is chosen by the client and echoed by the server, except on a rejected
	// auth attempt where the server answers with AuthFailedID.
	ID int32
	// Type is the raw type code.
	Type PacketType
	// Body is the password, the command or the command output. It must be ASCII
	// and must not contain a zero byte.
	Body string
}

// NewPacket builds a packet.
func NewPacket(typ PacketType, body string, id int32) Packet {
	return Packet{ID: id, Type: typ, Body: body}
}

// Size returns the value of the size field: the number of bytes that follow it.
func (p Packet) Size() int32 {
	return int32(len(p.Body) + PacketWrapperSize)
}

// Validate checks that the body can be carried by the wire format.
func (p Packet) Validate() error {
	for i := 0; i < len(p.Body); i++ {
		if c := p.Body[i]; c == 0 || c > 0x7f {
			return ErrInvalidBody
		}
	}
	return nil
}

// Is reports whether p is a message of the given kind when travelling in dir.
func (p Packet) Is(kind Kind, dir Direction) bool {
	return Classify(p, dir) == kind
}

// SanitizeBody replaces every byte the wire format cannot carry (non-ASCII
// and NUL) with '?'.
func SanitizeBody(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0 || c > 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r == 0 || r > 0x7f {
			b = append(b, '?')
			continue
		}
		b = append(b, byte(r))
	}
	return string(b)
}
