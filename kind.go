package rcon

// Direction is the way a packet travelled.
type Direction int

const (
	// ToServer is a packet sent by a client.
	ToServer Direction = iota
	// ToClient is a packet sent by a server.
	ToClient
)

func (d Direction) String() string {
	switch d {
	case ToServer:
		return "to_server"
	case ToClient:
		return "to_client"
	}
	return "unknown"
}

// Kind is the protocol meaning of a packet once its direction is known.
type Kind int

const (
	// KindUnknown is a type code that means nothing in the given direction.
	KindUnknown Kind = iota
	// KindAuth is SERVERDATA_AUTH, a client's password.
	KindAuth
	// KindExecCommand is SERVERDATA_EXECCOMMAND, a client's command.
	KindExecCommand
	// KindAuthResponse is SERVERDATA_AUTH_RESPONSE, the server's auth result.
	KindAuthResponse
	// KindResponseValue is SERVERDATA_RESPONSE_VALUE, the server's command output.
	KindResponseValue
)

// String returns the protocol name of k.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "SERVERDATA_AUTH"
	case KindExecCommand:
		return "SERVERDATA_EXECCOMMAND"
	case KindAuthResponse:
		return "SERVERDATA_AUTH_RESPONSE"
	case KindResponseValue:
		return "SERVERDATA_RESPONSE_VALUE"
	}
	return "UNKNOWN"
}

// Classify interprets the raw type code of p for the direction it travelled.
// Code 2 is EXECCOMMAND towards a server and AUTH_RESPONSE towards a client.
func Classify(p Packet, dir Direction) Kind {
	switch dir {
	case ToServer:
		switch p.Type {
		case PacketTypeAuth:
			return KindAuth
		case PacketTypeExecCommand:
			return KindExecCommand
		}
	case ToClient:
		switch p.Type {
		case PacketTypeAuthResponse:
			return KindAuthResponse
		case PacketTypeResponseValue:
			return KindResponseValue
		}
	}
	return KindUnknown
}
