package rcon

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Errors returned by packet and session operations.
var (
	// ErrMalformedPacket is returned when a frame is shorter than the smallest valid packet
	// or declares a size that cannot be honoured.
	ErrMalformedPacket = errors.New("rcon: malformed packet")
	// ErrPacketTooLarge is returned when an inbound frame declares a size above the limit.
	ErrPacketTooLarge = errors.New("rcon: packet too large")
	// ErrInvalidBody is returned when a body holds a non-ASCII or NUL byte.
	ErrInvalidBody = errors.New("rcon: invalid packet body")
	// ErrNotConnected is returned by client operations that need a live connection.
	ErrNotConnected = errors.New("rcon: not connected")
	// ErrNotAuthenticated is returned by SendCommand before a successful Authenticate.
	ErrNotAuthenticated = errors.New("rcon: not authenticated")
	// ErrInvalidCodec is returned when a nil codec is configured.
	ErrInvalidCodec = errors.New("rcon: invalid codec")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("rcon: connection closed")

// ErrServerClosed is returned by Server.Serve after Stop has been called.
var ErrServerClosed = errors.New("rcon: server closed")

// IsDisconnect reports whether err means the peer went away: a clean EOF, a
// frame cut short by the close, a reset, or a read on a socket that was
// already closed.
func IsDisconnect(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
