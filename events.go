package rcon

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Peer identifies one accepted connection.
type Peer struct {
	// ID is unique per accepted connection and is attached to log records.
	ID uuid.UUID
	// RemoteAddr is the client's address.
	RemoteAddr net.Addr
	// LocalAddr is the server side of the connection.
	LocalAddr net.Addr
}

func newPeer(conn *Conn) Peer {
	return Peer{
		ID:         uuid.New(),
		RemoteAddr: conn.RemoteAddr(),
		LocalAddr:  conn.LocalAddr(),
	}
}

func (p Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.RemoteAddr, p.ID)
}

// CommandHandler produces the response body for a command sent by an
// authenticated peer. It runs on the connection's goroutine, so a slow handler
// only delays that connection.
type CommandHandler func(peer Peer, command string) string

// events holds the observers and the command hook of a Server.
//
// Observers are fire-and-forget and any number may be registered. The command
// hook is a single slot because its return value is the response.
type events struct {
	mu sync.RWMutex

	connected     []func(Peer)
	disconnected  []func(net.Addr)
	authenticated []func(Peer)
	packet        []func(Peer, Packet)
	command       CommandHandler

	logger Logger
}

// OnClientConnected registers fn to run when a connection is accepted.
func (e *events) OnClientConnected(fn func(peer Peer)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, fn)
}

// OnClientDisconnected registers fn to run when an authenticated peer closes
// its connection. fn receives the peer's remote address.
func (e *events) OnClientDisconnected(fn func(addr net.Addr)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, fn)
}

// OnClientAuthenticated registers fn to run after a peer sent the right password.
func (e *events) OnClientAuthenticated(fn func(peer Peer)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authenticated = append(e.authenticated, fn)
}

// OnPacketReceived registers fn to run for every packet read from an
// authenticated peer, before it is handled.
func (e *events) OnPacketReceived(fn func(peer Peer, packet Packet)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packet = append(e.packet, fn)
}

// HandleCommand sets the command hook, replacing any previous one.
// A nil handler answers every command with an empty body.
func (e *events) HandleCommand(handler CommandHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.command = handler
}

func (e *events) emitConnected(peer Peer) {
	e.mu.RLock()
	fns := e.connected
	e.mu.RUnlock()
	for _, fn := range fns {
		e.safely("client connected", func() { fn(peer) })
	}
}

func (e *events) emitDisconnected(addr net.Addr) {
	e.mu.RLock()
	fns := e.disconnected
	e.mu.RUnlock()
	for _, fn := range fns {
		e.safely("client disconnected", func() { fn(addr) })
	}
}

func (e *events) emitAuthenticated(peer Peer) {
	e.mu.RLock()
	fns := e.authenticated
	e.mu.RUnlock()
	for _, fn := range fns {
		e.safely("client authenticated", func() { fn(peer) })
	}
}

func (e *events) emitPacket(peer Peer, p Packet) {
	e.mu.RLock()
	fns := e.packet
	e.mu.RUnlock()
	for _, fn := range fns {
		e.safely("packet received", func() { fn(peer, p) })
	}
}

// runCommand calls the command hook. A panicking hook is reported as an error
// so that only the connection it ran on is torn down.
func (e *events) runCommand(peer Peer, command string) (resp string, err error) {
	e.mu.RLock()
	handler := e.command
	e.mu.RUnlock()
	if handler == nil {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("rcon: command handler panicked: %v", r)
		}
	}()
	return handler(peer, command), nil
}

// safely runs fn and logs a panic instead of letting it reach the connection.
func (e *events) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("observer failed", "event", name, "error", fmt.Sprint(r))
		}
	}()
	fn()
}
