package rcon

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultClientTimeout is the default amount of time allowed for a client to
// make a request and response round trip.
const DefaultClientTimeout = 15 * time.Second

// Client is an RCON client holding at most one connection at a time.
//
// The client moves from disconnected to connected on Connect and to
// authenticated on a successful Authenticate. Disconnect, or a Connect that
// replaces the socket, drops it back and forgets the authentication.
//
// Every method blocks until its I/O completes, the client timeout elapses or
// ctx is done. Run a call on its own goroutine for a non-blocking form; the
// errors are the same either way. Clients are safe for concurrent use; round
// trips are serialised so responses cannot be mismatched, and Disconnect
// aborts a round trip in progress.
type Client struct {
	// seq is the next EXECCOMMAND packet ID, between zero and math.MaxInt32.
	seq atomic.Int32

	// ioMu serialises round trips. It is taken before mu, never after.
	ioMu sync.Mutex

	// mu guards conn and authenticated and is never held during I/O.
	mu            sync.Mutex
	conn          *Conn
	authenticated bool

	dialer                 *net.Dialer
	timeout                time.Duration
	logger                 Logger
	connOpts               []Option
	logOutboundAuthPackets bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientTimeoutOption limits a request and response round trip, and a dial.
// Zero means DefaultClientTimeout; a negative value disables the limit.
func ClientTimeoutOption(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// ClientLoggerOption sets the logger. Packets are logged at debug level.
func ClientLoggerOption(logger Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// ClientStartingSeqOption sets the first command packet ID. Negative values
// are ignored.
func ClientStartingSeqOption(seq int32) ClientOption {
	return func(c *Client) {
		if seq >= 0 {
			c.seq.Store(seq)
		}
	}
}

// ClientDialerOption replaces the dialer used by Connect.
func ClientDialerOption(dialer *net.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// ClientConnOption applies connection options to every connection the client opens.
func ClientConnOption(opts ...Option) ClientOption {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// ClientLogAuthPacketsOption makes debug logging include outbound auth packets
// verbatim. By default their body is masked.
//
// WARNING: enabling this writes the server password to the logs in plain text.
func ClientLogAuthPacketsOption(enabled bool) ClientOption {
	return func(c *Client) {
		c.logOutboundAuthPackets = enabled
	}
}

// NewClient creates a disconnected client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer: &net.Dialer{},
		logger: defaultLogger(),
	}
	c.seq.Store(1)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials host:port over TCP and reports whether the client is now
// connected. An existing connection is closed and replaced, which also resets
// the authentication and aborts a round trip in progress on it.
func (c *Client) Connect(ctx context.Context, host string, port int) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, errors.Wrapf(err, "rcon: dial %s", addr)
	}

	opts := append([]Option{
		MaxPacketSizeOption(defaultClientMaxPacketSize),
		LoggerOption(c.logger),
	}, c.connOpts...)
	conn, err := NewConn(raw, opts...)
	if err != nil {
		_ = raw.Close()
		return false, err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.authenticated = false
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	c.logger.Debug("connected", "addr", conn.RemoteAddr())
	return true, nil
}

// Disconnect closes the connection and forgets the authentication. A round
// trip blocked on the connection returns with a disconnect error.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.authenticated = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Connected reports whether the client holds an open connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Authenticated reports whether the last authentication on the current
// connection succeeded.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Authenticate sends password in an AUTH packet with ID 0 and reads one
// response. It reports whether the server accepted the password; there is no
// retry.
func (c *Client) Authenticate(ctx context.Context, password string) (bool, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, _ := c.current()
	if conn == nil {
		return false, ErrNotConnected
	}

	resp, err := c.roundTrip(ctx, conn, NewPacket(PacketTypeAuth, password, 0))
	if err != nil {
		return false, err
	}

	ok := resp.ID != AuthFailedID
	c.mu.Lock()
	if c.conn == conn {
		c.authenticated = ok
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("authentication rejected", "addr", conn.RemoteAddr())
	}
	return ok, nil
}

// SendCommand sends command in an EXECCOMMAND packet and returns the body of
// the single response packet.
func (c *Client) SendCommand(ctx context.Context, command string) (string, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, authenticated := c.current()
	if conn == nil {
		return "", ErrNotConnected
	}
	if !authenticated {
		return "", ErrNotAuthenticated
	}

	resp, err := c.roundTrip(ctx, conn, NewPacket(PacketTypeExecCommand, command, c.loadAndIncrementSeq()))
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

// SendPacket writes p as is. No session state is checked besides having a
// connection.
func (c *Client) SendPacket(ctx context.Context, p Packet) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, _ := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.send(ctx, conn, p)
}

// ReceivePacket reads one packet. No session state is checked besides having
// a connection.
func (c *Client) ReceivePacket(ctx context.Context) (Packet, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	conn, _ := c.current()
	if conn == nil {
		return Packet{}, ErrNotConnected
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.receive(ctx, conn)
}

// current returns the open connection, or nil, and the authentication state.
func (c *Client) current() (*Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil, false
	}
	return c.conn, c.authenticated
}

// roundTrip sends req and reads one response under a single timeout.
// c.ioMu must be held.
func (c *Client) roundTrip(ctx context.Context, conn *Conn, req Packet) (Packet, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.send(ctx, conn, req); err != nil {
		return Packet{}, err
	}
	return c.receive(ctx, conn)
}

func (c *Client) send(ctx context.Context, conn *Conn, p Packet) error {
	c.logPacket(ctx, "sending packet", p, true)
	if err := conn.WritePacket(ctx, p); err != nil {
		c.forgetIfClosed(conn)
		return errors.Wrap(err, "rcon: send packet")
	}
	return nil
}

func (c *Client) receive(ctx context.Context, conn *Conn) (Packet, error) {
	p, err := conn.ReadPacket(ctx)
	if err != nil {
		c.forgetIfClosed(conn)
		return Packet{}, errors.Wrap(err, "rcon: receive packet")
	}
	c.logPacket(ctx, "received packet", p, false)
	return p, nil
}

// forgetIfClosed drops the authentication when a failed operation closed
// conn. Conn closes itself on every error that loses the stream position,
// so Connected reports false afterwards and the caller has to reconnect.
func (c *Client) forgetIfClosed(conn *Conn) {
	if !conn.IsClosed() {
		return
	}
	c.mu.Lock()
	if c.conn == conn {
		c.authenticated = false
	}
	c.mu.Unlock()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.timeout
	switch {
	case timeout < 0:
		return context.WithCancel(ctx)
	case timeout == 0:
		timeout = DefaultClientTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// loadAndIncrementSeq returns and then increments the client's seq, wrapping
// around to zero when math.MaxInt32 is reached.
func (c *Client) loadAndIncrementSeq() int32 {
	for {
		seq := c.seq.Load()
		switch {
		case seq < 0:
			if c.seq.CompareAndSwap(seq, 1) {
				return 0
			}
		case seq == math.MaxInt32:
			if c.seq.CompareAndSwap(seq, 0) {
				return seq
			}
		default:
			if c.seq.CompareAndSwap(seq, seq+1) {
				return seq
			}
		}
	}
}

// logPacket logs p hex encoded at debug level. Outbound auth packets have
// their body masked unless ClientLogAuthPacketsOption is set.
func (c *Client) logPacket(ctx context.Context, msg string, p Packet, outbound bool) {
	if sl, ok := c.logger.(*slog.Logger); ok && !sl.Enabled(ctx, slog.LevelDebug) {
		return
	}

	if outbound && p.Type == PacketTypeAuth && !c.logOutboundAuthPackets {
		p.Body = "xxxxx"
	}

	c.logger.Debug(msg, "id", p.ID, "type", int32(p.Type), "packet", hex.EncodeToString(Encode(p)))
}
