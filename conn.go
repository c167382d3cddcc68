package rcon

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// limitedReader wraps a reader and returns ErrPacketTooLarge when the limit is exceeded.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrPacketTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// reset resets the limit counter for reuse with a new packet.
// Only remaining is reset because the underlying bufio.Reader keeps its own
// buffer and continues reading from where it left off.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}

// Default configuration values.
const (
	// defaultMaxPacketSize bounds inbound packets on the server side.
	defaultMaxPacketSize = MaximumPacketSize
	// defaultClientMaxPacketSize bounds responses read by a Client (1MB); servers
	// are free to answer with more than MaximumPacketSize.
	defaultClientMaxPacketSize = 1024 * 1024
)

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is a packet-framed connection. Reads and writes are each serialised,
// so one reader and one writer may use a Conn concurrently.
type Conn struct {
	rawConn       net.Conn
	reader        *bufio.Reader
	limitedReader *limitedReader
	logger        Logger

	opts options

	rmu    sync.Mutex
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn creates a new packet connection around conn.
// Returns an error if the options are invalid.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.maxPacketSize <= 0 {
		opts.maxPacketSize = defaultMaxPacketSize
	}

	if opts.maxPacketSize < PacketMinSize {
		opts.maxPacketSize = PacketMinSize
	}

	if opts.codecSet && opts.codec == nil {
		return ErrInvalidCodec
	}

	if opts.codec == nil {
		opts.codec = NewPacketCodec(opts.maxPacketSize)
	}

	if opts.ioTimeout < 0 {
		opts.ioTimeout = 0
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newConnWithOptions creates a new Conn with already checked options.
func newConnWithOptions(c net.Conn, opts options) *Conn {
	reader := bufio.NewReader(c)
	return &Conn{
		rawConn:       c,
		reader:        reader,
		limitedReader: newLimitedReader(reader, int64(opts.maxPacketSize)+4),
		logger:        opts.logger,
		opts:          opts,
	}
}

// ReadPacket reads exactly one packet.
//
// Cancelling ctx aborts a blocked read. A failed read may have consumed part
// of a frame, leaving the stream at an unknown offset, so the connection is
// closed on any read or write error, including a cancelled ctx. Encode
// errors leave it open since nothing was written.
func (c *Conn) ReadPacket(ctx context.Context) (Packet, error) {
	if c.closed.Load() {
		return Packet{}, ErrConnectionClosed
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := ctx.Err(); err != nil {
		return Packet{}, err
	}

	_ = c.rawConn.SetReadDeadline(c.deadline())
	stop := context.AfterFunc(ctx, func() {
		_ = c.rawConn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	// Reset the limit for each packet
	c.limitedReader.reset(int64(c.opts.maxPacketSize) + 4)

	p, err := c.opts.codec.Decode(c.limitedReader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = c.Close()
			return Packet{}, ctxErr
		}
		if c.closed.Load() {
			return Packet{}, ErrConnectionClosed
		}
		// Part of a frame may have been consumed; the stream offset is lost.
		c.logger.Debug("read error", "addr", c.RemoteAddr(), "error", err)
		_ = c.Close()
		return Packet{}, err
	}

	return p, nil
}

// WritePacket encodes p with the codec and writes it in a single call.
func (c *Conn) WritePacket(ctx context.Context, p Packet) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(p)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	_ = c.rawConn.SetWriteDeadline(c.deadline())
	stop := context.AfterFunc(ctx, func() {
		_ = c.rawConn.SetWriteDeadline(aLongTimeAgo)
	})
	defer stop()

	if _, err := c.rawConn.Write(data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = c.Close()
			return ctxErr
		}
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		c.logger.Debug("write error", "addr", c.RemoteAddr(), "error", err)
		_ = c.Close()
		return errors.Wrap(err, "rcon: write packet")
	}

	return nil
}

// deadline returns the socket deadline for one read or write. Context
// deadlines are enforced through context.AfterFunc instead, so that ctx.Err()
// is already set when the I/O call returns.
func (c *Conn) deadline() time.Time {
	if c.opts.ioTimeout > 0 {
		return time.Now().Add(c.opts.ioTimeout)
	}
	return time.Time{}
}

// Close closes the underlying connection.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.rawConn.LocalAddr()
}
