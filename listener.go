package rcon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Handler is the interface for handling accepted TCP connections.
type Handler interface {
	// Handle is called on its own goroutine for each accepted connection and
	// owns the connection from then on. ctx is cancelled when the listener
	// shuts down.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// Listener accepts TCP connections and hands each one to a Handler.
type Listener struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	maxConns        int64
	admission       *semaphore.Weighted

	handlers errgroup.Group

	mu             sync.Mutex
	shutdown       bool
	closed         bool
	cancelHandlers context.CancelFunc
	shutdownNow    chan struct{} // signals immediate shutdown, bypassing timeout
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// ListenerLoggerOption sets the logger for the listener.
func ListenerLoggerOption(logger Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// ListenerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the listener keeps accepting and leaves
// running handlers alone for up to this duration before it stops.
// Default is 0 (immediate shutdown).
func ListenerShutdownTimeoutOption(timeout time.Duration) ListenerOption {
	return func(l *Listener) {
		l.shutdownTimeout = timeout
	}
}

// ListenerMaxConnectionsOption bounds the number of connections handled at
// once. Connections accepted above the limit are closed straight away.
// Zero or less means no limit.
func ListenerMaxConnectionsOption(n int) ListenerOption {
	return func(l *Listener) {
		l.maxConns = int64(n)
	}
}

// NewListener binds a TCP listener to addr.
// Returns an error if the address cannot be bound.
func NewListener(addr *net.TCPAddr, opts ...ListenerOption) (*Listener, error) {
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		listener:    listener,
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.maxConns > 0 {
		l.admission = semaphore.NewWeighted(l.maxConns)
	}

	return l, nil
}

// Serve accepts connections and dispatches each to handler on a new goroutine.
// It blocks until the context is canceled or Close is called, then cancels
// the handlers' context and waits for them to return.
//
// Serve returns ctx.Err() when stopped by the context and ErrServerClosed
// when stopped by Close.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	l.logger.Info("server started", "addr", l.listener.Addr())

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	l.cancelHandlers = cancel
	l.mu.Unlock()
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if l.shutdownTimeout > 0 {
			l.logger.Info("graceful shutdown initiated", "timeout", l.shutdownTimeout)
			select {
			case <-time.After(l.shutdownTimeout):
			case <-l.shutdownNow:
				l.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		l.mu.Lock()
		l.shutdown = true
		l.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = l.listener.SetDeadline(time.Now())
	})
	defer stop()

	for {
		conn, err := l.listener.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown, isClosed := l.shutdown, l.closed
			l.mu.Unlock()

			if isShutdown {
				cancel()
				_ = l.handlers.Wait()
				l.logger.Info("server stopped", "addr", l.listener.Addr())
				if isClosed {
					return ErrServerClosed
				}
				return ctx.Err()
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Error("accept error", "error", err)
			cancel()
			_ = l.handlers.Wait()
			return err
		}

		if l.admission != nil && !l.admission.TryAcquire(1) {
			l.logger.Warn("connection limit reached, dropping connection",
				"remote_addr", conn.RemoteAddr(), "max_connections", l.maxConns)
			_ = conn.Close()
			continue
		}

		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		l.handlers.Go(func() error {
			if l.admission != nil {
				defer l.admission.Release(1)
			}
			handler.Handle(hctx, conn)
			return nil
		})
	}
}

// Close stops the listener. Blocked Accept calls return, running handlers see
// their context cancelled, and any pending shutdown timeout is bypassed.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.shutdown = true
	l.closed = true
	cancel := l.cancelHandlers
	l.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case l.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal or no one is listening
	}

	if cancel != nil {
		cancel()
	}

	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}
