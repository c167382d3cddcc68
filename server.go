package rcon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server is an RCON server. Every accepted connection must authenticate with
// the server password in its first packet; after that each EXECCOMMAND packet
// is answered with the output of the CommandHandler.
//
// Observers and the command handler may be registered at any time, including
// while the server is running.
type Server struct {
	events

	password string
	listener *Listener
	connOpts options
	logger   Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{} // closed when Serve returns
}

// serverConfig collects ServerOption values before the listener is bound.
type serverConfig struct {
	ip              net.IP
	logger          Logger
	maxConns        int
	shutdownTimeout time.Duration
	connOpts        []Option
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

// ServerAddressOption sets the address to bind. Default is the loopback address.
func ServerAddressOption(ip net.IP) ServerOption {
	return func(c *serverConfig) {
		c.ip = ip
	}
}

// ServerLoggerOption sets the logger for the server and its connections.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(c *serverConfig) {
		c.logger = logger
	}
}

// ServerMaxConnectionsOption bounds the number of connections served at once.
// Zero means no limit.
func ServerMaxConnectionsOption(n int) ServerOption {
	return func(c *serverConfig) {
		c.maxConns = n
	}
}

// ServerShutdownTimeoutOption sets how long running connections are left alone
// after the Serve context is cancelled. Stop always shuts down immediately.
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.shutdownTimeout = timeout
	}
}

// ServerConnOption applies connection options, such as IOTimeoutOption or
// MaxPacketSizeOption, to every accepted connection.
func ServerConnOption(opts ...Option) ServerOption {
	return func(c *serverConfig) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// NewServer creates a server protected by password and binds it to port on
// the loopback address, or on the address given with ServerAddressOption.
// Port 0 picks a free port; see Addr.
func NewServer(password string, port int, opts ...ServerOption) (*Server, error) {
	cfg := serverConfig{
		ip:     net.IPv4(127, 0, 0, 1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var connOpts options
	for _, o := range cfg.connOpts {
		o(&connOpts)
	}
	if connOpts.logger == nil {
		connOpts.logger = cfg.logger
	}
	if err := checkOptions(&connOpts); err != nil {
		return nil, err
	}

	listener, err := NewListener(&net.TCPAddr{IP: cfg.ip, Port: port},
		ListenerLoggerOption(cfg.logger),
		ListenerMaxConnectionsOption(cfg.maxConns),
		ListenerShutdownTimeoutOption(cfg.shutdownTimeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rcon: listen")
	}

	return &Server{
		events:   events{logger: cfg.logger},
		password: password,
		listener: listener,
		connOpts: connOpts,
		logger:   cfg.logger,
	}, nil
}

// Password returns the password peers must authenticate with.
func (s *Server) Password() string {
	return s.password
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Stop is called. It
// returns ErrServerClosed after Stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerClosed
	}
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()
	defer close(done)

	err := s.listener.Serve(ctx, s)
	if s.isStopped() {
		return ErrServerClosed
	}
	return err
}

// Start serves connections on the calling goroutine until Stop is called.
func (s *Server) Start() error {
	return s.Serve(context.Background())
}

// StartAsync serves connections on a new goroutine. The returned channel
// receives the result of Start once the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()
	return errCh
}

// Stop closes the listener, cancels every connection and waits until they
// have all returned. Blocked reads are interrupted rather than waited out.
// Safe to call multiple times.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	done := s.done
	s.mu.Unlock()

	err := s.listener.Close()
	if done != nil {
		<-done
	}
	return err
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Handle serves one accepted connection. It implements Handler so a Server
// can also be driven by a Listener owned by the caller.
func (s *Server) Handle(ctx context.Context, raw *net.TCPConn) {
	conn := newConnWithOptions(raw, s.connOpts)
	sess := newSession(conn, s.password, &s.events, s.logger)

	err := sess.serve(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		sess.logger.Debug("connection closed")
	default:
		sess.logger.Error("connection closed with error", "error", err)
	}
}
