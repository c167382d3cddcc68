package rcon

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	codec    Codec
	codecSet bool
	logger   Logger

	maxPacketSize int32         // largest accepted size field
	ioTimeout     time.Duration // idle deadline for a single read or write, 0 disables
}

// Option is a function that configures connection options.
type Option func(*options)

// CodecOption returns an Option that replaces the packet codec.
// Passing nil makes NewConn fail with ErrInvalidCodec.
func CodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
		o.codecSet = true
	}
}

// MaxPacketSizeOption returns an Option that bounds the size field of inbound
// packets. It only applies to the default codec.
func MaxPacketSizeOption(size int32) Option {
	return func(o *options) {
		o.maxPacketSize = size
	}
}

// IOTimeoutOption returns an Option that sets the deadline applied to every
// single read or write. Zero waits forever unless the context says otherwise.
func IOTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.ioTimeout = timeout
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
