// Package config loads the rcond configuration file.
package config

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/Zereker/rcon"
)

// PasswordEnv overrides the password from the file when set.
const PasswordEnv = "RCON_PASSWORD"

// DefaultPort is the port Source dedicated servers use for RCON.
const DefaultPort = 27015

// Duration is a time.Duration written as a Go duration string, e.g. "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the rcond configuration.
type Config struct {
	Password        string            `yaml:"password"`
	Address         string            `yaml:"address"`
	Port            int               `yaml:"port"`
	MaxConnections  int               `yaml:"max_connections"`
	IOTimeout       Duration          `yaml:"io_timeout"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
	MaxPacketSize   int32             `yaml:"max_packet_size"`
	LogLevel        string            `yaml:"log_level"`
	Commands        map[string]string `yaml:"commands"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Address:       "127.0.0.1",
		Port:          DefaultPort,
		MaxPacketSize: rcon.MaximumPacketSize,
		LogLevel:      "info",
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse decodes data over the defaults, applies the environment override and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		cfg.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Password == "":
		return errors.Errorf("password is required (set it in the file or %s)", PasswordEnv)
	case c.Port < 1 || c.Port > 65535:
		return errors.Errorf("port %d out of range 1-65535", c.Port)
	case net.ParseIP(c.Address) == nil:
		return errors.Errorf("address %q is not an IP address", c.Address)
	case c.MaxConnections < 0:
		return errors.Errorf("max_connections must not be negative")
	case c.IOTimeout < 0, c.ShutdownTimeout < 0:
		return errors.Errorf("timeouts must not be negative")
	case c.MaxPacketSize != 0 && c.MaxPacketSize < rcon.PacketMinSize:
		return errors.Errorf("max_packet_size must be at least %d", rcon.PacketMinSize)
	}
	return nil
}

// ServerOptions translates the configuration into server options.
func (c *Config) ServerOptions(logger rcon.Logger) []rcon.ServerOption {
	return []rcon.ServerOption{
		rcon.ServerAddressOption(net.ParseIP(c.Address)),
		rcon.ServerLoggerOption(logger),
		rcon.ServerMaxConnectionsOption(c.MaxConnections),
		rcon.ServerShutdownTimeoutOption(time.Duration(c.ShutdownTimeout)),
		rcon.ServerConnOption(
			rcon.IOTimeoutOption(time.Duration(c.IOTimeout)),
			rcon.MaxPacketSizeOption(c.MaxPacketSize),
		),
	}
}
