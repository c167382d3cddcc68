// Package logging builds the slog loggers used by the command line tools.
// Records are rendered by pterm.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// ParseLevel maps a level name from the command line or a config file to a
// pterm level. The empty string means info.
func ParseLevel(level string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	case "off", "none", "disabled":
		return pterm.LogLevelDisabled, nil
	}
	return pterm.LogLevelInfo, errors.Errorf("unknown log level %q", level)
}

// New returns a logger writing to pterm's default output at the given level.
func New(level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(lvl))), nil
}

// NewWithWriter is New with the output redirected to w.
func NewWithWriter(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := pterm.DefaultLogger.WithLevel(lvl).WithWriter(w)
	return slog.New(pterm.NewSlogHandler(logger)), nil
}
