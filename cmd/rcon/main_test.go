package main

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/rcon"
)

// startServer runs an rcon server for the CLI to talk to and points the
// flags at it.
func startServer(t *testing.T, pw string) {
	t.Helper()

	srv, err := rcon.NewServer(pw, 0, rcon.ServerLoggerOption(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	srv.HandleCommand(func(_ rcon.Peer, cmd string) string { return "ok:" + cmd })
	srv.StartAsync()
	t.Cleanup(func() { _ = srv.Stop() })

	h, p, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(p)
	require.NoError(t, err)
	host, port, logLevel = h, portNum, "off"
}

func TestExecCommand(t *testing.T) {
	startServer(t, "secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"exec", "--password", "secret", "say", "hello"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "ok:say hello\n", out.String())
}

func TestExecCommand_WrongPassword(t *testing.T) {
	startServer(t, "secret")

	rootCmd.SetArgs([]string{"exec", "--password", "nope", "status"})
	err := rootCmd.Execute()
	assert.ErrorIs(t, err, errAuthRejected)
}

func TestExecCommand_RequiresCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"exec"})
	assert.Error(t, rootCmd.Execute())
}
