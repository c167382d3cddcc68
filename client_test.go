package rcon_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/rcon"
)

// fakeServer accepts a single connection and hands it to serve. The returned
// channel is closed once serve returns.
func fakeServer(t *testing.T, serve func(conn *rcon.Conn)) (string, int, <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		conn, err := rcon.NewConn(raw)
		if err != nil {
			_ = raw.Close()
			return
		}
		defer conn.Close()
		serve(conn)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p, done
}

// answer reads one packet and replies with resp, returning the request.
func answer(conn *rcon.Conn, resp func(req rcon.Packet) rcon.Packet) (rcon.Packet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := conn.ReadPacket(ctx)
	if err != nil {
		return rcon.Packet{}, err
	}
	return req, conn.WritePacket(ctx, resp(req))
}

func acceptAuth(req rcon.Packet) rcon.Packet {
	return rcon.NewPacket(rcon.PacketTypeAuthResponse, "", req.ID)
}

func newTestClient(opts ...rcon.ClientOption) *rcon.Client {
	opts = append([]rcon.ClientOption{rcon.ClientLoggerOption(discardLogger())}, opts...)
	return rcon.NewClient(opts...)
}

func TestClient_NotConnected(t *testing.T) {
	ctx := testContext(t)
	c := newTestClient()

	assert.False(t, c.Connected())
	assert.False(t, c.Authenticated())

	_, err := c.Authenticate(ctx, "secret")
	assert.ErrorIs(t, err, rcon.ErrNotConnected)

	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrNotConnected)

	err = c.SendPacket(ctx, rcon.NewPacket(rcon.PacketTypeExecCommand, "status", 1))
	assert.ErrorIs(t, err, rcon.ErrNotConnected)

	_, err = c.ReceivePacket(ctx)
	assert.ErrorIs(t, err, rcon.ErrNotConnected)

	assert.NoError(t, c.Disconnect())
}

func TestClient_NotAuthenticated(t *testing.T) {
	srv := startServer(t, "secret")
	host, port := serverHostPort(t, srv)
	ctx := testContext(t)

	c := newTestClient()
	defer c.Disconnect()

	ok, err := c.Connect(ctx, host, port)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, c.Connected())

	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrNotAuthenticated)
}

func TestClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := newTestClient()
	ok, err := c.Connect(testContext(t), "127.0.0.1", port)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, c.Connected())
}

func TestClient_Authenticate(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{name: "correct password", password: "secret", want: true},
		{name: "wrong password", password: "guess", want: false},
		{name: "empty password", password: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, "secret")
			host, port := serverHostPort(t, srv)
			ctx := testContext(t)

			c := newTestClient()
			defer c.Disconnect()

			_, err := c.Connect(ctx, host, port)
			require.NoError(t, err)

			ok, err := c.Authenticate(ctx, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, c.Authenticated())
		})
	}
}

func TestClient_PacketIDs(t *testing.T) {
	ids := make(chan int32, 3)
	host, port, done := fakeServer(t, func(conn *rcon.Conn) {
		for i := 0; i < 3; i++ {
			req, err := answer(conn, func(req rcon.Packet) rcon.Packet {
				if req.Type == rcon.PacketTypeAuth {
					return acceptAuth(req)
				}
				return rcon.NewPacket(rcon.PacketTypeResponseValue, "ok", req.ID)
			})
			if err != nil {
				return
			}
			ids <- req.ID
		}
	})

	ctx := testContext(t)
	c := newTestClient(rcon.ClientStartingSeqOption(41))
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)

	ok, err := c.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		resp, err := c.SendCommand(ctx, "status")
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	}

	<-done
	close(ids)

	var got []int32
	for id := range ids {
		got = append(got, id)
	}
	assert.Equal(t, []int32{0, 41, 42}, got)
}

func TestClient_ReconnectResetsAuthentication(t *testing.T) {
	srv := startServer(t, "secret")
	host, port := serverHostPort(t, srv)
	ctx := testContext(t)

	c := newTestClient()
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)
	ok, err := c.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Connect(ctx, host, port)
	require.NoError(t, err)
	assert.True(t, c.Connected())
	assert.False(t, c.Authenticated())

	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrNotAuthenticated)

	ok, err = c.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.False(t, c.Authenticated())
}

func TestClient_RawPackets(t *testing.T) {
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		_, _ = answer(conn, func(req rcon.Packet) rcon.Packet {
			return rcon.NewPacket(rcon.PacketTypeResponseValue, "raw:"+req.Body, req.ID)
		})
	})

	ctx := testContext(t)
	c := newTestClient()
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)

	// No authentication needed at this level.
	require.NoError(t, c.SendPacket(ctx, rcon.NewPacket(rcon.PacketTypeExecCommand, "ping", 7)))

	resp, err := c.ReceivePacket(ctx)
	require.NoError(t, err)
	assert.Equal(t, rcon.NewPacket(rcon.PacketTypeResponseValue, "raw:ping", 7), resp)
}

func TestClient_InvalidBody(t *testing.T) {
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		_, _ = answer(conn, acceptAuth)
	})

	ctx := testContext(t)
	c := newTestClient()
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)

	_, err = c.Authenticate(ctx, "naïve")
	assert.ErrorIs(t, err, rcon.ErrInvalidBody)
	assert.True(t, c.Connected(), "an encode failure must not drop the connection")
}

func TestClient_ServerGoesAway(t *testing.T) {
	host, port, done := fakeServer(t, func(conn *rcon.Conn) {
		_, _ = answer(conn, acceptAuth)
	})

	ctx := testContext(t)
	c := newTestClient()
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)
	ok, err := c.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	<-done

	_, err = c.SendCommand(ctx, "status")
	require.Error(t, err)
	assert.True(t, rcon.IsDisconnect(err), "expected disconnect, got %v", err)
	assert.False(t, c.Connected())
	assert.False(t, c.Authenticated())

	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrNotConnected)
}

func TestClient_OversizedResponseDropsConnection(t *testing.T) {
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		if _, err := answer(conn, acceptAuth); err != nil {
			return
		}
		ctx := context.Background()
		req, err := conn.ReadPacket(ctx)
		if err != nil {
			return
		}
		// A response above the client's limit, then a well-formed one.
		_ = conn.WritePacket(ctx, rcon.NewPacket(rcon.PacketTypeResponseValue, strings.Repeat("x", 100), req.ID))
		_ = conn.WritePacket(ctx, rcon.NewPacket(rcon.PacketTypeResponseValue, "ok", req.ID))
		_, _ = conn.ReadPacket(ctx)
	})

	ctx := testContext(t)
	c := newTestClient(rcon.ClientConnOption(rcon.MaxPacketSizeOption(64)))
	defer c.Disconnect()

	_, err := c.Connect(ctx, host, port)
	require.NoError(t, err)
	ok, err := c.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrPacketTooLarge)
	assert.False(t, c.Connected(), "a rejected frame leaves the stream unusable")
	assert.False(t, c.Authenticated())

	// The trailing frame must never be parsed from the middle of the stream.
	_, err = c.SendCommand(ctx, "status")
	assert.ErrorIs(t, err, rcon.ErrNotConnected)
}

func TestClient_DisconnectAbortsRoundTrip(t *testing.T) {
	received := make(chan struct{})
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		if _, err := answer(conn, acceptAuth); err != nil {
			return
		}
		if _, err := conn.ReadPacket(context.Background()); err != nil {
			return
		}
		close(received)
		// Never answer; wait for the client to hang up.
		_, _ = conn.ReadPacket(context.Background())
	})

	c := newTestClient(rcon.ClientTimeoutOption(-1))
	defer c.Disconnect()

	_, err := c.Connect(testContext(t), host, port)
	require.NoError(t, err)
	ok, err := c.Authenticate(testContext(t), "secret")
	require.NoError(t, err)
	require.True(t, ok)

	result := make(chan error, 1)
	go func() {
		_, err := c.SendCommand(context.Background(), "status")
		result <- err
	}()

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the request to reach the server")
	}

	disconnected := make(chan error, 1)
	go func() { disconnected <- c.Disconnect() }()

	select {
	case err := <-disconnected:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Disconnect blocked behind a pending round trip")
	}

	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, rcon.IsDisconnect(err), "expected disconnect, got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("SendCommand did not return after Disconnect")
	}

	assert.False(t, c.Connected())
	assert.False(t, c.Authenticated())
}

func TestClient_Timeout(t *testing.T) {
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		// Read the request and never answer.
		_, _ = conn.ReadPacket(context.Background())
	})

	c := newTestClient(rcon.ClientTimeoutOption(100 * time.Millisecond))
	defer c.Disconnect()

	_, err := c.Connect(testContext(t), host, port)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Authenticate(testContext(t), "secret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.Authenticated())
}

func TestClient_ContextCancel(t *testing.T) {
	host, port, _ := fakeServer(t, func(conn *rcon.Conn) {
		_, _ = conn.ReadPacket(context.Background())
	})

	c := newTestClient(rcon.ClientTimeoutOption(-1))
	defer c.Disconnect()

	_, err := c.Connect(testContext(t), host, port)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = c.Authenticate(ctx, "secret")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestClient_DebugLogMasksPassword(t *testing.T) {
	// "hunter2" hex encoded, as it would appear in a logged auth packet.
	const secretHex = "68756e74657232"

	tests := []struct {
		name     string
		opts     []rcon.ClientOption
		contains bool
	}{
		{name: "masked by default", contains: false},
		{name: "logged when enabled", opts: []rcon.ClientOption{rcon.ClientLogAuthPacketsOption(true)}, contains: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, done := fakeServer(t, func(conn *rcon.Conn) {
				_, _ = answer(conn, acceptAuth)
			})

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			ctx := testContext(t)
			c := rcon.NewClient(append([]rcon.ClientOption{rcon.ClientLoggerOption(logger)}, tt.opts...)...)
			defer c.Disconnect()

			_, err := c.Connect(ctx, host, port)
			require.NoError(t, err)
			_, err = c.Authenticate(ctx, "hunter2")
			require.NoError(t, err)
			<-done

			out := buf.String()
			assert.Contains(t, out, "sending packet")
			assert.Contains(t, out, "received packet")
			assert.Equal(t, tt.contains, bytes.Contains(buf.Bytes(), []byte(secretHex)))
			if !tt.contains {
				assert.Contains(t, out, hex.EncodeToString([]byte("xxxxx")))
			}
		})
	}
}
