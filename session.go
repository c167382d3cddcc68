package rcon

import (
	"context"
	"crypto/subtle"

	"github.com/pkg/errors"
)

// session serves one accepted connection: the auth exchange first, then
// commands until the peer leaves or ctx is cancelled.
type session struct {
	conn     *Conn
	peer     Peer
	password string
	events   *events
	logger   Logger
}

func newSession(conn *Conn, password string, ev *events, logger Logger) *session {
	peer := newPeer(conn)
	return &session{
		conn:     conn,
		peer:     peer,
		password: password,
		events:   ev,
		logger:   loggerWith(logger, "peer", peer.ID.String(), "remote_addr", peer.RemoteAddr),
	}
}

// serve runs the session and closes the connection when it returns. A nil
// error means the peer went away or was rejected.
func (s *session) serve(ctx context.Context) error {
	defer s.conn.Close()

	s.logger.Info("client connected")
	s.events.emitConnected(s.peer)

	ok, err := s.authenticate(ctx)
	if err != nil || !ok {
		return err
	}

	return s.commandLoop(ctx)
}

// authenticate reads the first packet and answers it. Only one attempt is
// allowed per connection; a rejected peer is disconnected.
func (s *session) authenticate(ctx context.Context) (bool, error) {
	req, err := s.conn.ReadPacket(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if IsDisconnect(err) {
			s.logger.Info("client left before authenticating")
			return false, nil
		}
		return false, errors.Wrap(err, "rcon: read auth packet")
	}

	if req.Is(KindAuth, ToServer) && s.checkPassword(req.Body) {
		s.logger.Info("client authenticated")
		s.events.emitAuthenticated(s.peer)

		resp := NewPacket(PacketTypeAuthResponse, "", req.ID)
		if err := s.conn.WritePacket(ctx, resp); err != nil {
			return false, errors.Wrap(err, "rcon: write auth response")
		}
		return true, nil
	}

	s.logger.Warn("authentication failed", "kind", Classify(req, ToServer))
	resp := NewPacket(PacketTypeAuthResponse, "", AuthFailedID)
	if err := s.conn.WritePacket(ctx, resp); err != nil && !IsDisconnect(err) {
		return false, errors.Wrap(err, "rcon: write auth response")
	}
	return false, nil
}

func (s *session) checkPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.password)) == 1
}

// commandLoop services packets one at a time: read, notify, answer.
func (s *session) commandLoop(ctx context.Context) error {
	for {
		req, err := s.conn.ReadPacket(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if IsDisconnect(err) {
				s.disconnected()
				return nil
			}
			return errors.Wrap(err, "rcon: read packet")
		}

		s.logger.Debug("packet received", "id", req.ID, "kind", Classify(req, ToServer), "size", req.Size())
		s.events.emitPacket(s.peer, req)

		if !req.Is(KindExecCommand, ToServer) {
			continue
		}

		body, err := s.events.runCommand(s.peer, req.Body)
		if err != nil {
			return err
		}

		resp := NewPacket(PacketTypeResponseValue, SanitizeBody(body), req.ID)
		if err := s.conn.WritePacket(ctx, resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if IsDisconnect(err) {
				s.disconnected()
				return nil
			}
			return errors.Wrap(err, "rcon: write response")
		}
	}
}

func (s *session) disconnected() {
	s.logger.Info("client disconnected")
	s.events.emitDisconnected(s.peer.RemoteAddr)
}
