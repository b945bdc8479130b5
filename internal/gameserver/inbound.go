package gameserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blukai/udparena/internal/debug"
	"github.com/blukai/udparena/internal/protocol"
)

// runRecv is the only reader of the socket. It attributes every datagram to a
// session (creating one on first contact), decodes it and hands it to the
// game loop. It never touches the world.
func (s *Server) runRecv(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := s.conn.SetReadDeadline(time.Now().Add(time.Second))
			debug.Assert(err == nil)

			n, addr, err := s.conn.ReadFromUDPAddrPort(s.buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}

				s.logger.Error().
					Err(err).
					Msg("could not read from udp")
				continue
			}

			now := time.Now()
			id, created, err := s.sessions.Resolve(addr, now)
			if err != nil {
				s.logger.Error().
					Stringer("addr", addr).
					Err(err).
					Msg("could not resolve session")
				continue
			}
			if created {
				s.onSessionCreated(id, addr.String())
			}

			msg, err := protocol.UnmarshalClientMessage(s.buf[:n])
			if err != nil {
				s.decodeErrors.Add(1)
				s.logger.Error().
					Uint32("client", uint32(id)).
					Str("bytes", fmt.Sprintf("%v", s.buf[:min(n, 64)])).
					Err(err).
					Msg("could not unmarshal client message")
				continue
			}

			s.logger.Debug().
				Uint32("client", uint32(id)).
				Stringer("msg", msg.ClientTag()).
				Msg("recv")

			s.admit(protocol.Envelope{ClientID: id, Message: msg})
		}
	}
}

// onSessionCreated tells the new client its id and announces it to the game
// loop.
func (s *Server) onSessionCreated(id protocol.ClientID, addr string) {
	s.logger.Info().
		Uint32("client", uint32(id)).
		Str("addr", addr).
		Msg("new session")

	if err := s.mailboxes.Push(id, &protocol.SClientIDAssignment{ID: id}); err != nil {
		s.logger.Warn().
			Uint32("client", uint32(id)).
			Err(err).
			Msg("could not enqueue id assignment")
	}

	s.admit(protocol.Envelope{ClientID: id, Message: &protocol.CConnect{}})
}
