package gameserver

import (
	"context"
	"time"

	"github.com/blukai/udparena/internal/protocol"
)

// udp has no disconnect signal, a crashed client never sends Disconnect. when
// SessionIdleTimeout is set, sessions that stay silent that long get their
// liveness flag set and a Disconnect queued on their behalf, so the game loop
// tears them down like a regular disconnect.
func (s *Server) runSessionEvictor(ctx context.Context) {
	interval := min(time.Second, s.opts.SessionIdleTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func (s *Server) evictIdle(now time.Time) int {
	evicted := 0
	for _, id := range s.sessions.Idle(now, s.opts.SessionIdleTimeout) {
		if !s.mailboxes.MarkDisconnected(id) {
			// already pending teardown
			continue
		}

		if !s.admit(protocol.Envelope{ClientID: id, Message: &protocol.CDisconnect{}}) {
			// retry on the next pass
			s.mailboxes.ClearDisconnected(id)
			continue
		}

		s.logger.Info().
			Uint32("client", uint32(id)).
			Dur("timeout", s.opts.SessionIdleTimeout).
			Msg("evicting idle session")
		evicted++
	}
	return evicted
}
