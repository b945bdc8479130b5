package gameserver

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// runSend is the only writer of the socket. It keeps making passes over all
// mailboxes while there is work and sleeps on the registry's ready signal (or
// the idle interval) when a pass sent nothing.
func (s *Server) runSend(ctx context.Context) {
	idle := time.NewTimer(s.opts.SendIdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.sendPass() > 0 {
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.opts.SendIdleInterval)

		select {
		case <-ctx.Done():
			return
		case <-s.mailboxes.Ready():
		case <-idle.C:
		}
	}
}

// sendPass sends up to MaxSendsPerPass queued messages to every client and
// returns how many were sent. Failed sends are lost.
func (s *Server) sendPass() int {
	sent := 0
	var errs error

	for _, id := range s.mailboxes.IDs() {
		addr, ok := s.sessions.Lookup(id)
		if !ok {
			// removed between IDs and Lookup is fine; anything else is a
			// mailbox without a session
			if s.mailboxes.Has(id) {
				s.logger.Error().
					Uint32("client", uint32(id)).
					Msg("mailbox has no endpoint; skipping")
			}
			continue
		}

		for _, msg := range s.mailboxes.Drain(id, s.opts.MaxSendsPerPass) {
			sent++

			bytes, err := msg.MarshalBinary()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("could not marshal %s for %d: %w", msg.ServerTag(), id, err))
				continue
			}

			if _, err := s.conn.WriteToUDPAddrPort(bytes, addr); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("could not send %s to %d (%s): %w", msg.ServerTag(), id, addr, err))
				continue
			}

			s.logger.Debug().
				Uint32("client", uint32(id)).
				Stringer("msg", msg.ServerTag()).
				Msg("sent")
		}
	}

	if merr, ok := errs.(*multierror.Error); ok {
		s.sendErrors.Add(uint64(merr.Len()))
		s.logger.Error().
			Int("count", merr.Len()).
			Err(merr).
			Msg("send pass had failures")
	}

	return sent
}
