package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/blukai/udparena/internal/debug"
	"github.com/blukai/udparena/internal/mailbox"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/blukai/udparena/internal/world"
	"github.com/phuslu/log"
)

// Outbox is where the loop leaves messages for clients. Implementations must
// never block.
type Outbox interface {
	Push(id protocol.ClientID, msg protocol.ServerMessage) error
	Broadcast(msg protocol.ServerMessage) []protocol.ClientID
	BroadcastExcept(except protocol.ClientID, msg protocol.ServerMessage) []protocol.ClientID
}

// Sessions is the loop's view of the session directory.
type Sessions interface {
	Lookup(id protocol.ClientID) (netip.AddrPort, bool)
	Remove(id protocol.ClientID) bool
}

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Options struct {
	Timestep time.Duration
	// MaxCatchUpSteps bounds how many steps one tick may simulate after a
	// stall. 0 means unbounded.
	MaxCatchUpSteps int
	// Welcome is sent to a client when it joins. Empty disables it.
	Welcome string
}

// Loop is the authoritative fixed-timestep simulation. It is the only writer
// of the World; everything else talks to it through the inbox.
type Loop struct {
	inbox    <-chan protocol.Envelope
	outbox   Outbox
	sessions Sessions
	logger   *log.Logger
	welcome  string

	world  *world.World
	joined map[protocol.ClientID]struct{}
	state  atomic.Int32
	prev   time.Time
}

func NewLoop(
	inbox <-chan protocol.Envelope,
	outbox Outbox,
	sessions Sessions,
	opts Options,
	logger *log.Logger,
) *Loop {
	debug.Assert(inbox != nil && outbox != nil && sessions != nil)

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Loop{
		inbox:    inbox,
		outbox:   outbox,
		sessions: sessions,
		logger:   logger,
		welcome:  opts.Welcome,

		world:  world.New(opts.Timestep, opts.MaxCatchUpSteps),
		joined: make(map[protocol.ClientID]struct{}),
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// World exposes the simulation state. It must only be used from the loop's
// goroutine or while the loop isn't running.
func (l *Loop) World() *world.World {
	return l.world
}

// Run ticks the loop every timestep until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("game loop is already running")
	}
	l.logger.Info().
		Dur("timestep", l.world.Timestep()).
		Msg("game loop running")

	ticker := time.NewTicker(l.world.Timestep())
	defer ticker.Stop()

	l.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Tick(now)
		}
	}
}

// Tick drains the inbox, handles every message in arrival order and then
// advances the world by the wall-clock time elapsed since the previous tick.
// It returns the number of messages handled.
func (l *Loop) Tick(now time.Time) int {
	var elapsed time.Duration
	if !l.prev.IsZero() {
		elapsed = now.Sub(l.prev)
	}
	l.prev = now

	handled := 0
drain:
	for {
		select {
		case env := <-l.inbox:
			l.Handle(env)
			handled++
		default:
			break drain
		}
	}

	if _, skipped := l.world.Advance(elapsed); skipped > 0 {
		l.logger.Warn().
			Dur("skipped", skipped).
			Msg("simulation fell behind; dropped catch-up time")
	}

	return handled
}

// Handle applies one client message to the world. Messages from clients
// whose session is already gone are discarded.
func (l *Loop) Handle(env protocol.Envelope) {
	id := env.ClientID

	if _, ok := l.sessions.Lookup(id); !ok {
		l.logger.Debug().
			Uint32("client", uint32(id)).
			Stringer("msg", env.Message.ClientTag()).
			Msg("discarding message from client without a session")
		delete(l.joined, id)
		return
	}

	switch msg := env.Message.(type) {
	case *protocol.CConnect:
		l.handleConnect(id)
	case *protocol.CDisconnect:
		l.handleDisconnect(id)
	case *protocol.CChatMessage:
		l.handleChatMessage(id, msg)
	case *protocol.CRequestToSpawnPlayer:
		l.handleRequestToSpawnPlayer(id)
	case *protocol.CRequestAllPlayers:
		l.handleRequestAllPlayers(id)
	case *protocol.CEntityPosition:
		l.handleEntityPosition(id, msg)
	default:
		debug.Assertf(false, "unhandled client message: %T", env.Message)
	}
}

func (l *Loop) handleConnect(id protocol.ClientID) {
	if _, ok := l.joined[id]; ok {
		l.logger.Debug().
			Uint32("client", uint32(id)).
			Msg("ignoring repeated connect")
		return
	}
	l.joined[id] = struct{}{}

	l.logger.Info().
		Uint32("client", uint32(id)).
		Msg("client joined")

	if l.welcome != "" {
		l.send(id, &protocol.SWelcome{Text: l.welcome})
	}
	l.broadcastExcept(id, &protocol.SClientJoined{ID: id})
}

func (l *Loop) handleDisconnect(id protocol.ClientID) {
	delete(l.joined, id)

	l.broadcastExcept(id, &protocol.SClientLeft{ID: id})

	l.sessions.Remove(id)
	l.logger.Info().
		Uint32("client", uint32(id)).
		Msg("client left")
}

func (l *Loop) handleChatMessage(id protocol.ClientID, msg *protocol.CChatMessage) {
	l.logger.Debug().
		Uint32("client", uint32(id)).
		Str("text", msg.Text).
		Msg("chat")

	l.broadcastExcept(id, &protocol.SChatMessage{From: id, Text: msg.Text})
}

func (l *Loop) handleRequestToSpawnPlayer(id protocol.ClientID) {
	e := l.world.Spawn(id)

	l.logger.Info().
		Uint32("client", uint32(id)).
		Uint32("entity", uint32(e.ID)).
		Msg("spawned player")

	l.broadcast(&protocol.SSpawnPlayer{
		Owner:    e.Owner,
		EntityID: e.ID,
		Pos:      e.Pos,
	})
}

func (l *Loop) handleRequestAllPlayers(id protocol.ClientID) {
	entities := l.world.Entities()
	players := make([]protocol.Player, 0, len(entities))
	for _, e := range entities {
		players = append(players, e.Player())
	}
	l.send(id, &protocol.SAllPlayers{Players: players})
}

func (l *Loop) handleEntityPosition(id protocol.ClientID, msg *protocol.CEntityPosition) {
	if err := l.world.SetPosition(id, msg.EntityID, msg.Pos); err != nil {
		l.logger.Warn().
			Uint32("client", uint32(id)).
			Uint32("entity", uint32(msg.EntityID)).
			Err(err).
			Msg("rejected position update")
		return
	}

	l.broadcastExcept(id, &protocol.SEntityPosition{
		EntityID: msg.EntityID,
		Pos:      msg.Pos,
	})
}

func (l *Loop) send(id protocol.ClientID, msg protocol.ServerMessage) {
	err := l.outbox.Push(id, msg)
	switch {
	case err == nil:
	case errors.Is(err, mailbox.ErrNoMailbox):
		l.logger.Debug().
			Uint32("client", uint32(id)).
			Stringer("msg", msg.ServerTag()).
			Msg("client is gone; message discarded")
	default:
		l.logger.Warn().
			Uint32("client", uint32(id)).
			Stringer("msg", msg.ServerTag()).
			Err(err).
			Msg("could not enqueue message")
	}
}

func (l *Loop) broadcast(msg protocol.ServerMessage) {
	l.logDropped(msg, l.outbox.Broadcast(msg))
}

func (l *Loop) broadcastExcept(except protocol.ClientID, msg protocol.ServerMessage) {
	l.logDropped(msg, l.outbox.BroadcastExcept(except, msg))
}

func (l *Loop) logDropped(msg protocol.ServerMessage, full []protocol.ClientID) {
	for _, id := range full {
		l.logger.Warn().
			Uint32("client", uint32(id)).
			Stringer("msg", msg.ServerTag()).
			Msg("mailbox full; dropped message")
	}
}
