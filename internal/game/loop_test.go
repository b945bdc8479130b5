package game_test

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/blukai/udparena/internal/game"
	"github.com/blukai/udparena/internal/mailbox"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/blukai/udparena/internal/session"
	"github.com/blukai/udparena/internal/world"
	"github.com/matryer/is"
)

const timestep = time.Second / 60

type fixture struct {
	inbox     chan protocol.Envelope
	mailboxes *mailbox.Registry
	sessions  *session.Directory
	loop      *game.Loop
}

func newFixture(t *testing.T, clients ...protocol.ClientID) *fixture {
	t.Helper()

	f := &fixture{
		inbox:     make(chan protocol.Envelope, 64),
		mailboxes: mailbox.NewRegistry(),
	}
	f.sessions = session.NewDirectory(f.mailboxes, 32)
	f.loop = game.NewLoop(f.inbox, f.mailboxes, f.sessions, game.Options{
		Timestep: timestep,
	}, nil)

	for _, id := range clients {
		addr := netip.MustParseAddrPort(fmt.Sprintf("10.0.0.1:%d", 1000+int(id)))
		if err := f.sessions.Register(id, addr); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}
	return f
}

func (f *fixture) send(id protocol.ClientID, msg protocol.ClientMessage) {
	f.inbox <- protocol.Envelope{ClientID: id, Message: msg}
}

func (f *fixture) outbound(id protocol.ClientID) []protocol.ServerMessage {
	return f.mailboxes.Drain(id, 1000)
}

func TestSpawnBroadcastsToEveryone(t *testing.T) {
	is := is.New(t)

	const a, b = 0, 1
	f := newFixture(t, a, b)

	f.send(a, &protocol.CRequestToSpawnPlayer{})
	is.Equal(f.loop.Tick(time.Now()), 1)

	want := &protocol.SSpawnPlayer{Owner: a, EntityID: 0, Pos: protocol.Vec2{}}
	is.Equal(f.outbound(a), []protocol.ServerMessage{want}) // sender too
	is.Equal(f.outbound(b), []protocol.ServerMessage{want})

	e, ok := f.loop.World().Entity(0)
	is.True(ok)
	is.Equal(e.Owner, protocol.ClientID(a))
}

func TestEntityPositionFromOwner(t *testing.T) {
	is := is.New(t)

	const a, b, c = 0, 1, 2
	f := newFixture(t, a, b, c)

	f.send(b, &protocol.CRequestToSpawnPlayer{})
	f.loop.Tick(time.Now())
	for _, id := range []protocol.ClientID{a, b, c} {
		f.outbound(id)
	}

	pos := protocol.Vec2{X: 5, Y: 5}
	f.send(b, &protocol.CEntityPosition{EntityID: 0, Pos: pos})
	f.loop.Tick(time.Now())

	want := &protocol.SEntityPosition{EntityID: 0, Pos: pos}
	is.Equal(f.outbound(a), []protocol.ServerMessage{want})
	is.Equal(f.outbound(c), []protocol.ServerMessage{want})
	is.Equal(len(f.outbound(b)), 0) // not echoed to the mover

	e, _ := f.loop.World().Entity(0)
	is.Equal(e.Pos, pos)
}

func TestEntityPositionFromNonOwnerIsRejected(t *testing.T) {
	is := is.New(t)

	const owner, thief = 0, 1
	f := newFixture(t, owner, thief)

	f.send(owner, &protocol.CRequestToSpawnPlayer{})
	f.loop.Tick(time.Now())
	f.outbound(owner)
	f.outbound(thief)

	f.send(thief, &protocol.CEntityPosition{EntityID: 0, Pos: protocol.Vec2{X: 9, Y: 9}})
	f.send(thief, &protocol.CEntityPosition{EntityID: 77, Pos: protocol.Vec2{X: 9, Y: 9}})
	f.loop.Tick(time.Now())

	is.Equal(len(f.outbound(owner)), 0)
	is.Equal(len(f.outbound(thief)), 0)

	e, _ := f.loop.World().Entity(0)
	is.Equal(e.Pos, world.Origin)
}

func TestRequestAllPlayersRepliesToRequesterOnly(t *testing.T) {
	is := is.New(t)

	const a, b, c = 0, 1, 2
	f := newFixture(t, a, b, c)

	f.send(a, &protocol.CRequestToSpawnPlayer{})
	f.send(b, &protocol.CRequestToSpawnPlayer{})
	f.loop.Tick(time.Now())
	for _, id := range []protocol.ClientID{a, b, c} {
		f.outbound(id)
	}

	f.send(c, &protocol.CRequestAllPlayers{})
	f.loop.Tick(time.Now())

	is.Equal(f.outbound(c), []protocol.ServerMessage{
		&protocol.SAllPlayers{Players: []protocol.Player{
			{Owner: a, ID: 0},
			{Owner: b, ID: 1},
		}},
	})
	is.Equal(len(f.outbound(a)), 0)
	is.Equal(len(f.outbound(b)), 0)
}

func TestChatSkipsSender(t *testing.T) {
	is := is.New(t)

	const a, b = 0, 1
	f := newFixture(t, a, b)

	f.send(a, &protocol.CChatMessage{Text: "gg"})
	f.loop.Tick(time.Now())

	is.Equal(len(f.outbound(a)), 0)
	is.Equal(f.outbound(b), []protocol.ServerMessage{
		&protocol.SChatMessage{From: a, Text: "gg"},
	})
}

func TestConnectAnnouncesOnce(t *testing.T) {
	is := is.New(t)

	const a, b = 0, 1
	f := newFixture(t, a, b)
	loop := game.NewLoop(f.inbox, f.mailboxes, f.sessions, game.Options{
		Timestep: timestep,
		Welcome:  "hello",
	}, nil)

	f.send(b, &protocol.CConnect{})
	f.send(b, &protocol.CConnect{})
	loop.Tick(time.Now())

	is.Equal(f.outbound(b), []protocol.ServerMessage{&protocol.SWelcome{Text: "hello"}})
	is.Equal(f.outbound(a), []protocol.ServerMessage{&protocol.SClientJoined{ID: b}})
}

func TestDisconnectTearsDownSession(t *testing.T) {
	is := is.New(t)

	const a, b = 0, 1
	f := newFixture(t, a, b)

	f.send(a, &protocol.CDisconnect{})
	f.send(a, &protocol.CChatMessage{Text: "still here?"}) // already in flight
	f.send(a, &protocol.CRequestToSpawnPlayer{})
	f.loop.Tick(time.Now())

	is.Equal(f.outbound(b), []protocol.ServerMessage{&protocol.SClientLeft{ID: a}})
	is.Equal(f.loop.World().Len(), 0)
	is.True(!f.mailboxes.Has(a))
	_, ok := f.sessions.Lookup(a)
	is.True(!ok)
	is.Equal(f.sessions.Len(), 1)
}

func TestMessageFromUnknownClientIsDiscarded(t *testing.T) {
	is := is.New(t)

	const a, ghost = 0, 5
	f := newFixture(t, a)

	f.send(ghost, &protocol.CConnect{})
	f.send(ghost, &protocol.CRequestToSpawnPlayer{})
	f.send(ghost, &protocol.CDisconnect{})
	is.Equal(f.loop.Tick(time.Now()), 3)

	is.Equal(len(f.outbound(a)), 0)
	is.Equal(f.loop.World().Len(), 0)
	is.Equal(f.sessions.Len(), 1)
}

func TestTickProcessesInArrivalOrder(t *testing.T) {
	is := is.New(t)

	const a, b = 0, 1
	f := newFixture(t, a, b)

	f.send(a, &protocol.CRequestToSpawnPlayer{})
	f.send(a, &protocol.CEntityPosition{EntityID: 0, Pos: protocol.Vec2{X: 1, Y: 2}})
	f.send(a, &protocol.CChatMessage{Text: "moved"})
	is.Equal(f.loop.Tick(time.Now()), 3)

	is.Equal(f.outbound(b), []protocol.ServerMessage{
		&protocol.SSpawnPlayer{Owner: a, EntityID: 0},
		&protocol.SEntityPosition{EntityID: 0, Pos: protocol.Vec2{X: 1, Y: 2}},
		&protocol.SChatMessage{From: a, Text: "moved"},
	})
}

func TestTickAdvancesWorld(t *testing.T) {
	is := is.New(t)

	const a = 0
	f := newFixture(t, a)

	f.send(a, &protocol.CRequestToSpawnPlayer{})
	start := time.Now()
	f.loop.Tick(start)
	is.NoErr(f.loop.World().SetVelocity(0, protocol.Vec2{X: 1}))

	f.loop.Tick(start.Add(timestep))
	f.loop.Tick(start.Add(timestep + timestep/2))
	f.loop.Tick(start.Add(3 * timestep))

	e, _ := f.loop.World().Entity(0)
	is.Equal(e.Pos, protocol.Vec2{X: 3})
	is.Equal(f.loop.State(), game.StateIdle)
}
