package world

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/blukai/udparena/internal/debug"
	"github.com/blukai/udparena/internal/protocol"
)

var (
	ErrNoEntity = errors.New("no such entity")
	ErrNotOwner = errors.New("entity is owned by another client")
)

// Origin is where new players spawn.
var Origin = protocol.Vec2{}

type Entity struct {
	Owner protocol.ClientID
	ID    protocol.EntityID
	Pos   protocol.Vec2
	Vel   protocol.Vec2
}

func (e *Entity) step() {
	e.Pos = e.Pos.Add(e.Vel)
}

func (e *Entity) Player() protocol.Player {
	return protocol.Player{Owner: e.Owner, ID: e.ID, Pos: e.Pos, Vel: e.Vel}
}

// World is the authoritative simulation state. It is not safe for concurrent
// use; the game loop is its only owner.
type World struct {
	entities     map[protocol.EntityID]*Entity
	nextEntityID protocol.EntityID

	timestep time.Duration
	// maxSteps bounds catch-up in a single Advance call. 0 means unbounded.
	maxSteps int
	// accumulator is kept as a duration (integer nanoseconds) so the result
	// of Advance doesn't depend on how elapsed time was chunked.
	accumulator time.Duration
	ticks       uint64
}

func New(timestep time.Duration, maxSteps int) *World {
	debug.Assert(timestep > 0, "timestep must be positive")
	debug.Assert(maxSteps >= 0, "max steps must not be negative")

	return &World{
		entities: make(map[protocol.EntityID]*Entity),
		timestep: timestep,
		maxSteps: maxSteps,
	}
}

func (w *World) Timestep() time.Duration { return w.timestep }

// Ticks is the number of fixed steps simulated so far.
func (w *World) Ticks() uint64 { return w.ticks }

func (w *World) Len() int { return len(w.entities) }

// Spawn creates a player owned by owner at Origin.
func (w *World) Spawn(owner protocol.ClientID) Entity {
	e := &Entity{
		Owner: owner,
		ID:    w.nextEntityID,
		Pos:   Origin,
	}
	w.entities[e.ID] = e
	w.nextEntityID++
	return *e
}

func (w *World) Entity(id protocol.EntityID) (Entity, bool) {
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns a copy of every entity ordered by id.
func (w *World) Entities() []Entity {
	ids := make([]protocol.EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	entities := make([]Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, *w.entities[id])
	}
	return entities
}

// SetPosition overwrites the position of entity id on behalf of sender. The
// entity must exist and be owned by sender.
func (w *World) SetPosition(sender protocol.ClientID, id protocol.EntityID, pos protocol.Vec2) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoEntity, id)
	}
	if e.Owner != sender {
		return fmt.Errorf("%w: entity %d owner %d, sender %d", ErrNotOwner, id, e.Owner, sender)
	}
	e.Pos = pos
	return nil
}

// SetVelocity is for setting up a simulation. No client message changes
// velocity, spawned entities stand still.
func (w *World) SetVelocity(id protocol.EntityID, vel protocol.Vec2) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoEntity, id)
	}
	e.Vel = vel
	return nil
}

// Step advances every entity by its velocity once.
func (w *World) Step() {
	for _, e := range w.entities {
		e.step()
	}
	w.ticks++
}

// Advance adds elapsed to the accumulator and runs one Step per whole
// timestep in it. If more than maxSteps are due the rest of the accumulated
// time is discarded and returned as skipped.
func (w *World) Advance(elapsed time.Duration) (steps int, skipped time.Duration) {
	if elapsed > 0 {
		w.accumulator += elapsed
	}

	for w.accumulator >= w.timestep {
		if w.maxSteps > 0 && steps >= w.maxSteps {
			skipped = w.accumulator - w.accumulator%w.timestep
			w.accumulator %= w.timestep
			break
		}
		w.accumulator -= w.timestep
		w.Step()
		steps++
	}
	return steps, skipped
}
