package world_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blukai/udparena/internal/protocol"
	"github.com/blukai/udparena/internal/world"
	"github.com/matryer/is"
)

const timestep = time.Second / 60

func TestSpawnAllocatesEntityIDs(t *testing.T) {
	is := is.New(t)

	w := world.New(timestep, 0)

	first := w.Spawn(7)
	second := w.Spawn(7)
	third := w.Spawn(2)

	is.Equal(first.ID, protocol.EntityID(0))
	is.Equal(second.ID, protocol.EntityID(1))
	is.Equal(third.ID, protocol.EntityID(2))
	is.Equal(first.Owner, protocol.ClientID(7))
	is.Equal(first.Pos, world.Origin)

	entities := w.Entities()
	is.Equal(len(entities), 3)
	for i, e := range entities {
		is.Equal(e.ID, protocol.EntityID(i))
	}
}

func TestSpawnedEntitiesStandStill(t *testing.T) {
	is := is.New(t)

	w := world.New(timestep, 0)
	e := w.Spawn(0)
	is.Equal(e.Vel, protocol.Vec2{})

	w.Advance(10 * timestep)
	got, _ := w.Entity(e.ID)
	is.Equal(got.Pos, world.Origin)

	err := w.SetVelocity(42, protocol.Vec2{X: 1})
	is.True(errors.Is(err, world.ErrNoEntity))
}

func TestSetPositionRequiresOwnership(t *testing.T) {
	is := is.New(t)

	w := world.New(timestep, 0)
	e := w.Spawn(1)

	err := w.SetPosition(2, e.ID, protocol.Vec2{X: 9, Y: 9})
	is.True(errors.Is(err, world.ErrNotOwner))
	got, _ := w.Entity(e.ID)
	is.Equal(got.Pos, world.Origin) // unchanged

	err = w.SetPosition(1, 42, protocol.Vec2{X: 9, Y: 9})
	is.True(errors.Is(err, world.ErrNoEntity))

	is.NoErr(w.SetPosition(1, e.ID, protocol.Vec2{X: 5, Y: 5}))
	got, _ = w.Entity(e.ID)
	is.Equal(got.Pos, protocol.Vec2{X: 5, Y: 5})
}

func TestAdvanceIndependentOfPacing(t *testing.T) {
	chunkings := map[string][]time.Duration{
		"one call":     {3 * timestep},
		"per timestep": {timestep, timestep, timestep},
		"uneven":       {timestep / 3, 2 * timestep, timestep - timestep/3, 0},
		"tiny":         tinyChunks(3*timestep, time.Millisecond),
	}

	for name, chunks := range chunkings {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)

			w := world.New(timestep, 0)
			e := w.Spawn(0)
			is.NoErr(w.SetVelocity(e.ID, protocol.Vec2{X: 1, Y: 0}))

			total := 0
			for _, chunk := range chunks {
				steps, skipped := w.Advance(chunk)
				is.Equal(skipped, time.Duration(0))
				total += steps
			}

			is.Equal(total, 3)
			is.Equal(w.Ticks(), uint64(3))
			got, _ := w.Entity(e.ID)
			is.Equal(got.Pos, protocol.Vec2{X: 3, Y: 0})
		})
	}
}

func tinyChunks(total, chunk time.Duration) []time.Duration {
	var chunks []time.Duration
	for total > chunk {
		chunks = append(chunks, chunk)
		total -= chunk
	}
	return append(chunks, total)
}

func TestAdvanceBoundsCatchUp(t *testing.T) {
	is := is.New(t)

	w := world.New(timestep, 4)

	steps, skipped := w.Advance(10*timestep + timestep/2)
	is.Equal(steps, 4)
	is.Equal(skipped, 6*timestep)

	// only the fractional remainder was kept
	steps, _ = w.Advance(timestep / 2)
	is.Equal(steps, 1)
}

func TestAdvanceIgnoresNegativeElapsed(t *testing.T) {
	is := is.New(t)

	w := world.New(timestep, 0)
	steps, _ := w.Advance(-time.Second)
	is.Equal(steps, 0)
	steps, _ = w.Advance(timestep)
	is.Equal(steps, 1)
}
