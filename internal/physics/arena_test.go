package physics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blukai/bong/internal/physics"
	"github.com/blukai/bong/internal/vecmath"
	"github.com/matryer/is"
)

const dt = time.Second / 60

func TestHandlesAreGenerational(t *testing.T) {
	is := is.New(t)

	arena := physics.NewArena()

	first := arena.SpawnBody(vecmath.Zero)
	is.Equal(arena.Len(), 1)
	is.NoErr(arena.DespawnBody(first))
	is.Equal(arena.Len(), 0)

	// the slot gets reused, the old handle must not resolve to the new body
	second := arena.SpawnBody(vecmath.Vec2{X: 10})
	is.Equal(second.Index, first.Index)
	is.True(second.Generation != first.Generation)

	_, err := arena.Transform(first)
	is.True(errors.Is(err, physics.ErrStaleHandle))
	is.True(errors.Is(arena.DespawnBody(first), physics.ErrStaleHandle))
	is.True(errors.Is(arena.ApplyForce(first, vecmath.UnitX), physics.ErrStaleHandle))

	pos, err := arena.Transform(second)
	is.NoErr(err)
	is.Equal(pos, vecmath.Vec2{X: 10})

	_, err = arena.Transform(physics.Handle{Index: 99, Generation: 1})
	is.True(errors.Is(err, physics.ErrStaleHandle))
}

func TestBallLandsOnFloor(t *testing.T) {
	is := is.New(t)

	arena := physics.NewArena()
	h := arena.SpawnBody(vecmath.Vec2{X: -100, Y: 0})

	for i := 0; i < 120; i++ {
		arena.Step(dt)
	}

	pos, err := arena.Transform(h)
	is.NoErr(err)
	is.Equal(pos.Y, physics.FloorTop+physics.BallRadius)

	grounded, err := arena.Grounded(h)
	is.NoErr(err)
	is.True(grounded)
}

func TestImpulseLaunches(t *testing.T) {
	is := is.New(t)

	arena := physics.NewArena()
	h := arena.SpawnBody(vecmath.Vec2{Y: physics.FloorTop + physics.BallRadius})
	arena.Step(dt)

	is.NoErr(arena.ApplyImpulse(h, vecmath.Vec2{Y: 25}))
	arena.Step(dt)

	pos, err := arena.Transform(h)
	is.NoErr(err)
	is.True(pos.Y > physics.FloorTop+physics.BallRadius)

	grounded, err := arena.Grounded(h)
	is.NoErr(err)
	is.True(!grounded)
}

func TestHeavierBallIsHarderToPush(t *testing.T) {
	is := is.New(t)

	run := func(additionalMass float32) float32 {
		arena := physics.NewArena()
		h := arena.SpawnBody(vecmath.Vec2{Y: physics.FloorTop + physics.BallRadius})
		is.NoErr(arena.SetAdditionalMass(h, additionalMass))
		is.NoErr(arena.ApplyForce(h, vecmath.Vec2{X: 30}))
		for i := 0; i < 30; i++ {
			arena.Step(dt)
		}
		pos, err := arena.Transform(h)
		is.NoErr(err)
		return pos.X
	}

	light := run(0)
	heavy := run(0.5)
	is.True(light > heavy)
	is.True(heavy > 0)
}

func TestCollisionSeparatesBalls(t *testing.T) {
	is := is.New(t)

	arena := physics.NewArena()
	y := physics.FloorTop + physics.BallRadius
	a := arena.SpawnBody(vecmath.Vec2{X: -60, Y: y})
	b := arena.SpawnBody(vecmath.Vec2{X: 60, Y: y})
	is.NoErr(arena.ApplyForce(a, vecmath.Vec2{X: 30}))
	is.NoErr(arena.ApplyForce(b, vecmath.Vec2{X: -30}))

	for i := 0; i < 120; i++ {
		arena.Step(dt)

		pa, err := arena.Transform(a)
		is.NoErr(err)
		pb, err := arena.Transform(b)
		is.NoErr(err)
		is.True(pb.Sub(pa).Len() >= 2*physics.BallRadius-0.5)
	}
}
