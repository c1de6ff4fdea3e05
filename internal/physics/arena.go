package physics

import (
	"fmt"
	"time"

	"github.com/blukai/bong/internal/vecmath"
)

const (
	BallRadius float32 = 25
	// BaseMass is the mass of a ball without any heaviness.
	BaseMass float32 = 0.05
	Gravity  float32 = -1500
	// Substeps per Step.
	Substeps = 4
)

// The floor is a platform with its top edge at FloorTop spanning
// [-FloorHalfWidth, FloorHalfWidth]. Balls pushed past its edges fall.
const (
	FloorTop       float32 = -175
	FloorHalfWidth float32 = 250
)

type body struct {
	generation     uint32
	alive          bool
	position       vecmath.Vec2
	velocity       vecmath.Vec2
	force          vecmath.Vec2
	impulse        vecmath.Vec2
	additionalMass float32
	grounded       bool
}

func (b *body) mass() float32 {
	return BaseMass + b.additionalMass
}

// Arena is a tiny 2-D world of equally sized balls above a floor. It is not
// safe for concurrent use.
type Arena struct {
	bodies []body
	free   []uint32
}

var _ World = (*Arena)(nil)

func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) SpawnBody(position vecmath.Vec2) Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.bodies = append(a.bodies, body{})
		index = uint32(len(a.bodies) - 1)
	}

	b := &a.bodies[index]
	generation := b.generation + 1
	*b = body{
		generation: generation,
		alive:      true,
		position:   position,
	}
	return Handle{Index: index, Generation: generation}
}

func (a *Arena) get(h Handle) (*body, error) {
	if int(h.Index) >= len(a.bodies) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	b := &a.bodies[h.Index]
	if !b.alive || b.generation != h.Generation {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return b, nil
}

func (a *Arena) DespawnBody(h Handle) error {
	b, err := a.get(h)
	if err != nil {
		return err
	}
	b.alive = false
	a.free = append(a.free, h.Index)
	return nil
}

func (a *Arena) ApplyForce(h Handle, force vecmath.Vec2) error {
	b, err := a.get(h)
	if err != nil {
		return err
	}
	b.force = force
	return nil
}

func (a *Arena) ApplyImpulse(h Handle, impulse vecmath.Vec2) error {
	b, err := a.get(h)
	if err != nil {
		return err
	}
	b.impulse = b.impulse.Add(impulse)
	return nil
}

func (a *Arena) SetAdditionalMass(h Handle, mass float32) error {
	b, err := a.get(h)
	if err != nil {
		return err
	}
	if mass < 0 {
		mass = 0
	}
	b.additionalMass = mass
	return nil
}

func (a *Arena) Transform(h Handle) (vecmath.Vec2, error) {
	b, err := a.get(h)
	if err != nil {
		return vecmath.Zero, err
	}
	return b.position, nil
}

func (a *Arena) Grounded(h Handle) (bool, error) {
	b, err := a.get(h)
	if err != nil {
		return false, err
	}
	return b.grounded, nil
}

// Len returns the number of live bodies.
func (a *Arena) Len() int {
	return len(a.bodies) - len(a.free)
}

func (a *Arena) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	h := float32(dt.Seconds()) / Substeps

	for i := range a.bodies {
		b := &a.bodies[i]
		if !b.alive {
			continue
		}
		b.velocity = b.velocity.Add(b.impulse.Scale(1 / b.mass()))
		b.impulse = vecmath.Zero
	}

	for s := 0; s < Substeps; s++ {
		for i := range a.bodies {
			b := &a.bodies[i]
			if !b.alive {
				continue
			}
			accel := b.force.Scale(1 / b.mass()).Add(vecmath.Vec2{Y: Gravity})
			b.velocity = b.velocity.Add(accel.Scale(h))
			b.position = b.position.Add(b.velocity.Scale(h))
			b.grounded = false
			a.collideFloor(b)
		}
		a.collideBalls()
	}
}

func (a *Arena) collideFloor(b *body) {
	if b.position.X < -FloorHalfWidth || b.position.X > FloorHalfWidth {
		return
	}
	bottom := b.position.Y - BallRadius
	// only resolve from above; a ball that fell past the top stays under
	if bottom >= FloorTop || bottom < FloorTop-BallRadius {
		return
	}
	b.position.Y = FloorTop + BallRadius
	if b.velocity.Y < 0 {
		// floor restitution is zero
		b.velocity.Y = 0
	}
	b.grounded = true
}

func (a *Arena) collideBalls() {
	for i := range a.bodies {
		bi := &a.bodies[i]
		if !bi.alive {
			continue
		}
		for j := i + 1; j < len(a.bodies); j++ {
			bj := &a.bodies[j]
			if !bj.alive {
				continue
			}
			resolveContact(bi, bj)
		}
	}
}

// resolveContact separates two overlapping balls and exchanges momentum
// along the contact normal with a restitution of one.
func resolveContact(a, b *body) {
	delta := b.position.Sub(a.position)
	dist := delta.Len()
	if dist >= 2*BallRadius {
		return
	}
	normal := delta.NormalizeOrZero()
	if normal == vecmath.Zero {
		normal = vecmath.UnitX
	}

	invA, invB := 1/a.mass(), 1/b.mass()
	penetration := 2*BallRadius - dist
	correction := normal.Scale(penetration / (invA + invB))
	a.position = a.position.Sub(correction.Scale(invA))
	b.position = b.position.Add(correction.Scale(invB))

	approach := b.velocity.Sub(a.velocity).Dot(normal)
	if approach >= 0 {
		return
	}
	j := -2 * approach / (invA + invB)
	a.velocity = a.velocity.Sub(normal.Scale(j * invA))
	b.velocity = b.velocity.Add(normal.Scale(j * invB))
}
