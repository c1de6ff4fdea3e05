// Package physics is the boundary to the rigid body simulation. The session
// only talks to World; Arena is the implementation the server runs with.
package physics

import (
	"errors"
	"fmt"
	"time"

	"github.com/blukai/bong/internal/vecmath"
)

var ErrStaleHandle = errors.New("stale body handle")

// Handle is a weak reference to a body. A handle whose body was despawned
// never resolves again, even if its slot gets reused.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%dv%d", h.Index, h.Generation)
}

type World interface {
	SpawnBody(position vecmath.Vec2) Handle
	DespawnBody(h Handle) error
	// ApplyForce sets the persistent force acting on the body until the
	// next call.
	ApplyForce(h Handle, force vecmath.Vec2) error
	// ApplyImpulse adds a one-shot impulse consumed by the next Step.
	ApplyImpulse(h Handle, impulse vecmath.Vec2) error
	SetAdditionalMass(h Handle, mass float32) error
	Transform(h Handle) (vecmath.Vec2, error)
	// Grounded reports whether the body rests on the floor.
	Grounded(h Handle) (bool, error)
	Step(dt time.Duration)
}
