package session

import (
	"time"

	"github.com/blukai/bong/internal/vecmath"
)

const (
	// MovementForce scales the unit input direction into the force pushing
	// a ball.
	MovementForce float32 = 30
	// JumpThreshold is how far up the input has to point for a grounded
	// ball to jump.
	JumpThreshold float32 = 0.2
)

// JumpImpulse is applied once per tick while a grounded ball is asked to
// go up.
var JumpImpulse = vecmath.Vec2{Y: 25}

// simulate advances heaviness timers, pushes mass and forces into the world
// and steps it. Players are visited in id order so that a run is
// reproducible.
func (s *Session) simulate(dt time.Duration) {
	for _, id := range s.registry.IDs() {
		data, _ := s.registry.Get(id)
		if !data.HasEntity {
			continue
		}
		h := data.Entity
		ball, ok := s.balls[h]
		if !ok {
			continue
		}

		ball.Heaviness.Tick(dt)

		if err := s.world.SetAdditionalMass(h, ball.Heaviness.Mass()); err != nil {
			s.logger.Warn().Uint64("player_id", id).Msgf("could not set mass: %v", err)
			continue
		}
		if err := s.world.ApplyForce(h, ball.Direction.Scale(MovementForce)); err != nil {
			s.logger.Warn().Uint64("player_id", id).Msgf("could not apply force: %v", err)
			continue
		}

		if ball.Direction.Y <= JumpThreshold {
			continue
		}
		grounded, err := s.world.Grounded(h)
		if err != nil || !grounded {
			continue
		}
		if err := s.world.ApplyImpulse(h, JumpImpulse); err != nil {
			s.logger.Warn().Uint64("player_id", id).Msgf("could not jump: %v", err)
		}
	}

	s.world.Step(dt)
}
