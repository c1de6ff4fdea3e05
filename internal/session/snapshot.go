package session

import (
	"github.com/blukai/bong/internal/protocol"
)

// snapshot captures every player that currently has a live ball. Players
// without one (late joiners, or a ball whose body vanished) are left out.
func (s *Session) snapshot() *protocol.NetworkedEntities {
	msg := &protocol.NetworkedEntities{
		Tick:     s.tick,
		Entities: make(map[uint64]protocol.NetworkedEntity, s.registry.Len()),
	}
	for _, id := range s.registry.IDs() {
		data, _ := s.registry.Get(id)
		if !data.HasEntity {
			continue
		}
		ball, ok := s.balls[data.Entity]
		if !ok {
			continue
		}
		position, err := s.world.Transform(data.Entity)
		if err != nil {
			s.logger.Warn().Uint64("player_id", id).Msgf("omitting from snapshot: %v", err)
			continue
		}
		msg.Entities[id] = protocol.NetworkedEntity{
			Position:  position,
			Direction: ball.Direction,
			Heavy:     ball.Heaviness.Heavy,
		}
	}
	return msg
}

func (s *Session) broadcastSnapshot() error {
	return s.broadcast(s.snapshot())
}
