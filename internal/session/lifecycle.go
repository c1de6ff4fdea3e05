package session

import (
	"fmt"

	"github.com/blukai/bong/internal/protocol"
)

// OnConnect registers a freshly connected player. Identities come from the
// transport handshake, which already refuses duplicates, so an error here
// means the two got out of sync.
func (s *Session) OnConnect(id uint64) error {
	if _, err := s.registry.Insert(id); err != nil {
		return fmt.Errorf("could not register player: %w", err)
	}

	s.logger.Info().
		Uint64("player_id", id).
		Int("players", s.registry.Len()).
		Msg("player joined")

	return nil
}

// OnDisconnect forgets a player within the tick it is observed. While in
// game the remaining players are told first (on the reliable channel, so
// before the snapshot of this tick) and the player's ball is despawned.
// Unknown ids are ignored: during shutdown the transport and the registry
// may briefly disagree.
//
// The registry entry is always removed, even if the broadcast fails.
func (s *Session) OnDisconnect(id uint64, reason string) error {
	data, ok := s.registry.Get(id)
	if !ok {
		s.logger.Debug().
			Uint64("player_id", id).
			Msg("disconnect of unknown player ignored")
		return nil
	}

	s.logger.Info().
		Uint64("player_id", id).
		Str("reason", reason).
		Msg("player left")

	var err error
	if s.state == InGame {
		err = s.broadcast(&protocol.PlayerLeft{ID: id})
		s.despawn(id, data)
	}
	s.registry.Remove(id)

	return err
}
