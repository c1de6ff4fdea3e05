package session

import (
	"errors"
	"fmt"

	"github.com/blukai/bong/internal/protocol"
)

// ingest drains the input channel of every connection. Only the last valid
// PlayerInput of a connection in this tick counts; earlier ones are
// superseded. Undecodable messages and stale references are logged and
// skipped; any other error is structural and returned.
func (s *Session) ingest() error {
	for _, id := range s.net.ClientIDs() {
		var (
			last *protocol.PlayerInput
			n    int
		)
		for {
			data, ok := s.net.ReceiveMessage(id, protocol.ChannelInput)
			if !ok {
				break
			}
			n++

			msg, err := protocol.Decode(data)
			if err != nil {
				s.logger.Warn().
					Uint64("player_id", id).
					Msgf("discarding input: %v", err)
				continue
			}
			input, ok := msg.(*protocol.PlayerInput)
			if !ok {
				s.logger.Warn().
					Uint64("player_id", id).
					Msgf("discarding %s on input channel", msg.Tag())
				continue
			}
			last = input
		}

		if last == nil || s.state != InGame {
			continue
		}
		if n > 1 {
			s.logger.Trace().
				Uint64("player_id", id).
				Int("superseded", n-1).
				Msg("coalesced input")
		}

		if err := s.ApplyInput(id, *last); err != nil {
			if errors.Is(err, ErrStaleReference) {
				s.logger.Debug().Msgf("dropping input: %v", err)
				continue
			}
			return fmt.Errorf("could not apply input of player %d: %w", id, err)
		}
	}
	return nil
}

// ApplyInput overwrites the direction and heaviness of the player's ball.
// The direction is re-normalised; degenerate vectors become zero. A change
// of heaviness is pushed to every client right away on the control channel,
// on top of being part of the next snapshots.
func (s *Session) ApplyInput(id uint64, input protocol.PlayerInput) error {
	ball, err := s.ballOf(id)
	if err != nil {
		return err
	}

	ball.Direction = input.Direction.NormalizeOrZero()

	if ball.Heaviness.Heavy == input.Heavy {
		return nil
	}
	ball.Heaviness.Heavy = input.Heavy

	return s.broadcast(&protocol.PlayerHeavinessChange{ID: id, Heavy: input.Heavy})
}
