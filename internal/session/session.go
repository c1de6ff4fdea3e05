// Package session is the authoritative game session: the lobby/in-game state
// machine, the player registry, input ingestion, the per-tick snapshot and
// the connect/disconnect bookkeeping that keeps clients' mirrors consistent.
//
// A Session is owned by the tick loop. Nothing in here locks; every method
// must be called from that one goroutine.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/blukai/bong/internal/debug"
	"github.com/blukai/bong/internal/heavy"
	"github.com/blukai/bong/internal/lobby"
	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/physics"
	"github.com/blukai/bong/internal/protocol"
	"github.com/blukai/bong/internal/vecmath"
	"github.com/phuslu/log"
)

// RequiredPlayers is the player count at which the lobby turns into a game.
const RequiredPlayers = 2

var (
	// ErrStaleReference means a message referenced a player or entity that
	// is gone. It is benign; the message is dropped.
	ErrStaleReference = errors.New("stale reference")
	ErrStopped        = errors.New("session stopped")
)

type State uint8

const (
	Lobby State = iota
	InGame
)

func (s State) String() string {
	if s == InGame {
		return "in-game"
	}
	return "lobby"
}

// Network is what the session needs from the transport.
type Network interface {
	ClientIDs() []uint64
	ReceiveMessage(clientID uint64, channel protocol.ChannelID) ([]byte, bool)
	Broadcast(channel protocol.ChannelID, data []byte) error
}

// Ball is the replicated state of a player's body. Position lives in the
// physics world.
type Ball struct {
	Owner     uint64
	Direction vecmath.Vec2
	Heaviness heavy.Heaviness
}

type Session struct {
	state   State
	stopped bool
	tick    uint32

	registry *lobby.Registry[physics.Handle]
	balls    map[physics.Handle]*Ball

	world  physics.World
	net    Network
	logger *log.Logger
}

func New(world physics.World, net Network, logger *log.Logger) *Session {
	return &Session{
		state:    Lobby,
		registry: lobby.NewRegistry[physics.Handle](),
		balls:    make(map[physics.Handle]*Ball),
		world:    world,
		net:      net,
		logger:   logx.OrDiscard(logger),
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Stopped() bool {
	return s.stopped
}

// Tick returns the number of completed steps.
func (s *Session) Tick() uint32 {
	return s.tick
}

func (s *Session) PlayerCount() int {
	return s.registry.Len()
}

// Player returns a copy of a player's data.
func (s *Session) Player(id uint64) (lobby.PlayerData[physics.Handle], bool) {
	data, ok := s.registry.Get(id)
	if !ok {
		return lobby.PlayerData[physics.Handle]{}, false
	}
	return *data, true
}

// Ball returns a copy of the ball owned by player id.
func (s *Session) Ball(id uint64) (Ball, bool) {
	ball, err := s.ballOf(id)
	if err != nil {
		return Ball{}, false
	}
	return *ball, true
}

func (s *Session) ballOf(id uint64) (*Ball, error) {
	data, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: player %d", ErrStaleReference, id)
	}
	if !data.HasEntity {
		return nil, fmt.Errorf("%w: player %d has no entity", ErrStaleReference, id)
	}
	ball, ok := s.balls[data.Entity]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s of player %d", ErrStaleReference, data.Entity, id)
	}
	return ball, nil
}

// Step runs one tick in fixed order: ingest input, advance the simulation,
// evaluate the state transition, broadcast the snapshot. Connect and
// disconnect events must be applied before calling Step.
//
// Any returned error is structural (e.g. a reliable channel ran out of
// budget) and should end the session.
func (s *Session) Step(dt time.Duration) error {
	if s.stopped {
		return ErrStopped
	}

	if err := s.ingest(); err != nil {
		return err
	}

	if s.state == InGame {
		s.simulate(dt)
	}

	if err := s.checkPlayerCount(); err != nil {
		return err
	}

	if s.state == InGame {
		if err := s.broadcastSnapshot(); err != nil {
			return err
		}
	}

	s.tick++
	return nil
}

// checkPlayerCount is the only place that changes state.
func (s *Session) checkPlayerCount() error {
	count := s.registry.Len()
	switch s.state {
	case Lobby:
		if count >= RequiredPlayers {
			return s.enterGame()
		}
	case InGame:
		if count < RequiredPlayers {
			return s.enterLobby()
		}
	default:
		debug.Unreachable(fmt.Sprintf("unknown state %d", s.state))
	}
	return nil
}

func (s *Session) enterGame() error {
	debug.Assert(len(s.balls) == 0, "balls left over from a previous game")
	s.registry.AssignSpawningLocations()

	msg := &protocol.EnterGame{}
	for _, id := range s.registry.IDs() {
		data, _ := s.registry.Get(id)
		h := s.world.SpawnBody(data.SpawningLocation)
		data.SetEntity(h)
		s.balls[h] = &Ball{Owner: id}

		msg.Players = append(msg.Players, protocol.PlayerInfo{
			ID:               id,
			SpawningLocation: data.SpawningLocation,
		})
	}
	s.state = InGame

	s.logger.Info().
		Int("players", len(msg.Players)).
		Uint32("tick", s.tick).
		Msg("starting game")

	return s.broadcast(msg)
}

func (s *Session) enterLobby() error {
	for _, id := range s.registry.IDs() {
		data, _ := s.registry.Get(id)
		s.despawn(id, data)
	}
	// nothing should be left, but a ball without an owner would leak a body
	for h := range s.balls {
		if err := s.world.DespawnBody(h); err != nil {
			s.logger.Warn().Msgf("could not despawn orphan ball %s: %v", h, err)
		}
		delete(s.balls, h)
	}
	s.registry.ClearEntities()
	s.state = Lobby

	s.logger.Info().
		Int("players", s.registry.Len()).
		Uint32("tick", s.tick).
		Msg("starting lobby")

	return s.broadcast(&protocol.EnterLobby{})
}

func (s *Session) despawn(id uint64, data *lobby.PlayerData[physics.Handle]) {
	if !data.HasEntity {
		return
	}
	if err := s.world.DespawnBody(data.Entity); err != nil {
		s.logger.Warn().
			Uint64("player_id", id).
			Msgf("could not despawn ball: %v", err)
	}
	delete(s.balls, data.Entity)
	data.ClearEntity()
}

// Stop broadcasts Stop. The session is terminal afterwards.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.logger.Info().Msg("stopping")
	return s.broadcast(&protocol.Stop{})
}

func (s *Session) broadcast(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.net.Broadcast(msg.Channel(), data); err != nil {
		return fmt.Errorf("could not broadcast %s: %w", msg.Tag(), err)
	}
	return nil
}
