package gameclient

import (
	"fmt"
	"time"

	"github.com/blukai/bong/internal/heavy"
	"github.com/blukai/bong/internal/lobby"
	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/protocol"
	"github.com/blukai/bong/internal/session"
	"github.com/blukai/bong/internal/vecmath"
	"github.com/phuslu/log"
)

// Ball is the local copy of a player's ball. Position and direction come
// from snapshots; the heaviness timer runs locally by the same law as on
// the server.
type Ball struct {
	Position  vecmath.Vec2
	Direction vecmath.Vec2
	Heaviness heavy.Heaviness
}

// PlayerView is what a renderer needs to draw one player.
type PlayerView struct {
	ID        uint64
	Local     bool
	Position  vecmath.Vec2
	Direction vecmath.Vec2
	Heavy     bool
	// Saturation is how far the heaviness timer has run, in [0, 1]. Balls
	// lose colour as it grows.
	Saturation float32
}

// Mirror is the client's replica of the session: a registry of the other
// players and their balls. It trusts the server and tolerates messages
// about players it does not know (those are stale).
type Mirror struct {
	localID  uint64
	state    session.State
	stopped  bool
	registry *lobby.Registry[*Ball]

	lastTick uint32
	hasTick  bool

	logger *log.Logger
}

func NewMirror(localID uint64, logger *log.Logger) *Mirror {
	return &Mirror{
		localID:  localID,
		state:    session.Lobby,
		registry: lobby.NewRegistry[*Ball](),
		logger:   logx.OrDiscard(logger),
	}
}

func (m *Mirror) State() session.State {
	return m.state
}

// Stopped reports whether the server ended the session.
func (m *Mirror) Stopped() bool {
	return m.stopped
}

func (m *Mirror) stop() {
	if m.stopped {
		return
	}
	m.stopped = true
	m.logger.Info().Msg("session stopped")
}

// Apply updates the mirror with a message from the server.
func (m *Mirror) Apply(msg protocol.Message) error {
	switch msg := msg.(type) {
	case *protocol.EnterLobby:
		m.enterLobby()
	case *protocol.EnterGame:
		m.enterGame(msg)
	case *protocol.Stop:
		m.stop()
	case *protocol.PlayerLeft:
		m.playerLeft(msg.ID)
	case *protocol.PlayerHeavinessChange:
		ball := m.ball(msg.ID)
		if ball == nil {
			m.logger.Debug().Uint64("player_id", msg.ID).Msg("heaviness change for unknown player")
			return nil
		}
		ball.Heaviness.Heavy = msg.Heavy
	case *protocol.NetworkedEntities:
		m.applySnapshot(msg)
	default:
		return fmt.Errorf("unexpected %s from server", msg.Tag())
	}
	return nil
}

func (m *Mirror) enterLobby() {
	m.registry.Reset()
	m.state = session.Lobby
	m.logger.Info().Msg("entered lobby")
}

func (m *Mirror) enterGame(msg *protocol.EnterGame) {
	m.registry.Reset()
	for _, p := range msg.Players {
		data, err := m.registry.Insert(p.ID)
		if err != nil {
			m.logger.Warn().Msgf("skipping player: %v", err)
			continue
		}
		data.SpawningLocation = p.SpawningLocation
		data.SetEntity(&Ball{Position: p.SpawningLocation})
	}
	m.state = session.InGame

	m.logger.Info().
		Int("players", m.registry.Len()).
		Msg("entered game")
}

func (m *Mirror) playerLeft(id uint64) {
	if _, ok := m.registry.Remove(id); !ok {
		m.logger.Debug().Uint64("player_id", id).Msg("unknown player left")
		return
	}
	m.logger.Info().Uint64("player_id", id).Msg("player left")
}

// applySnapshot overwrites the balls of known players. Snapshots older than
// the newest applied one are dropped; the tick counter may wrap. The server
// tick keeps counting across games, so a late snapshot of a previous game
// is dropped too.
func (m *Mirror) applySnapshot(msg *protocol.NetworkedEntities) {
	if m.state != session.InGame {
		return
	}
	if m.hasTick && int32(msg.Tick-m.lastTick) <= 0 {
		m.logger.Trace().
			Uint32("tick", msg.Tick).
			Uint32("last_tick", m.lastTick).
			Msg("dropping stale snapshot")
		return
	}
	m.lastTick = msg.Tick
	m.hasTick = true

	for id, entity := range msg.Entities {
		ball := m.ball(id)
		if ball == nil {
			continue
		}
		ball.Position = entity.Position
		ball.Direction = entity.Direction
		ball.Heaviness.Heavy = entity.Heavy
	}
}

func (m *Mirror) ball(id uint64) *Ball {
	data, ok := m.registry.Get(id)
	if !ok || !data.HasEntity {
		return nil
	}
	return data.Entity
}

// Advance runs the local heaviness timers.
func (m *Mirror) Advance(dt time.Duration) {
	for _, id := range m.registry.IDs() {
		if ball := m.ball(id); ball != nil {
			ball.Heaviness.Tick(dt)
		}
	}
}

// Players returns a view of every player with a ball, in id order.
func (m *Mirror) Players() []PlayerView {
	ids := m.registry.IDs()
	views := make([]PlayerView, 0, len(ids))
	for _, id := range ids {
		ball := m.ball(id)
		if ball == nil {
			continue
		}
		views = append(views, PlayerView{
			ID:         id,
			Local:      id == m.localID,
			Position:   ball.Position,
			Direction:  ball.Direction,
			Heavy:      ball.Heaviness.Heavy,
			Saturation: ball.Heaviness.Ratio(),
		})
	}
	return views
}
