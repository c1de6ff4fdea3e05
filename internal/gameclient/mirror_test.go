package gameclient_test

import (
	"testing"
	"time"

	"github.com/blukai/bong/internal/gameclient"
	"github.com/blukai/bong/internal/heavy"
	"github.com/blukai/bong/internal/protocol"
	"github.com/blukai/bong/internal/session"
	"github.com/blukai/bong/internal/vecmath"
	"github.com/matryer/is"
)

func enterGame() *protocol.EnterGame {
	return &protocol.EnterGame{Players: []protocol.PlayerInfo{
		{ID: 1, SpawningLocation: vecmath.Vec2{X: -100}},
		{ID: 2, SpawningLocation: vecmath.Vec2{X: 100}},
	}}
}

func TestMirrorEnterGame(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(2, nil)
	is.Equal(m.State(), session.Lobby)
	is.Equal(len(m.Players()), 0)

	is.NoErr(m.Apply(enterGame()))
	is.Equal(m.State(), session.InGame)

	players := m.Players()
	is.Equal(len(players), 2)
	is.Equal(players[0].ID, uint64(1))
	is.Equal(players[0].Position, vecmath.Vec2{X: -100})
	is.True(!players[0].Local)
	is.True(players[1].Local)

	is.NoErr(m.Apply(&protocol.EnterLobby{}))
	is.Equal(m.State(), session.Lobby)
	is.Equal(len(m.Players()), 0)
}

func TestMirrorSnapshot(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)

	// snapshots before a game are ignored
	is.NoErr(m.Apply(&protocol.NetworkedEntities{Tick: 1}))

	is.NoErr(m.Apply(enterGame()))
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick: 10,
		Entities: map[uint64]protocol.NetworkedEntity{
			1:  {Position: vecmath.Vec2{X: -90, Y: -150}, Direction: vecmath.UnitX, Heavy: true},
			99: {Position: vecmath.Vec2{X: 5}},
		},
	}))

	players := m.Players()
	is.Equal(len(players), 2)
	is.Equal(players[0].Position, vecmath.Vec2{X: -90, Y: -150})
	is.Equal(players[0].Direction, vecmath.UnitX)
	is.True(players[0].Heavy)
	// not in the snapshot, left alone
	is.Equal(players[1].Position, vecmath.Vec2{X: 100})

	// older snapshot is dropped
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick: 9,
		Entities: map[uint64]protocol.NetworkedEntity{
			1: {Position: vecmath.Vec2{X: 0}},
		},
	}))
	is.Equal(m.Players()[0].Position, vecmath.Vec2{X: -90, Y: -150})
}

func TestMirrorDropsSnapshotOfPreviousGame(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.NoErr(m.Apply(enterGame()))
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     10,
		Entities: map[uint64]protocol.NetworkedEntity{1: {Position: vecmath.Vec2{X: -200}}},
	}))

	is.NoErr(m.Apply(&protocol.EnterLobby{}))
	is.NoErr(m.Apply(enterGame()))

	// reordered snapshot from before the lobby
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     9,
		Entities: map[uint64]protocol.NetworkedEntity{1: {Position: vecmath.Vec2{X: -200}}},
	}))
	is.Equal(m.Players()[0].Position, vecmath.Vec2{X: -100})

	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     12,
		Entities: map[uint64]protocol.NetworkedEntity{1: {Position: vecmath.Vec2{X: -95}}},
	}))
	is.Equal(m.Players()[0].Position, vecmath.Vec2{X: -95})
}

func TestMirrorSnapshotTickWraps(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.NoErr(m.Apply(enterGame()))

	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     ^uint32(0),
		Entities: map[uint64]protocol.NetworkedEntity{1: {Position: vecmath.Vec2{X: 1}}},
	}))
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     0,
		Entities: map[uint64]protocol.NetworkedEntity{1: {Position: vecmath.Vec2{X: 2}}},
	}))
	is.Equal(m.Players()[0].Position, vecmath.Vec2{X: 2})
}

func TestMirrorPlayerLeft(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.NoErr(m.Apply(enterGame()))

	is.NoErr(m.Apply(&protocol.PlayerLeft{ID: 2}))
	is.Equal(len(m.Players()), 1)

	// unknown ids are tolerated
	is.NoErr(m.Apply(&protocol.PlayerLeft{ID: 2}))
	is.NoErr(m.Apply(&protocol.PlayerHeavinessChange{ID: 2, Heavy: true}))
	is.NoErr(m.Apply(&protocol.NetworkedEntities{
		Tick:     1,
		Entities: map[uint64]protocol.NetworkedEntity{2: {}},
	}))
	is.Equal(len(m.Players()), 1)
}

func TestMirrorHeaviness(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.NoErr(m.Apply(enterGame()))
	is.NoErr(m.Apply(&protocol.PlayerHeavinessChange{ID: 1, Heavy: true}))

	m.Advance(heavy.Duration / 2)
	view := m.Players()[0]
	is.True(view.Heavy)
	is.Equal(view.Saturation, float32(0.5))

	m.Advance(heavy.Duration)
	is.Equal(m.Players()[0].Saturation, float32(1))

	is.NoErr(m.Apply(&protocol.PlayerHeavinessChange{ID: 1, Heavy: false}))
	m.Advance(time.Second)
	view = m.Players()[0]
	is.True(!view.Heavy)
	is.Equal(view.Saturation, float32(0))
}

func TestMirrorStop(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.True(!m.Stopped())
	is.NoErr(m.Apply(&protocol.Stop{}))
	is.True(m.Stopped())
}

func TestMirrorRejectsClientMessages(t *testing.T) {
	is := is.New(t)

	m := gameclient.NewMirror(1, nil)
	is.True(m.Apply(&protocol.PlayerInput{}) != nil)
}
