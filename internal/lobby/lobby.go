// Package lobby holds the player registry: the mapping from a connection's
// player id to that player's session data.
package lobby

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blukai/bong/internal/vecmath"
)

var ErrDuplicatePlayer = errors.New("player already registered")

// SpawningLocations are the fixed spawn slots, handed out in ascending player
// id order when a game starts.
var SpawningLocations = []vecmath.Vec2{
	{X: -100, Y: 0},
	{X: 100, Y: 0},
}

// PlayerData is per-player state. Entity is a weak, side-local reference to
// whatever object represents the player (a physics body on the server, a
// mirrored ball on the client); it is never sent over the wire.
type PlayerData[E comparable] struct {
	SpawningLocation vecmath.Vec2
	Entity           E
	HasEntity        bool
}

// ClearEntity drops the entity reference.
func (p *PlayerData[E]) ClearEntity() {
	var zero E
	p.Entity = zero
	p.HasEntity = false
}

func (p *PlayerData[E]) SetEntity(e E) {
	p.Entity = e
	p.HasEntity = true
}

// Registry maps player ids to PlayerData. It is owned by a single goroutine
// (the tick loop) and does no locking.
type Registry[E comparable] struct {
	players map[uint64]*PlayerData[E]
}

func NewRegistry[E comparable]() *Registry[E] {
	return &Registry[E]{
		players: make(map[uint64]*PlayerData[E]),
	}
}

// Insert registers id with default PlayerData.
func (r *Registry[E]) Insert(id uint64) (*PlayerData[E], error) {
	if _, ok := r.players[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicatePlayer, id)
	}
	data := &PlayerData[E]{}
	r.players[id] = data
	return data, nil
}

// Remove deletes id and returns its data. ok is false if id was unknown.
func (r *Registry[E]) Remove(id uint64) (data *PlayerData[E], ok bool) {
	data, ok = r.players[id]
	if ok {
		delete(r.players, id)
	}
	return data, ok
}

func (r *Registry[E]) Get(id uint64) (*PlayerData[E], bool) {
	data, ok := r.players[id]
	return data, ok
}

func (r *Registry[E]) Len() int {
	return len(r.players)
}

// IDs returns registered ids in ascending order.
func (r *Registry[E]) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AssignSpawningLocations freezes each player's spawn slot. Players beyond
// the number of slots wrap around.
func (r *Registry[E]) AssignSpawningLocations() {
	for i, id := range r.IDs() {
		r.players[id].SpawningLocation = SpawningLocations[i%len(SpawningLocations)]
	}
}

// ClearEntities drops every entity reference.
func (r *Registry[E]) ClearEntities() {
	for _, data := range r.players {
		data.ClearEntity()
	}
}

// Reset removes all players.
func (r *Registry[E]) Reset() {
	clear(r.players)
}
