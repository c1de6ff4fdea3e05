package protocol

import (
	"encoding"
	"fmt"
	"math"
	"sort"

	"github.com/blukai/bong/internal/byteorder"
	"github.com/blukai/bong/internal/debug"
	"github.com/blukai/bong/internal/vecmath"
)

// Every message is framed as
//
//	version (u8) | tag (u8) | payload
//
// with all multi-byte fields in network byte order. Bump Version whenever a
// payload layout changes.
const (
	Version    uint8 = 1
	HeaderSize       = 2 // uint8 (1) + uint8 (1) = 2

	// MaxEntries bounds the player lists of EnterGame and NetworkedEntities
	// (their counts are encoded as a single byte).
	MaxEntries = math.MaxUint8
)

// Tag numbers are part of the wire format. Append only.
type Tag uint8

const (
	_ Tag = iota

	// NOTE(blukai): server -> client, control channel
	TagEnterLobby
	TagEnterGame
	TagStop
	TagPlayerLeft
	TagPlayerHeavinessChange

	// NOTE(blukai): client -> server, input channel
	TagPlayerInput

	// NOTE(blukai): server -> client, snapshot channel
	TagNetworkedEntities

	TagMax
)

var tagNames = [TagMax]string{
	TagEnterLobby:            "EnterLobby",
	TagEnterGame:             "EnterGame",
	TagStop:                  "Stop",
	TagPlayerLeft:            "PlayerLeft",
	TagPlayerHeavinessChange: "PlayerHeavinessChange",
	TagPlayerInput:           "PlayerInput",
	TagNetworkedEntities:     "NetworkedEntities",
}

func (t Tag) String() string {
	if t > 0 && t < TagMax {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

type Header struct {
	Version uint8
	Tag     Tag
}

var (
	_ encoding.BinaryMarshaler   = (*Header)(nil)
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
)

func (h *Header) MarshalBinary() ([]byte, error) {
	return []byte{h.Version, uint8(h.Tag)}, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return protocolErr(0, ErrTruncated)
	}
	h.Version = data[0]
	h.Tag = Tag(data[1])
	return nil
}

// Message is a value sent over one of the fixed channels.
type Message interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	Tag() Tag
	Channel() ChannelID
}

// Encode frames msg for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s: %w", msg.Tag(), err)
	}
	return data, nil
}

// Decode parses a framed message. Any failure is a *ProtocolError.
func Decode(data []byte) (Message, error) {
	header := Header{}
	if err := header.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if header.Version != Version {
		return nil, protocolErr(header.Tag, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version))
	}

	var msg Message
	switch header.Tag {
	case TagEnterLobby:
		msg = &EnterLobby{}
	case TagEnterGame:
		msg = &EnterGame{}
	case TagStop:
		msg = &Stop{}
	case TagPlayerLeft:
		msg = &PlayerLeft{}
	case TagPlayerHeavinessChange:
		msg = &PlayerHeavinessChange{}
	case TagPlayerInput:
		msg = &PlayerInput{}
	case TagNetworkedEntities:
		msg = &NetworkedEntities{}
	default:
		return nil, protocolErr(header.Tag, ErrUnknownTag)
	}

	if err := msg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return msg, nil
}

func appendHeader(buf []byte, tag Tag) []byte {
	return append(buf, Version, uint8(tag))
}

func appendVec2(buf []byte, v vecmath.Vec2) []byte {
	buf = byteorder.AppendHtonf(buf, v.X)
	return byteorder.AppendHtonf(buf, v.Y)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// reader is a bounds checked cursor over a framed message. The first error
// sticks; subsequent reads return zero values.
type reader struct {
	tag  Tag
	data []byte
	off  int
	err  error
}

func newReader(tag Tag, data []byte) *reader {
	r := &reader{tag: tag, data: data}
	header := Header{}
	if err := header.UnmarshalBinary(data); err != nil {
		r.err = err
		return r
	}
	if header.Tag != tag {
		r.err = protocolErr(tag, fmt.Errorf("%w: tag %s", ErrInvalidValue, header.Tag))
		return r
	}
	if header.Version != Version {
		r.err = protocolErr(tag, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version))
		return r
	}
	r.off = HeaderSize
	return r
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = protocolErr(r.tag, ErrTruncated)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return byteorder.Ntohll(b)
}

func (r *reader) float32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return byteorder.Ntohf(b)
}

func (r *reader) vec2() vecmath.Vec2 {
	x := r.float32()
	y := r.float32()
	return vecmath.Vec2{X: x, Y: y}
}

func (r *reader) bool() bool {
	v := r.uint8()
	if r.err == nil && v > 1 {
		r.err = protocolErr(r.tag, fmt.Errorf("%w: bool byte %d", ErrInvalidValue, v))
	}
	return v == 1
}

// count reads an entry count and checks that the remaining bytes can hold
// that many entries of entrySize, so a forged count cannot make us allocate.
func (r *reader) count(entrySize int) int {
	n := int(r.uint8())
	if r.err == nil && len(r.data)-r.off < n*entrySize {
		r.err = protocolErr(r.tag, ErrTruncated)
		return 0
	}
	return n
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return protocolErr(r.tag, fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.data)-r.off))
	}
	return nil
}

// EnterLobby tells clients the session went back to the lobby.
type EnterLobby struct{}

func (*EnterLobby) Tag() Tag           { return TagEnterLobby }
func (*EnterLobby) Channel() ChannelID { return ChannelControl }

func (m *EnterLobby) MarshalBinary() ([]byte, error) {
	return appendHeader(make([]byte, 0, HeaderSize), m.Tag()), nil
}

func (m *EnterLobby) UnmarshalBinary(data []byte) error {
	return newReader(m.Tag(), data).finish()
}

// PlayerInfo is a player's identity and spawn location as announced in
// EnterGame.
type PlayerInfo struct {
	ID               uint64
	SpawningLocation vecmath.Vec2
}

const playerInfoSize = 8 + 4 + 4

// EnterGame starts a game. Players are encoded in ascending ID order.
type EnterGame struct {
	Players []PlayerInfo
}

func (*EnterGame) Tag() Tag           { return TagEnterGame }
func (*EnterGame) Channel() ChannelID { return ChannelControl }

func (m *EnterGame) MarshalBinary() ([]byte, error) {
	if len(m.Players) > MaxEntries {
		return nil, fmt.Errorf("%w: %d players", ErrTooManyEntries, len(m.Players))
	}

	players := make([]PlayerInfo, len(m.Players))
	copy(players, m.Players)
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	buf := make([]byte, 0, HeaderSize+1+len(players)*playerInfoSize)
	buf = appendHeader(buf, m.Tag())
	buf = append(buf, uint8(len(players)))
	for _, p := range players {
		buf = byteorder.AppendHtonll(buf, p.ID)
		buf = appendVec2(buf, p.SpawningLocation)
	}
	return buf, nil
}

func (m *EnterGame) UnmarshalBinary(data []byte) error {
	r := newReader(m.Tag(), data)
	n := r.count(playerInfoSize)
	players := make([]PlayerInfo, 0, n)
	seen := make(map[uint64]struct{}, n)
	for i := 0; i < n && r.err == nil; i++ {
		p := PlayerInfo{
			ID:               r.uint64(),
			SpawningLocation: r.vec2(),
		}
		if _, dup := seen[p.ID]; dup && r.err == nil {
			r.err = protocolErr(m.Tag(), fmt.Errorf("%w: duplicate player %d", ErrInvalidValue, p.ID))
		}
		seen[p.ID] = struct{}{}
		players = append(players, p)
	}
	if err := r.finish(); err != nil {
		return err
	}
	m.Players = players
	return nil
}

// Stop is broadcast once on shutdown.
type Stop struct{}

func (*Stop) Tag() Tag           { return TagStop }
func (*Stop) Channel() ChannelID { return ChannelControl }

func (m *Stop) MarshalBinary() ([]byte, error) {
	return appendHeader(make([]byte, 0, HeaderSize), m.Tag()), nil
}

func (m *Stop) UnmarshalBinary(data []byte) error {
	return newReader(m.Tag(), data).finish()
}

type PlayerLeft struct {
	ID uint64
}

func (*PlayerLeft) Tag() Tag           { return TagPlayerLeft }
func (*PlayerLeft) Channel() ChannelID { return ChannelControl }

func (m *PlayerLeft) MarshalBinary() ([]byte, error) {
	buf := appendHeader(make([]byte, 0, HeaderSize+8), m.Tag())
	return byteorder.AppendHtonll(buf, m.ID), nil
}

func (m *PlayerLeft) UnmarshalBinary(data []byte) error {
	r := newReader(m.Tag(), data)
	id := r.uint64()
	if err := r.finish(); err != nil {
		return err
	}
	m.ID = id
	return nil
}

type PlayerHeavinessChange struct {
	ID    uint64
	Heavy bool
}

func (*PlayerHeavinessChange) Tag() Tag           { return TagPlayerHeavinessChange }
func (*PlayerHeavinessChange) Channel() ChannelID { return ChannelControl }

func (m *PlayerHeavinessChange) MarshalBinary() ([]byte, error) {
	buf := appendHeader(make([]byte, 0, HeaderSize+9), m.Tag())
	buf = byteorder.AppendHtonll(buf, m.ID)
	return appendBool(buf, m.Heavy), nil
}

func (m *PlayerHeavinessChange) UnmarshalBinary(data []byte) error {
	r := newReader(m.Tag(), data)
	id := r.uint64()
	heavy := r.bool()
	if err := r.finish(); err != nil {
		return err
	}
	m.ID, m.Heavy = id, heavy
	return nil
}

// PlayerInput is what a client sends whenever its input changes. Direction
// is expected to be a unit or zero vector but receivers must not trust it.
type PlayerInput struct {
	Direction vecmath.Vec2
	Heavy     bool
}

func (*PlayerInput) Tag() Tag           { return TagPlayerInput }
func (*PlayerInput) Channel() ChannelID { return ChannelInput }

func (m *PlayerInput) MarshalBinary() ([]byte, error) {
	buf := appendHeader(make([]byte, 0, HeaderSize+9), m.Tag())
	buf = appendVec2(buf, m.Direction)
	return appendBool(buf, m.Heavy), nil
}

func (m *PlayerInput) UnmarshalBinary(data []byte) error {
	r := newReader(m.Tag(), data)
	dir := r.vec2()
	heavy := r.bool()
	if err := r.finish(); err != nil {
		return err
	}
	m.Direction, m.Heavy = dir, heavy
	return nil
}

type NetworkedEntity struct {
	Position  vecmath.Vec2
	Direction vecmath.Vec2
	Heavy     bool
}

const networkedEntitySize = 8 + 8 + 8 + 1

// NetworkedEntities is a complete snapshot of every live ball, keyed by
// player id. Tick lets receivers drop snapshots that arrive out of order.
type NetworkedEntities struct {
	Tick     uint32
	Entities map[uint64]NetworkedEntity
}

func (*NetworkedEntities) Tag() Tag           { return TagNetworkedEntities }
func (*NetworkedEntities) Channel() ChannelID { return ChannelSnapshot }

func (m *NetworkedEntities) MarshalBinary() ([]byte, error) {
	if len(m.Entities) > MaxEntries {
		return nil, fmt.Errorf("%w: %d entities", ErrTooManyEntries, len(m.Entities))
	}

	ids := make([]uint64, 0, len(m.Entities))
	for id := range m.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, HeaderSize+4+1+len(ids)*networkedEntitySize)
	buf = appendHeader(buf, m.Tag())
	buf = byteorder.AppendHtonl(buf, m.Tick)
	buf = append(buf, uint8(len(ids)))
	for _, id := range ids {
		e := m.Entities[id]
		buf = byteorder.AppendHtonll(buf, id)
		buf = appendVec2(buf, e.Position)
		buf = appendVec2(buf, e.Direction)
		buf = appendBool(buf, e.Heavy)
	}
	debug.Assert(len(buf) == HeaderSize+4+1+len(ids)*networkedEntitySize)
	return buf, nil
}

func (m *NetworkedEntities) UnmarshalBinary(data []byte) error {
	r := newReader(m.Tag(), data)
	var tick uint32
	if b := r.take(4); b != nil {
		tick = byteorder.Ntohl(b)
	}
	n := r.count(networkedEntitySize)
	entities := make(map[uint64]NetworkedEntity, n)
	for i := 0; i < n && r.err == nil; i++ {
		id := r.uint64()
		e := NetworkedEntity{
			Position:  r.vec2(),
			Direction: r.vec2(),
			Heavy:     r.bool(),
		}
		if _, dup := entities[id]; dup && r.err == nil {
			r.err = protocolErr(m.Tag(), fmt.Errorf("%w: duplicate entity %d", ErrInvalidValue, id))
		}
		entities[id] = e
	}
	if err := r.finish(); err != nil {
		return err
	}
	m.Tick, m.Entities = tick, entities
	return nil
}
