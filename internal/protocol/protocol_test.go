package protocol_test

import (
	"errors"
	"math"
	"testing"

	"github.com/blukai/bong/internal/protocol"
	"github.com/blukai/bong/internal/vecmath"
	"github.com/matryer/is"
)

func TestHeaderEncoding(t *testing.T) {
	is := is.New(t)

	original := protocol.Header{Version: protocol.Version, Tag: protocol.TagStop}

	encoded, err := original.MarshalBinary()
	is.NoErr(err)
	is.Equal(len(encoded), protocol.HeaderSize)

	decoded := protocol.Header{}
	err = decoded.UnmarshalBinary(encoded)
	is.NoErr(err)
	is.Equal(original, decoded)
}

func TestChannelTable(t *testing.T) {
	is := is.New(t)

	channels := protocol.Channels()
	is.Equal(len(channels), 3)

	for i, ch := range channels {
		is.Equal(int(ch.ID), i)
		is.True(ch.MaxMemoryBytes > 0)
	}
	is.Equal(channels[protocol.ChannelControl].Reliability, protocol.ReliableOrdered)
	is.Equal(channels[protocol.ChannelInput].Reliability, protocol.Unreliable)
	is.Equal(channels[protocol.ChannelSnapshot].Reliability, protocol.Unreliable)

	_, ok := protocol.LookupChannel(3)
	is.True(!ok)
}

func TestMessageChannels(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		msg     protocol.Message
		channel protocol.ChannelID
	}{
		{&protocol.EnterLobby{}, protocol.ChannelControl},
		{&protocol.EnterGame{}, protocol.ChannelControl},
		{&protocol.Stop{}, protocol.ChannelControl},
		{&protocol.PlayerLeft{}, protocol.ChannelControl},
		{&protocol.PlayerHeavinessChange{}, protocol.ChannelControl},
		{&protocol.PlayerInput{}, protocol.ChannelInput},
		{&protocol.NetworkedEntities{}, protocol.ChannelSnapshot},
	}

	for _, tc := range testCases {
		is.Equal(tc.msg.Channel(), tc.channel)
	}
}

func TestEnterGameIsDeterministic(t *testing.T) {
	is := is.New(t)

	a := &protocol.EnterGame{Players: []protocol.PlayerInfo{
		{ID: 7, SpawningLocation: vecmath.Vec2{X: 100}},
		{ID: 3, SpawningLocation: vecmath.Vec2{X: -100}},
	}}
	b := &protocol.EnterGame{Players: []protocol.PlayerInfo{a.Players[1], a.Players[0]}}

	encodedA, err := protocol.Encode(a)
	is.NoErr(err)
	encodedB, err := protocol.Encode(b)
	is.NoErr(err)
	is.Equal(encodedA, encodedB)

	msg, err := protocol.Decode(encodedA)
	is.NoErr(err)
	decoded, ok := msg.(*protocol.EnterGame)
	is.True(ok)
	is.Equal(len(decoded.Players), 2)
	is.Equal(decoded.Players[0].ID, uint64(3))
	is.Equal(decoded.Players[0].SpawningLocation, vecmath.Vec2{X: -100})
	is.Equal(decoded.Players[1].ID, uint64(7))
}

func TestNetworkedEntitiesEncoding(t *testing.T) {
	is := is.New(t)

	original := &protocol.NetworkedEntities{
		Tick: 42,
		Entities: map[uint64]protocol.NetworkedEntity{
			1: {
				Position:  vecmath.Vec2{X: -100.5, Y: 12},
				Direction: vecmath.UnitX,
				Heavy:     true,
			},
			math.MaxUint64: {
				Position:  vecmath.Vec2{X: 3, Y: -4},
				Direction: vecmath.Zero,
			},
		},
	}

	encoded, err := protocol.Encode(original)
	is.NoErr(err)

	msg, err := protocol.Decode(encoded)
	is.NoErr(err)
	is.Equal(msg, original)
}

func TestPlayerInputKeepsRawDirection(t *testing.T) {
	is := is.New(t)

	// the codec carries whatever the peer sent; normalisation is the
	// receiver's job
	original := &protocol.PlayerInput{Direction: vecmath.Vec2{X: 3, Y: 4}, Heavy: true}

	encoded, err := protocol.Encode(original)
	is.NoErr(err)
	is.Equal(len(encoded), protocol.HeaderSize+9)

	msg, err := protocol.Decode(encoded)
	is.NoErr(err)
	is.Equal(msg, original)
}

func TestDecodeErrors(t *testing.T) {
	is := is.New(t)

	left, err := protocol.Encode(&protocol.PlayerLeft{ID: 9})
	is.NoErr(err)
	heaviness, err := protocol.Encode(&protocol.PlayerHeavinessChange{ID: 9, Heavy: true})
	is.NoErr(err)
	badBool := append([]byte{}, heaviness...)
	badBool[len(badBool)-1] = 2

	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, protocol.ErrTruncated},
		{"header only half", []byte{protocol.Version}, protocol.ErrTruncated},
		{"unknown tag", []byte{protocol.Version, 200}, protocol.ErrUnknownTag},
		{"zero tag", []byte{protocol.Version, 0}, protocol.ErrUnknownTag},
		{"future version", []byte{protocol.Version + 1, uint8(protocol.TagStop)}, protocol.ErrUnsupportedVersion},
		{"truncated payload", left[:len(left)-1], protocol.ErrTruncated},
		{"trailing bytes", append(append([]byte{}, left...), 0), protocol.ErrTrailingBytes},
		{"bad bool", badBool, protocol.ErrInvalidValue},
		{"forged count", []byte{protocol.Version, uint8(protocol.TagEnterGame), 255}, protocol.ErrTruncated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)

			msg, err := protocol.Decode(tc.data)
			is.True(msg == nil)
			is.True(errors.Is(err, tc.want))

			var protoErr *protocol.ProtocolError
			is.True(errors.As(err, &protoErr))
		})
	}
}

func TestDuplicateSnapshotEntryIsRejected(t *testing.T) {
	is := is.New(t)

	one, err := protocol.Encode(&protocol.NetworkedEntities{
		Tick:     1,
		Entities: map[uint64]protocol.NetworkedEntity{5: {}},
	})
	is.NoErr(err)

	// header (2) + tick (4) + count (1), then one entry
	entry := one[7:]
	forged := append([]byte{}, one[:6]...)
	forged = append(forged, 2)
	forged = append(forged, entry...)
	forged = append(forged, entry...)

	_, err = protocol.Decode(forged)
	is.True(errors.Is(err, protocol.ErrInvalidValue))
}

func TestTooManyEntries(t *testing.T) {
	is := is.New(t)

	players := make([]protocol.PlayerInfo, protocol.MaxEntries+1)
	for i := range players {
		players[i].ID = uint64(i)
	}
	_, err := protocol.Encode(&protocol.EnterGame{Players: players})
	is.True(errors.Is(err, protocol.ErrTooManyEntries))
}
