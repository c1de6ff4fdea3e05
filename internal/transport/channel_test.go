package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/blukai/bong/internal/protocol"
	"github.com/matryer/is"
)

func smallChannel(reliability protocol.Reliability, budget int) protocol.ChannelConfig {
	return protocol.ChannelConfig{ID: protocol.ChannelControl, Reliability: reliability, MaxMemoryBytes: budget}
}

func TestUnreliableSendDropsOldest(t *testing.T) {
	is := is.New(t)

	ch := newSendChannel(smallChannel(protocol.Unreliable, 10))
	is.NoErr(ch.push([]byte("aaaa")))
	is.NoErr(ch.push([]byte("bbbb")))
	is.NoErr(ch.push([]byte("cccc")))
	is.Equal(ch.dropped, uint64(1))

	due := ch.due(time.Now(), time.Second)
	is.Equal(len(due), 2)
	is.Equal(due[0].data, []byte("bbbb"))
	is.Equal(due[1].data, []byte("cccc"))

	// unreliable data goes out once
	is.Equal(len(ch.due(time.Now(), 0)), 0)
	is.Equal(ch.bytes, 0)
}

func TestReliableSendOverBudgetIsCapacityError(t *testing.T) {
	is := is.New(t)

	ch := newSendChannel(smallChannel(protocol.ReliableOrdered, 10))
	is.NoErr(ch.push([]byte("aaaa")))
	is.NoErr(ch.push([]byte("bbbb")))

	err := ch.push([]byte("cccc"))
	var capErr *CapacityError
	is.True(errors.As(err, &capErr))
	is.Equal(capErr.Queued, 8)
	is.Equal(capErr.InFlight, 2)

	// acking frees budget
	ch.ack(0)
	is.NoErr(ch.push([]byte("cccc")))
}

func TestReliableSendResendsUntilAcked(t *testing.T) {
	is := is.New(t)

	ch := newSendChannel(smallChannel(protocol.ReliableOrdered, 100))
	is.NoErr(ch.push([]byte("a")))
	is.NoErr(ch.push([]byte("b")))

	now := time.Now()
	is.Equal(len(ch.due(now, time.Second)), 2)
	is.Equal(len(ch.due(now.Add(time.Millisecond), time.Second)), 0)

	ch.ack(1)
	due := ch.due(now.Add(time.Second), time.Second)
	is.Equal(len(due), 1)
	is.Equal(due[0].seq, uint16(0))
}

func TestMessageTooLarge(t *testing.T) {
	is := is.New(t)

	ch := newSendChannel(smallChannel(protocol.ReliableOrdered, protocol.MaxChannelMemory))
	err := ch.push(make([]byte, MaxMessageSize+1))
	is.True(errors.Is(err, ErrMessageTooLarge))
}

func TestReliableReceiveOrders(t *testing.T) {
	is := is.New(t)

	ch := newRecvChannel(smallChannel(protocol.ReliableOrdered, 100))

	is.True(ch.receive(entry{seq: 2, data: []byte("c")}))
	is.True(ch.receive(entry{seq: 1, data: []byte("b")}))
	_, ok := ch.pop()
	is.True(!ok)

	is.True(ch.receive(entry{seq: 0, data: []byte("a")}))
	// duplicate of a delivered message is acked again but not delivered
	is.True(ch.receive(entry{seq: 1, data: []byte("b")}))

	var got [][]byte
	for {
		data, ok := ch.pop()
		if !ok {
			break
		}
		got = append(got, data)
	}
	is.Equal(bytes.Join(got, nil), []byte("abc"))
}

func TestReliableReceiveAcrossWrapAround(t *testing.T) {
	is := is.New(t)

	ch := newRecvChannel(smallChannel(protocol.ReliableOrdered, 100))
	ch.nextSeq = 65535

	is.True(ch.receive(entry{seq: 0, data: []byte("b")}))
	is.True(ch.receive(entry{seq: 65535, data: []byte("a")}))

	first, _ := ch.pop()
	second, _ := ch.pop()
	is.Equal(first, []byte("a"))
	is.Equal(second, []byte("b"))
	is.Equal(ch.nextSeq, uint16(1))
}

func TestUnreliableReceiveDropsStale(t *testing.T) {
	is := is.New(t)

	ch := newRecvChannel(smallChannel(protocol.Unreliable, 100))
	ch.receive(entry{seq: 5, data: []byte("new")})
	ch.receive(entry{seq: 4, data: []byte("old")})
	ch.receive(entry{seq: 5, data: []byte("dup")})

	data, ok := ch.pop()
	is.True(ok)
	is.Equal(data, []byte("new"))
	_, ok = ch.pop()
	is.True(!ok)
	is.Equal(ch.dropped, uint64(2))
}

func TestPacketEncoding(t *testing.T) {
	is := is.New(t)

	original := packet{
		protocolID: 7,
		kind:       kindPayload,
		channel:    protocol.ChannelSnapshot,
		entries: []entry{
			{seq: 1, data: []byte{1, 2, 3}},
			{seq: 2, data: []byte{}},
		},
	}
	data, err := original.MarshalBinary()
	is.NoErr(err)

	decoded := packet{}
	is.NoErr(decoded.UnmarshalBinary(data))
	is.Equal(decoded.protocolID, uint64(7))
	is.Equal(decoded.channel, protocol.ChannelSnapshot)
	is.Equal(len(decoded.entries), 2)
	is.Equal(decoded.entries[0].data, []byte{1, 2, 3})
	is.Equal(decoded.entries[1].seq, uint16(2))

	ack := packet{protocolID: 7, kind: kindAck, acks: []uint16{1, 65535}}
	data, err = ack.MarshalBinary()
	is.NoErr(err)
	decoded = packet{}
	is.NoErr(decoded.UnmarshalBinary(data))
	is.Equal(decoded.acks, []uint16{1, 65535})

	// truncate the last entry
	payload, err := original.MarshalBinary()
	is.NoErr(err)
	is.True(errors.Is((&packet{}).UnmarshalBinary(payload[:len(payload)-5]), ErrMalformedPacket))
	is.True(errors.Is((&packet{}).UnmarshalBinary([]byte{1, 2, 3}), ErrMalformedPacket))
}
