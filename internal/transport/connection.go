package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/blukai/bong/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"
)

type addrKey uint64

func makeAddrKey(addr *net.UDPAddr) addrKey {
	return addrKey(xxhash.Sum64String(addr.String()))
}

// Stats are per-connection counters, logged on disconnect.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLimited  uint64
	Dropped         uint64
}

type connection struct {
	clientID uint64
	addr     *net.UDPAddr

	send [protocol.ChannelMax]*sendChannel
	recv [protocol.ChannelMax]*recvChannel
	acks [protocol.ChannelMax][]uint16

	lastRecv time.Time
	lastSend time.Time

	limiter *rate.Limiter
	stats   Stats
}

func newConnection(clientID uint64, addr *net.UDPAddr, now time.Time, limit rate.Limit, burst int) *connection {
	c := &connection{
		clientID: clientID,
		addr:     addr,
		lastRecv: now,
		lastSend: now,
		limiter:  rate.NewLimiter(limit, burst),
	}
	for _, config := range protocol.Channels() {
		c.send[config.ID] = newSendChannel(config)
		c.recv[config.ID] = newRecvChannel(config)
	}
	return c
}

func (c *connection) queue(channel protocol.ChannelID, data []byte) error {
	if int(channel) >= len(c.send) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	return c.send[channel].push(data)
}

func (c *connection) receive(channel protocol.ChannelID) ([]byte, bool) {
	if int(channel) >= len(c.recv) {
		return nil, false
	}
	return c.recv[channel].pop()
}

// handle applies a payload or ack packet that arrived from the peer.
func (c *connection) handle(p *packet) error {
	if int(p.channel) >= len(c.recv) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, p.channel)
	}

	switch p.kind {
	case kindPayload:
		ch := c.recv[p.channel]
		for _, e := range p.entries {
			if ch.receive(e) {
				c.acks[p.channel] = append(c.acks[p.channel], e.seq)
			}
		}
	case kindAck:
		ch := c.send[p.channel]
		for _, seq := range p.acks {
			ch.ack(seq)
		}
	}
	return nil
}

type writeFunc func(data []byte, addr *net.UDPAddr) error

func (c *connection) write(p *packet, write writeFunc, now time.Time) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not marshal %s packet: %w", p.kind, err)
	}
	if err := write(data, c.addr); err != nil {
		return err
	}
	c.stats.PacketsSent++
	c.lastSend = now
	return nil
}

// flush writes pending acks and every due message, packing as many entries
// into each datagram as fit. A keep-alive goes out if nothing else was sent
// for keepAlive.
func (c *connection) flush(
	protocolID uint64,
	now time.Time,
	resend time.Duration,
	keepAlive time.Duration,
	write writeFunc,
) error {
	var errs error

	for channel, acks := range c.acks {
		for len(acks) > 0 {
			n := min(len(acks), maxEntriesInPacket)
			p := &packet{
				protocolID: protocolID,
				kind:       kindAck,
				channel:    protocol.ChannelID(channel),
				acks:       acks[:n],
			}
			if err := c.write(p, write, now); err != nil {
				errs = multierror.Append(errs, err)
			}
			acks = acks[n:]
		}
		c.acks[channel] = c.acks[channel][:0]
	}

	for _, ch := range c.send {
		due := ch.due(now, resend)
		p := &packet{protocolID: protocolID, kind: kindPayload, channel: ch.config.ID}
		size := PacketHeaderSize + listHeaderSize
		for _, o := range due {
			entrySize := entryHeaderSize + len(o.data)
			if len(p.entries) == maxEntriesInPacket || size+entrySize > MaxPacketSize {
				if err := c.write(p, write, now); err != nil {
					errs = multierror.Append(errs, err)
				}
				p = &packet{protocolID: protocolID, kind: kindPayload, channel: ch.config.ID}
				size = PacketHeaderSize + listHeaderSize
			}
			p.entries = append(p.entries, entry{seq: o.seq, data: o.data})
			size += entrySize
		}
		if len(p.entries) > 0 {
			if err := c.write(p, write, now); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	if now.Sub(c.lastSend) >= keepAlive {
		p := &packet{protocolID: protocolID, kind: kindKeepAlive}
		if err := c.write(p, write, now); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs
}

func (c *connection) collectStats() Stats {
	stats := c.stats
	for i := range c.send {
		stats.Dropped += c.send[i].dropped + c.recv[i].dropped
	}
	return stats
}
