package transport

import (
	"fmt"
	"time"

	"github.com/blukai/bong/internal/protocol"
)

const (
	// maxReliableInFlight bounds unacked reliable messages so sequence
	// numbers can not wrap into the receiver's window.
	maxReliableInFlight = 1024
	// reliableWindow is how far ahead of the next expected sequence the
	// receiver buffers.
	reliableWindow = maxReliableInFlight
)

type outgoing struct {
	seq      uint16
	data     []byte
	sent     bool
	lastSent time.Time
}

// sendChannel queues outgoing messages of one channel. For reliable
// channels the queue holds every message until it is acked; for unreliable
// channels it holds messages until the next flush.
type sendChannel struct {
	config  protocol.ChannelConfig
	nextSeq uint16
	queue   []*outgoing
	bytes   int

	dropped uint64
}

func newSendChannel(config protocol.ChannelConfig) *sendChannel {
	return &sendChannel{config: config}
}

func (c *sendChannel) reliable() bool {
	return c.config.Reliability == protocol.ReliableOrdered
}

func (c *sendChannel) push(data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes on %s channel", ErrMessageTooLarge, len(data), c.config.ID)
	}

	if c.reliable() {
		if c.bytes+len(data) > c.config.MaxMemoryBytes || len(c.queue) >= maxReliableInFlight {
			return &CapacityError{
				Channel:  c.config.ID,
				Budget:   c.config.MaxMemoryBytes,
				Queued:   c.bytes,
				InFlight: len(c.queue),
			}
		}
	} else {
		// oldest undelivered unreliable data goes first
		for len(c.queue) > 0 && c.bytes+len(data) > c.config.MaxMemoryBytes {
			c.bytes -= len(c.queue[0].data)
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.dropped++
		}
		if len(data) > c.config.MaxMemoryBytes {
			c.dropped++
			return nil
		}
	}

	c.queue = append(c.queue, &outgoing{seq: c.nextSeq, data: data})
	c.nextSeq++
	c.bytes += len(data)
	return nil
}

// due returns the messages that should go out now: unsent ones, plus, for
// reliable channels, those whose last transmission is older than resend.
// Unreliable messages are forgotten once returned.
func (c *sendChannel) due(now time.Time, resend time.Duration) []*outgoing {
	if !c.reliable() {
		out := c.queue
		c.queue = nil
		c.bytes = 0
		return out
	}

	var out []*outgoing
	for _, o := range c.queue {
		if !o.sent || now.Sub(o.lastSent) >= resend {
			o.sent = true
			o.lastSent = now
			out = append(out, o)
		}
	}
	return out
}

func (c *sendChannel) ack(seq uint16) {
	for i, o := range c.queue {
		if o.seq == seq {
			c.bytes -= len(o.data)
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// recvChannel reorders (reliable) or filters (unreliable) incoming entries
// and holds them until the tick loop drains them.
type recvChannel struct {
	config protocol.ChannelConfig

	// reliable
	nextSeq uint16
	pending map[uint16][]byte

	// unreliable
	lastSeq  uint16
	seenLast bool

	ready [][]byte
	bytes int

	dropped uint64
}

func newRecvChannel(config protocol.ChannelConfig) *recvChannel {
	return &recvChannel{
		config:  config,
		pending: make(map[uint16][]byte),
	}
}

// receive accepts an entry and reports whether it must be acked. Reliable
// entries are acked when stored or already delivered; entries that would
// blow the budget are left unacked so the sender retries later.
func (c *recvChannel) receive(e entry) (ack bool) {
	if c.config.Reliability != protocol.ReliableOrdered {
		if c.seenLast && !seqGreater(e.seq, c.lastSeq) {
			// stale or duplicated, a newer message already arrived
			c.dropped++
			return false
		}
		c.lastSeq, c.seenLast = e.seq, true
		for len(c.ready) > 0 && c.bytes+len(e.data) > c.config.MaxMemoryBytes {
			c.bytes -= len(c.ready[0])
			c.ready = c.ready[1:]
			c.dropped++
		}
		c.ready = append(c.ready, e.data)
		c.bytes += len(e.data)
		return false
	}

	if e.seq != c.nextSeq && !seqGreater(e.seq, c.nextSeq) {
		// delivered already, the ack got lost
		return true
	}
	if uint16(e.seq-c.nextSeq) >= reliableWindow {
		return false
	}
	if _, ok := c.pending[e.seq]; ok {
		return true
	}
	if c.bytes+len(e.data) > c.config.MaxMemoryBytes {
		c.dropped++
		return false
	}

	c.pending[e.seq] = e.data
	c.bytes += len(e.data)
	for {
		data, ok := c.pending[c.nextSeq]
		if !ok {
			break
		}
		delete(c.pending, c.nextSeq)
		c.ready = append(c.ready, data)
		c.nextSeq++
	}
	return true
}

func (c *recvChannel) pop() ([]byte, bool) {
	if len(c.ready) == 0 {
		return nil, false
	}
	data := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	c.bytes -= len(data)
	return data, true
}
