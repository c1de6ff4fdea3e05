package transport

import (
	"encoding"
	"fmt"
	"math"

	"github.com/blukai/bong/internal/byteorder"
	"github.com/blukai/bong/internal/protocol"
)

// Every datagram starts with
//
//	protocol id (u64) | kind (u8)
//
// Payload bodies are channel (u8) | n (u8) | n * (seq u16 | len u16 | bytes)
// and ack bodies are channel (u8) | n (u8) | n * seq u16.
const (
	PacketHeaderSize = 8 + 1
	MaxPacketSize    = 1200

	entryHeaderSize    = 2 + 2
	listHeaderSize     = 1 + 1
	maxEntriesInPacket = math.MaxUint8

	MaxMessageSize = MaxPacketSize - PacketHeaderSize - listHeaderSize - entryHeaderSize
)

type packetKind uint8

const (
	_ packetKind = iota
	kindConnectRequest
	kindConnectAccept
	kindConnectDenied
	kindKeepAlive
	kindDisconnect
	kindPayload
	kindAck

	kindMax
)

func (k packetKind) String() string {
	switch k {
	case kindConnectRequest:
		return "connect-request"
	case kindConnectAccept:
		return "connect-accept"
	case kindConnectDenied:
		return "connect-denied"
	case kindKeepAlive:
		return "keep-alive"
	case kindDisconnect:
		return "disconnect"
	case kindPayload:
		return "payload"
	case kindAck:
		return "ack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type entry struct {
	seq  uint16
	data []byte
}

type packet struct {
	protocolID uint64
	kind       packetKind

	// connect request / accept
	clientID uint64
	// connect denied
	reason DenyReason
	// payload / ack
	channel protocol.ChannelID
	entries []entry
	acks    []uint16
}

var (
	_ encoding.BinaryMarshaler   = (*packet)(nil)
	_ encoding.BinaryUnmarshaler = (*packet)(nil)
)

func (p *packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, MaxPacketSize)
	buf = byteorder.AppendHtonll(buf, p.protocolID)
	buf = append(buf, uint8(p.kind))

	switch p.kind {
	case kindConnectRequest, kindConnectAccept:
		buf = byteorder.AppendHtonll(buf, p.clientID)
	case kindConnectDenied:
		buf = append(buf, uint8(p.reason))
	case kindKeepAlive, kindDisconnect:
	case kindPayload:
		if len(p.entries) > maxEntriesInPacket {
			return nil, fmt.Errorf("too many entries: %d", len(p.entries))
		}
		buf = append(buf, uint8(p.channel), uint8(len(p.entries)))
		for _, e := range p.entries {
			if len(e.data) > MaxMessageSize {
				return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(e.data))
			}
			buf = byteorder.AppendHtons(buf, e.seq)
			buf = byteorder.AppendHtons(buf, uint16(len(e.data)))
			buf = append(buf, e.data...)
		}
	case kindAck:
		if len(p.acks) > maxEntriesInPacket {
			return nil, fmt.Errorf("too many acks: %d", len(p.acks))
		}
		buf = append(buf, uint8(p.channel), uint8(len(p.acks)))
		for _, seq := range p.acks {
			buf = byteorder.AppendHtons(buf, seq)
		}
	default:
		return nil, fmt.Errorf("unknown packet kind: %s", p.kind)
	}

	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes", len(buf))
	}
	return buf, nil
}

// UnmarshalBinary keeps references into data for payload entries.
func (p *packet) UnmarshalBinary(data []byte) error {
	if len(data) < PacketHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	p.protocolID = byteorder.Ntohll(data[0:8])
	p.kind = packetKind(data[8])
	body := data[PacketHeaderSize:]

	switch p.kind {
	case kindConnectRequest, kindConnectAccept:
		if len(body) != 8 {
			return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, p.kind, len(body))
		}
		p.clientID = byteorder.Ntohll(body)
	case kindConnectDenied:
		if len(body) != 1 {
			return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, p.kind, len(body))
		}
		p.reason = DenyReason(body[0])
	case kindKeepAlive, kindDisconnect:
		if len(body) != 0 {
			return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, p.kind, len(body))
		}
	case kindPayload:
		if len(body) < listHeaderSize {
			return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, p.kind, len(body))
		}
		p.channel = protocol.ChannelID(body[0])
		n := int(body[1])
		body = body[listHeaderSize:]
		p.entries = make([]entry, 0, n)
		for i := 0; i < n; i++ {
			if len(body) < entryHeaderSize {
				return fmt.Errorf("%w: truncated entry header", ErrMalformedPacket)
			}
			seq := byteorder.Ntohs(body[0:2])
			size := int(byteorder.Ntohs(body[2:4]))
			body = body[entryHeaderSize:]
			if len(body) < size {
				return fmt.Errorf("%w: truncated entry", ErrMalformedPacket)
			}
			p.entries = append(p.entries, entry{seq: seq, data: body[:size:size]})
			body = body[size:]
		}
		if len(body) != 0 {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformedPacket, len(body))
		}
	case kindAck:
		if len(body) < listHeaderSize {
			return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, p.kind, len(body))
		}
		p.channel = protocol.ChannelID(body[0])
		n := int(body[1])
		body = body[listHeaderSize:]
		if len(body) != n*2 {
			return fmt.Errorf("%w: ack list of %d bytes for %d acks", ErrMalformedPacket, len(body), n)
		}
		p.acks = make([]uint16, n)
		for i := range p.acks {
			p.acks[i] = byteorder.Ntohs(body[i*2 : i*2+2])
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedPacket, uint8(p.kind))
	}

	return nil
}

// seqGreater reports whether a is newer than b, accounting for wrap around.
func seqGreater(a, b uint16) bool {
	return int16(a-b) > 0
}
