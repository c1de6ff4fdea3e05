package transport

import (
	"errors"
	"fmt"

	"github.com/blukai/bong/internal/protocol"
)

var (
	ErrUnknownClient    = errors.New("unknown client")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrNotConnected     = errors.New("not connected")
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrProtocolMismatch = errors.New("protocol id mismatch")
)

// HandshakeError is fatal at startup: a socket could not be bound or the
// peer refused (or never answered) the connection request.
type HandshakeError struct {
	Op     string
	Reason DenyReason
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Reason != DenyNone {
		return fmt.Sprintf("handshake %s failed: denied (%s)", e.Op, e.Reason)
	}
	return fmt.Sprintf("handshake %s failed: %v", e.Op, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// CapacityError means a reliable channel ran out of budget. Reliable data
// can not be dropped, so this indicates a misconfigured budget and is
// treated as fatal by callers.
type CapacityError struct {
	Channel  protocol.ChannelID
	Budget   int
	Queued   int
	InFlight int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf(
		"%s channel over capacity (queued %d bytes in %d messages; budget %d bytes)",
		e.Channel, e.Queued, e.InFlight, e.Budget,
	)
}

type DenyReason uint8

const (
	DenyNone DenyReason = iota
	DenyProtocolMismatch
	DenyDuplicateClientID
	DenyServerFull
)

func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyProtocolMismatch:
		return "protocol id mismatch"
	case DenyDuplicateClientID:
		return "duplicate client id"
	case DenyServerFull:
		return "server full"
	default:
		return fmt.Sprintf("DenyReason(%d)", uint8(r))
	}
}

// DisconnectReason is attached to Disconnected events.
type DisconnectReason uint8

const (
	ReasonTimeout DisconnectReason = iota + 1
	ReasonPeer
	ReasonLocal
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonPeer:
		return "disconnected by peer"
	case ReasonLocal:
		return "disconnected locally"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
	}
}
