package protocol

import "fmt"

// ChannelID numbers are part of the wire format. Never renumber.
type ChannelID uint8

const (
	ChannelControl  ChannelID = 0
	ChannelInput    ChannelID = 1
	ChannelSnapshot ChannelID = 2

	ChannelMax = 3
)

func (id ChannelID) String() string {
	switch id {
	case ChannelControl:
		return "control"
	case ChannelInput:
		return "input"
	case ChannelSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("channel(%d)", uint8(id))
	}
}

type Reliability uint8

const (
	ReliableOrdered Reliability = iota
	Unreliable
)

func (r Reliability) String() string {
	if r == ReliableOrdered {
		return "reliable-ordered"
	}
	return "unreliable"
}

// MaxChannelMemory is the per-channel budget of buffered, not yet delivered
// bytes.
const MaxChannelMemory = 5 << 20 // 5 MiB

type ChannelConfig struct {
	ID             ChannelID
	Reliability    Reliability
	MaxMemoryBytes int
}

var channels = [ChannelMax]ChannelConfig{
	ChannelControl: {
		ID:             ChannelControl,
		Reliability:    ReliableOrdered,
		MaxMemoryBytes: MaxChannelMemory,
	},
	ChannelInput: {
		ID:             ChannelInput,
		Reliability:    Unreliable,
		MaxMemoryBytes: MaxChannelMemory,
	},
	ChannelSnapshot: {
		ID:             ChannelSnapshot,
		Reliability:    Unreliable,
		MaxMemoryBytes: MaxChannelMemory,
	},
}

// Channels returns the fixed channel table. The returned slice is a copy.
func Channels() []ChannelConfig {
	out := make([]ChannelConfig, len(channels))
	copy(out, channels[:])
	return out
}

func LookupChannel(id ChannelID) (ChannelConfig, bool) {
	if int(id) >= len(channels) {
		return ChannelConfig{}, false
	}
	return channels[id], true
}
