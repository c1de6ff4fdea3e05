// Package input turns held keys into what a client sends to the server.
package input

import (
	"strings"

	"github.com/blukai/bong/internal/vecmath"
)

type Key uint8

const (
	KeyUp Key = iota
	KeyDown
	KeyLeft
	KeyRight
	KeyHeavy

	keyMax
)

var keyNames = [keyMax]string{
	KeyUp:    "w",
	KeyDown:  "s",
	KeyLeft:  "a",
	KeyRight: "d",
	KeyHeavy: "space",
}

func (k Key) String() string {
	if k < keyMax {
		return keyNames[k]
	}
	return "unknown"
}

// Keys is the set of currently held keys.
type Keys struct {
	held [keyMax]bool
}

func (k *Keys) Set(key Key, held bool) {
	if key < keyMax {
		k.held[key] = held
	}
}

func (k Keys) Held(key Key) bool {
	return key < keyMax && k.held[key]
}

// ParseKeys reads a line like "wd" or "a space" as the set of held keys.
// Unknown characters are ignored.
func ParseKeys(line string) Keys {
	keys := Keys{}
	line = strings.ToLower(line)
	if strings.Contains(line, "space") {
		keys.Set(KeyHeavy, true)
		line = strings.ReplaceAll(line, "space", "")
	}
	for _, r := range line {
		switch r {
		case 'w':
			keys.Set(KeyUp, true)
		case 's':
			keys.Set(KeyDown, true)
		case 'a':
			keys.Set(KeyLeft, true)
		case 'd':
			keys.Set(KeyRight, true)
		case ' ', '\t':
		case '_':
			// a lone underscore stands in for the space bar
			keys.Set(KeyHeavy, true)
		}
	}
	return keys
}

// Input is the state a client reports to the server.
type Input struct {
	Direction vecmath.Vec2
	Heavy     bool
}

// Input maps held keys to a unit (or zero) direction. Opposite keys cancel
// out.
func (k Keys) Input() Input {
	dir := vecmath.Zero
	if k.Held(KeyUp) {
		dir.Y += 1
	}
	if k.Held(KeyDown) {
		dir.Y -= 1
	}
	if k.Held(KeyLeft) {
		dir.X -= 1
	}
	if k.Held(KeyRight) {
		dir.X += 1
	}
	return Input{
		Direction: dir.NormalizeOrZero(),
		Heavy:     k.Held(KeyHeavy),
	}
}

// Source yields the keys held right now.
type Source interface {
	Keys() Keys
}

// Poller reports input only when it changed since the last report, so that
// the input channel is not flooded every tick.
type Poller struct {
	source Source
	last   Input
	polled bool
}

func NewPoller(source Source) *Poller {
	return &Poller{source: source}
}

// Poll returns the current input and whether it differs from the previous
// poll. The very first poll always reports.
func (p *Poller) Poll() (Input, bool) {
	in := p.source.Keys().Input()
	if p.polled && in == p.last {
		return in, false
	}
	p.last = in
	p.polled = true
	return in, true
}

// Reset makes the next Poll report regardless of change. Used after the
// server started a new game and knows nothing of our keys.
func (p *Poller) Reset() {
	p.polled = false
}
