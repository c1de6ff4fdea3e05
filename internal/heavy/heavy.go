// Package heavy implements the heaviness timer shared by the server and the
// client mirror.
//
// The timer is a leaky integrator bounded to [0, Duration]: it fills while
// heavy and drains while not. Mass is derived from it on demand and never
// stored.
package heavy

import (
	"time"

	"github.com/blukai/bong/internal/debug"
)

const (
	Duration = 5 * time.Second
	// Factor converts remaining seconds-to-max into additional mass.
	Factor float32 = 0.1
)

type Heaviness struct {
	Heavy   bool
	elapsed time.Duration
}

func (h *Heaviness) Elapsed() time.Duration {
	return h.elapsed
}

// Tick advances (heavy) or rewinds (not heavy) the timer by dt, saturating
// at both ends. Negative dt is treated as zero.
func (h *Heaviness) Tick(dt time.Duration) {
	if dt <= 0 {
		return
	}
	if h.Heavy {
		if h.elapsed > Duration-dt {
			h.elapsed = Duration
		} else {
			h.elapsed += dt
		}
	} else if h.elapsed != 0 {
		if h.elapsed < dt {
			h.elapsed = 0
		} else {
			h.elapsed -= dt
		}
	}
	debug.Assert(h.elapsed >= 0 && h.elapsed <= Duration, "heaviness timer out of bounds")
}

// Mass is (Duration - elapsed) * Factor while heavy, 0 otherwise.
func (h *Heaviness) Mass() float32 {
	if !h.Heavy {
		return 0
	}
	return float32((Duration - h.elapsed).Seconds()) * Factor
}

// Ratio is elapsed / Duration while heavy, 0 otherwise. Clients use it to
// desaturate the ball colour.
func (h *Heaviness) Ratio() float32 {
	if !h.Heavy {
		return 0
	}
	return float32(h.elapsed.Seconds() / Duration.Seconds())
}
