package vecmath

import "math"

// Vec2 is a 2-D vector in world pixels. +Y points up.
type Vec2 struct {
	X, Y float32
}

var (
	Zero  = Vec2{}
	UnitX = Vec2{X: 1}
	UnitY = Vec2{Y: 1}
)

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

func (v Vec2) Dot(o Vec2) float32 {
	return v.X*o.X + v.Y*o.Y
}

func (v Vec2) Len() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Y)))
}

func (v Vec2) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y)
}

// NormalizeOrZero returns v scaled to unit length. Zero, non-finite and
// otherwise degenerate vectors map to Zero.
func (v Vec2) NormalizeOrZero() Vec2 {
	if !v.IsFinite() {
		return Zero
	}
	x, y := float64(v.X), float64(v.Y)
	l := math.Hypot(x, y)
	if l == 0 {
		return Zero
	}
	n := Vec2{X: float32(x / l), Y: float32(y / l)}
	if !n.IsFinite() || n == Zero {
		return Zero
	}
	return n
}

// IsUnitOrZero reports whether v is acceptable as a direction vector.
func (v Vec2) IsUnitOrZero() bool {
	if v == Zero {
		return true
	}
	l := v.Len()
	return l > 1-1e-4 && l < 1+1e-4
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
