package ai

import "math"

// Vector3 is a position or direction in world units.
// Values are compared with == (exact, no epsilon).
type Vector3 struct {
	X, Y, Z float64
}

func (a Vector3) Add(b Vector3) Vector3   { return Vector3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vector3) Sub(b Vector3) Vector3   { return Vector3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vector3) Scale(s float64) Vector3 { return Vector3{a.X * s, a.Y * s, a.Z * s} }
func (a Vector3) Dot(b Vector3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vector3) Len() float64            { return math.Sqrt(a.Dot(a)) }
func (a Vector3) Dist(b Vector3) float64  { return b.Sub(a).Len() }
func (a Vector3) IsZero() bool            { return a == Vector3{} }

// Within reports whether b lies inside the closed sphere of radius r around a.
func (a Vector3) Within(b Vector3, r float64) bool {
	return a.Dist(b) <= r
}

// Normalize returns the unit vector in the direction of a.
// The zero vector (or one too small to normalize) is returned unchanged.
func (a Vector3) Normalize() Vector3 {
	l := a.Len()
	if l < 1e-8 {
		return Vector3{}
	}
	return a.Scale(1 / l)
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
