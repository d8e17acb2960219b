package ptz

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector is a normalized pan/tilt/zoom velocity, each component in [-1, 1].
type Vector struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom float64 `json:"zoom"`
}

// Zero is the "no motion" vector.
var Zero = Vector{}

func (v Vector) r3() r3.Vec {
	return r3.Vec{X: v.Pan, Y: v.Tilt, Z: v.Zoom}
}

// Norm returns the euclidean length of v.
func (v Vector) Norm() float64 {
	return r3.Norm(v.r3())
}

// Distance returns the euclidean distance between v and w.
func (v Vector) Distance(w Vector) float64 {
	return r3.Norm(r3.Sub(v.r3(), w.r3()))
}

// IsZero reports whether all components are exactly zero.
func (v Vector) IsZero() bool {
	return v == Zero
}

// Scale multiplies every component by f.
func (v Vector) Scale(f float64) Vector {
	s := r3.Scale(f, v.r3())
	return Vector{Pan: s.X, Tilt: s.Y, Zoom: s.Z}
}

// Sanitize replaces non-finite components with 0 and clamps to [-1, 1].
func (v Vector) Sanitize() Vector {
	return Vector{
		Pan:  Clamp(v.Pan),
		Tilt: Clamp(v.Tilt),
		Zoom: Clamp(v.Zoom),
	}
}

func (v Vector) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.Pan, v.Tilt, v.Zoom)
}

// Clamp limits x to [-1, 1]; NaN and infinities become 0.
func Clamp(x float64) float64 {
	switch {
	case math.IsNaN(x), math.IsInf(x, 0):
		return 0
	case x < -1:
		return -1
	case x > 1:
		return 1
	}
	return x
}
