package models

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Transform is a 2D affine mapping from one image's coordinate frame into
// another's. A point (x, y) maps to:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
//
// In the decoding pipeline the transform maps a cycle's coordinate frame onto
// the reference frame established at cycle 0.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the transform that maps every point to itself.
func Identity() Transform {
	return Transform{A: 1, E: 1}
}

// Apply maps the point (x, y) through the transform.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Aff3 returns the transform in the row-major layout used by
// golang.org/x/image/draw, mapping source coordinates to destination
// coordinates.
func (t Transform) Aff3() f64.Aff3 {
	return f64.Aff3{t.A, t.B, t.C, t.D, t.E, t.F}
}

// Det returns the determinant of the linear part of the transform.
// A determinant near zero means the transform collapses the image
// and cannot be used for alignment.
func (t Transform) Det() float64 {
	return t.A*t.E - t.B*t.D
}

// IsFinite reports whether all coefficients are finite numbers.
func (t Transform) IsFinite() bool {
	for _, v := range []float64{t.A, t.B, t.C, t.D, t.E, t.F} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// AlignedChannelSet is the ordered set of channel images of one cycle after
// alignment into the reference frame. The order is fixed by the protocol's
// declared channel order and never re-sorted.
type AlignedChannelSet []*image.Gray

// CycleStack is the primary pipeline output: one AlignedChannelSet per input
// cycle, in input order. It is append-only during assembly and treated as
// immutable afterwards.
type CycleStack []AlignedChannelSet
