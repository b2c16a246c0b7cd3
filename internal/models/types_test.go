package models

import (
	"math"
	"testing"
)

// TestIdentity verifies that the identity transform maps points to themselves.
func TestIdentity(t *testing.T) {
	id := Identity()

	points := [][2]float64{{0, 0}, {1, 0}, {0, 1}, {123.5, -7.25}}
	for _, p := range points {
		x, y := id.Apply(p[0], p[1])
		if x != p[0] || y != p[1] {
			t.Errorf("Identity().Apply(%v, %v) = (%v, %v), want unchanged", p[0], p[1], x, y)
		}
	}

	if det := id.Det(); det != 1 {
		t.Errorf("Expected identity determinant 1, got %v", det)
	}
}

// TestApplyTranslation checks a pure translation transform.
func TestApplyTranslation(t *testing.T) {
	tr := Transform{A: 1, E: 1, C: -5, F: 3}

	x, y := tr.Apply(10, 20)
	if x != 5 || y != 23 {
		t.Errorf("Expected (5, 23), got (%v, %v)", x, y)
	}
}

// TestIsFinite rejects transforms with NaN or infinite coefficients.
func TestIsFinite(t *testing.T) {
	if !Identity().IsFinite() {
		t.Error("Identity transform should be finite")
	}

	bad := Identity()
	bad.C = math.NaN()
	if bad.IsFinite() {
		t.Error("Transform with NaN coefficient should not be finite")
	}

	bad = Identity()
	bad.E = math.Inf(1)
	if bad.IsFinite() {
		t.Error("Transform with infinite coefficient should not be finite")
	}
}

// TestDetSingular verifies that a collapsing transform has zero determinant.
func TestDetSingular(t *testing.T) {
	tr := Transform{A: 1, B: 2, D: 2, E: 4}
	if det := tr.Det(); det != 0 {
		t.Errorf("Expected determinant 0 for singular transform, got %v", det)
	}
}

// TestAff3Layout ensures the x/image row-major layout matches the coefficients.
func TestAff3Layout(t *testing.T) {
	tr := Transform{A: 1, B: 2, C: 3, D: 4, E: 5, F: 6}
	m := tr.Aff3()

	want := [6]float64{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		if m[i] != v {
			t.Errorf("Aff3()[%d] = %v, want %v", i, m[i], v)
		}
	}
}
