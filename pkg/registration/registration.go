// Package registration estimates the 2D affine transform mapping one cycle's
// coordinate frame onto the reference frame. The assembler treats this as an
// opaque numerical step behind the Estimator interface so the strategy can be
// swapped without touching the pipeline.
package registration

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"issdecode/internal/models"
)

// MethodORB selects the feature-based estimator: corner detection, patch
// descriptors, mutual nearest-neighbor matching and a least-squares affine fit.
const MethodORB = "ORB"

// ErrRegistrationFailed indicates that no usable transform could be estimated:
// too few features, too few matches, or a degenerate fit.
var ErrRegistrationFailed = errors.New("registration failed")

// Estimator estimates the affine transform mapping target's coordinate frame
// onto ref's. Implementations must be deterministic: identical inputs and
// method yield the same transform up to floating-point tolerance.
type Estimator interface {
	EstimateTransform(ref, target *image.Gray, method string) (models.Transform, error)
}

// FeatureEstimator is the default Estimator. It detects Harris-style corners,
// describes them with mean-normalized intensity patches (tolerating the
// cycle-to-cycle illumination drift of sequencing runs), keeps mutual
// nearest-neighbor matches that pass a ratio test, and fits an affine
// transform by least squares with one median-residual trimming pass.
//
// All stages use fixed thresholds and stable orderings, so the estimate is
// fully deterministic.
type FeatureEstimator struct {
	// MaxFeatures caps the number of corners kept per image, strongest first.
	MaxFeatures int

	// MatchRatio is the Lowe-style ratio test threshold: a match is kept only
	// if its distance is below MatchRatio^2 times the second-best distance.
	MatchRatio float64

	// MinMatches is the minimum number of matched pairs required to fit an
	// affine transform. An affine has 6 degrees of freedom, so at least 3
	// non-collinear pairs are needed.
	MinMatches int
}

// NewFeatureEstimator returns a FeatureEstimator with default parameters.
func NewFeatureEstimator() *FeatureEstimator {
	return &FeatureEstimator{
		MaxFeatures: 500,
		MatchRatio:  0.8,
		MinMatches:  3,
	}
}

// EstimateTransform implements Estimator.
func (e *FeatureEstimator) EstimateTransform(ref, target *image.Gray, method string) (models.Transform, error) {
	if !strings.EqualFold(method, MethodORB) {
		return models.Transform{}, fmt.Errorf("unknown registration method %q", method)
	}
	if ref == nil || target == nil || ref.Bounds().Empty() || target.Bounds().Empty() {
		return models.Transform{}, fmt.Errorf("%w: empty input image", ErrRegistrationFailed)
	}

	// Pixel-identical inputs are already in the same frame. This also covers
	// featureless acquisitions (for example uniform calibration frames) that
	// would otherwise yield no corners at all.
	if imagesEqual(ref, target) {
		return models.Identity(), nil
	}

	refFeats := extractFeatures(ref, e.MaxFeatures)
	tgtFeats := extractFeatures(target, e.MaxFeatures)
	if len(refFeats) < e.MinMatches || len(tgtFeats) < e.MinMatches {
		return models.Transform{}, fmt.Errorf("%w: too few features (ref=%d, target=%d)",
			ErrRegistrationFailed, len(refFeats), len(tgtFeats))
	}

	pairs := matchFeatures(refFeats, tgtFeats, e.MatchRatio)
	if len(pairs) < e.MinMatches {
		return models.Transform{}, fmt.Errorf("%w: too few matches (%d, need %d)",
			ErrRegistrationFailed, len(pairs), e.MinMatches)
	}

	t, err := fitAffine(pairs)
	if err != nil {
		return models.Transform{}, err
	}

	// One trimming pass: refit without the worst outliers so a handful of bad
	// matches cannot skew the transform.
	if kept := trimOutliers(pairs, t); len(kept) >= e.MinMatches && len(kept) < len(pairs) {
		if refit, err := fitAffine(kept); err == nil {
			t = refit
		}
	}

	if !t.IsFinite() || math.Abs(t.Det()) < 1e-6 {
		return models.Transform{}, fmt.Errorf("%w: degenerate transform (det=%g)", ErrRegistrationFailed, t.Det())
	}

	return t, nil
}

// matchPair associates a point in the target frame with a point in the
// reference frame.
type matchPair struct {
	tx, ty float64
	rx, ry float64
}

type feature struct {
	x, y int
	desc []float64
}

const (
	harrisK          = 0.04
	responseFraction = 0.01 // keep corners above this fraction of the peak response
	patchRadius      = 4
)

// extractFeatures detects corners and computes a mean-normalized intensity
// patch descriptor for each, ordered strongest first.
func extractFeatures(img *image.Gray, maxFeatures int) []feature {
	kps := detectCorners(img, maxFeatures)

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	feats := make([]feature, 0, len(kps))
	for _, kp := range kps {
		if kp.x < patchRadius || kp.x >= w-patchRadius || kp.y < patchRadius || kp.y >= h-patchRadius {
			continue
		}

		desc := make([]float64, 0, (2*patchRadius+1)*(2*patchRadius+1))
		mean := 0.0
		for dy := -patchRadius; dy <= patchRadius; dy++ {
			for dx := -patchRadius; dx <= patchRadius; dx++ {
				v := float64(img.GrayAt(b.Min.X+kp.x+dx, b.Min.Y+kp.y+dy).Y)
				desc = append(desc, v)
				mean += v
			}
		}
		mean /= float64(len(desc))
		for i := range desc {
			desc[i] -= mean
		}

		feats = append(feats, feature{x: kp.x, y: kp.y, desc: desc})
	}

	return feats
}

type keypoint struct {
	x, y     int
	response float64
}

// detectCorners computes a Harris corner response over the image and returns
// the non-maximum-suppressed peaks, strongest first. The threshold is
// relative to the peak response, so a featureless image yields no corners.
func detectCorners(img *image.Gray, maxFeatures int) []keypoint {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 5 || h < 5 {
		return nil
	}

	at := func(x, y int) float64 {
		return float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
	}

	// Central-difference gradients on the interior.
	ix := make([]float64, w*h)
	iy := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			ix[y*w+x] = (at(x+1, y) - at(x-1, y)) / 2
			iy[y*w+x] = (at(x, y+1) - at(x, y-1)) / 2
		}
	}

	// Harris response from the structure tensor over a 3x3 window.
	resp := make([]float64, w*h)
	maxResp := 0.0
	for y := 2; y < h-2; y++ {
		for x := 2; x < w-2; x++ {
			var sxx, syy, sxy float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					gx := ix[(y+dy)*w+x+dx]
					gy := iy[(y+dy)*w+x+dx]
					sxx += gx * gx
					syy += gy * gy
					sxy += gx * gy
				}
			}
			r := sxx*syy - sxy*sxy - harrisK*(sxx+syy)*(sxx+syy)
			resp[y*w+x] = r
			if r > maxResp {
				maxResp = r
			}
		}
	}
	if maxResp <= 0 {
		return nil
	}

	// Non-maximum suppression in a 3x3 neighborhood.
	threshold := responseFraction * maxResp
	var kps []keypoint
	for y := 2; y < h-2; y++ {
		for x := 2; x < w-2; x++ {
			r := resp[y*w+x]
			if r < threshold {
				continue
			}
			peak := true
			for dy := -1; dy <= 1 && peak; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if resp[(y+dy)*w+x+dx] > r {
						peak = false
						break
					}
				}
			}
			if peak {
				kps = append(kps, keypoint{x: x, y: y, response: r})
			}
		}
	}

	sort.Slice(kps, func(i, j int) bool {
		if kps[i].response != kps[j].response {
			return kps[i].response > kps[j].response
		}
		if kps[i].y != kps[j].y {
			return kps[i].y < kps[j].y
		}
		return kps[i].x < kps[j].x
	})
	if len(kps) > maxFeatures {
		kps = kps[:maxFeatures]
	}

	return kps
}

// matchFeatures pairs target features with reference features. A pair is kept
// only if it passes the ratio test and is a mutual nearest neighbor.
func matchFeatures(refFeats, tgtFeats []feature, ratio float64) []matchPair {
	bestRefForTgt := nearestNeighbors(tgtFeats, refFeats)
	bestTgtForRef := nearestNeighbors(refFeats, tgtFeats)

	var pairs []matchPair
	for ti, m := range bestRefForTgt {
		if m.index < 0 {
			continue
		}
		// Ratio test against the second-best candidate.
		if !(m.dist < ratio*ratio*m.second) {
			continue
		}
		// Mutual-nearest cross check.
		if bestTgtForRef[m.index].index != ti {
			continue
		}
		pairs = append(pairs, matchPair{
			tx: float64(tgtFeats[ti].x), ty: float64(tgtFeats[ti].y),
			rx: float64(refFeats[m.index].x), ry: float64(refFeats[m.index].y),
		})
	}

	return pairs
}

type neighbor struct {
	index  int
	dist   float64
	second float64
}

// nearestNeighbors finds, for each query descriptor, the best and second-best
// squared distances among the candidates.
func nearestNeighbors(queries, candidates []feature) []neighbor {
	out := make([]neighbor, len(queries))
	for qi, q := range queries {
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for ci, c := range candidates {
			d := ssd(q.desc, c.desc)
			if d < best {
				second = best
				best = d
				bestIdx = ci
			} else if d < second {
				second = d
			}
		}
		out[qi] = neighbor{index: bestIdx, dist: best, second: second}
	}
	return out
}

func ssd(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// fitAffine solves the overdetermined system T(target) = reference for the six
// affine coefficients by QR least squares.
func fitAffine(pairs []matchPair) (models.Transform, error) {
	n := len(pairs)
	a := mat.NewDense(2*n, 6, nil)
	b := mat.NewVecDense(2*n, nil)
	for i, p := range pairs {
		a.SetRow(2*i, []float64{p.tx, p.ty, 1, 0, 0, 0})
		a.SetRow(2*i+1, []float64{0, 0, 0, p.tx, p.ty, 1})
		b.SetVec(2*i, p.rx)
		b.SetVec(2*i+1, p.ry)
	}

	var qr mat.QR
	qr.Factorize(a)

	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return models.Transform{}, fmt.Errorf("%w: affine fit is singular: %v", ErrRegistrationFailed, err)
	}

	return models.Transform{
		A: sol.AtVec(0), B: sol.AtVec(1), C: sol.AtVec(2),
		D: sol.AtVec(3), E: sol.AtVec(4), F: sol.AtVec(5),
	}, nil
}

// trimOutliers keeps the pairs whose residual under t is within three times
// the median residual (with a one-pixel floor).
func trimOutliers(pairs []matchPair, t models.Transform) []matchPair {
	residuals := make([]float64, len(pairs))
	for i, p := range pairs {
		x, y := t.Apply(p.tx, p.ty)
		residuals[i] = math.Hypot(x-p.rx, y-p.ry)
	}

	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)
	limit := 3 * stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if limit < 1 {
		limit = 1
	}

	kept := make([]matchPair, 0, len(pairs))
	for i, p := range pairs {
		if residuals[i] <= limit {
			kept = append(kept, p)
		}
	}
	return kept
}

func imagesEqual(a, b *image.Gray) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return false
	}
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			if a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y != b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y {
				return false
			}
		}
	}
	return true
}
