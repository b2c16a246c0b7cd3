// Package composite implements the pixel arithmetic used to combine channel
// images of a single cycle: saturating sums for the base-channel foreground
// and weighted blends for merged/registration and output composites.
package composite

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrShapeMismatch indicates two images whose widths or heights differ.
// Channel images of a cycle must be shape-compatible before any pixel
// arithmetic is applied.
var ErrShapeMismatch = errors.New("images differ in size")

// Sum returns the pixel-wise sum of the given images, saturating at 255
// instead of wrapping around. At least one image is required and all images
// must share the same dimensions.
func Sum(imgs ...*image.Gray) (*image.Gray, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("no images to sum")
	}

	bounds := imgs[0].Bounds()
	for i, img := range imgs[1:] {
		if err := checkShape(imgs[0], img); err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
	}

	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			sum := 0
			for _, img := range imgs {
				b := img.Bounds()
				sum += int(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
			if sum > 255 {
				sum = 255
			}
			out.Pix[y*out.Stride+x] = uint8(sum)
		}
	}

	return out, nil
}

// Blend returns the weighted combination a*alpha + b*beta per pixel, rounded
// and clamped to the 8-bit range. The weights are caller-supplied tuning
// parameters; they are not required to sum to 1.
func Blend(a *image.Gray, alpha float64, b *image.Gray, beta float64) (*image.Gray, error) {
	if err := checkShape(a, b); err != nil {
		return nil, err
	}

	ab := a.Bounds()
	bb := b.Bounds()
	out := image.NewGray(image.Rect(0, 0, ab.Dx(), ab.Dy()))

	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			va := float64(a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y)
			vb := float64(b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y)

			v := math.Round(va*alpha + vb*beta)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}

	return out, nil
}

func checkShape(a, b *image.Gray) error {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch,
			a.Bounds().Dx(), a.Bounds().Dy(), b.Bounds().Dx(), b.Bounds().Dy())
	}
	return nil
}
