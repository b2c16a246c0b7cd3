// Package align resamples channel images into the reference frame. A single
// transform, estimated once per cycle from that cycle's merged image, is the
// canonical alignment for every channel of the cycle and must be applied to
// each of them identically.
package align

import (
	"image"

	"golang.org/x/image/draw"

	"issdecode/internal/models"
)

// Warp resamples src into a new width x height image using the given
// transform, which maps src coordinates into the output frame. Output pixels
// with no source coverage keep the background value 0.
//
// Nearest-neighbor sampling is used so that an identity transform reproduces
// the source pixels exactly.
func Warp(src *image.Gray, t models.Transform, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Transform(dst, t.Aff3(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// WarpAll applies the same transform to every channel of a cycle, producing
// one aligned image per channel in the input order.
func WarpAll(channels []*image.Gray, t models.Transform, width, height int) models.AlignedChannelSet {
	aligned := make(models.AlignedChannelSet, len(channels))
	for i, ch := range channels {
		aligned[i] = Warp(ch, t, width, height)
	}
	return aligned
}
