// Package imgio loads single-channel microscopy images and writes diagnostic
// output images. Channel images are strictly grayscale: the in-situ sequencing
// protocols image one fluorescent probe per file, so any color or multi-band
// input is a contract violation rather than something to convert silently.
package imgio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/tiff"
)

var (
	// ErrChannelNotFound indicates a channel image that could not be located
	// or decoded for a cycle directory.
	ErrChannelNotFound = errors.New("channel image not found")

	// ErrUnsupportedFormat indicates an image that decoded successfully but is
	// not single-channel grayscale data.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// LoadChannel loads the named channel image from a cycle directory and
// decodes it as 8-bit grayscale intensity data.
//
// Missing or undecodable files return ErrChannelNotFound. Images that decode
// to anything other than single-channel data return ErrUnsupportedFormat.
// 16-bit grayscale input is accepted and reduced to 8 bits, since microscopy
// acquisitions commonly store a single channel at higher bit depth.
func LoadChannel(cycleDir, filename string) (*image.Gray, error) {
	path := filepath.Join(cycleDir, filename)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChannelNotFound, path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode failed: %v", ErrChannelNotFound, path, err)
	}

	switch src := img.(type) {
	case *image.Gray:
		return src, nil
	case *image.Gray16:
		return gray16To8(src), nil
	default:
		return nil, fmt.Errorf("%w: %s: got %T, want single-channel grayscale", ErrUnsupportedFormat, path, img)
	}
}

// WriteTIFF writes an image to path as an uncompressed TIFF, creating parent
// directories as needed.
func WriteTIFF(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := tiff.Encode(file, img, nil); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	return nil
}

// gray16To8 reduces a 16-bit grayscale image to 8 bits by dropping the low
// byte of each sample.
func gray16To8(src *image.Gray16) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.SetGray(x, y, color.Gray{Y: uint8(src.Gray16At(x, y).Y >> 8)})
		}
	}

	return dst
}
