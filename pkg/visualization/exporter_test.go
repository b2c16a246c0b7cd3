package visualization

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"issdecode/internal/models"
	"issdecode/pkg/imgio"
)

func grayValue(width, height int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestSaveChannelSequence(t *testing.T) {
	stack := models.CycleStack{
		{grayValue(8, 8, 10), grayValue(8, 8, 20)},
		{grayValue(8, 8, 30), grayValue(8, 8, 40)},
	}
	dir := t.TempDir()

	exporter := NewExporter(stack, []string{"A", "T"})
	if err := exporter.SaveChannelSequence(dir); err != nil {
		t.Fatalf("SaveChannelSequence failed: %v", err)
	}

	cases := []struct {
		path  string
		value uint8
	}{
		{filepath.Join("cycle_01", "A.tif"), 10},
		{filepath.Join("cycle_01", "T.tif"), 20},
		{filepath.Join("cycle_02", "A.tif"), 30},
		{filepath.Join("cycle_02", "T.tif"), 40},
	}
	for _, tc := range cases {
		img, err := imgio.LoadChannel(dir, tc.path)
		if err != nil {
			t.Fatalf("Failed to load %s: %v", tc.path, err)
		}
		if got := img.Pix[0]; got != tc.value {
			t.Errorf("%s: expected value %d, got %d", tc.path, tc.value, got)
		}
	}
}

func TestSaveChannelSequenceUnnamedChannels(t *testing.T) {
	stack := models.CycleStack{{grayValue(4, 4, 5)}}
	dir := t.TempDir()

	exporter := NewExporter(stack, nil)
	if err := exporter.SaveChannelSequence(dir); err != nil {
		t.Fatalf("SaveChannelSequence failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "cycle_01", "channel_0.tif")); err != nil {
		t.Errorf("Expected fallback channel name: %v", err)
	}
}
