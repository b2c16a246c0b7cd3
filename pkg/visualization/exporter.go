// Package visualization exports a decoded cycle stack as per-channel images
// for visual QA of the alignment.
package visualization

import (
	"fmt"
	"path/filepath"

	"issdecode/internal/models"
	"issdecode/pkg/imgio"
)

// Exporter writes the channels of a decoded stack to disk, one directory per
// cycle, one image per channel.
type Exporter struct {
	stack        models.CycleStack
	channelNames []string
}

// NewExporter creates an exporter for a decoded stack. channelNames must
// match the stack's channel order; it is used to name the output files.
func NewExporter(stack models.CycleStack, channelNames []string) *Exporter {
	return &Exporter{stack: stack, channelNames: channelNames}
}

// SaveChannelSequence writes every cycle's channels under dir as
// cycle_<n>/<channel>.tif, with cycles numbered from 1 in stack order.
func (e *Exporter) SaveChannelSequence(dir string) error {
	for ci, set := range e.stack {
		cycleDir := filepath.Join(dir, fmt.Sprintf("cycle_%02d", ci+1))

		for chi, img := range set {
			name := fmt.Sprintf("channel_%d", chi)
			if chi < len(e.channelNames) {
				name = e.channelNames[chi]
			}

			path := filepath.Join(cycleDir, name+".tif")
			if err := imgio.WriteTIFF(path, img); err != nil {
				return fmt.Errorf("failed to save cycle %d channel %s: %w", ci+1, name, err)
			}
		}
	}

	return nil
}
