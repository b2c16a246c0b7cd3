// Package decode assembles multi-cycle in-situ sequencing acquisitions into a
// single aligned volumetric stack plus a reference composite image.
//
// Each input cycle directory resolves to one set of channel images. Cycle 0
// fixes the reference frame; every later cycle is registered onto it and all
// of that cycle's channels are warped with the one transform estimated from
// its merged image. The stack preserves input cycle order.
package decode

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"runtime"

	"issdecode/internal/models"
	"issdecode/pkg/align"
	"issdecode/pkg/composite"
	"issdecode/pkg/imgio"
	"issdecode/pkg/registration"
)

// ErrNoCycles indicates an empty input cycle list. Processing never proceeds
// and no output is produced.
var ErrNoCycles = errors.New("no input cycles provided")

// Params holds the decoding configuration.
type Params struct {
	// Protocol selects the decoding variant (channel set, merge rules,
	// registration requirement).
	Protocol Protocol

	// Estimator estimates per-cycle transforms. Unused when the protocol
	// needs no registration.
	Estimator registration.Estimator

	// Method is the algorithm selector passed to the estimator.
	Method string

	// Workers bounds how many cycles are registered and aligned concurrently
	// after the reference frame is fixed. Zero means all available cores.
	Workers int

	// SaveDebugImages enables per-cycle diagnostic images for visual QA.
	// Write failures are reported but never abort the run.
	SaveDebugImages bool

	// DebugDir is the directory the diagnostic images are written to.
	DebugDir string
}

// Decoder runs the per-cycle alignment-and-assembly pipeline.
type Decoder struct {
	params *Params
}

// NewDecoder creates a decoder with the provided parameters.
func NewDecoder(params *Params) *Decoder {
	return &Decoder{params: params}
}

// Decode loads every cycle in order, aligns each cycle's channels into the
// reference frame fixed at cycle 0, and returns the assembled stack together
// with the output composite built from cycle 0.
//
// Any channel-loading or registration failure aborts the whole run; no
// partial stack is returned.
func (d *Decoder) Decode(cycleDirs []string) (models.CycleStack, *image.Gray, error) {
	if len(cycleDirs) < 1 {
		return nil, nil, ErrNoCycles
	}
	proto := d.params.Protocol

	// Cycle 0 is processed synchronously: it fixes the reference frame and
	// the output composite before any other cycle starts.
	channels, err := d.loadChannels(cycleDirs[0])
	if err != nil {
		return nil, nil, fmt.Errorf("cycle 1: %w", err)
	}
	merged, err := proto.MergedImage(channels)
	if err != nil {
		return nil, nil, fmt.Errorf("cycle 1: %w", err)
	}
	outputComposite, err := proto.OutputComposite(channels)
	if err != nil {
		return nil, nil, fmt.Errorf("cycle 1: %w", err)
	}

	stack := make(models.CycleStack, len(cycleDirs))

	// The reference frame is written exactly once, here, and is read-only for
	// the rest of the run. Workers only start after this point, so no locking
	// is needed.
	var ref *image.Gray
	if proto.NeedsRegistration() {
		if merged == nil || merged.Bounds().Empty() {
			return nil, nil, fmt.Errorf("cycle 1: merged image is empty, cannot fix reference frame")
		}
		ref = merged

		// The reference aligns to itself: no registration call, identity
		// transform, same warp path as every other cycle.
		b := ref.Bounds()
		stack[0] = align.WarpAll(stackedChannels(proto, channels), models.Identity(), b.Dx(), b.Dy())
		if d.params.SaveDebugImages {
			d.writeDebug(1, true, align.Warp(merged, models.Identity(), b.Dx(), b.Dy()))
		}
	} else {
		stack[0] = stackedChannels(proto, channels)
		d.writeDebug(1, false, merged)
	}

	if len(cycleDirs) == 1 {
		return stack, outputComposite, nil
	}

	workers := d.params.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	// Remaining cycles depend only on the now-fixed reference frame, so they
	// fan out onto a bounded pool. Results land in the stack by index; input
	// order stays authoritative.
	type cycleResult struct {
		idx int
		set models.AlignedChannelSet
		err error
	}
	resultChan := make(chan cycleResult)
	sem := make(chan struct{}, workers)

	for i := 1; i < len(cycleDirs); i++ {
		go func(idx int, dir string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			set, err := d.processCycle(idx, dir, ref)
			resultChan <- cycleResult{idx: idx, set: set, err: err}
		}(i, cycleDirs[i])
	}

	failedIdx := -1
	var failure error
	for completed := 1; completed < len(cycleDirs); completed++ {
		res := <-resultChan
		if res.err != nil {
			// Keep the earliest failing cycle so the reported error does not
			// depend on scheduling.
			if failedIdx < 0 || res.idx < failedIdx {
				failedIdx = res.idx
				failure = res.err
			}
			continue
		}
		stack[res.idx] = res.set
	}
	if failure != nil {
		return nil, nil, failure
	}

	return stack, outputComposite, nil
}

// processCycle loads, registers and aligns one non-reference cycle.
func (d *Decoder) processCycle(idx int, dir string, ref *image.Gray) (models.AlignedChannelSet, error) {
	proto := d.params.Protocol

	channels, err := d.loadChannels(dir)
	if err != nil {
		return nil, fmt.Errorf("cycle %d: %w", idx+1, err)
	}
	merged, err := proto.MergedImage(channels)
	if err != nil {
		return nil, fmt.Errorf("cycle %d: %w", idx+1, err)
	}

	if !proto.NeedsRegistration() {
		d.writeDebug(idx+1, false, merged)
		return stackedChannels(proto, channels), nil
	}

	t, err := d.params.Estimator.EstimateTransform(ref, merged, d.params.Method)
	if err != nil {
		return nil, fmt.Errorf("cycle %d: %w", idx+1, err)
	}

	b := ref.Bounds()
	if d.params.SaveDebugImages {
		d.writeDebug(idx+1, true, align.Warp(merged, t, b.Dx(), b.Dy()))
	}

	// The transform estimated from the merged image is the canonical
	// alignment for every channel of this cycle.
	return align.WarpAll(stackedChannels(proto, channels), t, b.Dx(), b.Dy()), nil
}

// loadChannels loads every channel of the protocol from a cycle directory and
// checks that they are shape-compatible.
func (d *Decoder) loadChannels(dir string) (map[string]*image.Gray, error) {
	decl := d.params.Protocol.Channels()
	channels := make(map[string]*image.Gray, len(decl))

	var first *image.Gray
	var firstName string
	for _, ch := range decl {
		img, err := imgio.LoadChannel(dir, ch.File)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		if first == nil {
			first, firstName = img, ch.Name
		} else if img.Bounds().Dx() != first.Bounds().Dx() || img.Bounds().Dy() != first.Bounds().Dy() {
			return nil, fmt.Errorf("channel %s vs %s: %w", ch.Name, firstName, composite.ErrShapeMismatch)
		}
		channels[ch.Name] = img
	}

	return channels, nil
}

// stackedChannels returns the channels destined for the output stack, in the
// protocol's declared order.
func stackedChannels(proto Protocol, channels map[string]*image.Gray) models.AlignedChannelSet {
	var set models.AlignedChannelSet
	for _, ch := range proto.Channels() {
		if ch.Stacked {
			set = append(set, channels[ch.Name])
		}
	}
	return set
}

// writeDebug writes the per-cycle diagnostic image. Best effort: failures are
// reported and ignored, they do not affect the returned stack.
func (d *Decoder) writeDebug(cycleNum int, registered bool, img *image.Gray) {
	if !d.params.SaveDebugImages || img == nil {
		return
	}

	name := fmt.Sprintf("debug.cycle_%d.tif", cycleNum)
	if registered {
		name = fmt.Sprintf("debug.cycle_%d.reg.tif", cycleNum)
	}
	path := filepath.Join(d.params.DebugDir, name)

	if err := imgio.WriteTIFF(path, img); err != nil {
		fmt.Printf("Warning: failed to write diagnostic image %s: %v\n", path, err)
	}
}
