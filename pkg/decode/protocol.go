package decode

import (
	"fmt"
	"image"

	"issdecode/pkg/composite"
)

// Channel describes one named channel of a protocol: the logical name, the
// image file holding it inside a cycle directory, and whether it belongs in
// the output stack.
type Channel struct {
	Name    string
	File    string
	Stacked bool
}

// Protocol captures how one in-situ sequencing technique arranges its
// channels: which images a cycle directory contains, how to combine them into
// a registration target, how to build the run's output composite, and whether
// cross-cycle registration is needed at all. The decoder control flow is
// shared; only these capabilities differ between techniques.
type Protocol interface {
	Name() string

	// Channels returns the protocol's channels in their fixed order. Stacked
	// channels appear in the output stack in exactly this order.
	Channels() []Channel

	// NeedsRegistration reports whether cycles must be registered onto the
	// reference frame, or are assumed pre-aligned by the acquisition.
	NeedsRegistration() bool

	// MergedImage combines a cycle's channels into the single image used as
	// the registration target. Never part of the output stack.
	MergedImage(channels map[string]*image.Gray) (*image.Gray, error)

	// OutputComposite builds the run's reference/background image. Invoked
	// only for cycle 0.
	OutputComposite(channels map[string]*image.Gray) (*image.Gray, error)
}

// Channel names of the multi-channel protocol. The four base channels carry
// the pseudo-color barcode signal; DAPI is the nuclear background stain.
const (
	ChannelA    = "A"
	ChannelT    = "T"
	ChannelC    = "C"
	ChannelG    = "G"
	ChannelDAPI = "DAPI"
)

// MergePolicy selects how the multi-channel protocol builds its registration
// target.
type MergePolicy string

const (
	// MergePolicyBackground registers on the background channel alone.
	MergePolicyBackground MergePolicy = "background"

	// MergePolicyWeighted registers on the summed base channels blended with
	// the background channel. Whether this works better than the background
	// alone depends on the dataset; both are kept selectable.
	MergePolicyWeighted MergePolicy = "weighted"
)

// KeProtocol decodes runs imaged with four base channels plus a DAPI
// background per cycle (Ke et al., Nature Methods 2013). Channel content and
// illumination vary cycle to cycle, so cycles are registered onto the
// reference frame fixed at cycle 0.
type KeProtocol struct {
	// Merge selects the registration-target policy.
	Merge MergePolicy

	// MergeAlpha and MergeBeta weight the summed base channels and the
	// background channel under MergePolicyWeighted.
	MergeAlpha float64
	MergeBeta  float64

	// CompositeForeground and CompositeBackground weight the summed base
	// channels and the background channel in the output composite.
	CompositeForeground float64
	CompositeBackground float64
}

// NewKeProtocol returns a KeProtocol with the default policy and weights.
func NewKeProtocol() *KeProtocol {
	return &KeProtocol{
		Merge:               MergePolicyBackground,
		MergeAlpha:          0.5,
		MergeBeta:           0.6,
		CompositeForeground: 0.4,
		CompositeBackground: 0.6,
	}
}

func (p *KeProtocol) Name() string { return "ke" }

func (p *KeProtocol) Channels() []Channel {
	return []Channel{
		{Name: ChannelA, File: "Y5.tif", Stacked: true},
		{Name: ChannelT, File: "FAM.tif", Stacked: true},
		{Name: ChannelC, File: "TXR.tif", Stacked: true},
		{Name: ChannelG, File: "Y3.tif", Stacked: true},
		{Name: ChannelDAPI, File: "DAPI.tif", Stacked: false},
	}
}

func (p *KeProtocol) NeedsRegistration() bool { return true }

func (p *KeProtocol) MergedImage(channels map[string]*image.Gray) (*image.Gray, error) {
	background, err := requireChannel(channels, ChannelDAPI)
	if err != nil {
		return nil, err
	}

	switch p.Merge {
	case MergePolicyBackground, "":
		return background, nil
	case MergePolicyWeighted:
		foreground, err := p.baseSum(channels)
		if err != nil {
			return nil, err
		}
		return composite.Blend(foreground, p.MergeAlpha, background, p.MergeBeta)
	default:
		return nil, fmt.Errorf("unknown merge policy %q", p.Merge)
	}
}

func (p *KeProtocol) OutputComposite(channels map[string]*image.Gray) (*image.Gray, error) {
	foreground, err := p.baseSum(channels)
	if err != nil {
		return nil, err
	}
	background, err := requireChannel(channels, ChannelDAPI)
	if err != nil {
		return nil, err
	}
	return composite.Blend(foreground, p.CompositeForeground, background, p.CompositeBackground)
}

// baseSum is the saturating sum of the four base channels.
func (p *KeProtocol) baseSum(channels map[string]*image.Gray) (*image.Gray, error) {
	bases := make([]*image.Gray, 0, 4)
	for _, name := range []string{ChannelA, ChannelT, ChannelC, ChannelG} {
		img, err := requireChannel(channels, name)
		if err != nil {
			return nil, err
		}
		bases = append(bases, img)
	}
	return composite.Sum(bases...)
}

// ChannelSTORM is the single channel of the Chen protocol.
const ChannelSTORM = "STORM"

// ChenProtocol decodes runs imaged with a single channel per cycle (Chen et
// al., Science 2015). Cycles are assumed pre-aligned by the acquisition, so
// no registration is performed and channels enter the stack unchanged.
type ChenProtocol struct{}

func (p *ChenProtocol) Name() string { return "chen" }

func (p *ChenProtocol) Channels() []Channel {
	return []Channel{
		{Name: ChannelSTORM, File: "STORM.tif", Stacked: true},
	}
}

func (p *ChenProtocol) NeedsRegistration() bool { return false }

func (p *ChenProtocol) MergedImage(channels map[string]*image.Gray) (*image.Gray, error) {
	return requireChannel(channels, ChannelSTORM)
}

func (p *ChenProtocol) OutputComposite(channels map[string]*image.Gray) (*image.Gray, error) {
	return requireChannel(channels, ChannelSTORM)
}

func requireChannel(channels map[string]*image.Gray, name string) (*image.Gray, error) {
	img, ok := channels[name]
	if !ok || img == nil {
		return nil, fmt.Errorf("missing channel %s", name)
	}
	return img, nil
}
