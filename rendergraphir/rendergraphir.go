// Package rendergraphir is the resident render-graph container produced
// by a successful compile: declared GPU resources, pass specifications,
// composite order, and the capability requirements a host's device must
// satisfy to execute it.
package rendergraphir

import "github.com/gogpu/rendergraph/device"

// TextureDecl declares one texture the graph owns, looked up by name.
type TextureDecl struct {
	Name   string
	Width  uint32
	Height uint32
	Format string
	Usage  device.TextureUsage
	Sample uint32
}

// BufferDecl declares one buffer the graph owns, looked up by name.
type BufferDecl struct {
	Name  string
	Size  uint64
	Usage device.BufferUsage
}

// SamplerKind names one of the small fixed pool of immutable samplers
// shared across passes.
type SamplerKind struct {
	AddressMode string // "clamp-to-edge" | "repeat" | "mirror-repeat"
	Filter      string // "linear" | "nearest"
}

// PassSpec is one emitted draw or compute pass: its shader module
// source, the resources it reads/writes by name, and its target.
type PassSpec struct {
	Name          string
	SourceNodeID  string
	ShaderModule  string
	TargetTexture string
	ResolveTarget string
	ReadTextures  []string
	Samplers      []SamplerKind
	SampleCount   uint32
}

// CapabilityRequirement records one texture format's required usage,
// filterability, blendability and sample counts, as accumulated by the
// capability validator.
type CapabilityRequirement struct {
	TextureName      string
	Format           string
	RequiredUsage    device.TextureUsage
	RequiresFilter   bool
	RequiresBlend    bool
	RequiredSamples  []uint32
}

// Graph is the compiled render-graph: every resource and pass a host
// needs to execute one frame, plus the capability set it was validated
// against.
type Graph struct {
	Textures             []TextureDecl
	Buffers              []BufferDecl
	Passes               []PassSpec
	CompositeOrder        []string
	OutputTexture         string
	Resolution            [2]uint32
	CapabilityRequirements []CapabilityRequirement
}

// TextureByName returns the declared texture with the given name, or
// false if none exists.
func (g *Graph) TextureByName(name string) (TextureDecl, bool) {
	for _, t := range g.Textures {
		if t.Name == name {
			return t, true
		}
	}
	return TextureDecl{}, false
}

// PassByName returns the pass spec with the given name, or false if none
// exists.
func (g *Graph) PassByName(name string) (PassSpec, bool) {
	for _, p := range g.Passes {
		if p.Name == name {
			return p, true
		}
	}
	return PassSpec{}, false
}
