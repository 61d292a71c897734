// Package passassemblers turns one prepared pass-producing node into
// concrete rendergraphir.PassSpec entries: geometry/material compile,
// intermediate texture allocation, and the composition-consumer blit, per
// the pass-assembler component. Each assembler owns one node type;
// Assemble dispatches by node type and shares bookkeeping through a
// single AssembleContext.
package passassemblers

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rendergraph/camera"
	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/device"
	"github.com/gogpu/rendergraph/dsl"
	"github.com/gogpu/rendergraph/georesolve"
	"github.com/gogpu/rendergraph/material"
	"github.com/gogpu/rendergraph/rendergraphir"
	"github.com/gogpu/rendergraph/resourcename"
	"github.com/gogpu/rendergraph/shaderassembly"
)

// supportedSampleCounts is the set of MSAA sample counts a pass may
// request; the adapter then narrows this down further per format.
var supportedSampleCounts = map[uint32]bool{1: true, 2: true, 4: true, 8: true}

// OutputRecord is one pass's registered output: the texture name it
// renders into, its resolution, and its format.
type OutputRecord struct {
	TextureName string
	Width       uint32
	Height      uint32
	Format      string
}

// PassOutputRegistry maps a producing node id to its output record, so
// downstream passes (PassTexture reads, composition blits) can look up
// what a prior pass produced without re-deriving it.
type PassOutputRegistry struct {
	byNode map[string]OutputRecord
}

// NewPassOutputRegistry returns an empty registry.
func NewPassOutputRegistry() *PassOutputRegistry {
	return &PassOutputRegistry{byNode: make(map[string]OutputRecord)}
}

// Register records nodeID's output.
func (r *PassOutputRegistry) Register(nodeID string, rec OutputRecord) {
	r.byNode[nodeID] = rec
}

// Lookup returns the output previously registered for nodeID.
func (r *PassOutputRegistry) Lookup(nodeID string) (OutputRecord, bool) {
	rec, ok := r.byNode[nodeID]
	return rec, ok
}

// SampledPassIDs is the set of node ids whose pass output is sampled by
// some downstream PassTexture reference; it decides whether an
// assembler must materialise an intermediate texture rather than
// rendering straight into the final target.
type SampledPassIDs map[string]bool

// ComputeSampledPassIDs scans scene for PassTexture nodes and collects
// the pass ids they name.
func ComputeSampledPassIDs(scene *dsl.Scene) SampledPassIDs {
	out := make(SampledPassIDs)
	for _, n := range scene.Nodes {
		if n.Type != "PassTexture" {
			continue
		}
		if passID, ok := dsl.ParamString(&n, "pass"); ok {
			out[passID] = true
		}
	}
	return out
}

// Context is the shared assemble context threaded through every
// assembler call: the scene and its indices, the output registry, the
// sampled-pass set, the accumulating graph being built, and the device
// adapter consulted for MSAA negotiation.
type Context struct {
	Scene     *dsl.Scene
	NodesByID map[string]*dsl.Node
	Draws     []georesolve.DrawContext
	Registry  *PassOutputRegistry
	Sampled   SampledPassIDs
	Graph     *rendergraphir.Graph
	Adapter   device.Adapter

	// camLatches holds one camera.Latch per composition, shared across
	// every node in a processing chain feeding that composition, per the
	// chain camera policy: only the first pass in the chain consumes a
	// connected camera.
	camLatches map[string]*camera.Latch
}

// NewContext builds an assemble context from a prepared scene and its
// resolved draw contexts. adapter may be nil, in which case MSAA
// negotiation assumes the requested sample count is available.
func NewContext(scene *dsl.Scene, draws []georesolve.DrawContext, adapter device.Adapter) *Context {
	return &Context{
		Scene:      scene,
		NodesByID:  dsl.NodesByID(scene),
		Draws:      draws,
		Registry:   NewPassOutputRegistry(),
		Sampled:    ComputeSampledPassIDs(scene),
		Graph:      &rendergraphir.Graph{},
		Adapter:    adapter,
		camLatches: make(map[string]*camera.Latch),
	}
}

// latchFor returns the shared camera latch for compositionID, creating
// one on first use. Chains with no resolved composition (dead branches)
// each get their own private latch, since they share no downstream
// consumer to synchronise against.
func (c *Context) latchFor(compositionID string) *camera.Latch {
	if compositionID == "" {
		return &camera.Latch{}
	}
	l, ok := c.camLatches[compositionID]
	if !ok {
		l = &camera.Latch{}
		c.camLatches[compositionID] = l
	}
	return l
}

// resolveChainCamera resolves node's own camera port against the latch
// shared by its processing chain, looked up from the chain's draw
// context when one was resolved.
func (c *Context) resolveChainCamera(node *dsl.Node, targetW, targetH uint32) error {
	compositionID := ""
	if draw, ok := drawFor(c.Draws, node.ID); ok {
		compositionID = draw.CompositionID
	}
	latch := c.latchFor(compositionID)
	_, err := camera.Resolve(c.Scene, node, "camera", int(targetW), int(targetH), latch)
	return err
}

func drawFor(draws []georesolve.DrawContext, nodeID string) (georesolve.DrawContext, bool) {
	for _, d := range draws {
		if d.PassID == nodeID {
			return d, true
		}
	}
	return georesolve.DrawContext{}, false
}

// Assemble dispatches node to its owning assembler by node type.
func (c *Context) Assemble(node *dsl.Node) error {
	switch node.Type {
	case "RenderPass":
		return c.assembleRenderPass(node)
	case "Downsample":
		return c.assembleDownsample(node)
	case "Upsample":
		return c.assembleUpsample(node)
	case "GaussianBlur":
		return c.assembleGaussianBlur(node)
	case "GradientBlur":
		return c.assembleGradientBlur(node)
	case "Bloom":
		return c.assembleBloom(node)
	default:
		return compileerr.At(compileerr.KindUnsupportedCapability, node.ID, "", "node type %q is not a pass assembler", node.Type)
	}
}

// needsIntermediate reports whether node's natural output differs from
// the composition's final target size, or is read downstream by a
// PassTexture — either case forces an intermediate texture rather than
// rendering directly into the final target.
func (c *Context) needsIntermediate(node *dsl.Node, naturalW, naturalH uint32, draw georesolve.DrawContext) bool {
	if c.Sampled[node.ID] {
		return true
	}
	return int(naturalW) != draw.Domain.Width || int(naturalH) != draw.Domain.Height
}

func (c *Context) allocateOutput(node *dsl.Node, width, height uint32, format string, intermediate bool) string {
	return c.allocateOutputSampled(node, width, height, format, intermediate, 1)
}

// allocateIntermediate declares a same-node auxiliary texture that is
// never looked up through the output registry (a blur/mip/downsample
// working buffer feeding the next stage of the same assembler), keyed by
// a role tag distinct from the node's registered "output" so multiple
// working buffers for one node never collide on name.
func (c *Context) allocateIntermediate(node *dsl.Node, role string, width, height uint32, format string) string {
	name := resourcename.Intermediate(node.ID, role)
	c.Graph.Textures = append(c.Graph.Textures, rendergraphir.TextureDecl{
		Name: name, Width: width, Height: height, Format: format, Sample: 1,
		Usage: device.TextureUsageRenderAttachment | device.TextureUsageTextureBinding,
	})
	return name
}

func (c *Context) allocateOutputSampled(node *dsl.Node, width, height uint32, format string, intermediate bool, sampleCount uint32) string {
	name := resourcename.Intermediate(node.ID, "output")
	if !intermediate {
		name = resourcename.ForNode(node.Type, node.ID)
	}
	c.Graph.Textures = append(c.Graph.Textures, rendergraphir.TextureDecl{
		Name: name, Width: width, Height: height, Format: format, Sample: sampleCount,
		Usage: device.TextureUsageRenderAttachment | device.TextureUsageTextureBinding,
	})
	c.Registry.Register(node.ID, OutputRecord{TextureName: name, Width: width, Height: height, Format: format})
	return name
}

// negotiateSampleCount validates requested against the {1,2,4,8} set
// supported by this compiler, then narrows it to the largest count the
// adapter's format features actually support, per the MSAA negotiation
// rule: select the largest supported count <= requested.
func (c *Context) negotiateSampleCount(nodeID string, requested uint32, format string) (uint32, error) {
	if requested == 0 {
		requested = 1
	}
	if !supportedSampleCounts[requested] {
		return 0, compileerr.At(compileerr.KindUnsupportedCapability, nodeID, "sampleCount", "sample count %d is not one of {1,2,4,8}", requested)
	}
	if c.Adapter == nil {
		return requested, nil
	}
	features, ok := c.Adapter.FormatFeatures(gputypes.TextureFormat(format))
	if !ok {
		return 0, compileerr.At(compileerr.KindUnsupportedCapability, nodeID, "sampleCount", "format %s is not supported by the adapter", format)
	}
	best, ok := features.BestSampleCountAtMost(requested)
	if !ok {
		return 0, compileerr.At(compileerr.KindUnsupportedCapability, nodeID, "sampleCount", "format %s supports no sample count <= %d", format, requested)
	}
	return best, nil
}

func (c *Context) assembleRenderPass(node *dsl.Node) error {
	draw, ok := drawFor(c.Draws, node.ID)
	if !ok {
		return nil // dead branch, pruned by geometry resolution
	}

	matConn := dsl.IncomingConnection(c.Scene, node.ID, "material")
	matCtx := material.NewContext(c.Scene)
	var expr material.TypedExpr
	var err error
	if matConn != nil {
		upstream := c.NodesByID[matConn.From.NodeID]
		if upstream == nil {
			return compileerr.At(compileerr.KindStructuralViolation, node.ID, "material", "material connection resolves to a missing node")
		}
		expr, err = matCtx.Compile(node, "material")
		if err != nil {
			return err
		}
	} else {
		expr = material.TypedExpr{Type: material.TypeVec4, Source: "vec4<f32>(0.0, 0.0, 0.0, 1.0)"}
	}

	bundle := shaderassembly.Assemble(expr, matCtx.InlineStatements(), matCtx.ImageTextures(), matCtx.PassTextures())
	if err := shaderassembly.ValidateModule(node.ID, bundle); err != nil {
		return err
	}

	format := "rgba8unorm"
	intermediate := c.needsIntermediate(node, uint32(draw.Domain.Width), uint32(draw.Domain.Height), draw)
	targetW, targetH := uint32(draw.Domain.Width), uint32(draw.Domain.Height)

	requestedSamples := uint32(1)
	if requested, ok := dsl.ParamFloat(node, "sampleCount"); ok {
		requestedSamples = uint32(requested)
	}
	sampleCount, err := c.negotiateSampleCount(node.ID, requestedSamples, format)
	if err != nil {
		return err
	}

	target := c.allocateOutputSampled(node, targetW, targetH, format, intermediate, sampleCount)

	// readTarget is what downstream passes sample: the resolve target
	// when MSAA is active (a multisampled texture cannot itself be
	// bound as a sampled texture_2d), otherwise the pass's own target.
	readTarget := target
	var resolveTarget string
	if sampleCount > 1 {
		resolveTarget = resourcename.Intermediate(node.ID, "resolve")
		c.Graph.Textures = append(c.Graph.Textures, rendergraphir.TextureDecl{
			Name: resolveTarget, Width: targetW, Height: targetH, Format: format, Sample: 1,
			Usage: device.TextureUsageRenderAttachment | device.TextureUsageTextureBinding,
		})
		readTarget = resolveTarget
		c.Registry.Register(node.ID, OutputRecord{TextureName: readTarget, Width: targetW, Height: targetH, Format: format})
	}

	if err := c.resolveChainCamera(node, targetW, targetH); err != nil {
		return err
	}

	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name:          resourcename.ForNode("RenderPass", node.ID),
		SourceNodeID:  node.ID,
		ShaderModule:  bundle.Module,
		TargetTexture: target,
		ResolveTarget: resolveTarget,
		ReadTextures:  append(append([]string{}, bundle.ImageTextures...), bundle.PassTextures...),
		SampleCount:   sampleCount,
	})
	c.emitCompositionBlit(node, readTarget, targetW, targetH, draw)
	return nil
}

func (c *Context) assembleDownsample(node *dsl.Node) error {
	srcConn := dsl.IncomingConnection(c.Scene, node.ID, "pass")
	if srcConn == nil {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Downsample requires a source pass connection")
	}
	src, ok := c.Registry.Lookup(srcConn.From.NodeID)
	if !ok {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Downsample source pass has no registered output")
	}

	draw, hasDraw := drawFor(c.Draws, node.ID)
	targetW, targetH := cpuResolvableSize(c.Scene, c.NodesByID, node, "targetSize", src.Width/2, src.Height/2)

	factor := src.Width / max1(targetW)
	if !isSupportedFactor(factor) {
		return compileerr.At(compileerr.KindUnsupportedCapability, node.ID, "targetSize", "downsample factor %d is not in {1,2,4,8,16}", factor)
	}

	if err := c.resolveChainCamera(node, targetW, targetH); err != nil {
		return err
	}

	bundle := shaderassembly.FullscreenTextured(src.TextureName)
	outName := c.allocateOutput(node, targetW, targetH, src.Format, true)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name:          resourcename.ForNode("Downsample", node.ID),
		SourceNodeID:  node.ID,
		ShaderModule:  bundle.Module,
		TargetTexture: outName,
		ReadTextures:  []string{src.TextureName},
	})

	if hasDraw && (int(targetW) != draw.Domain.Width || int(targetH) != draw.Domain.Height) {
		c.appendFitPass(node, outName, targetW, targetH, draw)
	}
	if hasDraw {
		c.emitCompositionBlit(node, outName, targetW, targetH, draw)
	}
	return nil
}

func (c *Context) assembleUpsample(node *dsl.Node) error {
	srcConn := dsl.IncomingConnection(c.Scene, node.ID, "pass")
	if srcConn == nil {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Upsample requires a source pass connection")
	}
	src, ok := c.Registry.Lookup(srcConn.From.NodeID)
	if !ok {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Upsample source pass has no registered output")
	}

	draw, hasDraw := drawFor(c.Draws, node.ID)
	targetW, targetH := cpuResolvableSize(c.Scene, c.NodesByID, node, "targetSize", src.Width*2, src.Height*2)

	if err := c.resolveChainCamera(node, targetW, targetH); err != nil {
		return err
	}

	bundle := shaderassembly.FullscreenTextured(src.TextureName)
	outName := c.allocateOutput(node, targetW, targetH, src.Format, true)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name:          resourcename.ForNode("Upsample", node.ID),
		SourceNodeID:  node.ID,
		ShaderModule:  bundle.Module,
		TargetTexture: outName,
		ReadTextures:  []string{src.TextureName},
	})

	if hasDraw && (int(targetW) != draw.Domain.Width || int(targetH) != draw.Domain.Height) {
		c.appendFitPass(node, outName, targetW, targetH, draw)
	}
	if hasDraw {
		c.emitCompositionBlit(node, outName, targetW, targetH, draw)
	}
	return nil
}

// gaussianVarianceThresholds maps an effective sigma (in source texels)
// to the downsample factor applied before the separable blur passes:
// the larger the blur radius, the more the source is shrunk first so the
// fixed eight-tap kernel still covers the visually relevant footprint.
// Factors stay in {1,2,4,8,16}; 16 = 8*2 per the supported-factor set.
var gaussianVarianceThresholds = []struct {
	sigma  float64
	factor uint32
}{
	{16, 1},
	{32, 2},
	{64, 4},
	{128, 8},
}

func gaussianDownsampleFactor(sigma float64) uint32 {
	for _, t := range gaussianVarianceThresholds {
		if sigma <= t.sigma {
			return t.factor
		}
	}
	return 16
}

// assembleGaussianBlur factorises sigma into a downsample step (mip
// level derived from the variance thresholds above) plus separable
// horizontal/vertical weighted-tap blur passes at that level, then a
// bilinear upsample back to content size. An effective sigma at or below
// the first threshold emits no downsample/upsample pair: two blur passes
// only, run at full source resolution.
func (c *Context) assembleGaussianBlur(node *dsl.Node) error {
	srcConn := dsl.IncomingConnection(c.Scene, node.ID, "pass")
	if srcConn == nil {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "GaussianBlur requires a source pass connection")
	}
	src, ok := c.Registry.Lookup(srcConn.From.NodeID)
	if !ok {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "GaussianBlur source pass has no registered output")
	}
	radius, _ := dsl.ParamFloat(node, "radius")
	if radius <= 0 {
		radius = 1
	}
	sigma := radius / 3.0

	if err := c.resolveChainCamera(node, src.Width, src.Height); err != nil {
		return err
	}

	factor := gaussianDownsampleFactor(sigma)
	blurW, blurH := divAtLeast1(src.Width, factor), divAtLeast1(src.Height, factor)

	sourceName := src.TextureName
	if factor > 1 {
		downBundle := shaderassembly.FullscreenTextured(src.TextureName)
		downName := c.allocateIntermediate(node, "down", blurW, blurH, src.Format)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, "down"), SourceNodeID: node.ID,
			ShaderModule: downBundle.Module, TargetTexture: downName, ReadTextures: []string{src.TextureName},
		})
		sourceName = downName
	} else {
		blurW, blurH = src.Width, src.Height
	}

	adjustedSigma := sigma / float64(factor)
	weights, offsets := shaderassembly.GaussianTapWeights(adjustedSigma)

	hName := c.allocateIntermediate(node, "blurh", blurW, blurH, src.Format)
	hBundle := shaderassembly.WeightedBlur(sourceName, weights, offsets, true)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.Intermediate(node.ID, "blurh"), SourceNodeID: node.ID,
		ShaderModule: hBundle.Module, TargetTexture: hName, ReadTextures: []string{sourceName},
	})

	vName := c.allocateIntermediate(node, "blurv", blurW, blurH, src.Format)
	vBundle := shaderassembly.WeightedBlur(hName, weights, offsets, false)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.Intermediate(node.ID, "blurv"), SourceNodeID: node.ID,
		ShaderModule: vBundle.Module, TargetTexture: vName, ReadTextures: []string{hName},
	})

	outName := vName
	if factor > 1 {
		upBundle := shaderassembly.FullscreenTextured(vName)
		upName := c.allocateOutput(node, src.Width, src.Height, src.Format, true)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, "up"), SourceNodeID: node.ID,
			ShaderModule: upBundle.Module, TargetTexture: upName, ReadTextures: []string{vName},
		})
		outName = upName
	} else {
		c.Registry.Register(node.ID, OutputRecord{TextureName: outName, Width: src.Width, Height: src.Height, Format: src.Format})
	}

	if draw, ok := drawFor(c.Draws, node.ID); ok {
		c.emitCompositionBlit(node, outName, src.Width, src.Height, draw)
	}
	return nil
}

// gradientBlurMipLevels is the fixed mip-chain depth built for every
// gradient blur: enough for clamp(log2(sigma*4/3), 0, 6) to span a wide
// range of mask-driven blur radii.
const gradientBlurMipLevels = 6

// padTo64 rounds dim up to the next multiple of 64, per the padded
// working-buffer size used so edge taps in the mip chain read
// mirror-repeated border pixels rather than the clamp edge.
func padTo64(dim uint32) uint32 {
	return uint32(math.Ceil(float64(dim)/64.0)) * 64
}

// assembleGradientBlur pads the source into an enlarged working buffer,
// builds a fixed-depth box-filter mip chain over it, and composites by
// selecting (and cubically blending) the mip pair bracketing the mask's
// per-pixel blur radius, per the clamped mip-level mapping
// clamp(log2(sigma*4/3), 0, gradientBlurMipLevels).
func (c *Context) assembleGradientBlur(node *dsl.Node) error {
	srcConn := dsl.IncomingConnection(c.Scene, node.ID, "pass")
	if srcConn == nil {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "GradientBlur requires a source pass connection")
	}
	src, ok := c.Registry.Lookup(srcConn.From.NodeID)
	if !ok {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "GradientBlur source pass has no registered output")
	}

	if err := c.resolveChainCamera(node, src.Width, src.Height); err != nil {
		return err
	}

	paddedW, paddedH := padTo64(src.Width), padTo64(src.Height)
	padBundle := shaderassembly.FullscreenTextured(src.TextureName)
	padName := c.allocateIntermediate(node, "pad", paddedW, paddedH, src.Format)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.Intermediate(node.ID, "pad"), SourceNodeID: node.ID,
		ShaderModule: padBundle.Module, TargetTexture: padName, ReadTextures: []string{src.TextureName},
		Samplers: []rendergraphir.SamplerKind{{AddressMode: "mirror-repeat", Filter: "linear"}},
	})

	mips := []string{src.TextureName}
	prev := padName
	prevW, prevH := paddedW, paddedH
	for level := 1; level <= gradientBlurMipLevels; level++ {
		mipW, mipH := divAtLeast1(prevW, 2), divAtLeast1(prevH, 2)
		mipBundle := shaderassembly.FullscreenTextured(prev)
		mipName := c.allocateIntermediate(node, fmt.Sprintf("mip%d", level), mipW, mipH, src.Format)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, fmt.Sprintf("mip%d", level)), SourceNodeID: node.ID,
			ShaderModule: mipBundle.Module, TargetTexture: mipName, ReadTextures: []string{prev},
		})
		mips = append(mips, mipName)
		prev, prevW, prevH = mipName, mipW, mipH
	}

	maskID := ""
	if maskConn := dsl.IncomingConnection(c.Scene, node.ID, "mask"); maskConn != nil {
		if rec, ok := c.Registry.Lookup(maskConn.From.NodeID); ok {
			maskID = rec.TextureName
		}
	}

	compositeBundle := shaderassembly.MipBlend(mips, maskID)
	reads := append([]string{}, mips...)
	if maskID != "" {
		reads = append(reads, maskID)
	}
	outName := c.allocateOutput(node, src.Width, src.Height, src.Format, true)
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.ForNode("GradientBlur", node.ID), SourceNodeID: node.ID,
		ShaderModule: compositeBundle.Module, TargetTexture: outName, ReadTextures: reads,
	})
	if draw, ok := drawFor(c.Draws, node.ID); ok {
		c.emitCompositionBlit(node, outName, src.Width, src.Height, draw)
	}
	return nil
}

// bloomMaxLevels caps the downsample chain: halving stops early once the
// current level is at or below bloomMinExtent on either axis.
const bloomMaxLevels = 6
const bloomMinExtent = 8

type bloomLevel struct {
	tint    string
	w, h    uint32
}

// assembleBloom builds a downsample chain (halving until bloomMinExtent
// or bloomMaxLevels, whichever comes first), a per-level threshold/tint
// pass, and an upsample-and-accumulate chain that adds each level's
// contribution back on top of the next-finer level, finally accumulating
// onto the unthresholded source. tint is read from a connected ColorInput
// (or an inline color param) on the `tint` port; threshold defaults to 1
// when absent.
func (c *Context) assembleBloom(node *dsl.Node) error {
	srcConn := dsl.IncomingConnection(c.Scene, node.ID, "pass")
	if srcConn == nil {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Bloom requires a source pass connection")
	}
	src, ok := c.Registry.Lookup(srcConn.From.NodeID)
	if !ok {
		return compileerr.At(compileerr.KindStructuralViolation, node.ID, "pass", "Bloom source pass has no registered output")
	}

	if err := c.resolveChainCamera(node, src.Width, src.Height); err != nil {
		return err
	}

	threshold, ok := dsl.ParamFloat(node, "threshold")
	if !ok || threshold < 0 {
		threshold = 1.0
	}
	tint := c.resolveBloomTint(node)

	var levels []bloomLevel
	prev := src.TextureName
	prevW, prevH := src.Width, src.Height
	for i := 1; i <= bloomMaxLevels; i++ {
		if prevW <= bloomMinExtent || prevH <= bloomMinExtent {
			break
		}
		downW, downH := divAtLeast1(prevW, 2), divAtLeast1(prevH, 2)
		downBundle := shaderassembly.FullscreenTextured(prev)
		downName := c.allocateIntermediate(node, fmt.Sprintf("down%d", i), downW, downH, src.Format)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, fmt.Sprintf("down%d", i)), SourceNodeID: node.ID,
			ShaderModule: downBundle.Module, TargetTexture: downName, ReadTextures: []string{prev},
		})

		ttBundle := shaderassembly.ThresholdTint(downName, threshold, tint)
		ttName := c.allocateIntermediate(node, fmt.Sprintf("tt%d", i), downW, downH, src.Format)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, fmt.Sprintf("tt%d", i)), SourceNodeID: node.ID,
			ShaderModule: ttBundle.Module, TargetTexture: ttName, ReadTextures: []string{downName},
		})

		levels = append(levels, bloomLevel{tint: ttName, w: downW, h: downH})
		prev, prevW, prevH = downName, downW, downH
	}

	var contribution string
	if len(levels) == 0 {
		contribution = ""
	} else {
		acc := levels[len(levels)-1].tint
		for i := len(levels) - 2; i >= 0; i-- {
			targetW, targetH := levels[i].w, levels[i].h
			upBundle := shaderassembly.FullscreenTextured(acc)
			upName := c.allocateIntermediate(node, fmt.Sprintf("up%d", i), targetW, targetH, src.Format)
			c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
				Name: resourcename.Intermediate(node.ID, fmt.Sprintf("up%d", i)), SourceNodeID: node.ID,
				ShaderModule: upBundle.Module, TargetTexture: upName, ReadTextures: []string{acc},
			})
			sumBundle := shaderassembly.Accumulate(levels[i].tint, upName)
			sumName := c.allocateIntermediate(node, fmt.Sprintf("sum%d", i), targetW, targetH, src.Format)
			c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
				Name: resourcename.Intermediate(node.ID, fmt.Sprintf("sum%d", i)), SourceNodeID: node.ID,
				ShaderModule: sumBundle.Module, TargetTexture: sumName, ReadTextures: []string{levels[i].tint, upName},
			})
			acc = sumName
		}
		upFinalBundle := shaderassembly.FullscreenTextured(acc)
		upFinalName := c.allocateIntermediate(node, "upfinal", src.Width, src.Height, src.Format)
		c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
			Name: resourcename.Intermediate(node.ID, "upfinal"), SourceNodeID: node.ID,
			ShaderModule: upFinalBundle.Module, TargetTexture: upFinalName, ReadTextures: []string{acc},
		})
		contribution = upFinalName
	}

	outName := c.allocateOutput(node, src.Width, src.Height, src.Format, true)
	var finalBundle shaderassembly.Bundle
	var finalReads []string
	if contribution == "" {
		finalBundle = shaderassembly.ThresholdTint(src.TextureName, threshold, tint)
		finalReads = []string{src.TextureName}
	} else {
		finalBundle = shaderassembly.Accumulate(src.TextureName, contribution)
		finalReads = []string{src.TextureName, contribution}
	}
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.ForNode("Bloom", node.ID), SourceNodeID: node.ID,
		ShaderModule: finalBundle.Module, TargetTexture: outName, ReadTextures: finalReads,
	})
	if draw, ok := drawFor(c.Draws, node.ID); ok {
		c.emitCompositionBlit(node, outName, src.Width, src.Height, draw)
	}
	return nil
}

// resolveBloomTint reads the tint color from a connected ColorInput on
// the `tint` port, or an inline color-shaped param, defaulting to white.
func (c *Context) resolveBloomTint(node *dsl.Node) [4]float64 {
	if conn := dsl.IncomingConnection(c.Scene, node.ID, "tint"); conn != nil {
		if upstream := c.NodesByID[conn.From.NodeID]; upstream != nil {
			if arr, ok := dsl.ParamFloatArray(upstream, "value"); ok && len(arr) >= 3 {
				return tintFromArray(arr)
			}
		}
	}
	if arr, ok := dsl.ParamFloatArray(node, "tint"); ok && len(arr) >= 3 {
		return tintFromArray(arr)
	}
	return [4]float64{1, 1, 1, 1}
}

func tintFromArray(arr []float64) [4]float64 {
	t := [4]float64{arr[0], arr[1], arr[2], 1}
	if len(arr) >= 4 {
		t[3] = arr[3]
	}
	return t
}

func (c *Context) appendFitPass(node *dsl.Node, sourceTexture string, sourceW, sourceH uint32, draw georesolve.DrawContext) {
	bundle := shaderassembly.FullscreenTextured(sourceTexture)
	fitW, fitH := uint32(draw.Domain.Width), uint32(draw.Domain.Height)
	fitName := c.allocateIntermediate(node, "fit", fitW, fitH, "rgba8unorm")
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: resourcename.Intermediate(node.ID, "fit"), SourceNodeID: node.ID,
		ShaderModule: bundle.Module, TargetTexture: fitName, ReadTextures: []string{sourceTexture},
	})
	c.Registry.Register(node.ID, OutputRecord{TextureName: fitName, Width: fitW, Height: fitH, Format: "rgba8unorm"})
}

// emitCompositionBlit emits a fullscreen-textured blit from sourceTexture
// into the composition that consumes this layer (draw.CompositionID),
// declaring that composition's target texture at the draw's domain size
// on first use. Self-consumption (source == composition target) and
// degenerate zero-size targets are skipped.
func (c *Context) emitCompositionBlit(node *dsl.Node, sourceTexture string, width, height uint32, draw georesolve.DrawContext) {
	if draw.CompositionID == "" || width == 0 || height == 0 {
		return
	}
	if sourceTexture == draw.CompositionID {
		return
	}
	if _, ok := c.Graph.TextureByName(draw.CompositionID); !ok {
		c.Graph.Textures = append(c.Graph.Textures, rendergraphir.TextureDecl{
			Name: draw.CompositionID, Width: uint32(draw.Domain.Width), Height: uint32(draw.Domain.Height), Format: "rgba8unorm", Sample: 1,
			Usage: device.TextureUsageRenderAttachment | device.TextureUsageTextureBinding,
		})
	}
	bundle := shaderassembly.FullscreenTextured(sourceTexture)
	blitName := resourcename.Intermediate(node.ID, fmt.Sprintf("blit_%s", draw.CompositionID))
	c.Graph.Passes = append(c.Graph.Passes, rendergraphir.PassSpec{
		Name: blitName, SourceNodeID: node.ID,
		ShaderModule: bundle.Module, TargetTexture: draw.CompositionID, ReadTextures: []string{sourceTexture},
	})
	c.Graph.CompositeOrder = append(c.Graph.CompositeOrder, blitName)
}

func max1(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}

// divAtLeast1 divides v by d, clamping the result to at least 1 so a mip
// or downsample level never collapses to a zero-size texture.
func divAtLeast1(v, d uint32) uint32 {
	if d == 0 {
		d = 1
	}
	r := v / d
	if r == 0 {
		return 1
	}
	return r
}

var supportedDownsampleFactors = map[uint32]bool{1: true, 2: true, 4: true, 8: true, 16: true}

func isSupportedFactor(f uint32) bool {
	return supportedDownsampleFactors[f]
}

// cpuResolvableSize resolves a vec2 targetSize param: an inline
// literal, a connection to a constant-valued graph input, or the
// supplied fallback when neither form is present.
func cpuResolvableSize(scene *dsl.Scene, nodesByID map[string]*dsl.Node, n *dsl.Node, key string, fallbackW, fallbackH uint32) (uint32, uint32) {
	if arr, ok := dsl.ParamFloatArray(n, key); ok && len(arr) >= 2 {
		return uint32(arr[0]), uint32(arr[1])
	}
	conn := dsl.IncomingConnection(scene, n.ID, key)
	if conn == nil {
		return fallbackW, fallbackH
	}
	upstream := nodesByID[conn.From.NodeID]
	if upstream == nil {
		return fallbackW, fallbackH
	}
	if arr, ok := dsl.ParamFloatArray(upstream, "value"); ok && len(arr) >= 2 {
		return uint32(arr[0]), uint32(arr[1])
	}
	return fallbackW, fallbackH
}

// SortedCompositeOrder returns order with a stable deterministic
// tie-break applied (blits emitted for the same composition keep
// insertion order; across compositions, names sort lexicographically),
// honouring the linear-extension-of-the-DAG testable property.
func SortedCompositeOrder(order []string) []string {
	out := append([]string(nil), order...)
	// blit names end in "_<shortID>" of the emitting node; the prefix
	// before it names the composition.
	composition := func(name string) string {
		if i := strings.LastIndex(name, "_"); i >= 0 {
			return name[:i]
		}
		return name
	}
	sort.SliceStable(out, func(i, j int) bool { return composition(out[i]) < composition(out[j]) })
	return out
}
