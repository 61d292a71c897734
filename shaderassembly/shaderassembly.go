// Package shaderassembly builds the WGSL source bundle for a single
// render pass from compiled material fragments, per the shader-assembly
// component: a shared Params uniform convention, a fullscreen/geometry
// vertex stage, and a fragment stage built from the material compiler's
// inline statements and final expression.
package shaderassembly

import (
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/material"
)

// Bundle is the compiled shader source for one pass: separable vertex
// and fragment stages, their combination into one module (the common
// case for a WGSL entry-point pair), and the resource ids that must be
// bound alongside the Params uniform.
type Bundle struct {
	Common        string
	Vertex        string
	Fragment      string
	Module        string
	ImageTextures []string
	PassTextures  []string
}

// commonHeader is emitted ahead of every pass: the Params uniform (bind
// group 0, binding 0), the vertex-to-fragment interface struct, and
// binding declarations for the textures/samplers the material
// referenced.
func commonHeader(images, passes []string) string {
	var sb strings.Builder
	sb.WriteString("struct Params {\n")
	sb.WriteString("  target_size: vec2<f32>,\n")
	sb.WriteString("  geo_size: vec2<f32>,\n")
	sb.WriteString("  center: vec2<f32>,\n")
	sb.WriteString("  translate: vec2<f32>,\n")
	sb.WriteString("  scale: vec2<f32>,\n")
	sb.WriteString("  time: f32,\n")
	sb.WriteString("  color: vec4<f32>,\n")
	sb.WriteString("}\n")
	sb.WriteString("@group(0) @binding(0) var<uniform> params: Params;\n")

	binding := 1
	for _, id := range images {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var %s: texture_2d<f32>;\n", binding, sanitize(id))
		binding++
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var %s_sampler: sampler;\n", binding, sanitize(id))
		binding++
	}
	for _, id := range passes {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var %s: texture_2d<f32>;\n", binding, sanitize(id))
		binding++
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var %s_sampler: sampler;\n", binding, sanitize(id))
		binding++
	}

	sb.WriteString("struct VertexOutput {\n")
	sb.WriteString("  @builtin(position) clip_position: vec4<f32>,\n")
	sb.WriteString("  @location(0) uv: vec2<f32>,\n")
	sb.WriteString("  @location(1) frag_coord_gl: vec2<f32>,\n")
	sb.WriteString("  @location(2) local_px: vec2<f32>,\n")
	sb.WriteString("  @location(3) geo_size_px: vec2<f32>,\n")
	sb.WriteString("}\n")
	return sb.String()
}

func sanitize(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

const vertexTemplate = `@vertex
fn vs_main(@location(0) in_position: vec2<f32>, @location(1) in_uv: vec2<f32>) -> VertexOutput {
  var out: VertexOutput;
  out.uv = in_uv;
  out.geo_size_px = params.geo_size;
  let half_target = params.target_size * 0.5;
  let clip_xy = (params.center + in_position * params.scale + params.translate - half_target) / half_target;
  out.clip_position = vec4<f32>(clip_xy.x, -clip_xy.y, 0.0, 1.0);
  out.local_px = in_uv * params.geo_size;
  out.frag_coord_gl = vec2<f32>(out.local_px.x, params.geo_size.y - out.local_px.y);
  return out;
}
`

// Assemble builds the full source bundle for one pass's fragment
// expression: inline statements (auxiliary functions and closure
// blocks) are emitted ahead of the final `return`.
func Assemble(fragmentExpr material.TypedExpr, inlineStatements []string, images, passes []string) Bundle {
	common := commonHeader(images, passes)

	var frag strings.Builder
	frag.WriteString("@fragment\n")
	frag.WriteString("fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n")
	for _, stmt := range inlineStatements {
		frag.WriteString(indent(stmt))
	}
	fmt.Fprintf(&frag, "  return %s;\n", coerceVec4(fragmentExpr))
	frag.WriteString("}\n")

	module := common + vertexTemplate + frag.String()
	return Bundle{
		Common:        common,
		Vertex:        vertexTemplate,
		Fragment:      frag.String(),
		Module:        module,
		ImageTextures: images,
		PassTextures:  passes,
	}
}

func coerceVec4(e material.TypedExpr) string {
	if e.Type == material.TypeVec4 {
		return e.Source
	}
	return fmt.Sprintf("vec4<f32>(%s, %s, %s, 1.0)", e.Source, e.Source, e.Source)
}

func indent(block string) string {
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString("  " + l + "\n")
	}
	return sb.String()
}

// FullscreenTextured builds the specialised bundle for a pass that
// simply samples one source texture across the full target: used by
// blit/composite-consumer emission and bilinear upsample.
func FullscreenTextured(sourceID string) Bundle {
	images := []string{sourceID}
	common := commonHeader(nil, images)
	body := fmt.Sprintf("  return textureSample(%s, %s_sampler, in.uv);\n", sanitize(sourceID), sanitize(sourceID))
	frag := "@fragment\nfn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n" + body + "}\n"
	return Bundle{Common: common, Vertex: vertexTemplate, Fragment: frag, Module: common + vertexTemplate + frag, ImageTextures: images}
}

// WeightedBlur builds the separable weighted-tap blur bundle consumed by
// the Gaussian blur assembler: weights/offsets from GaussianTapWeights,
// sampled symmetrically about in.uv along one axis of the source
// texture's own target_size.
func WeightedBlur(sourceID string, weights, offsets []float64, horizontal bool) Bundle {
	images := []string{sourceID}
	common := commonHeader(nil, images)
	name := sanitize(sourceID)

	var body strings.Builder
	body.WriteString("  let texel = 1.0 / params.target_size;\n")
	if horizontal {
		body.WriteString("  let step = vec2<f32>(texel.x, 0.0);\n")
	} else {
		body.WriteString("  let step = vec2<f32>(0.0, texel.y);\n")
	}
	body.WriteString("  var acc = vec4<f32>(0.0, 0.0, 0.0, 0.0);\n")
	for i, w := range weights {
		off := offsets[i]
		fmt.Fprintf(&body, "  acc = acc + textureSample(%s, %s_sampler, in.uv + step * %s) * %s;\n",
			name, name, wgslFloat(off), wgslFloat(w))
		if off != 0 {
			fmt.Fprintf(&body, "  acc = acc + textureSample(%s, %s_sampler, in.uv - step * %s) * %s;\n",
				name, name, wgslFloat(off), wgslFloat(w))
		}
	}
	body.WriteString("  return acc;\n")

	frag := "@fragment\nfn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n" + body.String() + "}\n"
	return Bundle{Common: common, Vertex: vertexTemplate, Fragment: frag, Module: common + vertexTemplate + frag, ImageTextures: images}
}

// ThresholdTint builds the per-level bloom contribution pass: the source
// sample's luminance over threshold is kept and tinted, everything below
// is discarded black. threshold and tint are baked as literals since this
// pass is compiler-synthesised rather than a user material expression.
func ThresholdTint(sourceID string, threshold float64, tint [4]float64) Bundle {
	images := []string{sourceID}
	common := commonHeader(nil, images)
	name := sanitize(sourceID)
	body := fmt.Sprintf(
		"  let c = textureSample(%s, %s_sampler, in.uv);\n"+
			"  let luma = dot(c.rgb, vec3<f32>(0.2126, 0.7152, 0.0722));\n"+
			"  let contribution = max(luma - %s, 0.0);\n"+
			"  return vec4<f32>(c.rgb * vec3<f32>(%s, %s, %s) * contribution, c.a);\n",
		name, name, wgslFloat(threshold), wgslFloat(tint[0]), wgslFloat(tint[1]), wgslFloat(tint[2]))
	frag := "@fragment\nfn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n" + body + "}\n"
	return Bundle{Common: common, Vertex: vertexTemplate, Fragment: frag, Module: common + vertexTemplate + frag, ImageTextures: images}
}

// Accumulate builds an additive blend pass that adds addID's sample on
// top of baseID's, used by the bloom upsample-and-accumulate chain.
func Accumulate(baseID, addID string) Bundle {
	images := []string{baseID, addID}
	common := commonHeader(nil, images)
	baseName, addName := sanitize(baseID), sanitize(addID)
	body := fmt.Sprintf(
		"  let base = textureSample(%s, %s_sampler, in.uv);\n"+
			"  let add = textureSample(%s, %s_sampler, in.uv);\n"+
			"  return vec4<f32>(base.rgb + add.rgb, max(base.a, add.a));\n",
		baseName, baseName, addName, addName)
	frag := "@fragment\nfn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n" + body + "}\n"
	return Bundle{Common: common, Vertex: vertexTemplate, Fragment: frag, Module: common + vertexTemplate + frag, ImageTextures: images}
}

// MipBlend builds the gradient-blur composite pass: it reads a mask
// texture for a per-pixel blur radius in source pixels, converts it to a
// clamped mip level `clamp(log2(sigma*4/3), 0, len(mips)-1)`, and blends
// the two bracketing mip images with a smoothstep-weighted cubic
// interpolant (3f^2 - 2f^3). Each mip is read with a single filtered
// sample; no Mitchell-Netravali bicubic reconstruction is performed.
// mips[0] is the unblurred source; mips[1:] are the padded box-filter mip
// chain, finest to coarsest.
func MipBlend(mips []string, maskID string) Bundle {
	images := append([]string{}, mips...)
	if maskID != "" {
		images = append(images, maskID)
	}
	common := commonHeader(nil, images)

	var body strings.Builder
	if maskID != "" {
		body.WriteString(fmt.Sprintf("  let sigma = textureSample(%s, %s_sampler, in.uv).r * 64.0;\n", sanitize(maskID), sanitize(maskID)))
	} else {
		body.WriteString("  let sigma = 0.0;\n")
	}
	maxLevel := float64(len(mips) - 1)
	fmt.Fprintf(&body, "  let level = clamp(log2(max(sigma * 4.0 / 3.0, 0.001)), 0.0, %s);\n", wgslFloat(maxLevel))
	body.WriteString("  let lo = floor(level);\n")
	body.WriteString("  let frac = level - lo;\n")
	body.WriteString("  let w = frac * frac * (3.0 - 2.0 * frac);\n") // smoothstep-weighted cubic blend between adjacent mips
	for i, m := range mips {
		name := sanitize(m)
		fmt.Fprintf(&body, "  if (lo <= %s) {\n", wgslFloat(float64(i)))
		if i+1 < len(mips) {
			next := sanitize(mips[i+1])
			fmt.Fprintf(&body, "    let a = textureSample(%s, %s_sampler, in.uv);\n", name, name)
			fmt.Fprintf(&body, "    let b = textureSample(%s, %s_sampler, in.uv);\n", next, next)
			body.WriteString("    return mix(a, b, w);\n")
		} else {
			fmt.Fprintf(&body, "    return textureSample(%s, %s_sampler, in.uv);\n", name, name)
		}
		body.WriteString("  }\n")
	}
	body.WriteString(fmt.Sprintf("  return textureSample(%s, %s_sampler, in.uv);\n", sanitize(mips[len(mips)-1]), sanitize(mips[len(mips)-1])))

	frag := "@fragment\nfn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {\n" + body.String() + "}\n"
	return Bundle{Common: common, Vertex: vertexTemplate, Fragment: frag, Module: common + vertexTemplate + frag, ImageTextures: images}
}

func wgslFloat(v float64) string {
	return fmt.Sprintf("%f", v)
}

// GaussianTapWeights returns the eight-tap weights and pixel offsets for
// a separable Gaussian blur of standard deviation sigma (in texels).
func GaussianTapWeights(sigma float64) (weights, offsets []float64) {
	const taps = 8
	weights = make([]float64, taps)
	offsets = make([]float64, taps)
	var sum float64
	for i := 0; i < taps; i++ {
		x := float64(i)
		w := gaussianKernel(x, sigma)
		weights[i] = w
		offsets[i] = x
		sum += w
		if i > 0 {
			sum += w
		}
	}
	if sum == 0 {
		sum = 1
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, offsets
}

func gaussianKernel(x, sigma float64) float64 {
	if sigma <= 0 {
		sigma = 1e-3
	}
	return math.Exp(-(x*x)/(2*sigma*sigma)) / (sigma * 2.5066282746310002)
}

// ValidateModule cross-compiles bundle's module through naga to catch WGSL
// produced by the material compiler that parses but does not actually
// validate (e.g. a mismatched swizzle arity slipping past promote).
// Compiling a pass's shader at build time rather than waiting for it to
// fail inside a driver turns an opaque device-lost into a
// node/port-attributed compile error.
func ValidateModule(passName string, bundle Bundle) error {
	if _, err := naga.Compile(bundle.Module); err != nil {
		return compileerr.At(compileerr.KindUnsupportedCapability, passName, "", "shader failed naga validation: %v", err)
	}
	return nil
}
