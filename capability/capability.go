// Package capability validates a render-graph's declared textures and
// passes against a device adapter's effective feature set, per the
// capability-validation component.
package capability

import (
	"sort"

	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/device"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rendergraph/rendergraphir"
)

// requirement accumulates, per texture, everything the graph demands of
// it: usage flags unioned across referencing passes, whether any pass
// samples it (needs FILTERABLE), whether any pass blends into it (needs
// BLENDABLE), and the sample counts requested. PassSpec carries no blend
// state, so accumulate never sets blended and the BLENDABLE check in
// Validate never fails.
type requirement struct {
	format       gputypes.TextureFormat
	usage        device.TextureUsage
	sampled      bool
	blended      bool
	sampleCounts map[uint32]bool
	passes       []string
}

// Validate walks g's textures and passes, resolving each texture's
// effective FormatFeatures from adapter (or a conservative guaranteed
// set if adapter is nil), and fails with an accumulated diagnostic
// naming every offending texture and the passes responsible.
func Validate(g *rendergraphir.Graph, adapter device.Adapter) error {
	reqs := accumulate(g)

	var diags compileerr.Diagnostics
	names := make([]string, 0, len(reqs))
	for name := range reqs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := reqs[name]
		features, ok := resolveFeatures(adapter, r.format)
		if !ok {
			diags.Add(compileerr.At(compileerr.KindUnsupportedCapability, name, "", "format %s has no known feature set", r.format))
			continue
		}
		if r.sampled && !features.Filterable {
			diags.Add(compileerr.At(compileerr.KindUnsupportedCapability, name, "", "format %s is not filterable but is sampled by passes %v", r.format, r.passes))
		}
		if r.blended && !features.Blendable {
			diags.Add(compileerr.At(compileerr.KindUnsupportedCapability, name, "", "format %s is not blendable but is a blend target for passes %v", r.format, r.passes))
		}
		counts := make([]uint32, 0, len(r.sampleCounts))
		for c := range r.sampleCounts {
			counts = append(counts, c)
		}
		sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
		for _, requested := range counts {
			if !features.SupportsSampleCount(requested) {
				diags.Add(compileerr.At(compileerr.KindUnsupportedCapability, name, "", "format %s does not support sample count %d (passes %v)", r.format, requested, r.passes))
			}
		}
	}

	if diags.Empty() {
		return nil
	}
	return diags.AsError()
}

func resolveFeatures(adapter device.Adapter, format gputypes.TextureFormat) (device.FormatFeatures, bool) {
	if adapter != nil {
		if f, ok := adapter.FormatFeatures(format); ok {
			return f, true
		}
	}
	return guaranteedFeatures(format)
}

// guaranteedFeatures is the conservative feature set assumed when no
// adapter is available to query (e.g. a headless capability pre-check).
func guaranteedFeatures(format gputypes.TextureFormat) (device.FormatFeatures, bool) {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSRGB,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSRGB:
		return device.FormatFeatures{Filterable: true, Blendable: true, SampleCounts: []uint32{1, 4}}, true
	default:
		return device.FormatFeatures{}, false
	}
}

func accumulate(g *rendergraphir.Graph) map[string]*requirement {
	out := make(map[string]*requirement)
	texByName := make(map[string]rendergraphir.TextureDecl)
	for _, t := range g.Textures {
		texByName[t.Name] = t
	}
	get := func(name string) *requirement {
		r, ok := out[name]
		if !ok {
			fmt := gputypes.TextureFormatUndefined
			if t, ok := texByName[name]; ok {
				fmt = gputypes.TextureFormat(t.Format)
			}
			r = &requirement{format: fmt, sampleCounts: make(map[uint32]bool)}
			out[name] = r
		}
		return r
	}

	for _, p := range g.Passes {
		if p.TargetTexture != "" {
			r := get(p.TargetTexture)
			r.usage |= device.TextureUsageRenderAttachment
			if p.SampleCount > 1 {
				r.sampleCounts[p.SampleCount] = true
			} else {
				r.sampleCounts[1] = true
			}
			r.passes = append(r.passes, p.Name)
		}
		if p.ResolveTarget != "" {
			r := get(p.ResolveTarget)
			r.usage |= device.TextureUsageRenderAttachment
			r.sampleCounts[1] = true
			r.passes = append(r.passes, p.Name)
		}
		for _, read := range p.ReadTextures {
			r := get(read)
			r.usage |= device.TextureUsageTextureBinding
			r.sampled = true
			r.passes = append(r.passes, p.Name)
		}
	}
	return out
}
