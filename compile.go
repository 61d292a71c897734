// Package rendergraph compiles a node-graph scene into a resident
// render-graph IR ready for a WGPU-shaped host to execute. A compile is
// a pure function of (scene, device capabilities, asset store): apart
// from the optional shader dump (WithShaderDumpDir), it performs no I/O,
// spawns no goroutines, and never blocks.
package rendergraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gogpu/rendergraph/capability"
	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/device"
	"github.com/gogpu/rendergraph/dsl"
	"github.com/gogpu/rendergraph/georesolve"
	"github.com/gogpu/rendergraph/passassemblers"
	"github.com/gogpu/rendergraph/rendergraphir"
	"github.com/gogpu/rendergraph/schema"
	"github.com/gogpu/rendergraph/sceneprep"
	"github.com/gogpu/rendergraph/signature"
)

// Result is the successful output of Compile: the resident render-graph,
// the resolution it targets, the name of the texture holding the final
// image, and the content signature it was built from.
type Result struct {
	Graph      *rendergraphir.Graph
	Resolution [2]uint32
	Output     string
	Signature  signature.Digest
	Report     *sceneprep.Report
}

// AssetBaker is re-exported from sceneprep so callers configuring a
// Compile call don't need to import that package directly.
type AssetBaker = sceneprep.AssetBaker

// Compile validates, prepares, resolves, and assembles scene into a
// render-graph. adapter may be nil, in which case capability validation
// falls back to a conservative guaranteed feature set. baker may be nil
// if the scene contains no DataParse nodes.
//
// On failure, Compile returns a structured *compileerr.CompileError (or
// a joined set via compileerr.Diagnostics) describing every offending
// node/port; callers should substitute an error plane by calling Compile
// again with ErrorPlaneScene().
func Compile(scene *dsl.Scene, adapter device.Adapter, baker AssetBaker, opts ...CompileOption) (*Result, error) {
	options := defaultCompileOptions()
	for _, o := range opts {
		o(&options)
	}

	result, err := compile(scene, adapter, baker, options)
	if err != nil {
		Logger().Error("compile failed", "error", err)
		return nil, err
	}
	Logger().Info("compile succeeded",
		"signature", result.Signature.String(),
		"passes", len(result.Graph.Passes),
		"resolution", result.Resolution,
	)
	return result, nil
}

func compile(scene *dsl.Scene, adapter device.Adapter, baker AssetBaker, options compileOptions) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = compileerr.At(compileerr.KindPanic, "", "", "panic during compile: %v", r)
			result = nil
		}
	}()

	scheme, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load node scheme: %w", err)
	}
	if err := schema.Validate(scene, scheme); err != nil {
		return nil, err
	}

	prepared, report, err := sceneprep.Prepare(scene, scheme, baker)
	if err != nil {
		return nil, err
	}
	Logger().Debug("scene prepared",
		"groupExpansions", report.GroupExpansions,
		"autoWraps", report.AutoWraps,
		"inlinings", report.Inlinings,
		"dedupGroups", report.DedupGroups,
		"dedupRemoved", report.DedupRemoved,
	)

	draws, err := georesolve.Resolve(prepared.Scene)
	if err != nil {
		return nil, err
	}

	asmCtx := passassemblers.NewContext(prepared.Scene, draws, adapter)
	for _, nodeID := range prepared.TopoOrder {
		node := prepared.NodesByID[nodeID]
		if node == nil {
			continue
		}
		if !isPassProducing(node.Type) {
			continue
		}
		if err := asmCtx.Assemble(node); err != nil {
			return nil, err
		}
	}
	asmCtx.Graph.CompositeOrder = passassemblers.SortedCompositeOrder(asmCtx.Graph.CompositeOrder)

	resolution, outputTexture := finalTarget(asmCtx.Graph, options)
	asmCtx.Graph.Resolution = resolution
	asmCtx.Graph.OutputTexture = outputTexture

	if err := capability.Validate(asmCtx.Graph, adapter); err != nil {
		return nil, err
	}

	if options.shaderDumpDir != "" {
		if err := dumpShaders(options.shaderDumpDir, asmCtx.Graph); err != nil {
			Logger().Warn("shader dump failed", "error", err)
		}
	}

	sig := signature.OfWithGraphInputs(prepared.Scene)
	return &Result{
		Graph:      asmCtx.Graph,
		Resolution: resolution,
		Output:     outputTexture,
		Signature:  sig,
		Report:     report,
	}, nil
}

var passProducingTypes = map[string]bool{
	"RenderPass": true, "Downsample": true, "Upsample": true,
	"GaussianBlur": true, "GradientBlur": true, "Bloom": true,
}

func isPassProducing(nodeType string) bool { return passProducingTypes[nodeType] }

// finalTarget picks the render-graph's output resolution and texture
// name: the target of the last pass appended to g (the composition blit
// of the last assembled node that feeds a composition) with that
// texture's declared size, a 1x1 resolution when that target is not a
// declared texture, or a 1x1 placeholder with no name if the graph has
// no passes. options is not read.
func finalTarget(g *rendergraphir.Graph, options compileOptions) ([2]uint32, string) {
	if len(g.Passes) == 0 {
		return [2]uint32{1, 1}, ""
	}
	last := g.Passes[len(g.Passes)-1]
	if tex, ok := g.TextureByName(last.TargetTexture); ok {
		return [2]uint32{tex.Width, tex.Height}, tex.Name
	}
	return [2]uint32{1, 1}, last.TargetTexture
}

func dumpShaders(dir string, g *rendergraphir.Graph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	names := make([]string, 0, len(g.Passes))
	byName := make(map[string]rendergraphir.PassSpec, len(g.Passes))
	for _, p := range g.Passes {
		names = append(names, p.Name)
		byName[p.Name] = p
	}
	sort.Strings(names)
	for _, name := range names {
		p := byName[name]
		path := filepath.Join(dir, name+".wgsl")
		if err := os.WriteFile(path, []byte(p.ShaderModule), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ErrorPlaneScene returns a synthetic single-pass scene that clears to a
// solid color, suitable for substituting in place of a scene that failed
// to compile. w and h must be positive; color is an RGBA literal in
// [0,1].
func ErrorPlaneScene(w, h int, color [4]float64) *dsl.Scene {
	toJSON := func(v interface{}) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	return &dsl.Scene{
		Version: 1,
		Nodes: []dsl.Node{
			{ID: "error_color", Type: "ColorInput", Params: map[string]json.RawMessage{
				"value": toJSON([]float64{color[0], color[1], color[2], color[3]}),
			}},
			{ID: "error_geo", Type: "Rect2D", Params: map[string]json.RawMessage{
				"position": toJSON([]float64{0, 0}),
				"size":     toJSON([]float64{float64(w), float64(h)}),
			}},
			{ID: "error_pass", Type: "RenderPass"},
			{ID: "error_target", Type: "RenderTexture", Params: map[string]json.RawMessage{
				"width": toJSON(float64(w)), "height": toJSON(float64(h)), "format": toJSON("rgba8unorm"),
			}},
			{ID: "error_composite", Type: "Composite"},
			{ID: "error_render_target", Type: "RenderTarget"},
		},
		Connections: []dsl.Connection{
			{ID: "error_c1", From: dsl.Endpoint{NodeID: "error_geo", PortID: "rect"}, To: dsl.Endpoint{NodeID: "error_pass", PortID: "geometry"}},
			{ID: "error_c2", From: dsl.Endpoint{NodeID: "error_color", PortID: "value"}, To: dsl.Endpoint{NodeID: "error_pass", PortID: "material"}},
			{ID: "error_c3", From: dsl.Endpoint{NodeID: "error_pass", PortID: "pass"}, To: dsl.Endpoint{NodeID: "error_composite", PortID: "pass"}},
			{ID: "error_c4", From: dsl.Endpoint{NodeID: "error_target", PortID: "target"}, To: dsl.Endpoint{NodeID: "error_composite", PortID: "target"}},
			{ID: "error_c5", From: dsl.Endpoint{NodeID: "error_composite", PortID: "pass"}, To: dsl.Endpoint{NodeID: "error_render_target", PortID: "pass"}},
		},
	}
}
