package passassemblers

import (
	"encoding/json"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rendergraph/device"
	"github.com/gogpu/rendergraph/dsl"
	"github.com/gogpu/rendergraph/georesolve"
	"github.com/gogpu/rendergraph/rendergraphir"
)

type stubAdapter struct {
	features map[gputypes.TextureFormat]device.FormatFeatures
}

func (s stubAdapter) FormatFeatures(format gputypes.TextureFormat) (device.FormatFeatures, bool) {
	f, ok := s.features[format]
	return f, ok
}
func (s stubAdapter) Capabilities() device.Capabilities { return device.Capabilities{} }

func rawNum(f float64) json.RawMessage {
	b, _ := json.Marshal(f)
	return b
}

func buildRenderPassScene() *dsl.Scene {
	return &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "geo", Type: "Rect2D", Params: map[string]json.RawMessage{"position": json.RawMessage(`[0,0]`), "size": json.RawMessage(`[64,64]`)}},
			{ID: "color1", Type: "ColorInput", Params: map[string]json.RawMessage{"value": json.RawMessage(`[1,0,0,1]`)}},
			{ID: "pass1", Type: "RenderPass"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "geo", PortID: "rect"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "geometry"}},
			{ID: "c2", From: dsl.Endpoint{NodeID: "color1", PortID: "value"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "material"}},
		},
	}
}

func TestAssemble_RenderPassProducesTargetTexture(t *testing.T) {
	scene := buildRenderPassScene()
	draws := []georesolve.DrawContext{
		{PassID: "pass1", CompositionID: "comp1", Domain: georesolve.Size{Width: 64, Height: 64}, Geometry: georesolve.Rect{Width: 64, Height: 64}},
	}
	ctx := NewContext(scene, draws, nil)
	if err := ctx.Assemble(&scene.Nodes[2]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(ctx.Graph.Passes) == 0 {
		t.Fatal("expected at least one pass to be emitted")
	}
	rec, ok := ctx.Registry.Lookup("pass1")
	if !ok {
		t.Fatal("expected pass1 output to be registered")
	}
	if rec.Width != 64 || rec.Height != 64 {
		t.Errorf("registered output size = %dx%d, want 64x64", rec.Width, rec.Height)
	}
	// a composition blit should have been emitted since CompositionID != the pass's own texture name
	if len(ctx.Graph.CompositeOrder) != 1 {
		t.Errorf("expected one composite blit, got %d", len(ctx.Graph.CompositeOrder))
	}
}

func TestAssemble_DeadRenderPassIsSkipped(t *testing.T) {
	scene := buildRenderPassScene()
	ctx := NewContext(scene, nil, nil) // no draw contexts resolved: dead branch
	if err := ctx.Assemble(&scene.Nodes[2]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(ctx.Graph.Passes) != 0 {
		t.Errorf("expected no passes emitted for an unreachable render pass, got %d", len(ctx.Graph.Passes))
	}
}

func TestAssemble_DownsampleRejectsUnsupportedFactor(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "down1", Type: "Downsample", Params: map[string]json.RawMessage{"targetSize": json.RawMessage(`[21,21]`)}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "down1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 64, Height: 64, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err == nil {
		t.Error("expected an unsupported-factor error for a 64/21 downsample ratio")
	}
}

func TestAssemble_DownsampleAcceptsSupportedFactor(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "down1", Type: "Downsample", Params: map[string]json.RawMessage{"targetSize": json.RawMessage(`[32,32]`)}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "down1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 64, Height: 64, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	rec, ok := ctx.Registry.Lookup("down1")
	if !ok || rec.Width != 32 || rec.Height != 32 {
		t.Errorf("expected down1 registered at 32x32, got %+v ok=%v", rec, ok)
	}
}

func TestAssemble_RenderPassNegotiatesMSAADown(t *testing.T) {
	scene := buildRenderPassScene()
	scene.Nodes[2].Params = map[string]json.RawMessage{"sampleCount": rawNum(4)}
	draws := []georesolve.DrawContext{
		{PassID: "pass1", CompositionID: "comp1", Domain: georesolve.Size{Width: 64, Height: 64}, Geometry: georesolve.Rect{Width: 64, Height: 64}},
	}
	adapter := stubAdapter{features: map[gputypes.TextureFormat]device.FormatFeatures{
		gputypes.TextureFormatRGBA8Unorm: {Filterable: true, Blendable: true, SampleCounts: []uint32{1, 2}},
	}}
	ctx := NewContext(scene, draws, adapter)
	if err := ctx.Assemble(&scene.Nodes[2]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	var renderPass *rendergraphir.PassSpec
	for i := range ctx.Graph.Passes {
		if ctx.Graph.Passes[i].SourceNodeID == "pass1" {
			renderPass = &ctx.Graph.Passes[i]
			break
		}
	}
	if renderPass == nil {
		t.Fatal("expected a pass sourced from pass1")
	}
	if renderPass.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want negotiated down to 2", renderPass.SampleCount)
	}
	if renderPass.ResolveTarget == "" {
		t.Error("expected a ResolveTarget to be populated for a multisampled pass")
	}
}

func TestAssemble_RenderPassRejectsUnsupportedSampleCount(t *testing.T) {
	scene := buildRenderPassScene()
	scene.Nodes[2].Params = map[string]json.RawMessage{"sampleCount": rawNum(3)}
	draws := []georesolve.DrawContext{
		{PassID: "pass1", CompositionID: "comp1", Domain: georesolve.Size{Width: 64, Height: 64}, Geometry: georesolve.Rect{Width: 64, Height: 64}},
	}
	ctx := NewContext(scene, draws, nil)
	if err := ctx.Assemble(&scene.Nodes[2]); err == nil {
		t.Error("expected an error for a sample count not in {1,2,4,8}")
	}
}

func TestAssemble_ChainSharesOneCameraLatch(t *testing.T) {
	scene := buildRenderPassScene()
	scene.Nodes = append(scene.Nodes, dsl.Node{ID: "blur1", Type: "GaussianBlur", Params: map[string]json.RawMessage{"radius": rawNum(3)}})
	scene.Connections = append(scene.Connections, dsl.Connection{
		ID: "c3", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "blur1", PortID: "pass"},
	})
	draws := []georesolve.DrawContext{
		{PassID: "pass1", CompositionID: "comp1", Domain: georesolve.Size{Width: 64, Height: 64}, Geometry: georesolve.Rect{Width: 64, Height: 64}},
		{PassID: "blur1", CompositionID: "comp1", Domain: georesolve.Size{Width: 64, Height: 64}, Geometry: georesolve.Rect{Width: 64, Height: 64}},
	}
	ctx := NewContext(scene, draws, nil)
	if err := ctx.Assemble(&scene.Nodes[2]); err != nil {
		t.Fatalf("Assemble(pass1) error = %v", err)
	}
	if err := ctx.Assemble(&scene.Nodes[3]); err != nil {
		t.Fatalf("Assemble(blur1) error = %v", err)
	}
	latch, ok := ctx.camLatches["comp1"]
	if !ok {
		t.Fatal("expected a shared latch to be cached for comp1")
	}
	if latch.Take() {
		t.Error("expected the chain's shared latch to already be consumed by pass1")
	}
}

func TestAssemble_GaussianBlurLargeSigmaAddsDownUpPasses(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "blur1", Type: "GaussianBlur", Params: map[string]json.RawMessage{"radius": rawNum(60)}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "blur1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 256, Height: 256, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(ctx.Graph.Passes) != 4 {
		t.Errorf("expected 4 passes (down, blurh, blurv, up) for a large sigma, got %d", len(ctx.Graph.Passes))
	}
}

func TestAssemble_GaussianBlurSmallSigmaSkipsDownUpPasses(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "blur1", Type: "GaussianBlur", Params: map[string]json.RawMessage{"radius": rawNum(3)}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "blur1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 256, Height: 256, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(ctx.Graph.Passes) != 2 {
		t.Errorf("expected exactly 2 passes (blurh, blurv) for a small sigma, got %d", len(ctx.Graph.Passes))
	}
}

func TestAssemble_GradientBlurEmitsMipChain(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "gb1", Type: "GradientBlur"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "gb1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 256, Height: 256, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	// pad + 6 mip levels + final composite
	if len(ctx.Graph.Passes) != 8 {
		t.Errorf("expected 8 passes (pad, 6 mips, composite), got %d", len(ctx.Graph.Passes))
	}
}

func TestAssemble_BloomEmitsThresholdTintChain(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pass1", Type: "RenderPass"},
			{ID: "bloom1", Type: "Bloom", Params: map[string]json.RawMessage{"threshold": rawNum(1.2)}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "pass1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "bloom1", PortID: "pass"}},
		},
	}
	ctx := NewContext(scene, nil, nil)
	ctx.Registry.Register("pass1", OutputRecord{TextureName: "pass1_tex", Width: 256, Height: 256, Format: "rgba8unorm"})
	if err := ctx.Assemble(&scene.Nodes[1]); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(ctx.Graph.Passes) < 3 {
		t.Errorf("expected at least a downsample/threshold-tint/accumulate chain, got %d passes", len(ctx.Graph.Passes))
	}
	rec, ok := ctx.Registry.Lookup("bloom1")
	if !ok || rec.Width != 256 || rec.Height != 256 {
		t.Errorf("expected bloom1 registered at source resolution, got %+v ok=%v", rec, ok)
	}
}

func TestComputeSampledPassIDs(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "pt1", Type: "PassTexture", Params: map[string]json.RawMessage{"pass": json.RawMessage(`"pass1"`)}},
		},
	}
	sampled := ComputeSampledPassIDs(scene)
	if !sampled["pass1"] {
		t.Error("expected pass1 to be marked as sampled")
	}
}

func TestSortedCompositeOrder_IsDeterministic(t *testing.T) {
	in := []string{"z", "a", "m"}
	got := SortedCompositeOrder(in)
	want := []string{"a", "m", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedCompositeOrder() = %v, want %v", got, want)
		}
	}
}
