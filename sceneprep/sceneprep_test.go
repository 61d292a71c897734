package sceneprep

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gogpu/rendergraph/dsl"
	"github.com/gogpu/rendergraph/schema"
)

func mustScheme(t *testing.T) *schema.NodeScheme {
	t.Helper()
	s, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	return s
}

func rawNum(f float64) json.RawMessage {
	b, _ := json.Marshal(f)
	return b
}

// buildAutoWrapScene builds scenario 1 from the test suite seed:
// ColorInput -> Composite.pass; RenderTexture -> Composite.target;
// Composite -> RenderTarget.
func buildAutoWrapScene() *dsl.Scene {
	return &dsl.Scene{
		Version: 1,
		Nodes: []dsl.Node{
			{ID: "color1", Type: "ColorInput", Params: map[string]json.RawMessage{"value": json.RawMessage(`[0.2,0.3,0.4,1]`)}},
			{ID: "rt1", Type: "RenderTexture", Params: map[string]json.RawMessage{
				"width": rawNum(64), "height": rawNum(32), "format": json.RawMessage(`"rgba8unorm"`),
			}},
			{ID: "comp1", Type: "Composite", Params: map[string]json.RawMessage{}},
			{ID: "target1", Type: "RenderTarget", Params: map[string]json.RawMessage{}},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "color1", PortID: "value"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "pass"}},
			{ID: "c2", From: dsl.Endpoint{NodeID: "rt1", PortID: "target"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "target"}},
			{ID: "c3", From: dsl.Endpoint{NodeID: "comp1", PortID: "pass"}, To: dsl.Endpoint{NodeID: "target1", PortID: "pass"}},
		},
	}
}

func TestPrepare_AutoWrapsPrimitiveIntoRenderPass(t *testing.T) {
	scheme := mustScheme(t)
	prepared, report, err := Prepare(buildAutoWrapScene(), scheme, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if report.AutoWraps != 1 {
		t.Errorf("AutoWraps = %d, want 1", report.AutoWraps)
	}

	foundRenderPass := false
	foundGeometry := false
	for _, n := range prepared.Scene.Nodes {
		if n.Type == "RenderPass" {
			foundRenderPass = true
		}
		if n.Type == "Rect2D" {
			foundGeometry = true
		}
	}
	if !foundRenderPass || !foundGeometry {
		t.Errorf("expected a synthesized RenderPass+Rect2D pair, nodes: %+v", prepared.Scene.Nodes)
	}
}

func TestPrepare_DeadSubgraphPruned(t *testing.T) {
	scheme := mustScheme(t)
	scene := buildAutoWrapScene()
	scene.Nodes = append(scene.Nodes, dsl.Node{ID: "dead1", Type: "ColorInput", Params: map[string]json.RawMessage{}})

	prepared, _, err := Prepare(scene, scheme, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, ok := prepared.NodesByID["dead1"]; ok {
		t.Error("dead1 is unreachable from the render target and should have been pruned")
	}
}

func TestPrepare_GroupExpansionUniqueIDs(t *testing.T) {
	scheme := mustScheme(t)
	scene := buildAutoWrapScene()
	scene.Groups = []dsl.Group{
		{
			ID: "g1",
			Nodes: []dsl.Node{
				{ID: "inner", Type: "ColorInput", Params: map[string]json.RawMessage{"value": json.RawMessage(`[1,0,0,1]`)}},
			},
			OutputBindings: []dsl.GroupPortEdge{
				{GroupPortID: "out", Internal: dsl.Endpoint{NodeID: "inner", PortID: "value"}},
			},
		},
	}
	scene.Nodes = append(scene.Nodes, dsl.Node{ID: "inst1", Type: "GroupInstance", Params: map[string]json.RawMessage{"groupId": json.RawMessage(`"g1"`)}})
	scene.Connections = append(scene.Connections, dsl.Connection{
		ID: "c-inst", From: dsl.Endpoint{NodeID: "inst1", PortID: "out"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "dynamic_0"},
	})

	prepared, report, err := Prepare(scene, scheme, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if report.GroupExpansions == 0 {
		t.Error("expected at least one group expansion")
	}
	if _, ok := prepared.NodesByID["inst1/inner"]; !ok {
		t.Errorf("expected cloned node inst1/inner, got nodes: %v", keys(prepared.NodesByID))
	}
}

func keys(m map[string]*dsl.Node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestPrepare_ImageFileInlinedIntoTexture(t *testing.T) {
	scheme := mustScheme(t)
	scene := buildAutoWrapScene()
	scene.Nodes = append(scene.Nodes,
		dsl.Node{ID: "img1", Type: "ImageFile", Params: map[string]json.RawMessage{"path": json.RawMessage(`"tex.png"`)}},
		dsl.Node{ID: "tex1", Type: "ImageTexture", Params: map[string]json.RawMessage{}},
	)
	scene.Connections = append(scene.Connections,
		dsl.Connection{ID: "c-img", From: dsl.Endpoint{NodeID: "img1", PortID: "image"}, To: dsl.Endpoint{NodeID: "tex1", PortID: "image"}},
		dsl.Connection{ID: "c-tex", From: dsl.Endpoint{NodeID: "tex1", PortID: "value"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "dynamic_0"}},
	)

	prepared, report, err := Prepare(scene, scheme, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if report.Inlinings != 1 {
		t.Errorf("Inlinings = %d, want 1", report.Inlinings)
	}
	if _, ok := prepared.NodesByID["img1"]; ok {
		t.Error("img1 should have been removed after inlining")
	}
	tex, ok := prepared.NodesByID["tex1"]
	if !ok {
		t.Fatal("tex1 missing from prepared scene")
	}
	if _, ok := tex.Params["path"]; !ok {
		t.Error("expected image-file params copied onto the texture node")
	}
}

func TestPrepare_PassDedupCollapsesIdenticalGroups(t *testing.T) {
	scheme := mustScheme(t)
	scene := buildAutoWrapScene()
	scene.Groups = []dsl.Group{
		{
			ID: "g1",
			Nodes: []dsl.Node{
				{ID: "geo", Type: "Rect2D", Params: map[string]json.RawMessage{}},
				{ID: "pass", Type: "RenderPass", Params: map[string]json.RawMessage{}},
			},
			Connections: []dsl.Connection{
				{ID: "geo-to-pass", From: dsl.Endpoint{NodeID: "geo", PortID: "rect"}, To: dsl.Endpoint{NodeID: "pass", PortID: "geometry"}},
			},
			OutputBindings: []dsl.GroupPortEdge{
				{GroupPortID: "out", Internal: dsl.Endpoint{NodeID: "pass", PortID: "pass"}},
			},
		},
	}
	scene.Nodes = append(scene.Nodes,
		dsl.Node{ID: "inst1", Type: "GroupInstance", Params: map[string]json.RawMessage{"groupId": json.RawMessage(`"g1"`)}},
		dsl.Node{ID: "inst2", Type: "GroupInstance", Params: map[string]json.RawMessage{"groupId": json.RawMessage(`"g1"`)}},
	)
	scene.Connections = append(scene.Connections,
		dsl.Connection{ID: "c-inst1", From: dsl.Endpoint{NodeID: "inst1", PortID: "out"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "dynamic_0"}},
		dsl.Connection{ID: "c-inst2", From: dsl.Endpoint{NodeID: "inst2", PortID: "out"}, To: dsl.Endpoint{NodeID: "comp1", PortID: "dynamic_1"}},
	)

	prepared, report, err := Prepare(scene, scheme, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if report.DedupGroups == 0 {
		t.Error("expected pass dedup to collapse the two structurally identical instances")
	}
	// count only the instances' RenderPass nodes: auto-wrapping color1
	// adds a RenderPass of its own that dedup does not touch.
	renderPassCount := 0
	for _, n := range prepared.Scene.Nodes {
		if n.Type == "RenderPass" && strings.HasPrefix(n.ID, "inst") {
			renderPassCount++
		}
	}
	if renderPassCount != 1 {
		t.Errorf("expected exactly one surviving RenderPass after dedup, got %d", renderPassCount)
	}
}
