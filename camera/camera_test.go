package camera

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/gogpu/rendergraph/dsl"
)

func rawNum(f float64) json.RawMessage {
	b, _ := json.Marshal(f)
	return b
}

func TestLegacy2D_MatchesClosedForm(t *testing.T) {
	m := Legacy2D(100, 50)
	want := Mat4{
		2.0 / 100, 0, 0, 0,
		0, 2.0 / 50, 0, 0,
		0, 0, 1.0 / 100, 0,
		-1, -1, 0, 1,
	}
	if !ApproxEqual(m, want, 1e-9) {
		t.Errorf("Legacy2D(100,50) = %+v, want %+v", m, want)
	}
}

func TestApproxEqual(t *testing.T) {
	a := Identity()
	b := Identity()
	b[0] += 1e-9
	if !ApproxEqual(a, b, 1e-6) {
		t.Error("expected near-identical matrices to compare approx-equal")
	}
	b[0] += 1.0
	if ApproxEqual(a, b, 1e-6) {
		t.Error("expected substantially different matrices to compare unequal")
	}
}

func TestResolve_UnconnectedDefaultsToLegacy2D(t *testing.T) {
	scene := &dsl.Scene{Nodes: []dsl.Node{{ID: "pass1", Type: "RenderPass"}}}
	m, err := Resolve(scene, &scene.Nodes[0], "camera", 200, 100, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ApproxEqual(m, Legacy2D(200, 100), 1e-9) {
		t.Errorf("expected legacy 2D fallback, got %+v", m)
	}
}

func TestResolve_InlineIdentityMatrixFallsBackToLegacy2D(t *testing.T) {
	identityRowMajor := []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	raw, _ := json.Marshal(identityRowMajor)
	scene := &dsl.Scene{Nodes: []dsl.Node{{ID: "pass1", Type: "RenderPass", Params: map[string]json.RawMessage{"camera": raw}}}}
	m, err := Resolve(scene, &scene.Nodes[0], "camera", 64, 64, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ApproxEqual(m, Legacy2D(64, 64), 1e-9) {
		t.Error("identity inline camera should be treated as absent and fall back to legacy 2D")
	}
}

func TestResolve_InlineNonIdentityMatrixIsHonoured(t *testing.T) {
	rowMajor := []float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}
	raw, _ := json.Marshal(rowMajor)
	scene := &dsl.Scene{Nodes: []dsl.Node{{ID: "pass1", Type: "RenderPass", Params: map[string]json.RawMessage{"camera": raw}}}}
	m, err := Resolve(scene, &scene.Nodes[0], "camera", 64, 64, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ApproxEqual(m, Legacy2D(64, 64), 1e-9) {
		t.Error("non-identity inline camera should be honoured, not replaced by the legacy fallback")
	}
	if m[0] != 2 {
		t.Errorf("expected column-major transpose of row-major input, m[0]=%v want 2", m[0])
	}
}

func TestResolve_PerspectiveCameraConnected(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "cam1", Type: "PerspectiveCamera", Params: map[string]json.RawMessage{
				"fovy": rawNum(60), "aspect": rawNum(1.777), "near": rawNum(0.1), "far": rawNum(100),
				"position": json.RawMessage(`[0,0,5]`), "target": json.RawMessage(`[0,0,0]`), "up": json.RawMessage(`[0,1,0]`),
			}},
			{ID: "pass1", Type: "RenderPass"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "camera"}},
		},
	}
	m, err := Resolve(scene, &scene.Nodes[1], "camera", 640, 360, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ApproxEqual(m, Legacy2D(640, 360), 1e-9) {
		t.Error("connected perspective camera should not fall back to legacy 2D")
	}
	if math.IsNaN(m[0]) {
		t.Error("resolved perspective matrix contains NaN")
	}
}

func TestResolve_PerspectiveCameraRejectsInvalidFovy(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "cam1", Type: "PerspectiveCamera", Params: map[string]json.RawMessage{
				"fovy": rawNum(0), "aspect": rawNum(1), "near": rawNum(0.1), "far": rawNum(10),
			}},
			{ID: "pass1", Type: "RenderPass"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "camera"}},
		},
	}
	if _, err := Resolve(scene, &scene.Nodes[1], "camera", 64, 64, nil); err == nil {
		t.Error("expected error for fovy outside (0,180)")
	}
}

func TestResolve_OrthographicCameraConnected(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "cam1", Type: "OrthographicCamera", Params: map[string]json.RawMessage{
				"left": rawNum(-1), "right": rawNum(1), "bottom": rawNum(-1), "top": rawNum(1),
				"near": rawNum(0.1), "far": rawNum(10),
			}},
			{ID: "pass1", Type: "RenderPass"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "camera"}},
		},
	}
	m, err := Resolve(scene, &scene.Nodes[1], "camera", 64, 64, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ApproxEqual(m, Legacy2D(64, 64), 1e-9) {
		t.Error("connected orthographic camera should not fall back to legacy 2D")
	}
}

func TestResolve_OrthographicCameraRejectsDegenerateBounds(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "cam1", Type: "OrthographicCamera", Params: map[string]json.RawMessage{
				"left": rawNum(1), "right": rawNum(1), "bottom": rawNum(-1), "top": rawNum(1),
				"near": rawNum(0.1), "far": rawNum(10),
			}},
			{ID: "pass1", Type: "RenderPass"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "camera"}},
		},
	}
	if _, err := Resolve(scene, &scene.Nodes[1], "camera", 64, 64, nil); err == nil {
		t.Error("expected error for degenerate left==right bounds")
	}
}

func TestLatch_OnlyFirstTakeSucceeds(t *testing.T) {
	var l Latch
	if !l.Take() {
		t.Fatal("first Take() should succeed")
	}
	if l.Take() {
		t.Error("second Take() should fail")
	}
	if l.Take() {
		t.Error("third Take() should fail")
	}
}

func TestResolve_LatchEnforcesChainPolicy(t *testing.T) {
	scene := &dsl.Scene{
		Nodes: []dsl.Node{
			{ID: "cam1", Type: "PerspectiveCamera", Params: map[string]json.RawMessage{
				"fovy": rawNum(60), "aspect": rawNum(1), "near": rawNum(0.1), "far": rawNum(100),
			}},
			{ID: "pass1", Type: "RenderPass"},
			{ID: "down1", Type: "Downsample"},
		},
		Connections: []dsl.Connection{
			{ID: "c1", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "pass1", PortID: "camera"}},
			{ID: "c2", From: dsl.Endpoint{NodeID: "cam1", PortID: "camera"}, To: dsl.Endpoint{NodeID: "down1", PortID: "camera"}},
		},
	}
	var latch Latch
	first, err := Resolve(scene, &scene.Nodes[1], "camera", 640, 360, &latch)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ApproxEqual(first, Legacy2D(640, 360), 1e-9) {
		t.Error("first pass in chain should consume the user camera")
	}
	second, err := Resolve(scene, &scene.Nodes[2], "camera", 320, 180, &latch)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ApproxEqual(second, Legacy2D(320, 180), 1e-9) {
		t.Error("second pass in chain should use the legacy fullscreen projection")
	}
}
