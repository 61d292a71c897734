package rendergraph

import (
	"testing"

	"github.com/gogpu/rendergraph/dsl"
)

func TestCompile_ErrorPlaneSceneCompilesSuccessfully(t *testing.T) {
	scene := ErrorPlaneScene(64, 64, [4]float64{0.2, 0.4, 0.6, 1})
	result, err := Compile(scene, nil, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if result.Resolution != [2]uint32{64, 64} {
		t.Errorf("Resolution = %v, want [64 64]", result.Resolution)
	}
	if len(result.Graph.Passes) == 0 {
		t.Error("expected at least one pass in the compiled graph")
	}
	if result.Output == "" {
		t.Error("expected a non-empty output texture name")
	}
}

func TestCompile_IsDeterministicSignatureForIdenticalScenes(t *testing.T) {
	s1 := ErrorPlaneScene(32, 32, [4]float64{1, 1, 1, 1})
	s2 := ErrorPlaneScene(32, 32, [4]float64{1, 1, 1, 1})
	r1, err := Compile(s1, nil, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	r2, err := Compile(s2, nil, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if r1.Signature != r2.Signature {
		t.Error("expected identical error-plane scenes to produce identical signatures")
	}
}

func TestCompile_EmptySceneFailsValidation(t *testing.T) {
	_, err := Compile(&dsl.Scene{Version: 1}, nil, nil)
	if err == nil {
		t.Error("expected an empty scene with no render target to fail compilation")
	}
}
