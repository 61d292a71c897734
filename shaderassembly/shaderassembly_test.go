package shaderassembly

import (
	"strings"
	"testing"

	"github.com/gogpu/rendergraph/material"
)

func TestAssemble_IncludesParamsUniformAtBindingZero(t *testing.T) {
	b := Assemble(material.TypedExpr{Type: material.TypeVec4, Source: "params.color"}, nil, nil, nil)
	if !strings.Contains(b.Common, "@group(0) @binding(0) var<uniform> params: Params;") {
		t.Error("expected Params uniform at bind group 0 binding 0")
	}
}

func TestAssemble_BindingsFollowDeclarationOrder(t *testing.T) {
	b := Assemble(material.TypedExpr{Type: material.TypeVec4, Source: "vec4<f32>(1.0,1.0,1.0,1.0)"}, nil, []string{"img_a"}, []string{"pass_b"})
	idxImg := strings.Index(b.Common, "binding(1)")
	idxPass := strings.Index(b.Common, "binding(3)")
	if idxImg == -1 || idxPass == -1 || idxImg > idxPass {
		t.Errorf("expected image texture bound before pass texture, common = %s", b.Common)
	}
}

func TestAssemble_NonVec4ExprCoercedWithAlphaOne(t *testing.T) {
	b := Assemble(material.TypedExpr{Type: material.TypeF32, Source: "0.5"}, nil, nil, nil)
	if !strings.Contains(b.Fragment, "vec4<f32>(0.5, 0.5, 0.5, 1.0)") {
		t.Errorf("expected scalar-to-vec4 coercion, fragment = %s", b.Fragment)
	}
}

func TestAssemble_InlineStatementsPrecedeReturn(t *testing.T) {
	b := Assemble(material.TypedExpr{Type: material.TypeF32, Source: "closure_1"}, []string{"let closure_1 = 1.0;\n"}, nil, nil)
	stmtIdx := strings.Index(b.Fragment, "closure_1 = 1.0")
	retIdx := strings.Index(b.Fragment, "return closure_1")
	if stmtIdx == -1 || retIdx == -1 || stmtIdx > retIdx {
		t.Errorf("expected inline statement before return, fragment = %s", b.Fragment)
	}
}

func TestFullscreenTextured_SamplesSingleSource(t *testing.T) {
	b := FullscreenTextured("pass_abc")
	if !strings.Contains(b.Fragment, "textureSample(pass_abc, pass_abc_sampler, in.uv)") {
		t.Errorf("expected fullscreen texture sample, fragment = %s", b.Fragment)
	}
}

func TestGaussianTapWeights_SumsToApproximatelyOne(t *testing.T) {
	weights, offsets := GaussianTapWeights(2.0)
	if len(weights) != 8 || len(offsets) != 8 {
		t.Fatalf("expected 8 taps, got %d weights %d offsets", len(weights), len(offsets))
	}
	sum := weights[0]
	for _, w := range weights[1:] {
		sum += 2 * w
	}
	if sum < 0.9 || sum > 1.1 {
		t.Errorf("expected normalised tap weights summing near 1.0 (with mirrored taps), got %v", sum)
	}
}

func TestSanitize_ReplacesNonIdentifierCharacters(t *testing.T) {
	got := sanitize("tex-01.png/x")
	if strings.ContainsAny(got, "-./") {
		t.Errorf("sanitize() = %q, expected no separator characters", got)
	}
}
