package compileerr

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileError_ErrorIncludesNodeAndPort(t *testing.T) {
	err := At(KindSchemaViolation, "n1", "p1", "unknown port")
	msg := err.Error()
	if !strings.Contains(msg, "n1") || !strings.Contains(msg, "p1") || !strings.Contains(msg, "unknown port") {
		t.Errorf("Error() = %q, missing expected context", msg)
	}
}

func TestCompileError_ErrorWithoutPort(t *testing.T) {
	err := At(KindStructuralViolation, "n1", "", "missing render target")
	if strings.Contains(err.Error(), "..") {
		t.Errorf("Error() = %q should not emit a stray port separator", err.Error())
	}
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindPanic, "n1", "", cause, "snippet failed")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestDiagnostics_AccumulatesAndSorts(t *testing.T) {
	var d Diagnostics
	d.Add(At(KindSchemaViolation, "z", "", "late"))
	d.Add(At(KindSchemaViolation, "a", "", "early"))
	if d.Empty() {
		t.Fatal("Diagnostics should not be empty after Add")
	}
	errs := d.Errors()
	if len(errs) != 2 || errs[0].NodeID != "a" || errs[1].NodeID != "z" {
		t.Errorf("expected sorted [a, z], got %+v", errs)
	}
}

func TestDiagnostics_AsErrorNilWhenEmpty(t *testing.T) {
	var d Diagnostics
	if err := d.AsError(); err != nil {
		t.Errorf("AsError() on empty Diagnostics = %v, want nil", err)
	}
}

func TestDiagnostics_AsErrorJoinsLines(t *testing.T) {
	var d Diagnostics
	d.Add(New(KindStructuralViolation, "first"))
	d.Add(New(KindStructuralViolation, "second"))
	err := d.AsError()
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if strings.Count(err.Error(), "\n") != 1 {
		t.Errorf("expected exactly one newline joining two lines, got: %q", err.Error())
	}
}
