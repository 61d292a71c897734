// Package compileerr defines the structured error taxonomy shared by
// every compiler stage: each failure names its kind and, where
// applicable, the offending node id and port id.
package compileerr

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a compile failure by taxonomy, not by Go type.
type Kind string

const (
	KindSchemaViolation     Kind = "schema_violation"
	KindStructuralViolation Kind = "structural_violation"
	KindResolutionFailure   Kind = "resolution_failure"
	KindUnsupportedCapability Kind = "unsupported_capability"
	KindAssetFailure        Kind = "asset_failure"
	KindPanic               Kind = "panic"
)

// CompileError is one failure surfaced by a compiler stage. NodeID and
// PortID are empty when the failure is not attributable to a single
// port (e.g. a missing render-target node).
type CompileError struct {
	Kind   Kind
	NodeID string
	PortID string
	Msg    string
	Cause  error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	if e.NodeID != "" {
		b.WriteString(e.NodeID)
		if e.PortID != "" {
			b.WriteString(".")
			b.WriteString(e.PortID)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *CompileError) Unwrap() error { return e.Cause }

// New builds a CompileError not attributed to a specific node/port.
func New(kind Kind, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// At builds a CompileError attributed to nodeID (and optionally portID).
func At(kind Kind, nodeID, portID, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, NodeID: nodeID, PortID: portID, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a CompileError attributed to nodeID/portID, preserving
// cause for errors.Unwrap / errors.Is chains.
func Wrap(kind Kind, nodeID, portID string, cause error, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, NodeID: nodeID, PortID: portID, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Diagnostics accumulates failures across a pass over the scene so a
// stage can report every offender in one multi-line error rather than
// failing on the first.
type Diagnostics struct {
	errs []*CompileError
}

// Add appends one error to the accumulator.
func (d *Diagnostics) Add(err *CompileError) {
	if err != nil {
		d.errs = append(d.errs, err)
	}
}

// Empty reports whether no diagnostics were accumulated.
func (d *Diagnostics) Empty() bool { return len(d.errs) == 0 }

// Errors returns the accumulated errors in deterministic order.
func (d *Diagnostics) Errors() []*CompileError {
	sorted := append([]*CompileError(nil), d.errs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].NodeID != sorted[j].NodeID {
			return sorted[i].NodeID < sorted[j].NodeID
		}
		return sorted[i].PortID < sorted[j].PortID
	})
	return sorted
}

// AsError returns the accumulator as a single multi-line error, or nil
// if empty.
func (d *Diagnostics) AsError() error {
	if d.Empty() {
		return nil
	}
	lines := make([]string, 0, len(d.errs))
	for _, e := range d.Errors() {
		lines = append(lines, e.Error())
	}
	return &multiError{lines: lines}
}

type multiError struct {
	lines []string
}

func (m *multiError) Error() string { return strings.Join(m.lines, "\n") }
