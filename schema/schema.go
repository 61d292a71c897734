// Package schema holds the static node-type registry and the port
// compatibility table, and validates scenes against them.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/rendergraph/dsl"
)

// PortTypeSpec is either a single type name or a list of acceptable type
// names, mirroring the JSON shape `"type"` vs `["type", ...]` used by
// polymorphic node declarations.
type PortTypeSpec struct {
	One  string
	Many []string
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (p *PortTypeSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.One, p.Many = s, nil
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("schema: port type spec must be string or []string: %w", err)
	}
	p.One, p.Many = "", many
	return nil
}

// Contains reports whether candidate is one of the names in the spec.
func (p PortTypeSpec) Contains(candidate string) bool {
	if p.Many != nil {
		for _, t := range p.Many {
			if t == candidate {
				return true
			}
		}
		return false
	}
	return p.One == candidate
}

func (p PortTypeSpec) String() string {
	if p.Many != nil {
		return strings.Join(p.Many, "|")
	}
	return p.One
}

// PortDecl is a single declared port on a node type.
type PortDecl struct {
	ID   string       `json:"id"`
	Type PortTypeSpec `json:"type"`
}

// NodeType describes one entry in the node-type registry.
type NodeType struct {
	Category      string                     `json:"category,omitempty"`
	Inputs        map[string]PortTypeSpec    `json:"inputs"`
	Outputs       map[string]PortTypeSpec    `json:"outputs"`
	DefaultParams map[string]json.RawMessage `json:"defaultParams,omitempty"`
	RequiredParams []string                  `json:"requiredParams,omitempty"`
}

// CategoryRenderTarget is the schema category of the scene's single
// terminal node.
const CategoryRenderTarget = "render-target"

// NodeScheme is the embedded node-scheme document: schemaVersion,
// per-node-type entries, and the input-type -> allowed-upstream-types
// compatibility table. The reserved token "any" is a wildcard on either
// side of a compatibility check.
type NodeScheme struct {
	SchemaVersion          int                       `json:"schemaVersion"`
	GeneratedAt            string                    `json:"generatedAt"`
	Nodes                  map[string]NodeType       `json:"nodes"`
	PortTypeCompatibility  map[string][]string       `json:"portTypeCompatibility"`
}

// AnyType is the wildcard port type token.
const AnyType = "any"

//go:embed nodescheme.json
var embeddedScheme []byte

// Default returns the embedded node-scheme document.
func Default() (*NodeScheme, error) {
	var s NodeScheme
	if err := json.Unmarshal(embeddedScheme, &s); err != nil {
		return nil, fmt.Errorf("schema: decode embedded node scheme: %w", err)
	}
	return &s, nil
}

// PortTypesCompatible reports whether an upstream port producing `from`
// may feed a downstream port declaring `to`, under scheme's compatibility
// table. `any` on either side always matches.
func PortTypesCompatible(scheme *NodeScheme, from, to PortTypeSpec) bool {
	toNames := namesOf(to)
	fromNames := namesOf(from)
	for _, t := range toNames {
		if t == AnyType {
			return true
		}
	}
	for _, f := range fromNames {
		if f == AnyType {
			return true
		}
	}
	for _, t := range toNames {
		allowed := scheme.PortTypeCompatibility[t]
		for _, a := range allowed {
			for _, f := range fromNames {
				if a == f {
					return true
				}
			}
		}
	}
	return false
}

func namesOf(spec PortTypeSpec) []string {
	if spec.Many != nil {
		return spec.Many
	}
	return []string{spec.One}
}

// Diagnostics accumulates validation failures as a single multi-line
// report, in the order they were added.
type Diagnostics struct {
	messages []string
}

// Add appends one formatted diagnostic line.
func (d *Diagnostics) Add(format string, args ...any) {
	d.messages = append(d.messages, fmt.Sprintf(format, args...))
}

// Empty reports whether no diagnostics were accumulated.
func (d *Diagnostics) Empty() bool { return len(d.messages) == 0 }

// Error implements the error interface, joining all accumulated
// diagnostics with newlines.
func (d *Diagnostics) Error() string {
	return strings.Join(d.messages, "\n")
}

// Validate checks node and connection well-formedness against scheme:
// unique ids, required params present, connection endpoints resolvable,
// and port-type compatibility. All failures are accumulated rather than
// returned on the first offence.
func Validate(scene *dsl.Scene, scheme *NodeScheme) error {
	var diag Diagnostics

	seenNodeIDs := make(map[string]bool, len(scene.Nodes))
	nodesByID := dsl.NodesByID(scene)
	for _, n := range scene.Nodes {
		if seenNodeIDs[n.ID] {
			diag.Add("node %q: duplicate id", n.ID)
		}
		seenNodeIDs[n.ID] = true

		nt, ok := scheme.Nodes[n.Type]
		if !ok {
			diag.Add("node %q: unknown type %q", n.ID, n.Type)
			continue
		}
		for _, req := range nt.RequiredParams {
			if _, present := n.Params[req]; !present {
				diag.Add("node %q: missing required param %q", n.ID, req)
			}
		}
	}

	seenGroupIDs := make(map[string]bool, len(scene.Groups))
	for _, g := range scene.Groups {
		if seenGroupIDs[g.ID] {
			diag.Add("group %q: duplicate id", g.ID)
		}
		seenGroupIDs[g.ID] = true
	}

	renderTargets := 0
	for _, n := range scene.Nodes {
		if nt, ok := scheme.Nodes[n.Type]; ok && nt.Category == CategoryRenderTarget {
			renderTargets++
		}
	}
	if renderTargets != 1 {
		diag.Add("scene: expected exactly one render-target node, found %d", renderTargets)
	}

	for _, c := range scene.Connections {
		fromNode, fromOK := nodesByID[c.From.NodeID]
		toNode, toOK := nodesByID[c.To.NodeID]
		if !fromOK {
			diag.Add("connection %q: unknown from-node %q", c.ID, c.From.NodeID)
			continue
		}
		if !toOK {
			diag.Add("connection %q: unknown to-node %q", c.ID, c.To.NodeID)
			continue
		}

		fromType, fromFound := outputPortType(scheme, nodesByID, fromNode, c.From.PortID)
		if !fromFound {
			diag.Add("connection %q: unknown output port %s.%s", c.ID, c.From.NodeID, c.From.PortID)
			continue
		}
		toType, toFound := inputPortType(scheme, nodesByID, toNode, c.To.PortID)
		if !toFound {
			diag.Add("connection %q: unknown input port %s.%s", c.ID, c.To.NodeID, c.To.PortID)
			continue
		}
		if !PortTypesCompatible(scheme, fromType, toType) {
			diag.Add("connection %q: incompatible types %s -> %s (%s.%s -> %s.%s)",
				c.ID, fromType, toType, c.From.NodeID, c.From.PortID, c.To.NodeID, c.To.PortID)
		}
	}

	if !diag.Empty() {
		sort.Strings(diag.messages)
		return &diag
	}
	return nil
}

// outputPortType resolves the type of an output port: static from the
// scheme, or dynamic from the node's own declared Outputs for
// polymorphic node types.
func outputPortType(scheme *NodeScheme, byID map[string]*dsl.Node, node *dsl.Node, portID string) (PortTypeSpec, bool) {
	if nt, ok := scheme.Nodes[node.Type]; ok {
		if t, ok := nt.Outputs[portID]; ok {
			return t, true
		}
	}
	for _, p := range node.Outputs {
		if p.ID == portID {
			if p.PortType == "" {
				return PortTypeSpec{One: AnyType}, true
			}
			return PortTypeSpec{One: p.PortType}, true
		}
	}
	_ = byID
	return PortTypeSpec{}, false
}

// inputPortType resolves the type of an input port the same way, with a
// Composite-specific special case: dynamic layer ports (`dynamic_*`)
// behave like the static `pass` input.
func inputPortType(scheme *NodeScheme, byID map[string]*dsl.Node, node *dsl.Node, portID string) (PortTypeSpec, bool) {
	if nt, ok := scheme.Nodes[node.Type]; ok {
		if t, ok := nt.Inputs[portID]; ok {
			return t, true
		}
		if node.Type == "Composite" && strings.HasPrefix(portID, "dynamic_") {
			if t, ok := nt.Inputs["pass"]; ok {
				return t, true
			}
			return PortTypeSpec{One: "pass"}, true
		}
	}
	for _, p := range node.Inputs {
		if p.ID == portID {
			if p.PortType == "" {
				return PortTypeSpec{One: AnyType}, true
			}
			return PortTypeSpec{One: p.PortType}, true
		}
	}
	_ = byID
	return PortTypeSpec{}, false
}
