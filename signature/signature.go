// Package signature computes a content-addressed digest of a prepared
// scene: two scenes with the same structure and the same bound-value
// shapes hash identically even if their authored JSON text differs, so
// value-only edits (moving a slider) never force a render-graph rebuild.
package signature

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/rendergraph/dsl"
)

// Digest is a 256-bit content signature, represented as four 64-bit
// lanes produced by a two-seed FNV-1a variant.
type Digest [4]uint64

// String renders the digest as lowercase hex, suitable for a shader-dump
// filename or a rebuild-detection log line.
func (d Digest) String() string {
	return fmt.Sprintf("%016x%016x%016x%016x", d[0], d[1], d[2], d[3])
}

// boundValueKeys are param keys skipped during canonicalisation when the
// value is bound: either the node has an incoming connection on that same
// port (the upstream signature already captures the value), or the node
// is a value-driven input whose output is connected (the literal is a
// value-only edit that must not perturb the hash).
var boundValueKeys = map[string]bool{
	"value": true, "x": true, "y": true, "z": true, "w": true, "v": true,
}

// Of computes the content signature of a prepared scene: value-only
// edits to a bound literal do not change the digest. The boundValueKeys
// of a connected value-driven input node, and of any port fed by a
// connection, are skipped; every other param, including the value of an
// unconnected input node, is hashed.
func Of(scene *dsl.Scene) Digest {
	return hash(canonicalize(scene, false))
}

// OfWithGraphInputs computes the companion variant that additionally
// folds in the declared port type of every node input, so that a
// change to a dynamically-typed node's field kinds (e.g. a MathClosure
// gaining a vec3 parameter) forces a rebuild even when nothing else
// about the scene text changed.
func OfWithGraphInputs(scene *dsl.Scene) Digest {
	return hash(canonicalize(scene, true))
}

func canonicalize(scene *dsl.Scene, includeGraphInputs bool) string {
	boundPorts := boundInputPorts(scene)

	nodes := append([]dsl.Node(nil), scene.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString("N:")
		sb.WriteString(n.ID)
		sb.WriteString(":")
		sb.WriteString(n.Type)
		sb.WriteString(":{")

		keys := make([]string, 0, len(n.Params))
		for k := range n.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if boundValueKeys[k] && boundPorts[portKey{n.ID, k}] {
				continue
			}
			fmt.Fprintf(&sb, "%s=%s;", k, canonicalJSON(n.Params[k]))
		}
		sb.WriteString("}")

		ports := append([]dsl.NodePort(nil), n.Inputs...)
		sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })
		for _, p := range ports {
			fmt.Fprintf(&sb, ":IN(%s,%s)", p.ID, p.PortType)
		}
		outPorts := append([]dsl.NodePort(nil), n.Outputs...)
		sort.Slice(outPorts, func(i, j int) bool { return outPorts[i].ID < outPorts[j].ID })
		for _, p := range outPorts {
			fmt.Fprintf(&sb, ":OUT(%s,%s)", p.ID, p.PortType)
		}

		bindings := append([]dsl.InputBinding(nil), n.InputBindings...)
		sort.Slice(bindings, func(i, j int) bool { return bindings[i].PortID < bindings[j].PortID })
		for _, b := range bindings {
			fmt.Fprintf(&sb, ":BIND(%s,%s.%s)", b.PortID, b.From.NodeID, b.From.PortID)
		}
		if includeGraphInputs {
			for _, p := range ports {
				fmt.Fprintf(&sb, ":FIELD(%s,%s)", p.ID, p.PortType)
			}
		}
		sb.WriteString("\n")
	}

	conns := append([]dsl.Connection(nil), scene.Connections...)
	sort.Slice(conns, func(i, j int) bool { return connKey(conns[i]) < connKey(conns[j]) })
	for _, c := range conns {
		fmt.Fprintf(&sb, "C:%s.%s->%s.%s\n", c.From.NodeID, c.From.PortID, c.To.NodeID, c.To.PortID)
	}

	groups := append([]dsl.Group(nil), scene.Groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	for _, g := range groups {
		in := append([]dsl.GroupPortEdge(nil), g.InputBindings...)
		sort.Slice(in, func(i, j int) bool { return in[i].GroupPortID < in[j].GroupPortID })
		for _, b := range in {
			fmt.Fprintf(&sb, "G:%s:IN(%s)->%s.%s\n", g.ID, b.GroupPortID, b.Internal.NodeID, b.Internal.PortID)
		}
		out := append([]dsl.GroupPortEdge(nil), g.OutputBindings...)
		sort.Slice(out, func(i, j int) bool { return out[i].GroupPortID < out[j].GroupPortID })
		for _, b := range out {
			fmt.Fprintf(&sb, "G:%s:OUT(%s)<-%s.%s\n", g.ID, b.GroupPortID, b.Internal.NodeID, b.Internal.PortID)
		}
	}

	return sb.String()
}

type portKey struct {
	nodeID string
	portID string
}

// boundInputPorts returns the set of (node, key) pairs whose literal is
// bound: every port that receives an incoming connection, plus every
// boundValueKeys entry of a value-driven input node (type ending in
// "Input") whose output feeds a connection.
func boundInputPorts(scene *dsl.Scene) map[portKey]bool {
	nodeTypes := make(map[string]string, len(scene.Nodes))
	for _, n := range scene.Nodes {
		nodeTypes[n.ID] = n.Type
	}
	out := make(map[portKey]bool)
	for _, c := range scene.Connections {
		out[portKey{c.To.NodeID, c.To.PortID}] = true
		if strings.HasSuffix(nodeTypes[c.From.NodeID], "Input") {
			for k := range boundValueKeys {
				out[portKey{c.From.NodeID, k}] = true
			}
		}
	}
	return out
}

func connKey(c dsl.Connection) string {
	return c.From.NodeID + "." + c.From.PortID + "->" + c.To.NodeID + "." + c.To.PortID
}

// canonicalJSON re-marshals raw into a key-sorted form so that
// semantically identical JSON with different key order or whitespace
// hashes identically. Falls back to the raw bytes if raw does not parse.
func canonicalJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(sortedValue(v))
	if err != nil {
		return string(raw)
	}
	return string(b)
}

// sortedValue recursively rewrites maps into a deterministic
// representation (json.Marshal already sorts map[string]any keys, so
// this just ensures nested maps/slices are visited uniformly).
func sortedValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sortedValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sortedValue(val)
		}
		return out
	default:
		return t
	}
}

const (
	fnvSeedA uint64 = 1469598103934665603
	fnvSeedB uint64 = 14695981039346656037 >> 1
	fnvPrime uint64 = 1099511628211
)

// hash applies a two-seed FNV-1a variant, producing four independent
// 64-bit lanes from two differently-seeded passes over s, combined into
// a 256-bit digest.
func hash(s string) Digest {
	a1, a2 := fnvSeedA, fnvSeedA^0x9e3779b97f4a7c15
	b1, b2 := fnvSeedB, fnvSeedB^0x9e3779b97f4a7c15
	for i := 0; i < len(s); i++ {
		c := uint64(s[i])
		a1 = (a1 ^ c) * fnvPrime
		a2 = (a2 ^ c*3) * fnvPrime
		b1 = (b1 ^ c) * fnvPrime
		b2 = (b2 ^ c*7) * fnvPrime
	}
	return Digest{a1, a2, b1, b2}
}
