package dsl

import (
	"encoding/json"
	"testing"
)

func TestNodesByID(t *testing.T) {
	scene := &Scene{Nodes: []Node{{ID: "a"}, {ID: "b"}}}
	byID := NodesByID(scene)
	if byID["a"] == nil || byID["b"] == nil {
		t.Fatal("expected both nodes to be indexed")
	}
	if byID["a"].ID != "a" {
		t.Errorf("byID[a].ID = %q, want a", byID["a"].ID)
	}
}

func TestIncomingConnection(t *testing.T) {
	scene := &Scene{
		Connections: []Connection{
			{ID: "c1", From: Endpoint{NodeID: "x", PortID: "out"}, To: Endpoint{NodeID: "y", PortID: "in"}},
		},
	}
	c := IncomingConnection(scene, "y", "in")
	if c == nil || c.ID != "c1" {
		t.Fatal("expected to find connection c1")
	}
	if IncomingConnection(scene, "y", "other") != nil {
		t.Error("expected no connection for an unconnected port")
	}
}

func TestIncomingBinding(t *testing.T) {
	node := &Node{InputBindings: []InputBinding{{PortID: "p", From: Endpoint{NodeID: "x", PortID: "out"}}}}
	b := IncomingBinding(node, "p")
	if b == nil || b.From.NodeID != "x" {
		t.Fatal("expected to find the binding for port p")
	}
	if IncomingBinding(node, "missing") != nil {
		t.Error("expected no binding for an unbound port")
	}
}

func TestGroupByID(t *testing.T) {
	scene := &Scene{Groups: []Group{{ID: "g1"}}}
	if GroupByID(scene, "g1") == nil {
		t.Fatal("expected to find group g1")
	}
	if GroupByID(scene, "missing") != nil {
		t.Error("expected nil for an unknown group id")
	}
}

func TestParamAccessors(t *testing.T) {
	raw := func(v interface{}) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	n := &Node{Params: map[string]json.RawMessage{
		"s": raw("hello"),
		"f": raw(2.5),
		"a": raw([]float64{1, 2, 3}),
		"b": raw(true),
	}}

	if s, ok := ParamString(n, "s"); !ok || s != "hello" {
		t.Errorf("ParamString = %q, %v", s, ok)
	}
	if _, ok := ParamString(n, "f"); ok {
		t.Error("expected ParamString on a number param to fail")
	}
	if f, ok := ParamFloat(n, "f"); !ok || f != 2.5 {
		t.Errorf("ParamFloat = %v, %v", f, ok)
	}
	if arr, ok := ParamFloatArray(n, "a"); !ok || len(arr) != 3 {
		t.Errorf("ParamFloatArray = %v, %v", arr, ok)
	}
	if b, ok := ParamBool(n, "b"); !ok || !b {
		t.Errorf("ParamBool = %v, %v", b, ok)
	}
	if _, ok := ParamString(n, "missing"); ok {
		t.Error("expected absent param to report ok=false")
	}
}
