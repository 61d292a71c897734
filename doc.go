// Package rendergraph compiles a declarative node-graph scene description
// into an executable multi-pass GPU render-graph.
//
// # Overview
//
// The input is a directed acyclic graph of typed nodes — materials,
// geometry, textures, cameras, post-processing passes, and composition —
// delivered as JSON from an external editor. The output is a resident
// render-graph: shader modules, buffer/texture/sampler declarations, bind
// group assignments, and an ordered pass list, ready to be dispatched
// against a wgpu-shaped Device/Queue/Adapter.
//
// # Quick Start
//
//	import "github.com/gogpu/rendergraph"
//
//	var scene dsl.Scene
//	err := json.Unmarshal(payload, &scene)
//	result, err := rendergraph.Compile(&scene, adapter, baker,
//		rendergraph.WithPresentationMode(rendergraph.PresentationSDRGammaEncode))
//
// # Pipeline
//
// A compile runs, in order: scene preparation (group expansion, dead-code
// pruning, auto-wrap, dedup, asset inlining), geometry resolution, camera
// resolution, and pass assembly (which recursively invokes the material
// compiler and shader assembly). The content signature is computed from
// the prepared scene so callers can skip a rebuild when nothing structural
// changed.
//
// # Architecture
//
// The module is organized into:
//   - dsl, schema: wire format and node-type registry
//   - graphutil: topological sort and reachability
//   - sceneprep, georesolve, camera: structural preparation and resolution
//   - material, shaderassembly, passassemblers: shader synthesis
//   - capability, signature: validation and change detection
//   - rendergraphir, device: the resident output and the external GPU contract
//
// # Concurrency
//
// A single compile is a pure function of its inputs and touches no shared
// state. The companion Worker type runs one compile at a time, keeping only
// the latest submitted scene and publishing results via atomic pointer
// swap — see worker.go.
package rendergraph
