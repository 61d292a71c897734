// Package georesolve maps every draw pass to the composition that
// ultimately consumes it and infers each draw's coordinate domain and
// resolved geometry, per the geometry-resolver component.
package georesolve

import (
	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/dsl"
)

// Size is a resolved pixel size.
type Size struct {
	Width, Height int
}

// Rect is a resolved geometry rectangle: size and center, in the
// composition's pixel domain.
type Rect struct {
	Width, Height float64
	CenterX       float64
	CenterY       float64
}

// DrawContext is the output record for one pass consumed by a
// composition: the pass node id, the downstream composition node/port
// it feeds, the coordinate domain (the composition's target size), and
// the resolved geometry.
type DrawContext struct {
	PassID           string
	CompositionID    string
	CompositionPort  string
	Domain           Size
	Geometry         Rect
}

// processingChainTypes are node types that forward a `pass` signal
// without themselves being a composition; geometry resolution walks
// through them to find the nearest downstream composition.
var processingChainTypes = map[string]bool{
	"Downsample": true, "Upsample": true, "GaussianBlur": true,
	"GradientBlur": true, "Bloom": true,
}

var passProducingTypes = map[string]bool{
	"RenderPass": true, "Downsample": true, "Upsample": true,
	"GaussianBlur": true, "GradientBlur": true, "Bloom": true,
}

// Resolve computes a DrawContext for every pass-producing node that
// transitively feeds a composition, per scene's Connections.
func Resolve(scene *dsl.Scene) ([]DrawContext, error) {
	nodesByID := dsl.NodesByID(scene)
	consumerOf := consumersByProducer(scene)

	targets, err := compositionTargets(scene, nodesByID)
	if err != nil {
		return nil, err
	}

	var out []DrawContext
	for _, n := range scene.Nodes {
		if !passProducingTypes[n.Type] {
			continue
		}
		comp, port, ok := nearestDownstreamComposition(n.ID, nodesByID, consumerOf)
		if !ok {
			continue // dead branch: terminates before reaching a composition
		}
		domain, ok := targets[comp]
		if !ok {
			return nil, compileerr.At(compileerr.KindResolutionFailure, comp, "target", "composition target size could not be resolved")
		}

		rect := resolveGeometry(&n, scene, nodesByID, domain)
		out = append(out, DrawContext{
			PassID:          n.ID,
			CompositionID:   comp,
			CompositionPort: port,
			Domain:          domain,
			Geometry:        rect,
		})
	}
	return out, nil
}

func consumersByProducer(scene *dsl.Scene) map[string][]dsl.Connection {
	out := make(map[string][]dsl.Connection)
	for _, c := range scene.Connections {
		out[c.From.NodeID] = append(out[c.From.NodeID], c)
	}
	return out
}

// nearestDownstreamComposition walks forward through processing-chain
// nodes (downsample/blur/upsample/bloom/gradient) to find the first
// Composite that consumes nodeID, directly or transitively, via `pass`
// edges. Branches that terminate without reaching a composition are
// dead and return ok=false.
func nearestDownstreamComposition(nodeID string, nodesByID map[string]*dsl.Node, consumerOf map[string][]dsl.Connection) (compositionID, port string, ok bool) {
	visited := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range consumerOf[cur] {
			target := nodesByID[c.To.NodeID]
			if target == nil {
				continue
			}
			if target.Type == "Composite" {
				return target.ID, c.To.PortID, true
			}
			if processingChainTypes[target.Type] && !visited[target.ID] {
				visited[target.ID] = true
				queue = append(queue, target.ID)
			}
		}
	}
	return "", "", false
}

// compositionTargets resolves each Composite node's CPU-resolvable
// render-texture size via its `target` edge.
func compositionTargets(scene *dsl.Scene, nodesByID map[string]*dsl.Node) (map[string]Size, error) {
	out := make(map[string]Size)
	for _, n := range scene.Nodes {
		if n.Type != "Composite" {
			continue
		}
		targetConn := dsl.IncomingConnection(scene, n.ID, "target")
		if targetConn == nil {
			return nil, compileerr.At(compileerr.KindStructuralViolation, n.ID, "target", "composition has no target edge")
		}
		rt := nodesByID[targetConn.From.NodeID]
		if rt == nil || rt.Type != "RenderTexture" {
			return nil, compileerr.At(compileerr.KindStructuralViolation, n.ID, "target", "composition target does not resolve to a RenderTexture node")
		}
		w, wok := cpuConstInt(scene, nodesByID, rt, "width")
		h, hok := cpuConstInt(scene, nodesByID, rt, "height")
		if !wok || !hok {
			return nil, compileerr.At(compileerr.KindResolutionFailure, rt.ID, "width/height", "render-texture size is not a recognised CPU-constant form")
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		out[n.ID] = Size{Width: w, Height: h}
	}
	return out, nil
}

// cpuConstInt resolves a CPU-resolvable integer param: an inline
// int/float literal, or a connection to an `int`-input node whose own
// `value` param is integer-valued.
func cpuConstInt(scene *dsl.Scene, nodesByID map[string]*dsl.Node, n *dsl.Node, key string) (int, bool) {
	if f, ok := dsl.ParamFloat(n, key); ok {
		return int(f), true
	}
	conn := dsl.IncomingConnection(scene, n.ID, key)
	if conn == nil {
		return 0, false
	}
	upstream := nodesByID[conn.From.NodeID]
	if upstream == nil || upstream.Type != "IntInput" {
		return 0, false
	}
	f, ok := dsl.ParamFloat(upstream, "value")
	if !ok {
		return 0, false
	}
	return int(f), true
}

// resolveGeometry reads a pass node's `geometry` edge (Rect2D) and
// computes size and center in the composition's coordinate space,
// falling back to fullscreen centered on the composition if no
// geometry is connected.
func resolveGeometry(n *dsl.Node, scene *dsl.Scene, nodesByID map[string]*dsl.Node, domain Size) Rect {
	conn := dsl.IncomingConnection(scene, n.ID, "geometry")
	if conn == nil {
		return fullscreen(domain)
	}
	rectNode := nodesByID[conn.From.NodeID]
	if rectNode == nil || rectNode.Type != "Rect2D" {
		return fullscreen(domain)
	}
	size, sizeOK := dsl.ParamFloatArray(rectNode, "size")
	pos, posOK := dsl.ParamFloatArray(rectNode, "position")
	if !sizeOK || len(size) < 2 {
		return fullscreen(domain)
	}
	w, h := size[0], size[1]
	var px, py float64
	if posOK && len(pos) >= 2 {
		px, py = pos[0], pos[1]
	}
	return Rect{
		Width:   w,
		Height:  h,
		CenterX: px + w/2,
		CenterY: py + h/2,
	}
}

func fullscreen(domain Size) Rect {
	return Rect{
		Width:   float64(domain.Width),
		Height:  float64(domain.Height),
		CenterX: float64(domain.Width) / 2,
		CenterY: float64(domain.Height) / 2,
	}
}
