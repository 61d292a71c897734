// Package sceneprep runs the purely structural transformations that
// turn a validated scene into a prepared scene: group expansion,
// dead-subgraph pruning, primitive-to-pass auto-wrap, content-hash pass
// dedup, image-file inlining, and asset baking.
package sceneprep

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/dsl"
	"github.com/gogpu/rendergraph/graphutil"
	"github.com/gogpu/rendergraph/schema"
)

// BakedKey identifies one baked asset-parse output value.
type BakedKey struct {
	PassID string
	NodeID string
	PortID string
}

// AssetBaker executes a data-parse node's user-supplied snippet and
// returns its per-port output values. The scripting host itself is an
// external collaborator; sceneprep only consumes the returned map. A
// nil AssetBaker means no data-parse node produces baked output.
type AssetBaker interface {
	Bake(node *dsl.Node) (map[string]json.RawMessage, error)
}

// Report counts the structural transformations Prepare applied.
type Report struct {
	GroupExpansions int
	AutoWraps       int
	Inlinings       int
	DedupGroups     int
	DedupRemoved    int
}

// Prepared is the prepared scene plus the lookup tables downstream
// stages need.
type Prepared struct {
	Scene                *dsl.Scene
	NodesByID             map[string]*dsl.Node
	ResourceNameByNodeID  map[string]string
	TopoOrder             []string
	BakedData             map[BakedKey]map[string]json.RawMessage
}

const maxGroupExpansionDepth = 32

// Prepare runs the full scene-preparation pipeline in spec order.
func Prepare(scene *dsl.Scene, scheme *schema.NodeScheme, baker AssetBaker) (*Prepared, *Report, error) {
	report := &Report{}

	expanded, err := expandGroups(scene, scheme, report)
	if err != nil {
		return nil, nil, err
	}

	pruned, err := pruneDeadSubgraph(expanded, scheme)
	if err != nil {
		return nil, nil, err
	}

	wrapped, err := autoWrapPrimitives(pruned, scheme, report)
	if err != nil {
		return nil, nil, err
	}

	deduped, err := dedupPasses(wrapped, scheme, report)
	if err != nil {
		return nil, nil, err
	}

	inlined := inlineImageFiles(deduped, scheme, report)

	baked, err := bakeAssets(inlined, baker)
	if err != nil {
		return nil, nil, err
	}

	order, err := topoOrder(inlined)
	if err != nil {
		return nil, nil, err
	}

	return &Prepared{
		Scene:                inlined,
		NodesByID:            dsl.NodesByID(inlined),
		ResourceNameByNodeID:  resourceNames(inlined),
		TopoOrder:            order,
		BakedData:            baked,
	}, report, nil
}

func topoOrder(scene *dsl.Scene) ([]string, error) {
	ids := make([]string, len(scene.Nodes))
	for i, n := range scene.Nodes {
		ids[i] = n.ID
	}
	order, err := graphutil.TopologicalSort(ids, graphutil.EdgesFromConnections(scene.Connections))
	if err != nil {
		return nil, compileerr.Wrap(compileerr.KindStructuralViolation, "", "", err, "scene graph is not a DAG")
	}
	return order, nil
}

func resourceNames(scene *dsl.Scene) map[string]string {
	names := make(map[string]string, len(scene.Nodes))
	for _, n := range scene.Nodes {
		names[n.ID] = fmt.Sprintf("%s_%s", n.Type, shortHash(n.ID))
	}
	return names
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:4])
}

// --- 1. Group expansion --------------------------------------------------

func expandGroups(scene *dsl.Scene, scheme *schema.NodeScheme, report *Report) (*dsl.Scene, error) {
	current := scene
	for depth := 0; depth < maxGroupExpansionDepth; depth++ {
		next, expandedAny, err := expandGroupsOnce(current, scheme)
		if err != nil {
			return nil, err
		}
		if !expandedAny {
			return current, nil
		}
		current = next
		report.GroupExpansions++
	}
	return nil, compileerr.New(compileerr.KindStructuralViolation, "group expansion did not terminate within %d levels", maxGroupExpansionDepth)
}

func expandGroupsOnce(scene *dsl.Scene, scheme *schema.NodeScheme) (*dsl.Scene, bool, error) {
	out := &dsl.Scene{
		Version:  scene.Version,
		Metadata: scene.Metadata,
		Outputs:  scene.Outputs,
		Groups:   scene.Groups,
		Assets:   scene.Assets,
	}

	expandedAny := false
	instanceOf := make(map[string]bool)

	for _, n := range scene.Nodes {
		if n.Type != "GroupInstance" {
			out.Nodes = append(out.Nodes, n)
			continue
		}
		expandedAny = true
		instanceOf[n.ID] = true

		groupID, _ := dsl.ParamString(&n, "groupId")
		group := dsl.GroupByID(scene, groupID)
		if group == nil {
			return nil, false, compileerr.At(compileerr.KindStructuralViolation, n.ID, "", "group instance references unknown group %q", groupID)
		}

		prefix := n.ID + "/"
		cloneIDs := make(map[string]string, len(group.Nodes))
		for _, gn := range group.Nodes {
			cloneIDs[gn.ID] = prefix + gn.ID
		}

		for _, gn := range group.Nodes {
			clone := gn
			clone.ID = cloneIDs[gn.ID]
			out.Nodes = append(out.Nodes, clone)
		}
		for _, gc := range group.Connections {
			out.Connections = append(out.Connections, dsl.Connection{
				ID:   prefix + gc.ID,
				From: dsl.Endpoint{NodeID: cloneIDs[gc.From.NodeID], PortID: gc.From.PortID},
				To:   dsl.Endpoint{NodeID: cloneIDs[gc.To.NodeID], PortID: gc.To.PortID},
			})
		}

		satisfied := make(map[string]bool, len(group.InputBindings))
		for _, gib := range group.InputBindings {
			var binding *dsl.InputBinding
			for i := range n.InputBindings {
				if n.InputBindings[i].PortID == gib.GroupPortID {
					binding = &n.InputBindings[i]
					break
				}
			}
			if binding == nil {
				continue
			}
			satisfied[gib.GroupPortID] = true
			out.Connections = append(out.Connections, dsl.Connection{
				ID:   fmt.Sprintf("%ssys.in.%s", prefix, gib.GroupPortID),
				From: binding.From,
				To:   dsl.Endpoint{NodeID: cloneIDs[gib.Internal.NodeID], PortID: gib.Internal.PortID},
			})
		}
		for _, gib := range group.InputBindings {
			if !satisfied[gib.GroupPortID] {
				return nil, false, compileerr.At(compileerr.KindStructuralViolation, n.ID, gib.GroupPortID, "required group input left unconnected")
			}
		}

		for _, c := range scene.Connections {
			if c.From.NodeID != n.ID {
				continue
			}
			var gob *dsl.GroupPortEdge
			for i := range group.OutputBindings {
				if group.OutputBindings[i].GroupPortID == c.From.PortID {
					gob = &group.OutputBindings[i]
					break
				}
			}
			if gob == nil {
				return nil, false, compileerr.At(compileerr.KindStructuralViolation, n.ID, c.From.PortID, "group instance has no output binding for this port")
			}
			out.Connections = append(out.Connections, dsl.Connection{
				ID:   fmt.Sprintf("%ssys.out.%s", prefix, c.From.PortID),
				From: dsl.Endpoint{NodeID: cloneIDs[gob.Internal.NodeID], PortID: gob.Internal.PortID},
				To:   c.To,
			})
		}
	}

	if !expandedAny {
		return scene, false, nil
	}

	for _, c := range scene.Connections {
		if instanceOf[c.From.NodeID] || instanceOf[c.To.NodeID] {
			continue
		}
		out.Connections = append(out.Connections, c)
	}

	return out, true, nil
}

// --- 2. Dead-subgraph pruning --------------------------------------------

func pruneDeadSubgraph(scene *dsl.Scene, scheme *schema.NodeScheme) (*dsl.Scene, error) {
	var renderTarget string
	count := 0
	for _, n := range scene.Nodes {
		if nt, ok := scheme.Nodes[n.Type]; ok && nt.Category == schema.CategoryRenderTarget {
			renderTarget = n.ID
			count++
		}
	}
	if count != 1 {
		return nil, compileerr.New(compileerr.KindStructuralViolation, "expected exactly one render-target node, found %d", count)
	}

	reachable := graphutil.UpstreamReachable(renderTarget, graphutil.EdgesFromConnections(scene.Connections))

	out := &dsl.Scene{
		Version:  scene.Version,
		Metadata: scene.Metadata,
		Outputs:  scene.Outputs,
		Groups:   scene.Groups,
		Assets:   scene.Assets,
	}
	for _, n := range scene.Nodes {
		if reachable[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, c := range scene.Connections {
		if reachable[c.From.NodeID] && reachable[c.To.NodeID] {
			out.Connections = append(out.Connections, c)
		}
	}
	return out, nil
}

// --- 3. Primitive-to-pass auto-wrap --------------------------------------

// primitiveTypes are the port types that are coerced into a synthesized
// fullscreen render pass when they feed a `pass` input directly.
var primitiveTypes = map[string]bool{
	"f32": true, "i32": true, "u32": true, "bool": true,
	"vec2": true, "vec3": true, "vec4": true, "color": true,
}

func autoWrapPrimitives(scene *dsl.Scene, scheme *schema.NodeScheme, report *Report) (*dsl.Scene, error) {
	out := &dsl.Scene{
		Version:  scene.Version,
		Metadata: scene.Metadata,
		Outputs:  scene.Outputs,
		Groups:   scene.Groups,
		Assets:   scene.Assets,
		Nodes:    append([]dsl.Node(nil), scene.Nodes...),
	}
	nodesByID := dsl.NodesByID(scene)

	var newConns []dsl.Connection
	for _, c := range scene.Connections {
		fromNode := nodesByID[c.From.NodeID]
		toNode := nodesByID[c.To.NodeID]
		if fromNode == nil || toNode == nil {
			newConns = append(newConns, c)
			continue
		}

		toType, toOK := portType(scheme, toNode, c.To.PortID, false)
		fromType, fromOK := portType(scheme, fromNode, c.From.PortID, true)
		if !toOK || !fromOK || toType != "pass" || !primitiveTypes[fromType] {
			newConns = append(newConns, c)
			continue
		}

		report.AutoWraps++
		wrapID := fmt.Sprintf("sys.autowrap.%s", c.ID)
		geomID := wrapID + ".geometry"
		passID := wrapID + ".pass"

		out.Nodes = append(out.Nodes,
			dsl.Node{ID: geomID, Type: "Rect2D", Params: map[string]json.RawMessage{}},
			dsl.Node{ID: passID, Type: "RenderPass", Params: map[string]json.RawMessage{}},
		)
		newConns = append(newConns,
			dsl.Connection{ID: wrapID + ".c1", From: c.From, To: dsl.Endpoint{NodeID: passID, PortID: "material"}},
			dsl.Connection{ID: wrapID + ".c2", From: dsl.Endpoint{NodeID: geomID, PortID: "rect"}, To: dsl.Endpoint{NodeID: passID, PortID: "geometry"}},
			dsl.Connection{ID: wrapID + ".c3", From: dsl.Endpoint{NodeID: passID, PortID: "pass"}, To: c.To},
		)
	}
	out.Connections = newConns
	return out, nil
}

// portType resolves a port's declared type: static from the scheme, or
// dynamic from the node's own Inputs/Outputs for polymorphic types.
func portType(scheme *schema.NodeScheme, node *dsl.Node, portID string, output bool) (string, bool) {
	if nt, ok := scheme.Nodes[node.Type]; ok {
		table := nt.Inputs
		if output {
			table = nt.Outputs
		}
		if t, ok := table[portID]; ok {
			return t.String(), true
		}
	}
	ports := node.Inputs
	if output {
		ports = node.Outputs
	}
	for _, p := range ports {
		if p.ID == portID {
			if p.PortType == "" {
				return "any", true
			}
			return p.PortType, true
		}
	}
	return "", false
}

// --- 4. Content-hash pass dedup -------------------------------------------

// passProducingTypes lists node types whose content signature
// participates in dedup: render, downsample, upsample, gaussian-blur,
// gradient-blur, bloom, composition.
var passProducingTypes = map[string]bool{
	"RenderPass": true, "Downsample": true, "Upsample": true,
	"GaussianBlur": true, "GradientBlur": true, "Bloom": true, "Composite": true,
}

func dedupPasses(scene *dsl.Scene, scheme *schema.NodeScheme, report *Report) (*dsl.Scene, error) {
	nodesByID := dsl.NodesByID(scene)
	order, err := topoOrder(scene)
	if err != nil {
		return nil, err
	}

	sig := make(map[string]string, len(order))
	incoming := incomingByDestination(scene)

	for _, id := range order {
		n := nodesByID[id]
		if n == nil {
			continue
		}
		sig[id] = nodeSignature(n, incoming[id], sig)
	}

	groups := make(map[string][]string)
	for _, id := range order {
		n := nodesByID[id]
		if n == nil || !passProducingTypes[n.Type] {
			continue
		}
		groups[sig[id]] = append(groups[sig[id]], id)
	}

	redirect := make(map[string]string)
	removed := make(map[string]bool)
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		report.DedupGroups++
		sort.Slice(members, func(i, j int) bool {
			if len(members[i]) != len(members[j]) {
				return len(members[i]) < len(members[j])
			}
			return members[i] < members[j]
		})
		canonical := members[0]
		for _, dup := range members[1:] {
			redirect[dup] = canonical
			removed[dup] = true
			report.DedupRemoved++
		}
	}

	if len(removed) == 0 {
		return scene, nil
	}

	out := &dsl.Scene{
		Version:  scene.Version,
		Metadata: scene.Metadata,
		Outputs:  scene.Outputs,
		Groups:   scene.Groups,
		Assets:   scene.Assets,
	}
	for _, n := range scene.Nodes {
		if !removed[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}

	seen := make(map[string]bool)
	for _, c := range scene.Connections {
		if removed[c.To.NodeID] {
			continue
		}
		nc := c
		if canonical, ok := redirect[nc.From.NodeID]; ok {
			nc.From.NodeID = canonical
		}
		key := fmt.Sprintf("%s.%s|%s.%s", nc.From.NodeID, nc.From.PortID, nc.To.NodeID, nc.To.PortID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Connections = append(out.Connections, nc)
	}

	return pruneOrphans(out, scheme)
}

// pruneOrphans removes nodes that became unreachable upstream of the
// render target after dedup redirected their only consumer elsewhere.
func pruneOrphans(scene *dsl.Scene, scheme *schema.NodeScheme) (*dsl.Scene, error) {
	return pruneDeadSubgraph(scene, scheme)
}

func incomingByDestination(scene *dsl.Scene) map[string][]dsl.Connection {
	out := make(map[string][]dsl.Connection)
	for _, c := range scene.Connections {
		out[c.To.NodeID] = append(out[c.To.NodeID], c)
	}
	for _, conns := range out {
		sort.Slice(conns, func(i, j int) bool { return conns[i].To.PortID < conns[j].To.PortID })
	}
	return out
}

// nodeSignature computes a Merkle signature over type + non-metadata
// params + each input port's (port id, upstream signature).
func nodeSignature(n *dsl.Node, inbound []dsl.Connection, sig map[string]string) string {
	h := sha256.New()
	h.Write([]byte(n.Type))
	h.Write([]byte{0})

	keys := make([]string, 0, len(n.Params))
	for k := range n.Params {
		if k == "metadata" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(n.Params[k])
		h.Write([]byte{0})
	}

	for _, c := range inbound {
		h.Write([]byte(c.To.PortID))
		h.Write([]byte{'<'})
		h.Write([]byte(sig[c.From.NodeID]))
		h.Write([]byte{'.'})
		h.Write([]byte(c.From.PortID))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- 5. Image-file inlining ------------------------------------------------

func inlineImageFiles(scene *dsl.Scene, scheme *schema.NodeScheme, report *Report) *dsl.Scene {
	nodesByID := dsl.NodesByID(scene)
	toInline := make(map[string]bool)

	for _, c := range scene.Connections {
		from := nodesByID[c.From.NodeID]
		to := nodesByID[c.To.NodeID]
		if from == nil || to == nil {
			continue
		}
		if from.Type != "ImageFile" || to.Type != "ImageTexture" || c.To.PortID != "image" {
			continue
		}
		toInline[c.ID] = true
	}
	if len(toInline) == 0 {
		return scene
	}

	out := &dsl.Scene{
		Version:  scene.Version,
		Metadata: scene.Metadata,
		Outputs:  scene.Outputs,
		Groups:   scene.Groups,
		Assets:   scene.Assets,
	}

	imageFileRemoved := make(map[string]bool)
	for _, c := range scene.Connections {
		if !toInline[c.ID] {
			continue
		}
		from := nodesByID[c.From.NodeID]
		to := nodesByID[c.To.NodeID]
		if to.Params == nil {
			to.Params = make(map[string]json.RawMessage, len(from.Params))
		}
		for k, v := range from.Params {
			to.Params[k] = v
		}
		imageFileRemoved[from.ID] = true
		report.Inlinings++
	}

	for _, n := range scene.Nodes {
		if imageFileRemoved[n.ID] {
			continue
		}
		if nodesByID[n.ID].Type == "ImageTexture" {
			out.Nodes = append(out.Nodes, *nodesByID[n.ID])
			continue
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, c := range scene.Connections {
		if toInline[c.ID] {
			continue
		}
		out.Connections = append(out.Connections, c)
	}
	return out
}

// --- 6. Asset baking --------------------------------------------------------

func bakeAssets(scene *dsl.Scene, baker AssetBaker) (map[BakedKey]map[string]json.RawMessage, error) {
	baked := make(map[BakedKey]map[string]json.RawMessage)
	if baker == nil {
		return baked, nil
	}
	for _, n := range scene.Nodes {
		if n.Type != "DataParse" {
			continue
		}
		out, err := bakeOne(baker, &n)
		if err != nil {
			return nil, err
		}
		baked[BakedKey{NodeID: n.ID}] = out
	}
	return baked, nil
}

// bakeOne runs one node's snippet through the external scripting host,
// converting a recovered panic into a PANIC compile error per the
// user-snippet-panic taxonomy entry.
func bakeOne(baker AssetBaker, n *dsl.Node) (out map[string]json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = compileerr.At(compileerr.KindPanic, n.ID, "", "panic: %v", r)
		}
	}()
	out, bakeErr := baker.Bake(n)
	if bakeErr != nil {
		return nil, compileerr.Wrap(compileerr.KindAssetFailure, n.ID, "", bakeErr, "data-parse snippet execution failed")
	}
	return out, nil
}
