// Package material compiles the typed expression tree rooted at a
// render pass's material input into WGSL-flavoured source fragments,
// per the material-compiler component.
package material

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/dsl"
)

// ValueType is the type lattice the material compiler operates over.
type ValueType string

const (
	TypeF32       ValueType = "f32"
	TypeI32       ValueType = "i32"
	TypeU32       ValueType = "u32"
	TypeBool      ValueType = "bool"
	TypeVec2      ValueType = "vec2"
	TypeVec3      ValueType = "vec3"
	TypeVec4      ValueType = "vec4"
	TypeTexture2D ValueType = "texture_2d"
	TypeArray     ValueType = "array"
)

func vectorArity(t ValueType) (int, bool) {
	switch t {
	case TypeVec2:
		return 2, true
	case TypeVec3:
		return 3, true
	case TypeVec4:
		return 4, true
	}
	return 0, false
}

func isScalar(t ValueType) bool {
	return t == TypeF32 || t == TypeI32 || t == TypeU32 || t == TypeBool
}

// TypedExpr is the compiled form of one node output: its value type, the
// WGSL source text that evaluates to it, and whether evaluating it reads
// the time uniform.
type TypedExpr struct {
	Type     ValueType
	Source   string
	UsesTime bool
}

// memoKey identifies one (node, output port) compilation.
type memoKey struct {
	nodeID string
	port   string
}

// Context carries per-compile side-effect registers: statements that
// must be emitted ahead of the expression that depends on them, and the
// image/pass textures referenced, in first-reference order.
type Context struct {
	Scene     *dsl.Scene
	NodesByID map[string]*dsl.Node

	memo      map[memoKey]TypedExpr
	inline    []string
	images    []string
	passes    []string
	seenImage map[string]bool
	seenPass  map[string]bool
	tempSeq   int
}

// NewContext builds a compile context for scene.
func NewContext(scene *dsl.Scene) *Context {
	return &Context{
		Scene:     scene,
		NodesByID: dsl.NodesByID(scene),
		memo:      make(map[memoKey]TypedExpr),
		seenImage: make(map[string]bool),
		seenPass:  make(map[string]bool),
	}
}

// InlineStatements returns the accumulated pre-expression statement
// blocks, in emission order.
func (c *Context) InlineStatements() []string { return append([]string(nil), c.inline...) }

// ImageTextures returns the image ids referenced (the `image` param of
// each compiled SampledTexture node), in first-reference order.
func (c *Context) ImageTextures() []string { return append([]string(nil), c.images...) }

// PassTextures returns the upstream pass node ids referenced as sampled
// pass textures, in first-reference order.
func (c *Context) PassTextures() []string { return append([]string(nil), c.passes...) }

func (c *Context) freshVar(prefix string) string {
	c.tempSeq++
	return fmt.Sprintf("%s_%d", prefix, c.tempSeq)
}

func (c *Context) registerImage(nodeID string) {
	if !c.seenImage[nodeID] {
		c.seenImage[nodeID] = true
		c.images = append(c.images, nodeID)
	}
}

func (c *Context) registerPass(nodeID string) {
	if !c.seenPass[nodeID] {
		c.seenPass[nodeID] = true
		c.passes = append(c.passes, nodeID)
	}
}

// Compile recursively compiles the expression feeding inputPort on node,
// memoised per (node id, output port) of the upstream producer.
func (c *Context) Compile(node *dsl.Node, inputPort string) (TypedExpr, error) {
	conn := dsl.IncomingConnection(c.Scene, node.ID, inputPort)
	if conn == nil {
		return c.compileInlineParam(node, inputPort)
	}
	upstream := c.NodesByID[conn.From.NodeID]
	if upstream == nil {
		return TypedExpr{}, compileerr.At(compileerr.KindStructuralViolation, node.ID, inputPort, "connection resolves to a missing node")
	}
	return c.compileNodeOutput(upstream, conn.From.PortID)
}

func (c *Context) compileNodeOutput(node *dsl.Node, outputPort string) (TypedExpr, error) {
	key := memoKey{node.ID, outputPort}
	if e, ok := c.memo[key]; ok {
		return e, nil
	}
	e, err := c.compileNode(node, outputPort)
	if err != nil {
		return TypedExpr{}, err
	}
	c.memo[key] = e
	return e, nil
}

func (c *Context) compileInlineParam(node *dsl.Node, key string) (TypedExpr, error) {
	if arr, ok := dsl.ParamFloatArray(node, key); ok {
		switch len(arr) {
		case 2:
			return TypedExpr{Type: TypeVec2, Source: fmt.Sprintf("vec2<f32>(%s, %s)", fstr(arr[0]), fstr(arr[1]))}, nil
		case 3:
			return TypedExpr{Type: TypeVec3, Source: fmt.Sprintf("vec3<f32>(%s, %s, %s)", fstr(arr[0]), fstr(arr[1]), fstr(arr[2]))}, nil
		case 4:
			return TypedExpr{Type: TypeVec4, Source: fmt.Sprintf("vec4<f32>(%s, %s, %s, %s)", fstr(arr[0]), fstr(arr[1]), fstr(arr[2]), fstr(arr[3]))}, nil
		}
	}
	if f, ok := dsl.ParamFloat(node, key); ok {
		return TypedExpr{Type: TypeF32, Source: fstr(f)}, nil
	}
	if b, ok := dsl.ParamBool(node, key); ok {
		return TypedExpr{Type: TypeBool, Source: fmt.Sprintf("%v", b)}, nil
	}
	return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, node.ID, key, "no connection or inline literal for material input")
}

func fstr(f float64) string {
	s := fmt.Sprintf("%g", f)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// promote applies the binary-op promotion table: identical types pass
// through; a scalar promotes to the other side's vector arity; otherwise
// the operands are incompatible.
func promote(a, b TypedExpr) (ValueType, string, string, error) {
	if a.Type == b.Type {
		return a.Type, a.Source, b.Source, nil
	}
	if isScalar(a.Type) {
		if n, ok := vectorArity(b.Type); ok {
			return b.Type, splat(a.Source, n, b.Type), b.Source, nil
		}
	}
	if isScalar(b.Type) {
		if n, ok := vectorArity(a.Type); ok {
			return a.Type, a.Source, splat(b.Source, n, a.Type), nil
		}
	}
	return "", "", "", fmt.Errorf("incompatible operand types %s and %s", a.Type, b.Type)
}

func splat(scalarSrc string, n int, vecType ValueType) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = scalarSrc
	}
	return fmt.Sprintf("%s<f32>(%s)", wgslCtor(vecType), strings.Join(parts, ", "))
}

func wgslCtor(t ValueType) string {
	switch t {
	case TypeVec2:
		return "vec2"
	case TypeVec3:
		return "vec3"
	case TypeVec4:
		return "vec4"
	}
	return string(t)
}

func (c *Context) compileNode(n *dsl.Node, outputPort string) (TypedExpr, error) {
	switch n.Type {
	case "ColorInput", "FloatInput", "IntInput", "Vec2Input", "Vec3Input", "Vec4Input":
		return c.compileInlineParam(n, "value")
	case "Time":
		return TypedExpr{Type: TypeF32, Source: "params.time", UsesTime: true}, nil
	case "MathOp":
		return c.compileMathOp(n)
	case "Clamp":
		return c.compileClamp(n)
	case "Mix":
		return c.compileMix(n)
	case "Smoothstep":
		return c.compileSmoothstep(n)
	case "Dot":
		return c.compileDot(n)
	case "Cross":
		return c.compileCross(n)
	case "Normalize":
		return c.compileNormalize(n)
	case "Length":
		return c.compileLength(n)
	case "Refract":
		return c.compileRefract(n)
	case "ColorRamp":
		return c.compileColorRamp(n)
	case "HsvAdjust":
		return c.compileHsvAdjust(n)
	case "SampledTexture":
		return c.compileSampledTexture(n)
	case "PassTexture":
		return c.compilePassTexture(n)
	case "Sdf2D":
		return c.compileSdf2D(n)
	case "Remap":
		return c.compileRemap(n)
	case "MathClosure":
		return c.compileMathClosure(n)
	default:
		return TypedExpr{}, compileerr.At(compileerr.KindUnsupportedCapability, n.ID, outputPort, "node type %q is not a material expression", n.Type)
	}
}

func (c *Context) compileMathOp(n *dsl.Node) (TypedExpr, error) {
	op, ok := dsl.ParamString(n, "op")
	if !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "op", "MathOp requires an op param")
	}
	a, err := c.Compile(n, "a")
	if err != nil {
		return TypedExpr{}, err
	}
	b, err := c.Compile(n, "b")
	if err != nil {
		return TypedExpr{}, err
	}
	t, as, bs, err := promote(a, b)
	if err != nil {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "", "%v", err)
	}
	var src string
	switch op {
	case "add":
		src = fmt.Sprintf("(%s + %s)", as, bs)
	case "sub":
		src = fmt.Sprintf("(%s - %s)", as, bs)
	case "mul":
		src = fmt.Sprintf("(%s * %s)", as, bs)
	case "div":
		src = fmt.Sprintf("(%s / %s)", as, bs)
	case "power":
		src = fmt.Sprintf("pow(%s, %s)", as, bs)
	default:
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "op", "unknown math op %q", op)
	}
	return TypedExpr{Type: t, Source: src, UsesTime: a.UsesTime || b.UsesTime}, nil
}

func (c *Context) compileClamp(n *dsl.Node) (TypedExpr, error) {
	v, err := c.Compile(n, "value")
	if err != nil {
		return TypedExpr{}, err
	}
	lo, err := c.Compile(n, "min")
	if err != nil {
		return TypedExpr{}, err
	}
	hi, err := c.Compile(n, "max")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: v.Type, Source: fmt.Sprintf("clamp(%s, %s, %s)", v.Source, lo.Source, hi.Source), UsesTime: v.UsesTime || lo.UsesTime || hi.UsesTime}, nil
}

func (c *Context) compileMix(n *dsl.Node) (TypedExpr, error) {
	a, err := c.Compile(n, "a")
	if err != nil {
		return TypedExpr{}, err
	}
	b, err := c.Compile(n, "b")
	if err != nil {
		return TypedExpr{}, err
	}
	t, err := c.Compile(n, "t")
	if err != nil {
		return TypedExpr{}, err
	}
	if !isScalar(t.Type) {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "t", "Mix interpolant must be scalar")
	}
	typ, as, bs, err := promote(a, b)
	if err != nil {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "", "%v", err)
	}
	ts := t.Source
	if n2, ok := vectorArity(typ); ok {
		ts = splat(t.Source, n2, typ)
	}
	return TypedExpr{Type: typ, Source: fmt.Sprintf("mix(%s, %s, %s)", as, bs, ts), UsesTime: a.UsesTime || b.UsesTime || t.UsesTime}, nil
}

func (c *Context) compileSmoothstep(n *dsl.Node) (TypedExpr, error) {
	e0, err := c.Compile(n, "edge0")
	if err != nil {
		return TypedExpr{}, err
	}
	e1, err := c.Compile(n, "edge1")
	if err != nil {
		return TypedExpr{}, err
	}
	x, err := c.Compile(n, "x")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeF32, Source: fmt.Sprintf("smoothstep(%s, %s, %s)", e0.Source, e1.Source, x.Source), UsesTime: e0.UsesTime || e1.UsesTime || x.UsesTime}, nil
}

func (c *Context) compileDot(n *dsl.Node) (TypedExpr, error) {
	a, err := c.Compile(n, "a")
	if err != nil {
		return TypedExpr{}, err
	}
	b, err := c.Compile(n, "b")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeF32, Source: fmt.Sprintf("dot(%s, %s)", a.Source, b.Source), UsesTime: a.UsesTime || b.UsesTime}, nil
}

func (c *Context) compileCross(n *dsl.Node) (TypedExpr, error) {
	a, err := c.Compile(n, "a")
	if err != nil {
		return TypedExpr{}, err
	}
	if a.Type != TypeVec3 {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "a", "Cross requires vec3 operands")
	}
	b, err := c.Compile(n, "b")
	if err != nil {
		return TypedExpr{}, err
	}
	if b.Type != TypeVec3 {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "b", "Cross requires vec3 operands")
	}
	return TypedExpr{Type: TypeVec3, Source: fmt.Sprintf("cross(%s, %s)", a.Source, b.Source), UsesTime: a.UsesTime || b.UsesTime}, nil
}

func (c *Context) compileNormalize(n *dsl.Node) (TypedExpr, error) {
	v, err := c.Compile(n, "value")
	if err != nil {
		return TypedExpr{}, err
	}
	if _, ok := vectorArity(v.Type); !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, "value", "Normalize requires a vector operand")
	}
	return TypedExpr{Type: v.Type, Source: fmt.Sprintf("normalize(%s)", v.Source), UsesTime: v.UsesTime}, nil
}

func (c *Context) compileLength(n *dsl.Node) (TypedExpr, error) {
	v, err := c.Compile(n, "value")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeF32, Source: fmt.Sprintf("length(%s)", v.Source), UsesTime: v.UsesTime}, nil
}

func (c *Context) compileRefract(n *dsl.Node) (TypedExpr, error) {
	i, err := c.Compile(n, "i")
	if err != nil {
		return TypedExpr{}, err
	}
	nrm, err := c.Compile(n, "n")
	if err != nil {
		return TypedExpr{}, err
	}
	ior, err := c.Compile(n, "ior")
	if err != nil {
		return TypedExpr{}, err
	}
	iSrc := coerceVec3(i)
	nSrc := fmt.Sprintf("normalize(%s)", coerceVec3(nrm))
	eta := fmt.Sprintf("(1.0 / %s)", ior.Source)
	return TypedExpr{
		Type:     TypeVec3,
		Source:   fmt.Sprintf("refract(normalize(%s), %s, %s)", iSrc, nSrc, eta),
		UsesTime: i.UsesTime || nrm.UsesTime || ior.UsesTime,
	}, nil
}

func coerceVec3(e TypedExpr) string {
	if e.Type == TypeVec3 {
		return e.Source
	}
	if isScalar(e.Type) {
		return splat(e.Source, 3, TypeVec3)
	}
	return e.Source
}

func (c *Context) compileColorRamp(n *dsl.Node) (TypedExpr, error) {
	t, err := c.Compile(n, "t")
	if err != nil {
		return TypedExpr{}, err
	}
	stopsRaw, ok := dsl.ParamFloatArray(n, "stops")
	if !ok || len(stopsRaw) == 0 {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "stops", "ColorRamp requires a non-empty stops param")
	}
	out := c.freshVar("ramp")
	var sb strings.Builder
	fmt.Fprintf(&sb, "var %s: vec4<f32> = vec4<f32>(%s);\n", out, fstr(stopsRaw[0]))
	c.inline = append(c.inline, sb.String())
	return TypedExpr{Type: TypeVec4, Source: out, UsesTime: t.UsesTime}, nil
}

func (c *Context) compileHsvAdjust(n *dsl.Node) (TypedExpr, error) {
	col, err := c.Compile(n, "color")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeVec4, Source: fmt.Sprintf("hsvAdjust(%s)", col.Source), UsesTime: col.UsesTime}, nil
}

func (c *Context) compileSampledTexture(n *dsl.Node) (TypedExpr, error) {
	imagePath, ok := dsl.ParamString(n, "image")
	if !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "image", "SampledTexture requires an image param")
	}
	c.registerImage(imagePath)
	uv, err := c.Compile(n, "uv")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeVec4, Source: fmt.Sprintf("textureSample(%s, %s_sampler, %s)", resourceVar(imagePath), resourceVar(imagePath), uv.Source), UsesTime: uv.UsesTime}, nil
}

func (c *Context) compilePassTexture(n *dsl.Node) (TypedExpr, error) {
	passID, ok := dsl.ParamString(n, "pass")
	if !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "pass", "PassTexture requires a pass param")
	}
	c.registerPass(passID)
	uv, err := c.Compile(n, "uv")
	if err != nil {
		return TypedExpr{}, err
	}
	return TypedExpr{Type: TypeVec4, Source: fmt.Sprintf("textureSample(%s, %s_sampler, %s)", resourceVar(passID), resourceVar(passID), uv.Source), UsesTime: uv.UsesTime}, nil
}

func resourceVar(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if r == '_' || r == '-' || r == '.' || r == '/' {
			sb.WriteByte('_')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (c *Context) compileSdf2D(n *dsl.Node) (TypedExpr, error) {
	shape, ok := dsl.ParamString(n, "shape")
	if !ok {
		shape = "circle"
	}
	pos, err := c.Compile(n, "position")
	if err != nil {
		return TypedExpr{}, err
	}
	switch shape {
	case "rectangle":
		c.ensureRoundedBoxAux()
		size, _ := dsl.ParamFloatArray(n, "size")
		w, h := 0.0, 0.0
		if len(size) >= 2 {
			w, h = size[0], size[1]
		}
		radius, _ := dsl.ParamFloat(n, "radius")
		src := fmt.Sprintf("sdRoundedBox(in.local_px - %s, vec2<f32>(%s, %s), %s)", pos.Source, fstr(w/2), fstr(h/2), fstr(radius))
		return TypedExpr{Type: TypeF32, Source: src, UsesTime: pos.UsesTime}, nil
	default:
		radius, _ := dsl.ParamFloat(n, "radius")
		src := fmt.Sprintf("(length(in.local_px - %s) - %s)", pos.Source, fstr(radius))
		return TypedExpr{Type: TypeF32, Source: src, UsesTime: pos.UsesTime}, nil
	}
}

func (c *Context) ensureRoundedBoxAux() {
	// emitted once per context via the inline registry so the shared
	// fragment body declares it exactly once ahead of any use.
	for _, s := range c.inline {
		if strings.Contains(s, "fn sdRoundedBox") {
			return
		}
	}
	c.inline = append([]string{
		"fn sdRoundedBox(p: vec2<f32>, halfExtent: vec2<f32>, radius: f32) -> f32 {\n" +
			"  let q = abs(p) - halfExtent + vec2<f32>(radius, radius);\n" +
			"  return length(max(q, vec2<f32>(0.0, 0.0))) + min(max(q.x, q.y), 0.0) - radius;\n" +
			"}\n",
	}, c.inline...)
}

func (c *Context) compileRemap(n *dsl.Node) (TypedExpr, error) {
	mode, ok := dsl.ParamString(n, "mode")
	if !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "mode", "Remap requires a mode param")
	}
	v, err := c.Compile(n, "value")
	if err != nil {
		return TypedExpr{}, err
	}
	src, err := remapFormula(mode, v.Source, n)
	if err != nil {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "mode", "%v", err)
	}
	return TypedExpr{Type: TypeF32, Source: src, UsesTime: v.UsesTime}, nil
}

// remapFormula returns the WGSL source for one of the named shaping
// functions, each transcribed from a published closed form. linearMap
// and almostIdentity guard their division against a small epsilon; the
// other formulas divide without a guard.
func remapFormula(mode, t string, n *dsl.Node) (string, error) {
	k, hasK := dsl.ParamFloat(n, "k")
	if !hasK {
		k = 1
	}
	switch mode {
	case "smoothstep":
		return fmt.Sprintf("smoothstep(0.0, 1.0, %s)", t), nil
	case "linearMap":
		from, _ := dsl.ParamFloat(n, "from")
		to, _ := dsl.ParamFloat(n, "to")
		return fmt.Sprintf("clamp((%s - %s) / max(%s - %s, 1e-6), 0.0, 1.0)", t, fstr(from), fstr(to), fstr(from)), nil
	case "expImpulse":
		return fmt.Sprintf("(%s * %s * exp(1.0 - %s * %s))", fstr(k), t, fstr(k), t), nil
	case "quaImpulse":
		return fmt.Sprintf("(2.0 * sqrt(%s) * %s / (1.0 + %s * %s * %s))", fstr(k), t, fstr(k), t, t), nil
	case "polyImpulse":
		return fmt.Sprintf("(%s / (1.0 - %s) * %s * pow(1.0 - %s, %s))", fstr(k), fstr(1/k), t, t, fstr(k)), nil
	case "cubicPulse":
		return fmt.Sprintf("(1.0 - clamp(abs(%s) * %s, 0.0, 1.0) * clamp(abs(%s) * %s, 0.0, 1.0) * (3.0 - 2.0 * clamp(abs(%s) * %s, 0.0, 1.0)))", t, fstr(k), t, fstr(k), t, fstr(k)), nil
	case "gain":
		return fmt.Sprintf("select(1.0 - 0.5 * pow(2.0 * (1.0 - %s), %s), 0.5 * pow(2.0 * %s, %s), %s < 0.5)", t, fstr(k), t, fstr(k), t), nil
	case "parabola":
		return fmt.Sprintf("pow(4.0 * %s * (1.0 - %s), %s)", t, t, fstr(k)), nil
	case "pcurve":
		a, _ := dsl.ParamFloat(n, "a")
		b, _ := dsl.ParamFloat(n, "b")
		return fmt.Sprintf("(pow(%s + %s, %s + %s) / (pow(%s, %s) * pow(%s, %s)) * pow(%s, %s) * pow(1.0 - %s, %s))", fstr(a), fstr(b), fstr(a), fstr(b), fstr(a), fstr(a), fstr(b), fstr(b), t, fstr(a), t, fstr(b)), nil
	case "expStep":
		n2, _ := dsl.ParamFloat(n, "n")
		return fmt.Sprintf("exp(-%s * pow(%s, %s))", fstr(k), t, fstr(n2)), nil
	case "almostIdentity":
		return fmt.Sprintf("select(%s, %s * %s * (2.0 - %s) / max(%s, 1e-6), %s < %s)", t, t, t, t, fstr(k), t, fstr(k)), nil
	default:
		return fmt.Sprintf("smoothstep(0.0, 1.0, %s)", t), nil
	}
}

// mathClosureRewrites maps a GLSL-subset declaration keyword to the
// generic variable declaration used in the target shader language.
var mathClosureRewrites = map[string]string{
	"float": "var", "vec2": "var", "vec3": "var", "vec4": "var", "int": "var",
}

func (c *Context) compileMathClosure(n *dsl.Node) (TypedExpr, error) {
	snippet, ok := dsl.ParamString(n, "snippet")
	if !ok {
		return TypedExpr{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "snippet", "MathClosure requires a snippet param")
	}

	paramNames := closureParamNames(n)
	sort.Strings(paramNames)

	var paramDecls []string
	for _, p := range paramNames {
		expr, err := c.Compile(n, p)
		if err != nil {
			return TypedExpr{}, err
		}
		paramType := expr.Type
		if isScalar(paramType) && swizzlesScalarAsVector(snippet, p) {
			paramType = TypeVec3
			expr.Source = splat(expr.Source, 3, TypeVec3)
		}
		paramDecls = append(paramDecls, fmt.Sprintf("let %s: %s = %s;", p, wgslType(paramType), expr.Source))
	}

	rewritten := rewriteClosureSnippet(snippet)
	outVar := c.freshVar("closure")
	outType := inferClosureOutputType(snippet)

	var sb strings.Builder
	fmt.Fprintf(&sb, "var %s: %s;\n", outVar, wgslType(outType))
	sb.WriteString("{\n")
	for _, d := range paramDecls {
		sb.WriteString("  " + d + "\n")
	}
	fmt.Fprintf(&sb, "  var output: %s;\n", wgslType(outType))
	sb.WriteString("  " + rewritten + "\n")
	fmt.Fprintf(&sb, "  %s = output;\n", outVar)
	sb.WriteString("}\n")
	c.inline = append(c.inline, sb.String())

	uses := strings.Contains(snippet, "time")
	return TypedExpr{Type: outType, Source: outVar, UsesTime: uses}, nil
}

func wgslType(t ValueType) string {
	switch t {
	case TypeVec2:
		return "vec2<f32>"
	case TypeVec3:
		return "vec3<f32>"
	case TypeVec4:
		return "vec4<f32>"
	}
	return string(t)
}

// closureParamNames extracts the declared input port names of a
// MathClosure node (the scheme defines no static inputs for it; ports
// are discovered from the node's own Inputs list).
func closureParamNames(n *dsl.Node) []string {
	names := make([]string, 0, len(n.Inputs))
	for _, p := range n.Inputs {
		names = append(names, p.ID)
	}
	return names
}

func swizzlesScalarAsVector(snippet, param string) bool {
	return strings.Contains(snippet, param+".x") || strings.Contains(snippet, param+".y") || strings.Contains(snippet, param+".z")
}

// rewriteClosureSnippet rewrites typed local declarations from the
// GLSL-like authoring subset (`float x`, `vec3 x`, ...) to the target
// shader language's generic `var` form. Only a type keyword followed by
// a space is rewritten; constructor calls such as `vec3(...)` are left as
// written.
func rewriteClosureSnippet(snippet string) string {
	out := snippet
	for from := range mathClosureRewrites {
		out = strings.ReplaceAll(out, from+" ", "var ")
	}
	return out
}

// inferClosureOutputType infers the type of a MathClosure's `output`
// assignment from its final constructor call, defaulting to f32 when no
// recognisable constructor is present.
func inferClosureOutputType(snippet string) ValueType {
	idx := strings.LastIndex(snippet, "output")
	if idx < 0 {
		return TypeF32
	}
	tail := snippet[idx:]
	switch {
	case strings.Contains(tail, "vec4"):
		return TypeVec4
	case strings.Contains(tail, "vec3"):
		return TypeVec3
	case strings.Contains(tail, "vec2"):
		return TypeVec2
	default:
		return TypeF32
	}
}
