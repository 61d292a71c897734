// Package camera resolves the view/projection matrix feeding a render
// pass, per the camera-resolution component: inline or connected
// perspective/orthographic cameras, raw inline 4x4 matrices, and the
// legacy 2D fullscreen projection fallback.
package camera

import (
	"math"

	"github.com/gogpu/rendergraph/compileerr"
	"github.com/gogpu/rendergraph/dsl"
)

// Mat4 is a column-major 4x4 matrix, laid out the way a uniform buffer
// expects it: m[col*4+row].
type Mat4 [16]float64

// Identity returns the 4x4 identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// ApproxEqual reports whether a and b match within an elementwise
// absolute tolerance, used to detect "effectively default" cameras.
func ApproxEqual(a, b Mat4, eps float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

const defaultEpsilon = 1e-6

// Legacy2D builds the legacy 2D fullscreen projection for a domain of
// size w x h pixels.
func Legacy2D(w, h int) Mat4 {
	m := Mat4{}
	fw, fh := float64(w), float64(h)
	if fw == 0 {
		fw = 1
	}
	if fh == 0 {
		fh = 1
	}
	m[0] = 2 / fw
	m[5] = 2 / fh
	m[10] = 1 / fw
	m[12] = -1
	m[13] = -1
	m[15] = 1
	return m
}

func vec3Sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func vec3Cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func vec3Normalize(a [3]float64) [3]float64 {
	l := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	if l < 1e-12 {
		return a
	}
	return [3]float64{a[0] / l, a[1] / l, a[2] / l}
}

func vec3Dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// lookAt builds a right-handed view matrix.
func lookAt(eye, center, up [3]float64) Mat4 {
	f := vec3Normalize(vec3Sub(center, eye))
	s := vec3Normalize(vec3Cross(f, up))
	u := vec3Cross(s, f)
	return Mat4{
		s[0], u[0], -f[0], 0,
		s[1], u[1], -f[1], 0,
		s[2], u[2], -f[2], 0,
		-vec3Dot(s, eye), -vec3Dot(u, eye), vec3Dot(f, eye), 1,
	}
}

// perspective builds a right-handed, zero-to-one depth perspective
// projection.
func perspective(fovyRadians, aspect, near, far float64) Mat4 {
	t := math.Tan(fovyRadians / 2)
	m := Mat4{}
	m[0] = 1 / (aspect * t)
	m[5] = 1 / t
	m[10] = far / (near - far)
	m[11] = -1
	m[14] = -(far * near) / (far - near)
	return m
}

// orthographic builds a right-handed, zero-to-one depth orthographic
// projection.
func orthographic(left, right, bottom, top, near, far float64) Mat4 {
	m := Mat4{}
	m[0] = 2 / (right - left)
	m[5] = 2 / (top - bottom)
	m[10] = -1 / (far - near)
	m[12] = -(right + left) / (right - left)
	m[13] = -(top + bottom) / (top - bottom)
	m[14] = -near / (far - near)
	m[15] = 1
	return m
}

func mul(a, b Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// rowMajorToColumnMajor transposes a flattened 4x4 row-major array into
// column-major Mat4 form.
func rowMajorToColumnMajor(flat []float64) Mat4 {
	var m Mat4
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			m[col*4+row] = flat[row*4+col]
		}
	}
	return m
}

// Latch enforces the chain camera policy: within a single processing
// chain feeding one composition, only the first pass consumes the
// user-authored camera; later passes fall back to the legacy fullscreen
// projection. A zero-value Latch is ready to use.
type Latch struct {
	consumed bool
}

// Take reports whether this call is the first to consume the camera on
// this latch, and marks it consumed either way.
func (l *Latch) Take() bool {
	if l.consumed {
		return false
	}
	l.consumed = true
	return true
}

// resolveVec3 resolves a vec3 param: inline literal, or a connection to
// a Vec3Input node whose own `value` param is an inline vec3.
func resolveVec3(scene *dsl.Scene, nodesByID map[string]*dsl.Node, n *dsl.Node, key string) ([3]float64, bool) {
	if arr, ok := dsl.ParamFloatArray(n, key); ok && len(arr) >= 3 {
		return [3]float64{arr[0], arr[1], arr[2]}, true
	}
	conn := dsl.IncomingConnection(scene, n.ID, key)
	if conn == nil {
		return [3]float64{}, false
	}
	upstream := nodesByID[conn.From.NodeID]
	if upstream == nil {
		return [3]float64{}, false
	}
	if arr, ok := dsl.ParamFloatArray(upstream, "value"); ok && len(arr) >= 3 {
		return [3]float64{arr[0], arr[1], arr[2]}, true
	}
	return [3]float64{}, false
}

// Resolve computes the matrix that should feed a render pass's camera
// uniform. portID names the pass node's camera input port. domainW/H is
// the pixel size of the target the pass ultimately renders into.
//
// The latch, when non-nil, implements the chain camera policy: only its
// first Take() honours a connected or explicit inline camera; every
// later call forces the legacy fullscreen projection regardless of what
// is wired.
func Resolve(scene *dsl.Scene, passNode *dsl.Node, portID string, domainW, domainH int, latch *Latch) (Mat4, error) {
	if latch != nil && !latch.Take() {
		return Legacy2D(domainW, domainH), nil
	}

	nodesByID := dsl.NodesByID(scene)

	if conn := dsl.IncomingConnection(scene, passNode.ID, portID); conn != nil {
		upstream := nodesByID[conn.From.NodeID]
		if upstream == nil {
			return Mat4{}, compileerr.At(compileerr.KindStructuralViolation, passNode.ID, portID, "camera connection resolves to a missing node")
		}
		return resolveFromNode(scene, nodesByID, upstream, conn.From.PortID)
	}

	if flat, ok := dsl.ParamFloatArray(passNode, portID); ok && len(flat) == 16 {
		m := rowMajorToColumnMajor(flat)
		if !ApproxEqual(m, Identity(), defaultEpsilon) {
			return m, nil
		}
	}

	return Legacy2D(domainW, domainH), nil
}

func resolveFromNode(scene *dsl.Scene, nodesByID map[string]*dsl.Node, n *dsl.Node, outputPort string) (Mat4, error) {
	switch n.Type {
	case "PerspectiveCamera":
		return resolvePerspective(scene, nodesByID, n)
	case "OrthographicCamera":
		return resolveOrthographic(n)
	default:
		if flat, ok := dsl.ParamFloatArray(n, outputPort); ok && len(flat) == 16 {
			return rowMajorToColumnMajor(flat), nil
		}
		return Mat4{}, compileerr.At(compileerr.KindResolutionFailure, n.ID, outputPort, "node does not resolve to a camera matrix")
	}
}

func resolvePerspective(scene *dsl.Scene, nodesByID map[string]*dsl.Node, n *dsl.Node) (Mat4, error) {
	fovyDeg, ok := dsl.ParamFloat(n, "fovy")
	if !ok || fovyDeg <= 0 || fovyDeg >= 180 {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "fovy", "fovy must be in (0,180) degrees")
	}
	aspect, ok := dsl.ParamFloat(n, "aspect")
	if !ok || aspect <= 0 {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "aspect", "aspect must be > 0")
	}
	near, ok := dsl.ParamFloat(n, "near")
	if !ok || near <= 0 {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "near", "near must be > 0")
	}
	far, ok := dsl.ParamFloat(n, "far")
	if !ok || far <= near {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "far", "far must be > near")
	}

	position, posOK := resolveVec3(scene, nodesByID, n, "position")
	if !posOK {
		position = [3]float64{0, 0, 1}
	}
	target, tgtOK := resolveVec3(scene, nodesByID, n, "target")
	if !tgtOK {
		target = [3]float64{0, 0, 0}
	}
	up, upOK := resolveVec3(scene, nodesByID, n, "up")
	if !upOK {
		up = [3]float64{0, 1, 0}
	}

	view := lookAt(position, target, up)
	proj := perspective(fovyDeg*math.Pi/180, aspect, near, far)
	return mul(proj, view), nil
}

func resolveOrthographic(n *dsl.Node) (Mat4, error) {
	left, lok := dsl.ParamFloat(n, "left")
	right, rok := dsl.ParamFloat(n, "right")
	bottom, bok := dsl.ParamFloat(n, "bottom")
	top, tok := dsl.ParamFloat(n, "top")
	near, nok := dsl.ParamFloat(n, "near")
	far, fok := dsl.ParamFloat(n, "far")
	if !lok || !rok || !bok || !tok || !nok || !fok {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "", "orthographic camera requires left/right/bottom/top/near/far")
	}
	if math.Abs(right-left) < defaultEpsilon {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "right", "|right-left| must be non-zero")
	}
	if math.Abs(top-bottom) < defaultEpsilon {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "top", "|top-bottom| must be non-zero")
	}
	if far <= near {
		return Mat4{}, compileerr.At(compileerr.KindSchemaViolation, n.ID, "far", "far must be > near")
	}
	view := lookAt([3]float64{0, 0, 1}, [3]float64{0, 0, 0}, [3]float64{0, 1, 0})
	proj := orthographic(left, right, bottom, top, near, far)
	return mul(proj, view), nil
}
