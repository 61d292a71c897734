// Package resourcename builds the stable string keys used to name
// GPU resources (textures, buffers, samplers) in the resident
// render-graph, so that passes can reference resources by name instead
// of by pointer.
package resourcename

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// shortIDLen is the number of hex characters kept from the id digest —
// enough to avoid collisions within one scene without producing
// unreadably long resource names.
const shortIDLen = 8

// ForNode returns the stable `{nodeType}_{shortID}` name for a node,
// where shortID is derived deterministically from nodeID so the same
// node always yields the same resource name across recompiles.
func ForNode(nodeType, nodeID string) string {
	return fmt.Sprintf("%s_%s", nodeType, shortID(nodeID))
}

// ForNodePort returns a stable name for a specific output port of a
// node, used when a node has more than one texture/buffer output.
func ForNodePort(nodeType, nodeID, portID string) string {
	return fmt.Sprintf("%s_%s_%s", nodeType, shortID(nodeID), portID)
}

// Intermediate names a synthetic resource introduced by the compiler
// itself (e.g. a processing-chain stage) rather than by a scene node,
// keyed by the owning pass id and a role tag such as "downsample" or
// "blur_h".
func Intermediate(passID, role string) string {
	return fmt.Sprintf("sys_%s_%s", role, shortID(passID))
}

func shortID(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])[:shortIDLen]
}
