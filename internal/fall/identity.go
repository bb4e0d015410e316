package fall

import (
	"fmt"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// Identity is an approximate per-subject correlation key. Two detections sharing
// an Identity are not guaranteed to be the same person.
type Identity string

// CenterKey derives an Identity from the box center alone, snapped down to a
// multiple of quantum pixels. quantum <= 1 keeps pixel resolution.
//
// Two people whose boxes share a quantized center collapse into one identity, and a
// person whose center moves becomes a new identity. Callers that need motion
// tolerance should use a CentroidTracker instead.
func CenterKey(b types.BBox, quantum int) Identity {
	cx, cy := b.Center()
	if quantum > 1 {
		cx = floorTo(cx, quantum)
		cy = floorTo(cy, quantum)
	}
	return Identity(fmt.Sprintf("%d-%d", cx, cy))
}

func floorTo(v, q int) int {
	r := v % q
	if r < 0 {
		r += q
	}
	return v - r
}
