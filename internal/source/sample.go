package source

import (
	"sort"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// Keep reports whether the frame with 1-based index is sampled at the given stride.
func Keep(index, stride int) bool {
	return stride <= 1 || index%stride == 0
}

// Reorder releases frames in strictly increasing index order when detector workers
// finish out of order. Indices are expected at first, first+step, first+2*step, ...
type Reorder struct {
	next    int
	step    int
	pending map[int]types.Frame
}

// NewReorder expects first as the first index and step between consecutive indices.
func NewReorder(first, step int) *Reorder {
	if step < 1 {
		step = 1
	}
	return &Reorder{next: first, step: step, pending: make(map[int]types.Frame)}
}

// Push buffers f and returns every frame that is now ready, in order.
// Frames older than the next expected index are dropped.
func (r *Reorder) Push(f types.Frame) []types.Frame {
	if f.Index < r.next {
		return nil
	}
	r.pending[f.Index] = f

	var ready []types.Frame
	for {
		frame, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		ready = append(ready, frame)
		r.next += r.step
	}
	return ready
}

// Pending returns the number of buffered frames waiting for a gap to fill.
func (r *Reorder) Pending() int {
	return len(r.pending)
}

// Flush returns the buffered frames sorted by index and empties the buffer.
// It is used at end of input when a gap will never be filled.
func (r *Reorder) Flush() []types.Frame {
	out := make([]types.Frame, 0, len(r.pending))
	for _, f := range r.pending {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	r.pending = make(map[int]types.Frame)
	if n := len(out); n > 0 {
		r.next = out[n-1].Index + r.step
	}
	return out
}
