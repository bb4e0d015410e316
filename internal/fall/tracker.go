package fall

import (
	"fmt"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// Tracker assigns an Identity to every box of a frame. The returned slice has the
// same length and order as boxes. Calls must arrive in increasing frameIndex order.
type Tracker interface {
	Assign(frameIndex int, boxes []types.BBox) []Identity
}

// CenterTracker keys each box by its quantized center and keeps no state between frames.
type CenterTracker struct {
	Quantum int
}

// Assign implements Tracker.
func (c CenterTracker) Assign(_ int, boxes []types.BBox) []Identity {
	ids := make([]Identity, len(boxes))
	for i, b := range boxes {
		ids[i] = CenterKey(b, c.Quantum)
	}
	return ids
}

// CentroidTrackerConfig controls association and track death.
type CentroidTrackerConfig struct {
	MaxDistance float64 // gate in pixels between a track's last center and a new box center
	MaxMissing  int     // consecutive unmatched Assign calls before a track dies
}

// DefaultCentroidTrackerConfig returns the defaults used by the CLI.
func DefaultCentroidTrackerConfig() CentroidTrackerConfig {
	return CentroidTrackerConfig{
		MaxDistance: 80,
		MaxMissing:  5,
	}
}

type centroidTrack struct {
	id     Identity
	cx, cy float64
	misses int
}

// CentroidTracker matches boxes to live tracks by nearest center within a gate.
// It is not safe for concurrent use; one tracker belongs to one pipeline.
type CentroidTracker struct {
	cfg    CentroidTrackerConfig
	tracks []*centroidTrack
	nextID int
}

// NewCentroidTracker creates a tracker. Non-positive config values fall back to defaults.
func NewCentroidTracker(cfg CentroidTrackerConfig) *CentroidTracker {
	def := DefaultCentroidTrackerConfig()
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = def.MaxDistance
	}
	if cfg.MaxMissing < 1 {
		cfg.MaxMissing = def.MaxMissing
	}
	return &CentroidTracker{cfg: cfg, nextID: 1}
}

// Assign implements Tracker. Association is greedy in box order: each box takes
// the closest live track inside the gate that no earlier box has claimed.
func (t *CentroidTracker) Assign(_ int, boxes []types.BBox) []Identity {
	ids := make([]Identity, len(boxes))
	used := make(map[*centroidTrack]bool, len(t.tracks))
	gate2 := t.cfg.MaxDistance * t.cfg.MaxDistance

	for i, b := range boxes {
		cxi, cyi := b.Center()
		cx, cy := float64(cxi), float64(cyi)

		var best *centroidTrack
		bestDist2 := gate2
		for _, tr := range t.tracks {
			if used[tr] {
				continue
			}
			dx, dy := cx-tr.cx, cy-tr.cy
			if d2 := dx*dx + dy*dy; d2 <= bestDist2 {
				bestDist2 = d2
				best = tr
			}
		}

		if best == nil {
			best = &centroidTrack{id: Identity(fmt.Sprintf("track-%d", t.nextID))}
			t.nextID++
			t.tracks = append(t.tracks, best)
		}
		best.cx, best.cy = cx, cy
		best.misses = 0
		used[best] = true
		ids[i] = best.id
	}

	// Age unmatched tracks and drop the dead ones.
	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if !used[tr] {
			tr.misses++
			if tr.misses > t.cfg.MaxMissing {
				continue
			}
		}
		live = append(live, tr)
	}
	for i := len(live); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = live

	return ids
}

// Live returns the number of tracks that have not died yet.
func (t *CentroidTracker) Live() int {
	return len(t.tracks)
}
