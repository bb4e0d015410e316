package fall

import (
	"testing"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// boxAt returns a 20x100 box centered on (cx, cy).
func boxAt(cx, cy int) types.BBox {
	return types.BBox{X1: cx - 10, Y1: cy - 50, X2: cx + 10, Y2: cy + 50}
}

func TestCenterTrackerIsStateless(t *testing.T) {
	tr := CenterTracker{Quantum: 1}
	first := tr.Assign(1, []types.BBox{boxAt(100, 100)})
	moved := tr.Assign(2, []types.BBox{boxAt(104, 100)})
	again := tr.Assign(3, []types.BBox{boxAt(100, 100)})

	if first[0] != "100-100" {
		t.Errorf("Expected 100-100, got %q", first[0])
	}
	if moved[0] == first[0] {
		t.Errorf("Expected a moved center to produce a new identity, got %q twice", moved[0])
	}
	if again[0] != first[0] {
		t.Errorf("Expected the same center to map to the same identity, got %q and %q", first[0], again[0])
	}
}

func TestCentroidTrackerFollowsMotion(t *testing.T) {
	tr := NewCentroidTracker(CentroidTrackerConfig{MaxDistance: 50, MaxMissing: 2})

	ids := tr.Assign(1, []types.BBox{boxAt(100, 100), boxAt(500, 100)})
	if ids[0] != "track-1" || ids[1] != "track-2" {
		t.Fatalf("Expected [track-1 track-2], got %v", ids)
	}

	// Both subjects drift; order of boxes is swapped to make sure matching is spatial.
	ids = tr.Assign(2, []types.BBox{boxAt(510, 100), boxAt(120, 100)})
	if ids[0] != "track-2" || ids[1] != "track-1" {
		t.Errorf("Expected [track-2 track-1], got %v", ids)
	}
}

func TestCentroidTrackerGate(t *testing.T) {
	tr := NewCentroidTracker(CentroidTrackerConfig{MaxDistance: 50, MaxMissing: 5})
	tr.Assign(1, []types.BBox{boxAt(100, 100)})

	// Exactly on the gate still matches.
	ids := tr.Assign(2, []types.BBox{boxAt(130, 140)})
	if ids[0] != "track-1" {
		t.Errorf("Expected a move of 50px to stay on track-1, got %q", ids[0])
	}

	// Beyond the gate starts a new track.
	ids = tr.Assign(3, []types.BBox{boxAt(300, 140)})
	if ids[0] != "track-2" {
		t.Errorf("Expected a jump outside the gate to start track-2, got %q", ids[0])
	}
	if tr.Live() != 2 {
		t.Errorf("Expected 2 live tracks, got %d", tr.Live())
	}
}

func TestCentroidTrackerClaimsOnce(t *testing.T) {
	tr := NewCentroidTracker(CentroidTrackerConfig{MaxDistance: 50, MaxMissing: 5})
	tr.Assign(1, []types.BBox{boxAt(100, 100)})

	// Two boxes near the same track: the first claims it, the second is new.
	ids := tr.Assign(2, []types.BBox{boxAt(105, 100), boxAt(110, 100)})
	if ids[0] != "track-1" || ids[1] != "track-2" {
		t.Errorf("Expected [track-1 track-2], got %v", ids)
	}
}

func TestCentroidTrackerTrackDeath(t *testing.T) {
	tr := NewCentroidTracker(CentroidTrackerConfig{MaxDistance: 50, MaxMissing: 2})

	tr.Assign(1, []types.BBox{boxAt(100, 100), boxAt(500, 100)})
	tr.Assign(2, []types.BBox{boxAt(800, 100)}) // track-3, others miss once
	if tr.Live() != 3 {
		t.Fatalf("Expected 3 live tracks, got %d", tr.Live())
	}

	tr.Assign(3, nil) // tracks 1,2 miss twice
	if tr.Live() != 3 {
		t.Fatalf("Expected tracks to survive MaxMissing misses, got %d live", tr.Live())
	}

	tr.Assign(4, nil) // tracks 1,2 exceed MaxMissing
	if tr.Live() != 1 {
		t.Fatalf("Expected only track-3 to survive, got %d live", tr.Live())
	}

	// The old position no longer resolves to the dead track.
	ids := tr.Assign(5, []types.BBox{boxAt(100, 100)})
	if ids[0] != "track-4" {
		t.Errorf("Expected a fresh track-4 after death, got %q", ids[0])
	}
}

func TestNewCentroidTrackerDefaults(t *testing.T) {
	tr := NewCentroidTracker(CentroidTrackerConfig{})
	def := DefaultCentroidTrackerConfig()
	if tr.cfg != def {
		t.Errorf("Expected defaults %+v, got %+v", def, tr.cfg)
	}
}
