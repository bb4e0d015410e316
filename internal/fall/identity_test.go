package fall

import (
	"testing"

	"github.com/andresmejia3/fallwatch/internal/types"
)

func TestCenterKey(t *testing.T) {
	tests := []struct {
		name    string
		box     types.BBox
		quantum int
		want    Identity
	}{
		{"Pixel resolution", types.BBox{X1: 100, Y1: 200, X2: 300, Y2: 260}, 1, "200-230"},
		{"Quantum zero keeps pixels", types.BBox{X1: 0, Y1: 0, X2: 11, Y2: 21}, 0, "5-10"},
		{"Snapped to grid", types.BBox{X1: 100, Y1: 200, X2: 307, Y2: 263}, 16, "192-224"},
		{"Negative center floors down", types.BBox{X1: -30, Y1: -10, X2: -10, Y2: -2}, 8, "-24--8"},
		{"Malformed box still keys", types.BBox{X1: 300, Y1: 10, X2: 100, Y2: 90}, 1, "200-50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CenterKey(tt.box, tt.quantum); got != tt.want {
				t.Errorf("CenterKey(%+v, %d) = %q, want %q", tt.box, tt.quantum, got, tt.want)
			}
		})
	}
}

func TestCenterKeyCollision(t *testing.T) {
	// Two different boxes sharing a center collapse into one identity.
	a := types.BBox{X1: 90, Y1: 90, X2: 110, Y2: 110}
	b := types.BBox{X1: 50, Y1: 95, X2: 150, Y2: 105}
	if CenterKey(a, 1) != CenterKey(b, 1) {
		t.Errorf("expected shared center to collide: %q vs %q", CenterKey(a, 1), CenterKey(b, 1))
	}
}
