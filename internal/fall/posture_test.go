package fall

import (
	"math"
	"testing"

	"github.com/andresmejia3/fallwatch/internal/types"
)

func TestAspectRatio(t *testing.T) {
	tests := []struct {
		name string
		box  types.BBox
		want float64
	}{
		{"Standing person", types.BBox{X1: 100, Y1: 50, X2: 150, Y2: 250}, 4.0},
		{"Lying person", types.BBox{X1: 100, Y1: 200, X2: 300, Y2: 260}, 0.3},
		{"Square box", types.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, 1.0},
		{"Inverted x treated as width 1", types.BBox{X1: 50, Y1: 0, X2: 10, Y2: 40}, 40.0},
		{"Zero width treated as width 1", types.BBox{X1: 10, Y1: 0, X2: 10, Y2: 3}, 3.0},
		{"Inverted y treated as height 1", types.BBox{X1: 0, Y1: 40, X2: 4, Y2: 0}, 0.25},
		{"Fully degenerate", types.BBox{}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AspectRatio(tt.box)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AspectRatio(%+v) = %v, want %v", tt.box, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		box       types.BBox
		threshold float64
		want      Posture
	}{
		{"Tall box is upright", types.BBox{X1: 0, Y1: 0, X2: 50, Y2: 200}, DefaultAspectThreshold, Upright},
		{"Wide box is fallen", types.BBox{X1: 0, Y1: 0, X2: 200, Y2: 60}, DefaultAspectThreshold, Fallen},
		{"Exactly at threshold is upright", types.BBox{X1: 0, Y1: 0, X2: 100, Y2: 80}, 0.8, Upright},
		{"Just below threshold is fallen", types.BBox{X1: 0, Y1: 0, X2: 100, Y2: 79}, 0.8, Fallen},
		// x2 < x1 must not panic; width collapses to 1 so the box reads as very tall.
		{"Malformed box classifies", types.BBox{X1: 300, Y1: 10, X2: 100, Y2: 90}, DefaultAspectThreshold, Upright},
		{"Custom threshold", types.BBox{X1: 0, Y1: 0, X2: 100, Y2: 90}, 1.0, Fallen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.box, tt.threshold); got != tt.want {
				t.Errorf("Classify(%+v, %v) = %v, want %v", tt.box, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	b := types.BBox{X1: 10, Y1: 10, X2: 210, Y2: 70}
	first := Classify(b, DefaultAspectThreshold)
	for i := 0; i < 10; i++ {
		if got := Classify(b, DefaultAspectThreshold); got != first {
			t.Fatalf("call %d: got %v, want %v", i, got, first)
		}
	}
}

func TestPostureString(t *testing.T) {
	if Upright.String() != "upright" || Fallen.String() != "fallen" {
		t.Errorf("unexpected names: %q %q", Upright, Fallen)
	}
}
