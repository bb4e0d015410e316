package fall

import "github.com/andresmejia3/fallwatch/internal/types"

// DefaultAspectThreshold is the height/width ratio below which a person is considered down.
const DefaultAspectThreshold = 0.8

// Posture is the per-detection classification fed to the Monitor.
type Posture int

const (
	Upright Posture = iota
	Fallen
)

func (p Posture) String() string {
	if p == Fallen {
		return "fallen"
	}
	return "upright"
}

// AspectRatio returns height/width with both sides clamped to at least one pixel,
// so inverted or degenerate boxes never divide by zero.
func AspectRatio(b types.BBox) float64 {
	width := max(1, b.X2-b.X1)
	height := max(1, b.Y2-b.Y1)
	return float64(height) / float64(width)
}

// Classify labels a box as Fallen when it is wider than threshold allows.
func Classify(b types.BBox, threshold float64) Posture {
	if AspectRatio(b) < threshold {
		return Fallen
	}
	return Upright
}
