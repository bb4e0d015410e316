package types

import (
	"math"
	"time"
)

// PersonLabel is the only detector class that reaches the fall monitor.
const PersonLabel = "person"

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// BBoxFromFloats truncates detector output to pixel ints.
// Non-finite coordinates become 0 so a single bad box cannot poison the pipeline.
func BBoxFromFloats(x1, y1, x2, y2 float64) BBox {
	return BBox{X1: toPixel(x1), Y1: toPixel(y1), X2: toPixel(x2), Y2: toPixel(y2)}
}

func toPixel(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

// Center returns the integer center of the box, rounded toward negative infinity.
func (b BBox) Center() (int, int) {
	return floorHalf(b.X1 + b.X2), floorHalf(b.Y1 + b.Y2)
}

func floorHalf(v int) int {
	if v < 0 {
		return (v - 1) / 2
	}
	return v / 2
}

// Detection is one detector output for one processed frame.
type Detection struct {
	Box        BBox
	Label      string
	Confidence float64
	FrameIndex int // 1-based
}

// Frame is a processed frame: its detections plus the image handed to alert sinks.
type Frame struct {
	Index      int
	Detections []Detection
	Snapshot   []byte // JPEG bytes, may be nil when replaying detection logs
	CapturedAt time.Time
}

// FrameTask represents a single frame sent to a worker for processing
type FrameTask struct {
	Index      int
	Data       []byte
	CapturedAt time.Time
}

// AlertEvent is a confirmed fall. It is immutable once emitted.
type AlertEvent struct {
	Sequence          int64     `json:"sequence"`
	Identity          string    `json:"identity"`
	FrameIndex        int       `json:"frame_index"`
	Box               BBox      `json:"box"`
	Timestamp         time.Time `json:"timestamp"`
	ConsecutiveFrames int       `json:"consecutive_frames"`
	AspectRatio       float64   `json:"aspect_ratio"`
	RunID             string    `json:"run_id,omitempty"`
	Source            string    `json:"source,omitempty"`
}

// DetectionResult matches one element of the JSON array returned by the Python detector
type DetectionResult struct {
	Box   []float64 `json:"box"` // [x1, y1, x2, y2]
	Label string    `json:"label"`
	Conf  float64   `json:"conf"`
}

// Detection converts a detector result. ok is false when the box does not have
// four coordinates.
func (r DetectionResult) Detection(frameIndex int) (d Detection, ok bool) {
	if len(r.Box) != 4 {
		return Detection{}, false
	}
	return Detection{
		Box:        BBoxFromFloats(r.Box[0], r.Box[1], r.Box[2], r.Box[3]),
		Label:      r.Label,
		Confidence: r.Conf,
		FrameIndex: frameIndex,
	}, true
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}
