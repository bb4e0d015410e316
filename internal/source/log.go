// Package source turns detector output into ordered types.Frame values.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/fallwatch/internal/types"
	"go.uber.org/zap"
)

const maxLineSize = 16 * 1024 * 1024

// Record is one line of a detection log: the detector output for one processed frame.
type Record struct {
	Frame      int                     `json:"frame"`
	Detections []types.DetectionResult `json:"detections"`
	Timestamp  *time.Time              `json:"timestamp,omitempty"`
	Image      string                  `json:"image,omitempty"` // JPEG path, relative to the log file
}

// LogReader reads a JSONL detection log. Blank lines are skipped; malformed lines and
// boxes are logged and skipped so one bad record cannot end a replay. Frame indices
// must strictly increase; a repeated or earlier index is skipped the same way.
type LogReader struct {
	scanner *bufio.Scanner
	baseDir string
	log     *zap.Logger
	line    int
	last    int
	skipped int
}

// NewLogReader wraps r. baseDir resolves relative image paths; "" disables snapshots.
func NewLogReader(r io.Reader, baseDir string, log *zap.Logger) *LogReader {
	if log == nil {
		log = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &LogReader{scanner: scanner, baseDir: baseDir, log: log}
}

// Next returns the next frame, or io.EOF when the log is exhausted.
func (r *LogReader) Next() (types.Frame, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.skipped++
			r.log.Warn("skipping malformed log line", zap.Int("line", r.line), zap.Error(err))
			continue
		}
		if rec.Frame < 1 {
			r.skipped++
			r.log.Warn("skipping record without a frame index", zap.Int("line", r.line), zap.Int("frame", rec.Frame))
			continue
		}
		if rec.Frame <= r.last {
			r.skipped++
			r.log.Warn("skipping out-of-order record", zap.Int("line", r.line),
				zap.Int("frame", rec.Frame), zap.Int("previous_frame", r.last))
			continue
		}
		r.last = rec.Frame
		return r.frame(rec), nil
	}
	if err := r.scanner.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("read detection log at line %d: %w", r.line, err)
	}
	return types.Frame{}, io.EOF
}

// Skipped returns how many lines were dropped as malformed or out of order.
func (r *LogReader) Skipped() int {
	return r.skipped
}

func (r *LogReader) frame(rec Record) types.Frame {
	f := types.Frame{Index: rec.Frame}
	if rec.Timestamp != nil {
		f.CapturedAt = *rec.Timestamp
	}
	for _, res := range rec.Detections {
		d, ok := res.Detection(rec.Frame)
		if !ok {
			r.log.Warn("skipping malformed box", zap.Int("frame", rec.Frame), zap.Float64s("box", res.Box))
			continue
		}
		f.Detections = append(f.Detections, d)
	}
	if rec.Image != "" && r.baseDir != "" {
		path := rec.Image
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.baseDir, path)
		}
		img, err := os.ReadFile(path)
		if err != nil {
			r.log.Warn("snapshot unavailable", zap.Int("frame", rec.Frame), zap.String("image", path), zap.Error(err))
		} else {
			f.Snapshot = img
		}
	}
	return f
}

// LogWriter appends frames to a JSONL detection log that LogReader can replay.
type LogWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewLogWriter wraps w. Call Flush when done.
func NewLogWriter(w io.Writer) *LogWriter {
	bw := bufio.NewWriter(w)
	return &LogWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one frame. Snapshots are not stored.
func (lw *LogWriter) Write(f types.Frame) error {
	rec := Record{Frame: f.Index, Detections: make([]types.DetectionResult, 0, len(f.Detections))}
	if !f.CapturedAt.IsZero() {
		ts := f.CapturedAt
		rec.Timestamp = &ts
	}
	for _, d := range f.Detections {
		rec.Detections = append(rec.Detections, types.DetectionResult{
			Box:   []float64{float64(d.Box.X1), float64(d.Box.Y1), float64(d.Box.X2), float64(d.Box.Y2)},
			Label: d.Label,
			Conf:  d.Confidence,
		})
	}
	return lw.enc.Encode(rec)
}

// Flush writes buffered records to the underlying writer.
func (lw *LogWriter) Flush() error {
	return lw.w.Flush()
}

// Reader is anything that yields frames until io.EOF.
type Reader interface {
	Next() (types.Frame, error)
}

// Stream sends every frame of r that passes Keep(stride) to out, in order, and closes
// out when done. A clean end of input returns nil.
func Stream(ctx context.Context, r Reader, stride int, out chan<- types.Frame) error {
	defer close(out)
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !Keep(f.Index, stride) {
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
