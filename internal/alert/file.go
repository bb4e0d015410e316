package alert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// FileSink writes fall_detected_<n>.jpg plus a .json metadata sidecar into Dir.
type FileSink struct {
	Dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileSink{Dir: dir}, nil
}

// Deliver implements Sink. The image is skipped when snapshot is empty (replayed
// detection logs carry no pixels) but the metadata is always written.
func (s *FileSink) Deliver(ctx context.Context, ev types.AlertEvent, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	imgPath := s.Path(ev.Sequence)
	if len(snapshot) > 0 {
		if err := writeAtomic(imgPath, snapshot); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(imgPath), err)
		}
	}

	meta, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	metaPath := strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".json"
	if err := writeAtomic(metaPath, meta); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(metaPath), err)
	}
	return nil
}

// Path returns where the image for sequence seq is written.
func (s *FileSink) Path(seq int64) string {
	return filepath.Join(s.Dir, ArtifactName(seq))
}

// writeAtomic writes through a temp file so readers never see a partial image.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
