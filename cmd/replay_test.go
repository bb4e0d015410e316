package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/andresmejia3/fallwatch/internal/config"
	"github.com/spf13/cobra"
)

// newReplayTestCmd mirrors replayCmd's flag set on a fresh command.
func newReplayTestCmd(opts *Options) *cobra.Command {
	c := &cobra.Command{Use: "replay"}
	addPipelineFlags(c, opts, 1)
	c.Flags().StringVar(&opts.Clock, "clock", clockVideo, "")
	c.Flags().Float64Var(&opts.FPS, "fps", 30, "")
	c.SetContext(context.Background())
	return c
}

func setupReplayConfig(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "POSTGRES_HOST", "REDIS_ADDR", "MQTT_BROKER", "METRICS_ADDR"} {
		t.Setenv(key, "")
	}
	// A watch-oriented stride in the environment must not resample a recorded log.
	t.Setenv("FRAME_STRIDE", "2")

	c, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	oldCfg := cfg
	cfg = c
	t.Cleanup(func() { cfg = oldCfg })
}

// writeRecordedLog writes fallen-person records at every multiple of step, the way
// watch --record does at that stride.
func writeRecordedLog(t *testing.T, step, count int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= count; i++ {
		b.WriteString(`{"frame": ` + strconv.Itoa(i*step) +
			`, "detections": [{"box": [100, 200, 300, 260], "label": "person", "conf": 0.9}]}` + "\n")
	}
	path := filepath.Join(t.TempDir(), "ward.jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunReplay_KeepsEveryRecordedFrame(t *testing.T) {
	setupReplayConfig(t)
	silenceStderr(t)

	input := writeRecordedLog(t, 3, 5) // frames 3, 6, 9, 12, 15
	outDir := t.TempDir()

	var opts Options
	c := newReplayTestCmd(&opts)
	for flag, value := range map[string]string{"input": input, "threshold": "5", "output": outDir} {
		if err := c.Flags().Set(flag, value); err != nil {
			t.Fatalf("Set(%s) error = %v", flag, err)
		}
	}
	if opts.FrameStride != 1 {
		t.Fatalf("replay stride default = %d, want 1", opts.FrameStride)
	}

	if err := runReplay(c, opts); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}

	// All five recorded frames reach the monitor, so the fifth confirms the fall.
	if _, err := os.Stat(filepath.Join(outDir, "fall_detected_0.json")); err != nil {
		t.Errorf("Expected an alert after 5 recorded fallen frames: %v", err)
	}
}

func TestRunReplay_ExplicitStrideResamples(t *testing.T) {
	setupReplayConfig(t)
	silenceStderr(t)

	input := writeRecordedLog(t, 3, 5)
	outDir := t.TempDir()

	var opts Options
	c := newReplayTestCmd(&opts)
	for flag, value := range map[string]string{"input": input, "threshold": "5", "output": outDir, "stride": "2"} {
		if err := c.Flags().Set(flag, value); err != nil {
			t.Fatalf("Set(%s) error = %v", flag, err)
		}
	}

	if err := runReplay(c, opts); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}

	// Only frames 6 and 12 survive a second sampling, not enough evidence.
	if _, err := os.Stat(filepath.Join(outDir, "fall_detected_0.json")); !os.IsNotExist(err) {
		t.Errorf("Expected no alert when resampling at stride 2, stat err = %v", err)
	}
}
