package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andresmejia3/fallwatch/internal/alert"
	"github.com/andresmejia3/fallwatch/internal/fall"
	"github.com/andresmejia3/fallwatch/internal/metrics"
	"github.com/andresmejia3/fallwatch/internal/source"
	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/andresmejia3/fallwatch/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayOpts Options

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the fall monitor over a recorded JSONL detection log",
	Long: `Replays a detection log, one JSON object per processed frame:

  {"frame": 12, "detections": [{"box": [x1, y1, x2, y2], "label": "person", "conf": 0.9}]}

Optional per-line fields: "timestamp" (RFC 3339, used by --clock capture) and
"image" (JPEG path relative to the log, attached to alerts). Use "-" to read stdin.

Frame indices must strictly increase; repeated or earlier frames are skipped.
A log written by "watch --record" is already sampled, so --stride defaults to 1
here and is not taken from FRAME_STRIDE. A larger stride samples the log again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReplay(cmd, replayOpts)
	},
}

func init() {
	addPipelineFlags(replayCmd, &replayOpts, 1)
	replayCmd.Flags().StringVar(&replayOpts.Clock, "clock", clockVideo, "Cooldown clock: video (frame index / fps), capture (record timestamps) or wall")
	replayCmd.Flags().Float64Var(&replayOpts.FPS, "fps", 30, "Frame rate used by the video clock")
	rootCmd.AddCommand(replayCmd)
}

// alertCollector keeps every delivered event for the summary.
type alertCollector struct {
	mu     sync.Mutex
	events []types.AlertEvent
}

func (c *alertCollector) Deliver(_ context.Context, ev types.AlertEvent, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// progressReader ticks the bar for every frame read from the log.
type progressReader struct {
	source.Reader
	bar *progressbar.ProgressBar
}

func (r progressReader) Next() (types.Frame, error) {
	f, err := r.Reader.Next()
	if err == nil {
		r.bar.Add(1)
	}
	return f, err
}

func runReplay(cmd *cobra.Command, opts Options) error {
	ctx := cmd.Context()

	if err := validateReplayFlags(&opts); err != nil {
		return err
	}
	if err := applyOverrides(cmd, cfg, &opts); err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}

	// 1. Open the log
	var in io.Reader = os.Stdin
	baseDir := ""
	sourceName := opts.SourceName
	if opts.InputPath != "-" {
		f, err := os.Open(opts.InputPath)
		if err != nil {
			utils.ShowError("Failed to open detection log", err, nil)
			return err
		}
		defer f.Close()
		in = f
		baseDir = filepath.Dir(opts.InputPath)
		if sourceName == "" {
			sourceName = strings.TrimSuffix(filepath.Base(opts.InputPath), filepath.Ext(opts.InputPath))
		}
	}
	if sourceName == "" {
		sourceName = "stdin"
	}

	// 2. Optional database & sinks
	if err := openDB(ctx, false); err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	var writer alert.AlertWriter
	if DB != nil {
		if err := DB.EnsureSource(ctx, sourceName, opts.InputPath); err != nil {
			utils.ShowError("Failed to register source", err, nil)
			return err
		}
		writer = DB
	}
	sinks, err := buildSinks(ctx, cfg, writer)
	if err != nil {
		utils.ShowError("Failed to initialize alert sinks", err, nil)
		return err
	}
	defer sinks.Close()

	collector := &alertCollector{}
	clock, err := newClock(opts.Clock, opts.FPS)
	if err != nil {
		utils.ShowError("Invalid clock", err, nil)
		return err
	}

	m := metrics.New()
	startMetrics(m, cfg.MetricsAddr)

	runID := uuid.NewString()
	pipeline := fall.NewPipeline(
		cfg.PipelineConfig(runID, sourceName),
		cfg.NewTracker(),
		fall.NewMonitor(cfg.MonitorConfig()),
		alert.Fanout{sinks, collector},
		fall.WithClock(clock),
		fall.WithLogger(log.With(zap.String("run_id", runID), zap.String("source", sourceName))),
		fall.WithMetrics(m),
	)

	fmt.Fprintf(os.Stderr, "📼 Replaying %s (stride %d, clock %s)\n", sourceName, opts.FrameStride, opts.Clock)
	fmt.Fprintf(os.Stderr, "📮 Alert Sinks: %v\n", sinks.names)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔁 fallwatch replay"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// 3. Stream frames into the pipeline
	reader := source.NewLogReader(in, baseDir, log)
	frames := make(chan types.Frame, 64)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- source.Stream(ctx, progressReader{Reader: reader, bar: bar}, opts.FrameStride, frames)
	}()

	stats, runErr := pipeline.Run(ctx, frames)
	if runErr != nil {
		// Unblock the producer so it can observe the cancellation
		for range frames {
		}
	}
	readErr := <-streamErr
	bar.Finish()

	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "\n🛑 Interrupted after %d frames.\n", stats.Frames)
	} else if readErr != nil {
		utils.ShowError("Failed to read detection log", readErr, nil)
		return readErr
	}
	if n := reader.Skipped(); n > 0 {
		fmt.Fprintf(os.Stderr, "\n⚠️  Skipped %d malformed log lines\n", n)
	}

	fps := 0.0
	if opts.Clock == clockVideo {
		fps = opts.FPS
	}
	printSummary("REPLAY SUMMARY", stats, collector.events, fps)
	return nil
}

// validateReplayFlags checks replay-specific arguments.
func validateReplayFlags(opts *Options) error {
	if opts.InputPath != "-" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			utils.ShowError("Detection log does not exist", err, nil)
			return err
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory, expected a JSONL file", opts.InputPath)
			utils.ShowError("Input path is a directory", err, nil)
			return err
		}
	}
	if opts.FrameStride < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.FrameStride)
		utils.ShowError("Invalid stride", err, nil)
		return err
	}
	switch opts.Clock {
	case clockWall, clockVideo, clockCapture:
	default:
		err := fmt.Errorf("unknown clock %q (want wall, video or capture)", opts.Clock)
		utils.ShowError("Invalid clock", err, nil)
		return err
	}
	if opts.Clock != clockWall && opts.FPS <= 0 {
		err := fmt.Errorf("must be > 0, got %g", opts.FPS)
		utils.ShowError("Invalid fps", err, nil)
		return err
	}
	return nil
}
