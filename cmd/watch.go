package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/fallwatch/internal/alert"
	"github.com/andresmejia3/fallwatch/internal/fall"
	"github.com/andresmejia3/fallwatch/internal/metrics"
	"github.com/andresmejia3/fallwatch/internal/source"
	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/andresmejia3/fallwatch/internal/utils"
	"github.com/andresmejia3/fallwatch/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const megabyte = 1024 * 1024

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a video file or RTSP stream for falls",
	Long: `Decodes the input with ffmpeg and sends every --stride frame to --engines detector
processes, then runs the detections through the fall monitor.

The detector is an external script, started as:

  python3 -u <--detector> [--model M] [--conf C]

(default --detector: ` + worker.DefaultScript + `, relative to the working directory).
For each frame it reads a request from stdin and writes the reply to file
descriptor 3. Both are framed as [uint32 big-endian length][body]:

  request body: one JPEG image
  reply body:   [{"box": [x1, y1, x2, y2], "label": "person", "conf": 0.91}, ...]
                or {"error": "..."} to skip the frame

Anything the script prints on stderr is shown if it crashes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd, watchOpts)
	},
}

func init() {
	addPipelineFlags(watchCmd, &watchOpts, 2)
	watchCmd.Flags().IntVarP(&watchOpts.NumEngines, "engines", "e", 1, "Number of parallel detector workers")
	watchCmd.Flags().StringVar(&watchOpts.Detector, "detector", worker.DefaultScript, "Path to the detector script (see the protocol above)")
	watchCmd.Flags().StringVar(&watchOpts.Model, "model", "", "Detector model passed to the worker (default: worker's choice)")
	watchCmd.Flags().Float64Var(&watchOpts.Confidence, "conf", 0.25, "Detector confidence threshold")
	watchCmd.Flags().StringVar(&watchOpts.WorkerTimeout, "worker-timeout", "30s", "Maximum time to wait for a detector reply")
	watchCmd.Flags().StringVar(&watchOpts.Clock, "clock", clockWall, "Cooldown clock: wall, video (frame index and FPS) or capture (time each frame was decoded)")
	watchCmd.Flags().StringVar(&watchOpts.Record, "record", "", "Also write detections to this JSONL file for later replay")
	rootCmd.AddCommand(watchCmd)
}

// Buffer pool to reduce GC pressure during decoding
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// runWatch orchestrates the live run: sinks, detector pool, FFmpeg streaming, and the fall pipeline.
func runWatch(cmd *cobra.Command, opts Options) error {
	ctx := cmd.Context()

	if err := validateWatchFlags(&opts); err != nil {
		return err
	}
	if err := applyOverrides(cmd, cfg, &opts); err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}
	workerTimeout, _ := time.ParseDuration(opts.WorkerTimeout)

	// 1. Register the source
	sourceID, err := utils.GenerateSourceID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to generate source ID", err, nil)
		return err
	}
	sourceName := opts.SourceName
	if sourceName == "" {
		sourceName = sourceID[:12]
	}
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
	fmt.Fprintf(os.Stderr, "📼 Watching Source: %s\n", sourceName)

	// 2. Sinks & Metrics
	sinks, err := buildSinks(ctx, cfg, writer)
	if err != nil {
		utils.ShowError("Failed to initialize alert sinks", err, nil)
		return err
	}
	defer sinks.Close()
	fmt.Fprintf(os.Stderr, "📮 Alert Sinks: %v\n", sinks.names)

	m := metrics.New()
	startMetrics(m, cfg.MetricsAddr)

	// 3. FPS for the video clock and the summary
	fps := 0.0
	if !utils.IsStream(opts.InputPath) {
		if fps, err = utils.GetVideoFPS(ctx, opts.InputPath); err != nil {
			log.Warn("could not determine video fps", zap.Error(err))
		}
	}
	if opts.Clock == clockVideo && fps <= 0 {
		err := fmt.Errorf("--clock video needs a known frame rate")
		utils.ShowError("Unsupported clock for this input", err, nil)
		return err
	}
	clock, err := newClock(opts.Clock, fps)
	if err != nil {
		utils.ShowError("Invalid clock", err, nil)
		return err
	}

	runID := uuid.NewString()
	pipeline := fall.NewPipeline(
		cfg.PipelineConfig(runID, sourceName),
		cfg.NewTracker(),
		fall.NewMonitor(cfg.MonitorConfig()),
		sinks,
		fall.WithClock(clock),
		fall.WithLogger(log.With(zap.String("run_id", runID), zap.String("source", sourceName))),
		fall.WithMetrics(m),
	)

	var recorder *source.LogWriter
	if opts.Record != "" {
		f, err := os.Create(opts.Record)
		if err != nil {
			utils.ShowError("Failed to create record file", err, nil)
			return err
		}
		defer f.Close()
		recorder = source.NewLogWriter(f)
		defer recorder.Flush()
	}

	// 4. Get total frames for progress bar
	totalVideoFrames := utils.GetTotalFrames(ctx, opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("👀 fallwatch"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Detector Workers...\n", opts.NumEngines)
	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan types.Frame, opts.NumEngines*2)
	var wg sync.WaitGroup

	// 5. Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var alerts []types.AlertEvent
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		alerts = processResults(ctx, resultsChan, pipeline, cfg.Fall.FrameStride, recorder)
	}()

	// 6. Spawn the Engine Pool
	detectorOpts := worker.Options{Script: opts.Detector, Model: opts.Model, Confidence: opts.Confidence, ReadTimeout: workerTimeout}
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			startWorker(ctx, workerID, detectorOpts, taskChan, resultsChan)
		}(i)
	}

	// 7. Start FFmpeg
	ffmpeg := utils.NewFFmpegCmd(ctx, opts.InputPath)

	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.Die("Failed to create FFmpeg stdout pipe", err, nil)
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		utils.Die("Failed to start FFmpeg", err, nil)
	}

	// 8. Frame Splitter & Stride Logic
	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	totalFrames := 0
	sentFrames := 0
	for scanner.Scan() {
		totalFrames++
		bar.Add(1) // Update progress bar for every frame read

		if source.Keep(totalFrames, cfg.Fall.FrameStride) {
			// Get buffer from pool; the aggregator returns it once the frame is processed
			buf := frameBufferPool.Get().([]byte)
			if cap(buf) < len(scanner.Bytes()) {
				buf = make([]byte, len(scanner.Bytes()))
			}
			buf = buf[:len(scanner.Bytes())]
			copy(buf, scanner.Bytes())
			taskChan <- types.FrameTask{Index: totalFrames, Data: buf, CapturedAt: time.Now()}
			sentFrames++
		}
	}

	// Check for scanner errors (e.g. token too long, unexpected EOF)
	scanErr := scanner.Err()

	// 9. Cleanup & Completion Check
	waitErr := ffmpeg.Wait()

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone
	bar.Finish()

	if ctx.Err() != nil {
		fmt.Fprintf(os.Stderr, "\n🛑 Interrupted after %d frames.\n", totalFrames)
	} else {
		if scanErr != nil {
			utils.ShowError("Frame scanner failed", scanErr, nil)
			return scanErr
		}
		if waitErr != nil {
			if stderrBuf.Len() > 0 {
				fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
			}
			utils.ShowError("FFmpeg execution failed", waitErr, nil)
			return waitErr
		}
	}

	printSummary("WATCH SUMMARY", pipeline.Stats(), alerts, fps)
	fmt.Fprintf(os.Stderr, "\n🏁 Watch Complete. Processed %d keyframes out of %d total.\n", sentFrames, totalFrames)
	return nil
}

// startWorker manages the lifecycle of a single detector process.
// It reads tasks from the channel, sends them to the detector, and forwards every
// frame (even empty ones) so the reorder buffer never stalls.
func startWorker(ctx context.Context, id int, opts worker.Options, tasks <-chan types.FrameTask, results chan<- types.Frame) {
	w, err := worker.NewPythonWorker(ctx, id, opts)
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	defer w.Close()

	for task := range tasks {
		frame := types.Frame{Index: task.Index, Snapshot: task.Data, CapturedAt: task.CapturedAt}
		if ctx.Err() != nil {
			// Shutting down: keep draining so the producer never blocks
			results <- frame
			continue
		}

		dets, err := w.Detect(task.Index, task.Data)
		switch {
		case err == nil:
			frame.Detections = dets
		case worker.IsRecoverable(err):
			log.Warn("detector failed on frame", zap.Int("worker", id), zap.Int("frame", task.Index), zap.Error(err))
		case ctx.Err() != nil:
			// The detector was killed by the cancelled context
		default:
			// DRAIN: Wait for process to exit and capture final stderr logs
			w.Close()
			utils.Die("Detector crashed", err, w.Cmd)
		}
		results <- frame
	}
}

// processResults restores frame order and feeds the pipeline. It returns the alerts it saw.
func processResults(ctx context.Context, results <-chan types.Frame, p *fall.Pipeline, stride int, recorder *source.LogWriter) []types.AlertEvent {
	// Buffer for re-ordering frames (Worker 2 might finish before Worker 1)
	reorder := source.NewReorder(stride, stride)
	var alerts []types.AlertEvent

	handle := func(f types.Frame) {
		if ctx.Err() == nil {
			alerts = append(alerts, p.ProcessFrame(ctx, f)...)
			if recorder != nil {
				if err := recorder.Write(f); err != nil {
					log.Warn("failed to record frame", zap.Int("frame", f.Index), zap.Error(err))
				}
			}
		}
		if f.Snapshot != nil {
			frameBufferPool.Put(f.Snapshot[:0])
		}
	}

	for res := range results {
		for _, f := range reorder.Push(res) {
			handle(f)
		}
	}
	for _, f := range reorder.Flush() {
		handle(f)
	}
	return alerts
}

// validateWatchFlags ensures all CLI arguments are valid before starting heavy processes.
func validateWatchFlags(opts *Options) error {
	if !utils.IsStream(opts.InputPath) {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				utils.ShowError("Input file does not exist", err, nil)
				return err
			}
			utils.ShowError("Unable to access input file", err, nil)
			return err
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory, expected a video file", opts.InputPath)
			utils.ShowError("Input path is a directory", err, nil)
			return err
		}
	}
	if opts.FrameStride < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.FrameStride)
		utils.ShowError("Invalid stride", err, nil)
		return err
	}
	if opts.Detector != "" {
		if _, err := os.Stat(opts.Detector); err != nil {
			utils.ShowError("Detector script not found (set --detector, see 'fallwatch watch --help')", err, nil)
			return err
		}
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.Confidence < 0 || opts.Confidence > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", opts.Confidence)
		utils.ShowError("Invalid detector confidence", err, nil)
		return err
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		utils.ShowError("Invalid worker-timeout format (use '30s', '500ms')", err, nil)
		return err
	}
	switch opts.Clock {
	case clockWall, clockVideo, clockCapture:
	default:
		err := fmt.Errorf("unknown clock %q (want wall, video or capture)", opts.Clock)
		utils.ShowError("Invalid clock", err, nil)
		return err
	}
	return nil
}
