package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/fallwatch/internal/alert"
	"github.com/andresmejia3/fallwatch/internal/config"
	"github.com/andresmejia3/fallwatch/internal/fall"
	"github.com/andresmejia3/fallwatch/internal/metrics"
	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Clock modes for --clock.
const (
	clockWall    = "wall"
	clockVideo   = "video"
	clockCapture = "capture"
)

// Options holds shared configuration for the watch and replay commands.
// Fall, tracker and sink flags override the environment only when set.
type Options struct {
	InputPath       string
	SourceName      string
	FrameStride     int
	NumEngines      int
	FallThreshold   int
	AspectThreshold float64
	Cooldown        string
	Repeat          string
	TrackerMode     string
	IdleFrames      int
	SinkTimeout     string
	OutputDir       string
	MetricsAddr     string
	Detector        string
	Model           string
	Confidence      float64
	WorkerTimeout   string
	Clock           string
	FPS             float64
	Record          string
}

// addPipelineFlags registers the flags shared by watch and replay.
func addPipelineFlags(c *cobra.Command, opts *Options, defaultStride int) {
	c.Flags().StringVarP(&opts.InputPath, "input", "i", "", "Input path")
	c.Flags().StringVar(&opts.SourceName, "source-name", "", "Source label used in alerts and MQTT topics (default: short source ID)")
	c.Flags().IntVarP(&opts.FrameStride, "stride", "n", defaultStride, "Process every Nth frame")
	c.Flags().IntVarP(&opts.FallThreshold, "threshold", "t", fall.DefaultFallThreshold, "Consecutive fallen frames required to confirm a fall")
	c.Flags().Float64Var(&opts.AspectThreshold, "aspect", fall.DefaultAspectThreshold, "Height/width ratio below which a person is considered fallen")
	c.Flags().StringVarP(&opts.Cooldown, "cooldown", "c", fall.DefaultAlarmCooldown.String(), "Minimum time between two alerts for the same person")
	c.Flags().StringVar(&opts.Repeat, "repeat", fall.RepeatContinuous.String(), "Repeat policy after an alert: continuous or rearm")
	c.Flags().StringVar(&opts.TrackerMode, "tracker", config.TrackerCenter, "Identity tracker: center or centroid")
	c.Flags().IntVar(&opts.IdleFrames, "idle-frames", 300, "Forget people not seen for this many frames (0 keeps them forever)")
	c.Flags().StringVar(&opts.SinkTimeout, "sink-timeout", "5s", "Deadline for delivering one alert")
	c.Flags().StringVarP(&opts.OutputDir, "output", "o", "fall_outputs", "Directory for alert images and metadata")
	c.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	c.MarkFlagRequired("input")
}

// applyOverrides copies every flag the user set into cfg, then validates the result.
func applyOverrides(c *cobra.Command, cfg *config.Config, opts *Options) error {
	changed := c.Flags().Changed

	if changed("stride") {
		cfg.Fall.FrameStride = opts.FrameStride
	}
	if changed("threshold") {
		cfg.Fall.Threshold = opts.FallThreshold
	}
	if changed("aspect") {
		cfg.Fall.AspectThreshold = opts.AspectThreshold
	}
	if changed("cooldown") {
		d, err := time.ParseDuration(opts.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown format (use '5s', '500ms'): %w", err)
		}
		cfg.Fall.Cooldown = d
	}
	if changed("repeat") {
		cfg.Fall.Repeat = opts.Repeat
	}
	if changed("tracker") {
		cfg.Tracker.Mode = opts.TrackerMode
	}
	if changed("idle-frames") {
		cfg.Eviction.IdleFrames = opts.IdleFrames
	}
	if changed("sink-timeout") {
		d, err := time.ParseDuration(opts.SinkTimeout)
		if err != nil {
			return fmt.Errorf("invalid sink-timeout format (use '5s', '500ms'): %w", err)
		}
		cfg.Sink.Timeout = d
	}
	if changed("output") {
		cfg.Sink.OutputDir = opts.OutputDir
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	return cfg.Validate()
}

// sinkSet is the assembled alert destination plus the resources to release.
type sinkSet struct {
	alert.Sink
	names   []string
	closers []func()
}

func (s *sinkSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildSinks assembles the file sink plus every backend that is configured.
// A configured backend that cannot be reached is an error.
func buildSinks(ctx context.Context, cfg *config.Config, db alert.AlertWriter) (*sinkSet, error) {
	set := &sinkSet{}

	fileSink, err := alert.NewFileSink(cfg.Sink.OutputDir)
	if err != nil {
		return nil, err
	}
	fanout := alert.Fanout{fileSink}
	set.names = append(set.names, "file:"+cfg.Sink.OutputDir)

	if db != nil {
		fanout = append(fanout, alert.PostgresSink{DB: db})
		set.names = append(set.names, "postgres")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			set.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		fanout = append(fanout, alert.NewRedisSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
		set.closers = append(set.closers, func() { client.Close() })
		set.names = append(set.names, "redis:"+cfg.Redis.Stream)
	}

	if cfg.MQTT.Broker != "" {
		mq, err := alert.DialMQTT(alert.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, log)
		if err != nil {
			set.Close()
			return nil, err
		}
		fanout = append(fanout, mq)
		set.closers = append(set.closers, mq.Close)
		set.names = append(set.names, "mqtt:"+cfg.MQTT.Broker)
	}

	set.Sink = fanout
	return set, nil
}

// startMetrics serves /metrics in the background when an address is configured.
func startMetrics(m *metrics.Metrics, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := m.StartServer(addr); err != nil {
			log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	fmt.Fprintf(os.Stderr, "📈 Metrics available at http://%s/metrics\n", addr)
}

// newClock resolves --clock. fps is only used by the video and capture modes.
func newClock(mode string, fps float64) (fall.Clock, error) {
	switch mode {
	case "", clockWall:
		return fall.WallClock, nil
	case clockVideo:
		return fall.VideoClock(time.Now(), fps), nil
	case clockCapture:
		return fall.CaptureClock(fall.VideoClock(time.Now(), fps)), nil
	default:
		return nil, fmt.Errorf("unknown clock %q (want wall, video or capture)", mode)
	}
}

// printSummary reports the run the way scan reports used to: one block on stderr.
func printSummary(title string, st fall.Stats, alerts []types.AlertEvent, fps float64) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 %s\n", title)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	for _, ev := range alerts {
		at := ""
		if fps > 0 {
			at = " @ " + fmtTime(float64(ev.FrameIndex)/fps)
		}
		fmt.Fprintf(os.Stderr, "🚨 Fall #%d: person %s, frame %d%s -> %s\n",
			ev.Sequence, ev.Identity, ev.FrameIndex, at, alert.ArtifactName(ev.Sequence))
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🎞️  Frames Processed:   %d\n", st.Frames)
	fmt.Fprintf(os.Stderr, "👁️  Detections:         %d\n", st.Detections)
	fmt.Fprintf(os.Stderr, "🚨 Falls Confirmed:    %d\n", st.Alerts)
	if st.SinkFailures > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Delivery Failures:  %d\n", st.SinkFailures)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
