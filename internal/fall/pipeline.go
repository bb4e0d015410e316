package fall

import (
	"context"
	"time"

	"github.com/andresmejia3/fallwatch/internal/alert"
	"github.com/andresmejia3/fallwatch/internal/metrics"
	"github.com/andresmejia3/fallwatch/internal/types"
	"go.uber.org/zap"
)

// PipelineConfig holds the knobs that sit around the Monitor.
type PipelineConfig struct {
	AspectThreshold float64
	SinkTimeout     time.Duration // 0 means no deadline
	IdleFrames      int           // drop state not observed for this many frames; 0 disables
	RunID           string
	Source          string
}

// Stats summarizes what a Pipeline has processed so far.
type Stats struct {
	Frames       int
	Detections   int
	Alerts       int
	SinkFailures int
	Evicted      int
	LastFrame    int
}

// Clock returns the time used for cooldown decisions on a frame.
type Clock func(types.Frame) time.Time

// WallClock ignores the frame and reads the system clock.
func WallClock(types.Frame) time.Time { return time.Now() }

// VideoClock derives time from the frame index, so recorded input replays
// deterministically. epoch is the time of frame 0.
func VideoClock(epoch time.Time, fps float64) Clock {
	if fps <= 0 {
		fps = 1
	}
	return func(f types.Frame) time.Time {
		return epoch.Add(time.Duration(float64(f.Index) / fps * float64(time.Second)))
	}
}

// CaptureClock uses the frame's CapturedAt, and fallback for frames that carry none.
func CaptureClock(fallback Clock) Clock {
	return func(f types.Frame) time.Time {
		if f.CapturedAt.IsZero() {
			return fallback(f)
		}
		return f.CapturedAt
	}
}

// Pipeline wires Tracker -> Classify -> Monitor -> Sink for one video source.
// Call ProcessFrame from a single goroutine, in increasing frame order.
type Pipeline struct {
	cfg     PipelineConfig
	tracker Tracker
	monitor *Monitor
	sink    alert.Sink
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	stats   Stats
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for cooldown decisions.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline builds a pipeline. A nil sink discards alerts.
func NewPipeline(cfg PipelineConfig, tracker Tracker, monitor *Monitor, sink alert.Sink, opts ...Option) *Pipeline {
	if cfg.AspectThreshold <= 0 {
		cfg.AspectThreshold = DefaultAspectThreshold
	}
	if sink == nil {
		sink = alert.Discard
	}
	p := &Pipeline{
		cfg:     cfg,
		tracker: tracker,
		monitor: monitor,
		sink:    sink,
		clock:   WallClock,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Monitor returns the state machine owned by this pipeline.
func (p *Pipeline) Monitor() *Monitor {
	return p.monitor
}

// Stats returns the running totals.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// ProcessFrame runs every detection of frame through the state machine and
// delivers the alerts it confirms. Sink failures are logged and counted; they
// never stop the pipeline.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame types.Frame) []types.AlertEvent {
	p.stats.Frames++
	p.stats.LastFrame = frame.Index
	p.stats.Detections += len(frame.Detections)
	if p.metrics != nil {
		p.metrics.FramesProcessed.Inc()
		p.metrics.Detections.Add(float64(len(frame.Detections)))
	}

	people := make([]types.Detection, 0, len(frame.Detections))
	for _, d := range frame.Detections {
		if d.Label != types.PersonLabel {
			if p.metrics != nil {
				p.metrics.NonPersonFiltered.Inc()
			}
			continue
		}
		people = append(people, d)
	}

	// The tracker sees every frame, empty ones included, so unmatched tracks age out.
	boxes := make([]types.BBox, len(people))
	for i, d := range people {
		boxes[i] = d.Box
	}
	ids := p.tracker.Assign(frame.Index, boxes)

	var alerts []types.AlertEvent
	if len(people) > 0 {
		now := p.clock(frame)

		for i, d := range people {
			ratio := AspectRatio(d.Box)
			posture := Classify(d.Box, p.cfg.AspectThreshold)
			if posture == Fallen {
				if p.metrics != nil {
					p.metrics.FallenObservations.Inc()
				}
				p.log.Debug("possible fall",
					zap.Int("frame", frame.Index),
					zap.String("identity", string(ids[i])),
					zap.Float64("aspect_ratio", ratio))
			}

			ev, ok := p.monitor.Observe(Observation{
				Identity:    ids[i],
				Posture:     posture,
				FrameIndex:  frame.Index,
				Box:         d.Box,
				AspectRatio: ratio,
				Now:         now,
			})
			if !ok {
				continue
			}
			ev.RunID = p.cfg.RunID
			ev.Source = p.cfg.Source
			p.deliver(ctx, ev, frame.Snapshot)
			alerts = append(alerts, ev)
		}
	}

	p.sweep(frame.Index)
	return alerts
}

func (p *Pipeline) deliver(ctx context.Context, ev types.AlertEvent, snapshot []byte) {
	p.stats.Alerts++
	if p.metrics != nil {
		p.metrics.AlertsEmitted.Inc()
	}
	p.log.Info("fall confirmed",
		zap.Int64("sequence", ev.Sequence),
		zap.String("identity", ev.Identity),
		zap.Int("frame", ev.FrameIndex),
		zap.Int("consecutive_frames", ev.ConsecutiveFrames),
		zap.String("artifact", alert.ArtifactName(ev.Sequence)))

	dctx := ctx
	if p.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.cfg.SinkTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.sink.Deliver(dctx, ev, snapshot)
	if p.metrics != nil {
		p.metrics.ObserveSinkLatency(time.Since(start))
	}
	if err != nil {
		p.stats.SinkFailures++
		if p.metrics != nil {
			p.metrics.SinkFailures.Inc()
		}
		p.log.Warn("alert delivery failed",
			zap.Int64("sequence", ev.Sequence),
			zap.String("identity", ev.Identity),
			zap.Error(err))
	}
}

func (p *Pipeline) sweep(frameIndex int) {
	if p.cfg.IdleFrames > 0 {
		cutoff := frameIndex - p.cfg.IdleFrames
		dropped := p.monitor.Evict(func(st TrackState) bool {
			return st.LastSeenFrame >= cutoff
		})
		if n := len(dropped); n > 0 {
			p.stats.Evicted += n
			if p.metrics != nil {
				p.metrics.TracksEvicted.Add(float64(n))
			}
			p.log.Debug("evicted idle tracks", zap.Int("count", n), zap.Int("frame", frameIndex))
		}
	}
	if p.metrics != nil {
		p.metrics.SetTrackedIdentities(p.monitor.Len())
	}
}

// Run processes frames until the channel closes or ctx is cancelled.
// A closed channel is the normal end of input.
func (p *Pipeline) Run(ctx context.Context, frames <-chan types.Frame) (Stats, error) {
	for {
		select {
		case <-ctx.Done():
			return p.stats, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return p.stats, nil
			}
			p.ProcessFrame(ctx, f)
		}
	}
}
