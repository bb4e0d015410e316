// Package config loads fallwatch settings from the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/fallwatch/internal/fall"
	"go.uber.org/multierr"
)

// Tracker modes.
const (
	TrackerCenter   = "center"
	TrackerCentroid = "centroid"
)

// Config is the full runtime configuration. CLI flags override these values.
type Config struct {
	Fall struct {
		Threshold       int           // consecutive fallen frames before an alert
		AspectThreshold float64       // height/width below which a box is fallen
		Cooldown        time.Duration // minimum time between alerts per identity
		FrameStride     int           // process every Nth frame
		Repeat          string        // continuous | rearm
	}

	Tracker struct {
		Mode        string // center | centroid
		Quantum     int
		MaxDistance float64
		MaxMissing  int
	}

	Eviction struct {
		IdleFrames int // 0 disables the sweep
	}

	Sink struct {
		Timeout   time.Duration
		OutputDir string
	}

	Database struct {
		URL string // empty disables the Postgres sink for watch/replay
	}

	Redis struct {
		Addr     string // empty disables the Redis sink
		Password string
		DB       int
		Stream   string
		MaxLen   int64
	}

	MQTT struct {
		Broker      string // empty disables the MQTT sink
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
		QoS         int
	}

	MetricsAddr string // empty disables the /metrics endpoint

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from environment variables, falling back to defaults.
// Malformed numeric values are reported rather than silently replaced.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs error

	cfg.Fall.Threshold = getEnvInt("FALL_THRESHOLD", fall.DefaultFallThreshold, &errs)
	cfg.Fall.AspectThreshold = getEnvFloat("FALL_ASPECT_THRESHOLD", fall.DefaultAspectThreshold, &errs)
	cfg.Fall.Cooldown = getEnvDuration("ALARM_COOLDOWN", fall.DefaultAlarmCooldown, &errs)
	cfg.Fall.FrameStride = getEnvInt("FRAME_STRIDE", 2, &errs)
	cfg.Fall.Repeat = getEnv("REPEAT_POLICY", fall.RepeatContinuous.String())

	def := fall.DefaultCentroidTrackerConfig()
	cfg.Tracker.Mode = getEnv("TRACKER_MODE", TrackerCenter)
	cfg.Tracker.Quantum = getEnvInt("TRACKER_QUANTUM", 1, &errs)
	cfg.Tracker.MaxDistance = getEnvFloat("TRACKER_MAX_DISTANCE", def.MaxDistance, &errs)
	cfg.Tracker.MaxMissing = getEnvInt("TRACKER_MAX_MISSING", def.MaxMissing, &errs)

	cfg.Eviction.IdleFrames = getEnvInt("EVICT_IDLE_FRAMES", 300, &errs)

	cfg.Sink.Timeout = getEnvDuration("SINK_TIMEOUT", 5*time.Second, &errs)
	cfg.Sink.OutputDir = getEnv("OUTPUT_DIR", "fall_outputs")

	cfg.Database.URL = DatabaseURL()

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0, &errs)
	cfg.Redis.Stream = getEnv("REDIS_STREAM", "fallwatch:alerts")
	cfg.Redis.MaxLen = int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000, &errs))

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "fallwatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "fallwatch")
	cfg.MQTT.QoS = getEnvInt("MQTT_QOS", 1, &errs)

	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// DatabaseURL returns DATABASE_URL, or a URL built from the POSTGRES_* variables when
// POSTGRES_HOST is set. It returns "" when neither is present.
func DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Fall.Threshold < 1 {
		err = multierr.Append(err, fmt.Errorf("fall threshold must be >= 1, got %d", c.Fall.Threshold))
	}
	if !positiveFinite(c.Fall.AspectThreshold) {
		err = multierr.Append(err, fmt.Errorf("aspect threshold must be a finite number > 0, got %g", c.Fall.AspectThreshold))
	}
	if c.Fall.Cooldown <= 0 {
		err = multierr.Append(err, fmt.Errorf("alarm cooldown must be > 0, got %s", c.Fall.Cooldown))
	}
	if c.Fall.FrameStride < 1 {
		err = multierr.Append(err, fmt.Errorf("frame stride must be >= 1, got %d", c.Fall.FrameStride))
	}
	if _, perr := fall.ParseRepeatPolicy(c.Fall.Repeat); perr != nil {
		err = multierr.Append(err, perr)
	}
	switch c.Tracker.Mode {
	case TrackerCenter, TrackerCentroid:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown tracker mode %q (want center or centroid)", c.Tracker.Mode))
	}
	if c.Tracker.Quantum < 1 {
		err = multierr.Append(err, fmt.Errorf("tracker quantum must be >= 1, got %d", c.Tracker.Quantum))
	}
	if !positiveFinite(c.Tracker.MaxDistance) {
		err = multierr.Append(err, fmt.Errorf("tracker max distance must be a finite number > 0, got %g", c.Tracker.MaxDistance))
	}
	if c.Tracker.MaxMissing < 1 {
		err = multierr.Append(err, fmt.Errorf("tracker max missing must be >= 1, got %d", c.Tracker.MaxMissing))
	}
	if c.Eviction.IdleFrames < 0 {
		err = multierr.Append(err, fmt.Errorf("idle frames must not be negative, got %d", c.Eviction.IdleFrames))
	}
	if c.Sink.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("sink timeout must not be negative, got %s", c.Sink.Timeout))
	}
	if c.Sink.OutputDir == "" {
		err = multierr.Append(err, fmt.Errorf("output dir must not be empty"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		err = multierr.Append(err, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return err
}

// positiveFinite rejects NaN and ±Inf, which ParseFloat accepts.
func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// MonitorConfig converts the fall settings. Call Validate first.
func (c *Config) MonitorConfig() fall.MonitorConfig {
	repeat, _ := fall.ParseRepeatPolicy(c.Fall.Repeat)
	return fall.MonitorConfig{
		FallThreshold: c.Fall.Threshold,
		AlarmCooldown: c.Fall.Cooldown,
		Repeat:        repeat,
	}
}

// NewTracker builds the tracker selected by Tracker.Mode.
func (c *Config) NewTracker() fall.Tracker {
	if c.Tracker.Mode == TrackerCentroid {
		return fall.NewCentroidTracker(fall.CentroidTrackerConfig{
			MaxDistance: c.Tracker.MaxDistance,
			MaxMissing:  c.Tracker.MaxMissing,
		})
	}
	return fall.CenterTracker{Quantum: c.Tracker.Quantum}
}

// PipelineConfig converts the settings that sit around the Monitor.
func (c *Config) PipelineConfig(runID, source string) fall.PipelineConfig {
	return fall.PipelineConfig{
		AspectThreshold: c.Fall.AspectThreshold,
		SinkTimeout:     c.Sink.Timeout,
		IdleFrames:      c.Eviction.IdleFrames,
		RunID:           runID,
		Source:          source,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *error) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64, errs *error) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go durations ("5s", "1m30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration, errs *error) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: invalid duration %q", key, s))
		return defaultValue
	}
	return time.Duration(secs * float64(time.Second))
}
