package config

import (
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/fallwatch/internal/fall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"FALL_THRESHOLD", "FALL_ASPECT_THRESHOLD", "ALARM_COOLDOWN", "FRAME_STRIDE", "REPEAT_POLICY",
		"TRACKER_MODE", "TRACKER_QUANTUM", "TRACKER_MAX_DISTANCE", "TRACKER_MAX_MISSING",
		"EVICT_IDLE_FRAMES", "SINK_TIMEOUT", "OUTPUT_DIR", "DATABASE_URL", "POSTGRES_HOST",
		"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT",
		"REDIS_ADDR", "REDIS_DB", "REDIS_STREAM_MAXLEN", "MQTT_BROKER", "MQTT_QOS",
		"METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Fall.Threshold)
	assert.Equal(t, 0.8, cfg.Fall.AspectThreshold)
	assert.Equal(t, 5*time.Second, cfg.Fall.Cooldown)
	assert.Equal(t, 2, cfg.Fall.FrameStride)
	assert.Equal(t, "continuous", cfg.Fall.Repeat)
	assert.Equal(t, TrackerCenter, cfg.Tracker.Mode)
	assert.Equal(t, 300, cfg.Eviction.IdleFrames)
	assert.Equal(t, 5*time.Second, cfg.Sink.Timeout)
	assert.Equal(t, "fall_outputs", cfg.Sink.OutputDir)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FALL_THRESHOLD", "3")
	t.Setenv("FALL_ASPECT_THRESHOLD", "0.75")
	t.Setenv("ALARM_COOLDOWN", "10")
	t.Setenv("REPEAT_POLICY", "rearm")
	t.Setenv("TRACKER_MODE", "centroid")
	t.Setenv("SINK_TIMEOUT", "250ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MQTT_QOS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Fall.Threshold)
	assert.Equal(t, 0.75, cfg.Fall.AspectThreshold)
	assert.Equal(t, 10*time.Second, cfg.Fall.Cooldown)
	assert.Equal(t, 250*time.Millisecond, cfg.Sink.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.MQTT.QoS)

	mc := cfg.MonitorConfig()
	assert.Equal(t, fall.RepeatRearm, mc.Repeat)
	assert.Equal(t, 3, mc.FallThreshold)

	_, ok := cfg.NewTracker().(*fall.CentroidTracker)
	assert.True(t, ok, "centroid mode should build a CentroidTracker")
}

func TestLoad_MalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("FALL_THRESHOLD", "five")
	t.Setenv("ALARM_COOLDOWN", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "FALL_THRESHOLD")
	assert.Contains(t, err.Error(), "ALARM_COOLDOWN")
}

func TestDatabaseURL(t *testing.T) {
	clearEnv(t)
	assert.Empty(t, DatabaseURL())

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "fw")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "fallwatch")
	assert.Equal(t, "postgres://fw:secret@db:5432/fallwatch", DatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://other/db")
	assert.Equal(t, "postgres://other/db", DatabaseURL())
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"Zero threshold", func(c *Config) { c.Fall.Threshold = 0 }, "fall threshold"},
		{"Zero aspect", func(c *Config) { c.Fall.AspectThreshold = 0 }, "aspect threshold"},
		{"NaN aspect", func(c *Config) { c.Fall.AspectThreshold = math.NaN() }, "aspect threshold"},
		{"Infinite aspect", func(c *Config) { c.Fall.AspectThreshold = math.Inf(1) }, "aspect threshold"},
		{"Negative cooldown", func(c *Config) { c.Fall.Cooldown = -time.Second }, "cooldown"},
		{"Zero cooldown", func(c *Config) { c.Fall.Cooldown = 0 }, "cooldown"},
		{"NaN max distance", func(c *Config) { c.Tracker.MaxDistance = math.NaN() }, "max distance"},
		{"Zero stride", func(c *Config) { c.Fall.FrameStride = 0 }, "frame stride"},
		{"Bad repeat policy", func(c *Config) { c.Fall.Repeat = "twice" }, "repeat policy"},
		{"Bad tracker", func(c *Config) { c.Tracker.Mode = "kalman" }, "tracker mode"},
		{"Bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "qos"},
		{"Empty output dir", func(c *Config) { c.Sink.OutputDir = "" }, "output dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_NaNAspectFromEnvRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("FALL_ASPECT_THRESHOLD", "NaN")

	cfg, err := Load()
	require.NoError(t, err, "NaN parses as a float")
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aspect threshold")
}

func TestPipelineConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	pc := cfg.PipelineConfig("run-1", "cam-1")
	assert.Equal(t, "run-1", pc.RunID)
	assert.Equal(t, "cam-1", pc.Source)
	assert.Equal(t, 300, pc.IdleFrames)
	assert.Equal(t, 0.8, pc.AspectThreshold)

	_, ok := cfg.NewTracker().(fall.CenterTracker)
	assert.True(t, ok)
}
