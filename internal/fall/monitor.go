package fall

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// Defaults for MonitorConfig.
const (
	DefaultFallThreshold = 5
	DefaultAlarmCooldown = 5 * time.Second
)

// RepeatPolicy decides what happens to the evidence counter once an alert fires.
type RepeatPolicy int

const (
	// RepeatContinuous keeps counting while the subject stays down, so the first
	// fallen frame after the cooldown elapses alerts again.
	RepeatContinuous RepeatPolicy = iota
	// RepeatRearm resets the counter after each alert; a full FallThreshold window of
	// fresh evidence is needed before the next one.
	RepeatRearm
)

func (p RepeatPolicy) String() string {
	switch p {
	case RepeatRearm:
		return "rearm"
	default:
		return "continuous"
	}
}

// ParseRepeatPolicy accepts "continuous" or "rearm".
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continuous":
		return RepeatContinuous, nil
	case "rearm":
		return RepeatRearm, nil
	default:
		return RepeatContinuous, fmt.Errorf("unknown repeat policy %q (want continuous or rearm)", s)
	}
}

// MonitorConfig holds the debounce and cooldown knobs.
type MonitorConfig struct {
	FallThreshold int
	AlarmCooldown time.Duration
	Repeat        RepeatPolicy
}

// DefaultMonitorConfig returns the reference settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		FallThreshold: DefaultFallThreshold,
		AlarmCooldown: DefaultAlarmCooldown,
		Repeat:        RepeatContinuous,
	}
}

// TrackState is the per-identity evidence accumulator.
type TrackState struct {
	Identity              Identity
	ConsecutiveFallFrames int
	LastAlertTime         time.Time // zero when no alert has fired
	LastSeenFrame         int
}

// Phase is the logical state of one identity.
type Phase int

const (
	PhaseClear        Phase = iota // no fallen evidence
	PhaseAccumulating              // 0 < count < threshold
	PhaseCooling                   // count >= threshold, alerted, inside cooldown
	PhaseReady                     // count >= threshold, next fallen frame may alert
)

func (p Phase) String() string {
	return [...]string{"clear", "accumulating", "cooling", "ready"}[p]
}

// Observation is one classified detection for one identity.
type Observation struct {
	Identity    Identity
	Posture     Posture
	FrameIndex  int
	Box         types.BBox
	AspectRatio float64
	Now         time.Time
}

// Monitor is the fall state machine. It owns every TrackState and the alert
// sequence counter; nothing else mutates them.
//
// Observations for one identity must be applied in increasing frame order.
// The mutex only makes concurrent readers (metrics, debug) safe.
type Monitor struct {
	cfg MonitorConfig

	mu     sync.Mutex
	tracks map[Identity]*TrackState
	seq    int64
}

// NewMonitor creates a Monitor. A FallThreshold below 1 is raised to 1.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.FallThreshold < 1 {
		cfg.FallThreshold = 1
	}
	return &Monitor{
		cfg:    cfg,
		tracks: make(map[Identity]*TrackState),
	}
}

// Config returns the settings the Monitor was built with.
func (m *Monitor) Config() MonitorConfig {
	return m.cfg
}

// Observe applies one observation and returns the alert it confirms, if any.
func (m *Monitor) Observe(obs Observation) (types.AlertEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tracks[obs.Identity]
	if !ok {
		st = &TrackState{Identity: obs.Identity}
		m.tracks[obs.Identity] = st
	}
	st.LastSeenFrame = obs.FrameIndex

	if obs.Posture != Fallen {
		st.ConsecutiveFallFrames = 0
		return types.AlertEvent{}, false
	}

	st.ConsecutiveFallFrames++
	if st.ConsecutiveFallFrames < m.cfg.FallThreshold || !m.cooledDown(st, obs.Now) {
		return types.AlertEvent{}, false
	}

	ev := types.AlertEvent{
		Sequence:          m.seq,
		Identity:          string(obs.Identity),
		FrameIndex:        obs.FrameIndex,
		Box:               obs.Box,
		Timestamp:         obs.Now,
		ConsecutiveFrames: st.ConsecutiveFallFrames,
		AspectRatio:       obs.AspectRatio,
	}
	m.seq++
	st.LastAlertTime = obs.Now
	if m.cfg.Repeat == RepeatRearm {
		st.ConsecutiveFallFrames = 0
	}
	return ev, true
}

func (m *Monitor) cooledDown(st *TrackState, now time.Time) bool {
	return st.LastAlertTime.IsZero() || now.Sub(st.LastAlertTime) >= m.cfg.AlarmCooldown
}

// State returns a copy of the TrackState for id.
func (m *Monitor) State(id Identity) (TrackState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tracks[id]
	if !ok {
		return TrackState{}, false
	}
	return *st, true
}

// Phase reports the logical state of id at time now.
func (m *Monitor) Phase(id Identity, now time.Time) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tracks[id]
	switch {
	case !ok || st.ConsecutiveFallFrames == 0:
		return PhaseClear
	case st.ConsecutiveFallFrames < m.cfg.FallThreshold:
		return PhaseAccumulating
	case !m.cooledDown(st, now):
		return PhaseCooling
	default:
		return PhaseReady
	}
}

// Len returns the number of identities with state.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

// Sequence returns the sequence number the next alert will carry.
func (m *Monitor) Sequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Evict drops every TrackState for which keep returns false and returns the
// dropped identities. The sequence counter is not affected.
func (m *Monitor) Evict(keep func(TrackState) bool) []Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []Identity
	for id, st := range m.tracks {
		if !keep(*st) {
			delete(m.tracks, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}
