package config

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Thresholds are the effective per-device settings for one polling cycle.
type Thresholds struct {
	MinimumStoppageMinutes     float64
	GracePeriod                time.Duration
	MissingDataPolicy          string
	ClassificationAlertMinutes float64
	QualityAlert               float64
	AvailabilityAlert          float64
	PerformanceAlert           float64
}

// RuntimeSnapshot is a point-in-time copy of the hot-reloadable settings.
type RuntimeSnapshot struct {
	Generation          int64
	Interval            time.Duration
	MaxConcurrentChecks int
	Window              time.Duration
	CheckTimeout        time.Duration
	Defaults            Thresholds
	Lines               []LineConfig
	Devices             []DeviceConfig
}

// Device returns the configuration of id.
func (s RuntimeSnapshot) Device(id string) (DeviceConfig, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// ThresholdsFor applies the overrides of device id to the defaults.
func (s RuntimeSnapshot) ThresholdsFor(id string) Thresholds {
	th := s.Defaults
	d, ok := s.Device(id)
	if !ok {
		return th
	}
	if d.MinimumStoppageMinutes > 0 {
		th.MinimumStoppageMinutes = d.MinimumStoppageMinutes
	}
	if d.QualityAlertThreshold > 0 {
		th.QualityAlert = d.QualityAlertThreshold
	}
	if d.AvailabilityAlertThreshold > 0 {
		th.AvailabilityAlert = d.AvailabilityAlertThreshold
	}
	if d.PerformanceAlertThreshold > 0 {
		th.PerformanceAlert = d.PerformanceAlertThreshold
	}
	if d.ClassificationAlertMinutes > 0 {
		th.ClassificationAlertMinutes = d.ClassificationAlertMinutes
	}
	return th
}

// DeviceCheckTimeout bounds a single device check, defaulting to one
// interval so a stuck check cannot outlive the cycle that started it.
func (s RuntimeSnapshot) DeviceCheckTimeout() time.Duration {
	if s.CheckTimeout > 0 {
		return s.CheckTimeout
	}
	if s.Interval > 0 {
		return s.Interval
	}
	return time.Second
}

// DetectionWindow is how far back one detection pass reads. Unless set
// explicitly it covers two minimum stoppages of the slowest-to-trigger
// device plus the grace period and one interval.
func (s RuntimeSnapshot) DetectionWindow() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	longest := s.Defaults.MinimumStoppageMinutes
	for _, d := range s.Devices {
		if d.MinimumStoppageMinutes > longest {
			longest = d.MinimumStoppageMinutes
		}
	}
	return 2*time.Duration(longest*float64(time.Minute)) + s.Defaults.GracePeriod + s.Interval
}

// Runtime holds configuration values that can change while the engine runs.
// All methods are thread-safe.
type Runtime struct {
	mu   sync.RWMutex
	snap RuntimeSnapshot
}

// NewRuntime creates a Runtime from a validated Config.
func NewRuntime(cfg *Config) *Runtime {
	rt := &Runtime{}
	rt.snap = snapshotOf(cfg, 1)
	return rt
}

func snapshotOf(cfg *Config, generation int64) RuntimeSnapshot {
	return RuntimeSnapshot{
		Generation:          generation,
		Interval:            cfg.Monitor.Interval,
		MaxConcurrentChecks: cfg.Monitor.MaxConcurrentChecks,
		Window:              cfg.Monitor.Window,
		CheckTimeout:        cfg.Monitor.CheckTimeout,
		Defaults: Thresholds{
			MinimumStoppageMinutes:     cfg.Detection.MinimumStoppageMinutes,
			GracePeriod:                cfg.Detection.GracePeriod,
			MissingDataPolicy:          cfg.Detection.MissingDataPolicy,
			ClassificationAlertMinutes: cfg.Classification.AlertMinutes,
			QualityAlert:               cfg.Quality.AlertThreshold,
			AvailabilityAlert:          cfg.Availability.AlertThreshold,
			PerformanceAlert:           cfg.Performance.AlertThreshold,
		},
		Lines:   append([]LineConfig(nil), cfg.Lines...),
		Devices: append([]DeviceConfig(nil), cfg.Devices...),
	}
}

// Snapshot returns a copy that later reloads will not modify.
func (rt *Runtime) Snapshot() RuntimeSnapshot {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	s := rt.snap
	s.Lines = append([]LineConfig(nil), rt.snap.Lines...)
	s.Devices = append([]DeviceConfig(nil), rt.snap.Devices...)
	return s
}

// Apply validates cfg and makes it the current snapshot. An invalid cfg
// leaves the current snapshot in place.
func (rt *Runtime) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	next := snapshotOf(cfg, rt.snap.Generation+1)
	rt.snap = next
	rt.mu.Unlock()

	log.Info().
		Int64("generation", next.Generation).
		Int("devices", len(next.Devices)).
		Dur("interval", next.Interval).
		Msg("Runtime configuration applied")
	return nil
}

// SetDefaults replaces the global thresholds, keeping device overrides.
func (rt *Runtime) SetDefaults(th Thresholds) error {
	candidate := Config{
		Detection: DetectionConfig{
			MinimumStoppageMinutes: th.MinimumStoppageMinutes,
			GracePeriod:            th.GracePeriod,
			MissingDataPolicy:      th.MissingDataPolicy,
		},
		Classification: ClassificationConfig{AlertMinutes: th.ClassificationAlertMinutes},
		Quality:        AlertConfig{AlertThreshold: th.QualityAlert},
		Availability:   AlertConfig{AlertThreshold: th.AvailabilityAlert},
		Performance:    AlertConfig{AlertThreshold: th.PerformanceAlert},
	}
	if err := candidate.validateThresholds(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.snap.Defaults = th
	rt.snap.Generation++
	return nil
}
