package config

import (
	"fmt"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const (
	PolicyIgnore         = "ignore"
	PolicyStopAfterGrace = "treat_as_stopped_after_grace"
)

var counterSources = map[string]bool{"memory": true, "postgres": true, "simulated": true}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.validateThresholds(); err != nil {
		return err
	}

	switch {
	case c.Monitor.Interval <= 0:
		return invalid("monitor.interval must be positive")
	case c.Monitor.MaxConcurrentChecks < 1:
		return invalid("monitor.max_concurrent_checks must be at least 1")
	case c.Monitor.Window < 0:
		return invalid("monitor.window cannot be negative")
	case c.Monitor.CheckTimeout < 0:
		return invalid("monitor.check_timeout cannot be negative")
	case c.Concurrency.MaxRetries < 0:
		return invalid("concurrency.max_retries cannot be negative")
	case !counterSources[c.Counter.Source]:
		return invalid(fmt.Sprintf("counter.source %q is not one of memory, postgres, simulated", c.Counter.Source))
	case c.Counter.Source == "postgres" && c.Counter.PostgresDSN == "":
		return invalid("counter.postgres_dsn is required for the postgres source")
	case c.Store.Path == "":
		return invalid("store.path is required")
	case c.Notify.QueueSize < 0:
		return invalid("notify.queue_size cannot be negative")
	}

	return validateResources(c.Lines, c.Devices)
}

func (c *Config) validateThresholds() error {
	if c.Detection.MinimumStoppageMinutes <= 0 {
		return invalid("detection.minimum_stoppage_minutes must be positive")
	}
	if c.Detection.GracePeriod < 0 {
		return invalid("detection.grace_period cannot be negative")
	}
	if c.Detection.MissingDataPolicy != PolicyIgnore && c.Detection.MissingDataPolicy != PolicyStopAfterGrace {
		return invalid(fmt.Sprintf("detection.missing_data_policy %q is not supported", c.Detection.MissingDataPolicy))
	}
	if c.Classification.AlertMinutes < 0 {
		return invalid("classification.alert_minutes cannot be negative")
	}
	for name, v := range map[string]float64{
		"quality.alert_threshold":      c.Quality.AlertThreshold,
		"availability.alert_threshold": c.Availability.AlertThreshold,
		"performance.alert_threshold":  c.Performance.AlertThreshold,
	} {
		if v < 0 || v > 100 {
			return errors.New().WithMessage(errors.ErrPercentageOutOfRange, name+" must be between 0 and 100")
		}
	}
	return nil
}

func validateResources(lines []LineConfig, devices []DeviceConfig) error {
	seen := make(map[string]bool, len(lines)+len(devices))

	for _, l := range lines {
		if l.ID == "" {
			return invalid("lines[].id is required")
		}
		if seen[l.ID] {
			return invalid("duplicate line " + l.ID)
		}
		seen[l.ID] = true
	}

	for _, d := range devices {
		switch {
		case d.ID == "":
			return invalid("devices[].id is required")
		case seen[d.ID]:
			return invalid("duplicate resource " + d.ID)
		case d.TargetRatePerMinute < 0 || d.UnitCost < 0:
			return errors.New().WithMessage(errors.ErrNegativeValue, "device "+d.ID+" has a negative rate or unit cost")
		case d.ProductionChannel == d.Rejects():
			return invalid("device " + d.ID + " uses the same channel for production and rejects")
		case d.MinimumStoppageMinutes < 0:
			return invalid("device " + d.ID + " has a negative minimum stoppage")
		case d.ClassificationAlertMinutes < 0:
			return invalid("device " + d.ID + " has a negative classification alert")
		}
		for _, v := range []float64{d.QualityAlertThreshold, d.AvailabilityAlertThreshold, d.PerformanceAlertThreshold} {
			if v < 0 || v > 100 {
				return errors.New().WithMessage(errors.ErrPercentageOutOfRange, "device "+d.ID+" has an alert threshold outside 0-100")
			}
		}
		if s := d.Simulation; s.ScrapRate < 0 || s.ScrapRate > 1 || s.StopProbability < 0 || s.StopProbability > 1 {
			return invalid("device " + d.ID + " has a simulation rate outside 0-1")
		}
		seen[d.ID] = true
	}
	return nil
}

func invalid(msg string) error {
	return errors.New().WithMessage(errors.ErrInvalidConfig, msg)
}
