package stoppage

import (
	"sort"
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/counter"
)

// MissingDataPolicy decides what an absence of readings means.
type MissingDataPolicy string

const (
	// MissingDataIgnore only trusts readings that arrived; gaps never count
	// as stopped time.
	MissingDataIgnore MissingDataPolicy = "ignore"
	// MissingDataStopAfterGrace treats a gap longer than the grace period
	// as zero production up to now.
	MissingDataStopAfterGrace MissingDataPolicy = "treat_as_stopped_after_grace"
)

// Thresholds are the per-cycle detection settings of one device.
type Thresholds struct {
	MinimumStoppageMinutes float64
	GracePeriod            time.Duration
	MissingData            MissingDataPolicy
}

func (t Thresholds) minimum() time.Duration {
	return time.Duration(t.MinimumStoppageMinutes * float64(time.Minute))
}

// Action is what the detector wants done.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// Decision is the outcome of one detection pass. For ActionOpen, At is the
// back-dated start; for ActionClose, At is when production resumed.
type Decision struct {
	Action  Action
	At      time.Time
	Stopped time.Duration
	Reason  string
}

// Detector evaluates a window of production-channel readings.
type Detector struct {
	Thresholds Thresholds
}

func NewDetector(th Thresholds) Detector {
	if th.MissingData == "" {
		th.MissingData = MissingDataStopAfterGrace
	}
	return Detector{Thresholds: th}
}

// Evaluate decides whether to open a stoppage (open == nil) or close the
// open one. Readings need not be sorted.
func (d Detector) Evaluate(readings []counter.Reading, now time.Time, open *Event) Decision {
	rs := append([]counter.Reading(nil), readings...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })

	if open != nil {
		return d.evaluateOpen(rs, open)
	}
	return d.evaluateRunning(rs, now)
}

func (d Detector) evaluateOpen(rs []counter.Reading, open *Event) Decision {
	for _, r := range rs {
		if r.Timestamp.After(open.StartTime) && r.Rate > 0 {
			return Decision{
				Action:  ActionClose,
				At:      r.Timestamp,
				Stopped: r.Timestamp.Sub(open.StartTime),
				Reason:  "production resumed",
			}
		}
	}
	return Decision{Action: ActionNone, Reason: "still stopped"}
}

func (d Detector) evaluateRunning(rs []counter.Reading, now time.Time) Decision {
	if len(rs) == 0 {
		return Decision{Action: ActionNone, Reason: "no readings"}
	}

	last := rs[len(rs)-1]
	gap := now.Sub(last.Timestamp)
	gapCounts := d.Thresholds.MissingData == MissingDataStopAfterGrace && gap > d.Thresholds.GracePeriod

	var start time.Time
	var observedUntil time.Time
	var reason string

	if last.Rate > 0 {
		if !gapCounts {
			return Decision{Action: ActionNone, Reason: "producing"}
		}
		// Readings stopped arriving: production was last seen at last.
		start = last.Timestamp
		observedUntil = now
		reason = "readings missing beyond grace period"
	} else {
		i := len(rs) - 1
		for i > 0 && rs[i-1].Rate <= 0 {
			i--
		}
		start = rs[i].Timestamp
		observedUntil = last.Timestamp
		if gapCounts {
			observedUntil = now
		}
		reason = "zero rate"
	}

	stopped := observedUntil.Sub(start)
	if stopped < d.Thresholds.minimum() {
		return Decision{Action: ActionNone, Stopped: stopped, Reason: "below threshold"}
	}
	return Decision{Action: ActionOpen, At: start, Stopped: stopped, Reason: reason}
}
