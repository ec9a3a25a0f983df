// Package schedule answers how much production time was planned for a
// device. It asks the equipment scheduling service first and falls back to a
// shift model or to configured defaults when the service is unavailable.
package schedule

import (
	"sort"
	"time"
)

// Window is a half-open interval of planned operation.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label,omitempty"`
}

func (w Window) Minutes() float64 {
	if !w.End.After(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start).Minutes()
}

// Source tells where a plan came from.
type Source string

const (
	SourceGateway    Source = "gateway"
	SourceShiftModel Source = "shift_model"
	SourceDefault    Source = "default"
)

// Plan is the planned production time of one device in [From, To).
type Plan struct {
	Device         string    `json:"device"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Windows        []Window  `json:"windows"`
	PlannedMinutes float64   `json:"plannedMinutes"`
	Source         Source    `json:"source"`
}

func newPlan(device string, from, to time.Time, windows []Window, source Source) Plan {
	windows = normalize(windows, from, to)
	var minutes float64
	for _, w := range windows {
		minutes += w.Minutes()
	}
	return Plan{
		Device:         device,
		From:           from,
		To:             to,
		Windows:        windows,
		PlannedMinutes: minutes,
		Source:         source,
	}
}

// normalize clips windows to [from, to), drops empty ones and merges
// overlapping ones. Touching windows stay separate.
func normalize(windows []Window, from, to time.Time) []Window {
	clipped := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Start.Before(from) {
			w.Start = from
		}
		if w.End.After(to) {
			w.End = to
		}
		if w.End.After(w.Start) {
			clipped = append(clipped, w)
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Start.Before(clipped[j].Start) })

	merged := clipped[:0]
	for _, w := range clipped {
		if n := len(merged); n > 0 && w.Start.Before(merged[n-1].End) {
			if w.End.After(merged[n-1].End) {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
