// Package metrics computes OEE for devices and lines from counter data,
// planned time and recorded stoppages.
package metrics

import (
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/oee"
	"github.com/sebastiankruger/shopfloor-oee/internal/schedule"
)

// Alert names a factor that is below its configured threshold.
type Alert string

const (
	AlertQuality      Alert = "quality"
	AlertAvailability Alert = "availability"
	AlertPerformance  Alert = "performance"
)

// Result is one OEE calculation for a device.
type Result struct {
	Device              string           `json:"device"`
	Line                string           `json:"line,omitempty"`
	From                time.Time        `json:"from"`
	To                  time.Time        `json:"to"`
	PlannedMinutes      float64          `json:"plannedMinutes"`
	RunMinutes          float64          `json:"runMinutes"`
	DowntimeMinutes     float64          `json:"downtimeMinutes"`
	Stoppages           int              `json:"stoppages"`
	TotalPieces         int64            `json:"totalPieces"`
	GoodPieces          int64            `json:"goodPieces"`
	DefectivePieces     int64            `json:"defectivePieces"`
	TargetRatePerMinute float64          `json:"targetRatePerMinute"`
	ActualRatePerMinute float64          `json:"actualRatePerMinute"`
	Breakdown           oee.Breakdown    `json:"breakdown"`
	ConstrainingFactor  oee.Factor       `json:"constrainingFactor"`
	QualityLevel        oee.QualityLevel `json:"qualityLevel"`
	DefectRate          float64          `json:"defectRate"`
	CostImpact          float64          `json:"costImpact"`
	ScheduleSource      schedule.Source  `json:"scheduleSource"`
	Alerts              []Alert          `json:"alerts,omitempty"`
	CalculatedAt        time.Time        `json:"calculatedAt"`
}

// HasAlert reports whether a is among the result's alerts.
func (r Result) HasAlert(a Alert) bool {
	for _, x := range r.Alerts {
		if x == a {
			return true
		}
	}
	return false
}

// LineResult aggregates the device results below a line.
type LineResult struct {
	Line               string        `json:"line"`
	From               time.Time     `json:"from"`
	To                 time.Time     `json:"to"`
	Devices            []Result      `json:"devices"`
	Breakdown          oee.Breakdown `json:"breakdown"`
	ConstrainingFactor oee.Factor    `json:"constrainingFactor"`
	// Bottleneck is the device with the lowest OEE.
	Bottleneck string            `json:"bottleneck,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
}
