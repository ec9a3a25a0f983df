package oee

import (
	"math"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Availability is the share of planned production time the equipment ran.
type Availability struct {
	plannedMinutes   float64
	actualRunMinutes float64
	downtimeMinutes  float64
}

// NewAvailability validates the inputs. When downtimeMinutes is nil it is
// derived as planned minus actual; when given it must match that difference.
func NewAvailability(plannedMinutes, actualRunMinutes float64, downtimeMinutes *float64) (Availability, error) {
	if plannedMinutes < 0 {
		return Availability{}, negative("planned production time")
	}
	if actualRunMinutes < 0 {
		return Availability{}, negative("actual run time")
	}
	if actualRunMinutes > plannedMinutes+epsilon {
		return Availability{}, errors.New().New(errors.ErrActualExceedsPlanned)
	}

	downtime := plannedMinutes - actualRunMinutes
	if downtimeMinutes != nil {
		if *downtimeMinutes < 0 {
			return Availability{}, negative("downtime")
		}
		if math.Abs(*downtimeMinutes-downtime) > epsilon {
			return Availability{}, errors.New().New(errors.ErrDowntimeMismatch)
		}
	}

	return Availability{
		plannedMinutes:   plannedMinutes,
		actualRunMinutes: actualRunMinutes,
		downtimeMinutes:  downtime,
	}, nil
}

func (a Availability) PlannedMinutes() float64   { return a.plannedMinutes }
func (a Availability) ActualRunMinutes() float64 { return a.actualRunMinutes }
func (a Availability) DowntimeMinutes() float64  { return a.downtimeMinutes }

// Percentage returns 0 when nothing was planned.
func (a Availability) Percentage() float64 {
	if a.plannedMinutes == 0 {
		return 0
	}
	return a.actualRunMinutes / a.plannedMinutes * 100
}

func (a Availability) MeetsTarget(threshold float64) bool {
	return meetsTarget(a.Percentage(), threshold)
}

func (a Availability) IsConstrainingFactor(otherA, otherB float64) bool {
	return isConstraining(a.Percentage(), otherA, otherB)
}
