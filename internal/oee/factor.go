// Package oee holds the efficiency factor models and their composite.
// All types are immutable values; recomputing means constructing new ones.
package oee

import (
	"math"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Factor names one of the three OEE dimensions.
type Factor string

const (
	FactorNone         Factor = "none"
	FactorAvailability Factor = "availability"
	FactorPerformance  Factor = "performance"
	FactorQuality      Factor = "quality"
)

const epsilon = 1e-9

// meetsTarget is inclusive: a percentage equal to the threshold meets it.
func meetsTarget(pct, threshold float64) bool {
	return pct >= threshold
}

// isConstraining reports whether pct is strictly lower than both others.
func isConstraining(pct, otherA, otherB float64) bool {
	return pct < otherA && pct < otherB
}

// Round rounds v to the given number of decimal places. Only presentation
// code should call it; calculations keep full precision.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func negative(field string) error {
	return errors.New().WithMessage(errors.ErrNegativeValue, field+" cannot be negative")
}
