package oee

import (
	"math"
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Breakdown is the presentation view of a calculation.
type Breakdown struct {
	Availability float64 `json:"availability"`
	Performance  float64 `json:"performance"`
	Quality      float64 `json:"quality"`
	OEE          float64 `json:"oee"`
}

// Rounded returns a copy with every value rounded to places decimals.
func (b Breakdown) Rounded(places int) Breakdown {
	return Breakdown{
		Availability: Round(b.Availability, places),
		Performance:  Round(b.Performance, places),
		Quality:      Round(b.Quality, places),
		OEE:          Round(b.OEE, places),
	}
}

// Calculation combines the three factors for one resource over [start, end).
type Calculation struct {
	resource     string
	start        time.Time
	end          time.Time
	availability Availability
	performance  Performance
	quality      Quality
}

func NewCalculation(resource string, start, end time.Time, a Availability, p Performance, q Quality) (Calculation, error) {
	if resource == "" {
		return Calculation{}, errors.New().WithMessage(errors.ErrMissingField, "resource reference is required")
	}
	if !end.After(start) {
		return Calculation{}, errors.New().New(errors.ErrInvalidPeriod)
	}

	return Calculation{
		resource:     resource,
		start:        start,
		end:          end,
		availability: a,
		performance:  p,
		quality:      q,
	}, nil
}

// FromBreakdown rebuilds a calculation whose factors reproduce the given
// percentages. The OEE value of the breakdown is ignored and re-derived.
func FromBreakdown(resource string, start, end time.Time, b Breakdown) (Calculation, error) {
	if b.Availability < 0 || b.Availability > 100 {
		return Calculation{}, errors.New().WithMessage(errors.ErrPercentageOutOfRange, "availability must be between 0 and 100")
	}
	if b.Quality < 0 || b.Quality > 100 {
		return Calculation{}, errors.New().WithMessage(errors.ErrPercentageOutOfRange, "quality must be between 0 and 100")
	}
	if b.Performance < 0 {
		return Calculation{}, errors.New().WithMessage(errors.ErrPercentageOutOfRange, "performance cannot be negative")
	}

	a, err := NewAvailability(100, b.Availability, nil)
	if err != nil {
		return Calculation{}, err
	}

	// 100 run minutes at 10000 pieces; target chosen so the rate hits b.Performance.
	pieces, target := int64(0), 1.0
	if b.Performance > 0 {
		pieces = 10_000
		target = 100 * 100 / b.Performance
	}
	p, err := NewPerformance(pieces, 100, target)
	if err != nil {
		return Calculation{}, err
	}

	const unitsPerBreakdown = 1_000_000_000
	good := int64(math.Round(b.Quality / 100 * unitsPerBreakdown))
	q, err := NewQuality(good, unitsPerBreakdown-good, nil)
	if err != nil {
		return Calculation{}, err
	}

	return NewCalculation(resource, start, end, a, p, q)
}

func (c Calculation) Resource() string           { return c.resource }
func (c Calculation) Start() time.Time           { return c.start }
func (c Calculation) End() time.Time             { return c.end }
func (c Calculation) Availability() Availability { return c.availability }
func (c Calculation) Performance() Performance   { return c.performance }
func (c Calculation) Quality() Quality           { return c.quality }

// OEE is availability% × performance% × quality% / 10000.
func (c Calculation) OEE() float64 {
	return c.availability.Percentage() * c.performance.Percentage() * c.quality.Percentage() / 10000
}

func (c Calculation) Breakdown() Breakdown {
	return Breakdown{
		Availability: c.availability.Percentage(),
		Performance:  c.performance.Percentage(),
		Quality:      c.quality.Percentage(),
		OEE:          c.OEE(),
	}
}

// ConstrainingFactor returns the factor strictly lower than both others, or
// FactorNone when the lowest value is tied.
func (c Calculation) ConstrainingFactor() Factor {
	a := c.availability.Percentage()
	p := c.performance.Percentage()
	q := c.quality.Percentage()

	switch {
	case c.availability.IsConstrainingFactor(p, q):
		return FactorAvailability
	case c.performance.IsConstrainingFactor(a, q):
		return FactorPerformance
	case c.quality.IsConstrainingFactor(a, p):
		return FactorQuality
	default:
		return FactorNone
	}
}
