package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/config"
	"github.com/sebastiankruger/shopfloor-oee/internal/counter"
	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/oee"
	"github.com/sebastiankruger/shopfloor-oee/internal/schedule"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
)

// PerformanceCap bounds the performance factor; counting faster than the
// target rate usually means the target is stale.
const PerformanceCap = 100.0

// PlanSource answers how much time was planned for a device.
type PlanSource interface {
	PlannedAvailability(ctx context.Context, device string, from, to time.Time) (schedule.Plan, error)
}

// StoppageSource lists the stoppages of a device overlapping a period.
type StoppageSource interface {
	Overlapping(ctx context.Context, device string, from, to time.Time) ([]*stoppage.Event, error)
}

// Sink receives every fresh result, for example to publish it.
type Sink interface {
	PublishResult(r Result)
}

// Calculator derives OEE per device and per line. It never writes counter
// data or stoppages.
type Calculator struct {
	counters  counter.Source
	plans     PlanSource
	stoppages StoppageSource
	runtime   *config.Runtime
	cache     Cache
	sinks     []Sink
	now       func() time.Time
}

type Option func(*Calculator)

func WithCache(c Cache) Option {
	return func(calc *Calculator) { calc.cache = c }
}

func WithSink(s Sink) Option {
	return func(calc *Calculator) { calc.sinks = append(calc.sinks, s) }
}

func WithClock(now func() time.Time) Option {
	return func(calc *Calculator) { calc.now = now }
}

func NewCalculator(counters counter.Source, plans PlanSource, stoppages StoppageSource, rt *config.Runtime, opts ...Option) *Calculator {
	c := &Calculator{
		counters:  counters,
		plans:     plans,
		stoppages: stoppages,
		runtime:   rt,
		cache:     NewMemoryCache(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate computes the OEE of device over [from, to) and caches it as the
// device's latest result.
func (c *Calculator) Calculate(ctx context.Context, device string, from, to time.Time) (Result, error) {
	errFactory := errors.New()

	if !to.After(from) {
		return Result{}, errFactory.WithMessage(errors.ErrInvalidPeriod, "period end must be after start")
	}

	snap := c.runtime.Snapshot()
	dev, ok := snap.Device(device)
	if !ok {
		return Result{}, errFactory.WithData(errors.ErrDeviceNotFound, device)
	}
	th := snap.ThresholdsFor(device)

	plan, err := c.plans.PlannedAvailability(ctx, device, from, to)
	if err != nil {
		return Result{}, err
	}

	events, err := c.stoppages.Overlapping(ctx, device, from, to)
	if err != nil {
		return Result{}, err
	}
	downtime := plannedDowntime(events, plan.Windows)

	total, defective, err := c.pieces(ctx, dev, from, to)
	if err != nil {
		return Result{}, err
	}

	actual := plan.PlannedMinutes - downtime
	if actual < 0 {
		actual = 0
	}
	availability, err := oee.NewAvailability(plan.PlannedMinutes, actual, nil)
	if err != nil {
		return Result{}, err
	}
	performance, err := oee.NewPerformance(total, actual, dev.TargetRatePerMinute)
	if err != nil {
		return Result{}, err
	}
	quality, err := oee.NewQuality(total-defective, defective, &total)
	if err != nil {
		return Result{}, err
	}

	calc, err := oee.NewCalculation(device, from, to, availability, performance, quality)
	if err != nil {
		return Result{}, err
	}
	if performance.Percentage() > PerformanceCap {
		b := calc.Breakdown()
		b.Performance = PerformanceCap
		if calc, err = oee.FromBreakdown(device, from, to, b); err != nil {
			return Result{}, err
		}
	}

	r := Result{
		Device:              device,
		Line:                dev.Line,
		From:                from,
		To:                  to,
		PlannedMinutes:      plan.PlannedMinutes,
		RunMinutes:          actual,
		DowntimeMinutes:     availability.DowntimeMinutes(),
		Stoppages:           len(events),
		TotalPieces:         total,
		GoodPieces:          total - defective,
		DefectivePieces:     defective,
		TargetRatePerMinute: dev.TargetRatePerMinute,
		ActualRatePerMinute: performance.ActualRate(),
		Breakdown:           calc.Breakdown(),
		ConstrainingFactor:  calc.ConstrainingFactor(),
		QualityLevel:        quality.Level(),
		DefectRate:          quality.DefectRate(),
		CostImpact:          quality.CostImpact(dev.UnitCost),
		ScheduleSource:      plan.Source,
		CalculatedAt:        c.now().UTC(),
	}

	if quality.RequiresAlert(th.QualityAlert) {
		r.Alerts = append(r.Alerts, AlertQuality)
	}
	// Without planned time there is nothing to fall short of.
	if plan.PlannedMinutes > 0 {
		if !availability.MeetsTarget(th.AvailabilityAlert) {
			r.Alerts = append(r.Alerts, AlertAvailability)
		}
		if r.Breakdown.Performance < th.PerformanceAlert {
			r.Alerts = append(r.Alerts, AlertPerformance)
		}
	}

	c.remember(ctx, r)
	return r, nil
}

// pieces returns the produced and rejected counts in [from, to). Rejects
// are clamped to production so a lagging production channel cannot push
// quality below zero.
func (c *Calculator) pieces(ctx context.Context, dev config.DeviceConfig, from, to time.Time) (int64, int64, error) {
	produced, err := c.counters.Range(ctx, dev.ID, dev.ProductionChannel, from, to)
	if err != nil {
		return 0, 0, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	rejected, err := c.counters.Range(ctx, dev.ID, dev.Rejects(), from, to)
	if err != nil {
		return 0, 0, errors.New().Wrap(errors.ErrCounterSource, err)
	}

	total := counter.Produced(produced)
	defective := counter.Produced(rejected)
	if defective > total {
		log.Warn().
			Str("device", dev.ID).
			Int64("produced", total).
			Int64("rejected", defective).
			Msg("Reject count exceeds production, clamping")
		defective = total
	}
	return total, defective, nil
}

// plannedDowntime sums the parts of each stoppage that fall inside planned
// windows. Open stoppages count up to the window end.
func plannedDowntime(events []*stoppage.Event, windows []schedule.Window) float64 {
	var total time.Duration
	for _, e := range events {
		for _, w := range windows {
			total += e.Overlap(w.Start, w.End)
		}
	}
	return total.Minutes()
}

func (c *Calculator) remember(ctx context.Context, r Result) {
	if c.cache != nil {
		if err := c.cache.Put(ctx, r); err != nil {
			log.Warn().Err(err).Str("device", r.Device).Msg("Failed to cache OEE result")
		}
	}
	for _, s := range c.sinks {
		s.PublishResult(r)
	}
}

// Latest returns the most recent cached result of device.
func (c *Calculator) Latest(ctx context.Context, device string) (Result, error) {
	if c.cache == nil {
		return Result{}, errors.New().WithData(errors.ErrDeviceNotFound, device)
	}
	r, err := c.cache.Get(ctx, device)
	if err != nil {
		return Result{}, err
	}
	return *r, nil
}

// RefreshAll recalculates every configured device over the trailing period
// ending at now. Per-device failures are logged and skipped.
func (c *Calculator) RefreshAll(ctx context.Context, period time.Duration) []Result {
	now := c.now()
	snap := c.runtime.Snapshot()

	out := make([]Result, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		if ctx.Err() != nil {
			break
		}
		r, err := c.Calculate(ctx, d.ID, now.Add(-period), now)
		if err != nil {
			log.Warn().Err(err).Str("device", d.ID).Msg("OEE calculation failed")
			continue
		}
		out = append(out, r)
	}
	return out
}
