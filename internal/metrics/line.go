package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/oee"
	"github.com/sebastiankruger/shopfloor-oee/internal/resource"
)

// LineOEE calculates every device below line and averages their factors.
// The line OEE is the product of the averaged factors. Devices that fail
// are reported in Failed and left out of the averages.
func (c *Calculator) LineOEE(ctx context.Context, line string, from, to time.Time) (LineResult, error) {
	snap := c.runtime.Snapshot()
	graph, err := resource.FromConfig(snap.Lines, snap.Devices)
	if err != nil {
		return LineResult{}, err
	}

	devices, err := graph.Devices(line)
	if err != nil {
		return LineResult{}, err
	}
	if len(devices) == 0 {
		return LineResult{}, errors.New().WithMessage(errors.ErrDeviceNotFound, "line "+line+" has no devices")
	}

	lr := LineResult{Line: line, From: from, To: to}
	var sum oee.Breakdown
	lowest := -1.0

	for _, id := range devices {
		r, err := c.Calculate(ctx, id, from, to)
		if err != nil {
			if lr.Failed == nil {
				lr.Failed = make(map[string]string)
			}
			lr.Failed[id] = err.Error()
			log.Warn().Err(err).Str("line", line).Str("device", id).Msg("Device excluded from line OEE")
			continue
		}

		lr.Devices = append(lr.Devices, r)
		sum.Availability += r.Breakdown.Availability
		sum.Performance += r.Breakdown.Performance
		sum.Quality += r.Breakdown.Quality
		if lowest < 0 || r.Breakdown.OEE < lowest {
			lowest = r.Breakdown.OEE
			lr.Bottleneck = id
		}
	}

	if len(lr.Devices) == 0 {
		return lr, errors.New().WithMessage(errors.ErrCounterSource, "no device of line "+line+" could be calculated")
	}

	n := float64(len(lr.Devices))
	avg := oee.Breakdown{
		Availability: sum.Availability / n,
		Performance:  sum.Performance / n,
		Quality:      sum.Quality / n,
	}
	calc, err := oee.FromBreakdown(line, from, to, avg)
	if err != nil {
		return lr, err
	}
	lr.Breakdown = calc.Breakdown()
	lr.ConstrainingFactor = calc.ConstrainingFactor()
	return lr, nil
}
