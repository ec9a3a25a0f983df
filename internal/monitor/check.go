package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/config"
	"github.com/sebastiankruger/shopfloor-oee/internal/counter"
	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
)

// CheckDevice runs one detection and reconciliation pass for a device.
func (m *Monitor) CheckDevice(ctx context.Context, deviceID string) error {
	snap := m.runtime.Snapshot()
	dev, ok := snap.Device(deviceID)
	if !ok {
		return errors.New().WithMessage(errors.ErrDeviceNotFound, "device "+deviceID+" is not configured")
	}
	th := snap.ThresholdsFor(deviceID)
	now := m.now()

	open, err := m.stoppages.OpenFor(ctx, deviceID)
	if err != nil {
		return err
	}

	readings, err := m.readings(ctx, dev, now.Add(-snap.DetectionWindow()), now)
	if err != nil {
		return err
	}

	detector := stoppage.NewDetector(stoppage.Thresholds{
		MinimumStoppageMinutes: th.MinimumStoppageMinutes,
		GracePeriod:            th.GracePeriod,
		MissingData:            stoppage.MissingDataPolicy(th.MissingDataPolicy),
	})
	decision := detector.Evaluate(readings, now, open)

	state := DeviceState{Device: deviceID, CheckedAt: now}

	active, err := m.orders.ActiveFor(ctx, deviceID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	if active != nil {
		state.WorkOrderID = active.ID()
	}

	switch decision.Action {
	case stoppage.ActionOpen:
		open, err = m.stoppages.OpenDetected(ctx, deviceID, state.WorkOrderID, decision.At, th.MinimumStoppageMinutes)
		if errors.IsState(err) {
			// Another writer opened one first.
			open, err = m.stoppages.OpenFor(ctx, deviceID)
		}
		if err != nil {
			return err
		}
	case stoppage.ActionClose:
		if _, err := m.stoppages.CloseDetected(ctx, open.ID, decision.At); err != nil {
			return err
		}
		open = nil
	}

	if open != nil {
		state.Stopped = true
		start := open.StartTime
		state.StoppageStart = &start
	}

	if active != nil {
		if started, ok := active.ActualStart(); ok {
			good, scrap, err := m.counts(ctx, dev, started, now)
			if err != nil {
				return err
			}
			w, err := m.orders.ReconcileCounts(ctx, deviceID, good, scrap)
			switch {
			case errors.HasCode(err, errors.ErrCountDecreased):
				// Counter history was pruned or reset; keep the stored counts.
				log.Debug().Err(err).Str("device", deviceID).Msg("Skipping count reconciliation")
			case err != nil:
				return err
			}
			state.GoodCount, state.ScrapCount = good, scrap
			if w != nil {
				state.GoodCount, state.ScrapCount = w.GoodQuantity(), w.ScrapQuantity()
			}
		}
	}

	log.Debug().
		Str("device", deviceID).
		Str("action", decision.Action.String()).
		Str("reason", decision.Reason).
		Dur("stopped", decision.Stopped).
		Msg("Device checked")

	for _, o := range m.observers {
		o.DeviceChecked(state)
	}
	return nil
}

// readings returns the production channel over the window, or the latest
// reading when the window is empty so a long silence is still seen.
func (m *Monitor) readings(ctx context.Context, dev config.DeviceConfig, from, to time.Time) ([]counter.Reading, error) {
	rs, err := m.counters.Range(ctx, dev.ID, dev.ProductionChannel, from, to)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	if len(rs) > 0 {
		return rs, nil
	}

	latest, err := m.counters.Latest(ctx, dev.ID, dev.ProductionChannel)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	if latest == nil {
		return nil, nil
	}
	return []counter.Reading{*latest}, nil
}

// counts derives cumulative good and scrap pieces since the order started.
func (m *Monitor) counts(ctx context.Context, dev config.DeviceConfig, from, to time.Time) (good, scrap int64, err error) {
	produced, err := m.counters.Range(ctx, dev.ID, dev.ProductionChannel, from, to)
	if err != nil {
		return 0, 0, errors.New().Wrap(errors.ErrCounterSource, err)
	}
	rejected, err := m.counters.Range(ctx, dev.ID, dev.Rejects(), from, to)
	if err != nil {
		return 0, 0, errors.New().Wrap(errors.ErrCounterSource, err)
	}

	total := counter.Produced(produced)
	scrap = counter.Produced(rejected)
	if scrap > total {
		scrap = total
	}
	return total - scrap, scrap, nil
}
