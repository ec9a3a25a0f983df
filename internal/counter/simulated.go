package counter

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SimulatedDevice configures one generated counter stream.
type SimulatedDevice struct {
	DeviceID            string
	ProductionChannel   int
	RejectChannel       int
	TargetRatePerMinute float64
	ScrapRate           float64 // 0.0 - 1.0
	StopProbability     float64 // chance per tick that a stop begins
	MeanStopDuration    time.Duration
	RateNoisePercent    float64 // e.g. 0.05 for 5% gaussian noise
}

type simState struct {
	cfg        SimulatedDevice
	produced   float64
	rejected   float64
	stoppedTil time.Time
}

// Simulator generates counter readings for configured devices into a
// MemorySource, for demo runs without edge hardware.
type Simulator struct {
	*MemorySource

	mu        sync.Mutex
	rng       *rand.Rand
	devices   map[string]*simState
	lastTick  time.Time
	retention time.Duration
}

func NewSimulator(devices []SimulatedDevice, seed int64) *Simulator {
	s := &Simulator{
		MemorySource: NewMemorySource(),
		rng:          rand.New(rand.NewSource(seed)),
		devices:      make(map[string]*simState),
		retention:    24 * time.Hour,
	}
	for _, d := range devices {
		s.devices[d.DeviceID] = &simState{cfg: d}
	}
	return s
}

// Tick advances every device to now and appends one reading per channel.
func (s *Simulator) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Duration(0)
	if !s.lastTick.IsZero() {
		elapsed = now.Sub(s.lastTick)
	}
	s.lastTick = now

	var batch []Reading
	for id, st := range s.devices {
		cfg := st.cfg
		perSecond := 0.0

		switch {
		case now.Before(st.stoppedTil):
		case s.rng.Float64() < cfg.StopProbability:
			dur := time.Duration(s.rng.ExpFloat64() * float64(cfg.MeanStopDuration))
			st.stoppedTil = now.Add(dur)
			log.Debug().Str("device", id).Dur("duration", dur).Msg("Simulated stoppage")
		default:
			perSecond = s.gaussian(cfg.TargetRatePerMinute/60, cfg.RateNoisePercent)
		}

		added := perSecond * elapsed.Seconds()
		st.produced += added
		st.rejected += added * cfg.ScrapRate

		batch = append(batch,
			Reading{
				Timestamp:      now,
				DeviceID:       id,
				Channel:        cfg.ProductionChannel,
				Rate:           perSecond,
				ProcessedValue: int64(math.Floor(st.produced)),
				Quality:        "good",
			},
			Reading{
				Timestamp:      now,
				DeviceID:       id,
				Channel:        cfg.RejectChannel,
				Rate:           perSecond * cfg.ScrapRate,
				ProcessedValue: int64(math.Floor(st.rejected)),
				Quality:        "good",
			},
		)
	}

	s.Append(batch...)
	s.Prune(now.Add(-s.retention))
}

// Run ticks at interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// gaussian returns target with gaussian noise scaled by noisePercent,
// never below zero.
func (s *Simulator) gaussian(target, noisePercent float64) float64 {
	v := target + s.rng.NormFloat64()*target*noisePercent
	if v < 0 {
		return 0
	}
	return v
}
