package counter

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRateWindow is the look-back used to derive a rate.
	DefaultRateWindow = 60 * time.Second
	// OverflowThreshold is where a 32-bit hardware counter is about to wrap.
	OverflowThreshold int64 = 4294967000
)

type sample struct {
	at    time.Time
	count int64
}

// RateCalculator derives units-per-second rates from cumulative counts over
// a sliding window, per device and channel.
type RateCalculator struct {
	mu      sync.Mutex
	window  time.Duration
	history map[channelKey][]sample
}

func NewRateCalculator(window time.Duration) *RateCalculator {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateCalculator{
		window:  window,
		history: make(map[channelKey][]sample),
	}
}

// Add records a cumulative count and returns the rate over the window. ok is
// false until two samples with distinct timestamps are inside the window.
func (rc *RateCalculator) Add(deviceID string, channel int, at time.Time, count int64) (rate float64, ok bool) {
	if count > OverflowThreshold {
		log.Warn().
			Str("device", deviceID).
			Int("channel", channel).
			Int64("count", count).
			Msg("Counter approaching overflow")
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	k := channelKey{device: deviceID, channel: channel}
	cutoff := at.Add(-rc.window)

	kept := rc.history[k][:0]
	for _, s := range rc.history[k] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, sample{at: at, count: count})
	rc.history[k] = kept

	if len(kept) < 2 {
		return 0, false
	}

	oldest, latest := kept[0], kept[len(kept)-1]
	elapsed := latest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0, false
	}

	var produced int64
	for i := 1; i < len(kept); i++ {
		produced += Delta(kept[i-1].count, kept[i].count)
	}
	return float64(produced) / elapsed, true
}

// Reset forgets the history of one channel.
func (rc *RateCalculator) Reset(deviceID string, channel int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.history, channelKey{device: deviceID, channel: channel})
}

// DeriveRates fills in the rate of readings that arrived without one, from
// the cumulative counts of a single channel ordered oldest first. known[i]
// reports whether readings[i] carried its own rate. A reading whose window
// holds no earlier sample falls back to the step from its predecessor; one
// with no predecessor at all keeps a zero rate.
func DeriveRates(readings []Reading, known []bool, window time.Duration) {
	rc := NewRateCalculator(window)
	for i := range readings {
		r := &readings[i]
		rate, ok := rc.Add(r.DeviceID, r.Channel, r.Timestamp, r.ProcessedValue)
		if known[i] {
			continue
		}
		if !ok && i > 0 {
			prev := readings[i-1]
			if elapsed := r.Timestamp.Sub(prev.Timestamp).Seconds(); elapsed > 0 {
				rate, ok = float64(Delta(prev.ProcessedValue, r.ProcessedValue))/elapsed, true
			}
		}
		if ok {
			r.Rate = rate
		}
	}
}
