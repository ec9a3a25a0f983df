// Package counter reads the immutable per-device counter stream.
package counter

import (
	"context"
	"time"
)

// Conventional channel assignment; DeviceConfiguration may override it.
const (
	ChannelProduction = 0
	ChannelReject     = 1
)

// Reading is one row of counter data. Rate is in units per second;
// ProcessedValue is the cumulative count.
type Reading struct {
	Timestamp      time.Time `json:"timestamp"`
	DeviceID       string    `json:"deviceId"`
	Channel        int       `json:"channel"`
	Rate           float64   `json:"rate"`
	ProcessedValue int64     `json:"processedValue"`
	Quality        string    `json:"quality,omitempty"`
}

// Source is the read-only counter store.
type Source interface {
	// Range returns readings with from <= timestamp < to, oldest first.
	Range(ctx context.Context, deviceID string, channel int, from, to time.Time) ([]Reading, error)
	// Latest returns the newest reading, or nil when the channel has none.
	Latest(ctx context.Context, deviceID string, channel int) (*Reading, error)
}

const counterRange int64 = 1 << 32

// Delta returns the increase of a cumulative count between two readings.
// A drop of more than half the 32-bit range is a rollover; a smaller drop is
// a counter reset, after which last is the count since the reset.
func Delta(first, last int64) int64 {
	d := last - first
	if d >= 0 {
		return d
	}
	if first-last > counterRange/2 {
		return d + counterRange
	}
	return last
}

// Produced returns the count increase across readings (oldest first).
func Produced(readings []Reading) int64 {
	var total int64
	for i := 1; i < len(readings); i++ {
		total += Delta(readings[i-1].ProcessedValue, readings[i].ProcessedValue)
	}
	return total
}
