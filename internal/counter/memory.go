package counter

import (
	"context"
	"sort"
	"sync"
	"time"
)

type channelKey struct {
	device  string
	channel int
}

// MemorySource keeps readings in memory. It backs tests and the simulator.
type MemorySource struct {
	mu       sync.RWMutex
	readings map[channelKey][]Reading
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		readings: make(map[channelKey][]Reading),
	}
}

// Append stores readings, keeping each channel ordered by timestamp.
func (m *MemorySource) Append(readings ...Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[channelKey]struct{})
	for _, r := range readings {
		k := channelKey{device: r.DeviceID, channel: r.Channel}
		m.readings[k] = append(m.readings[k], r)
		touched[k] = struct{}{}
	}
	for k := range touched {
		rs := m.readings[k]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })
	}
}

// Prune drops readings older than cutoff.
func (m *MemorySource) Prune(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, rs := range m.readings {
		i := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(cutoff) })
		m.readings[k] = append([]Reading(nil), rs[i:]...)
	}
}

func (m *MemorySource) Range(ctx context.Context, deviceID string, channel int, from, to time.Time) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.readings[channelKey{device: deviceID, channel: channel}]
	lo := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(from) })
	hi := sort.Search(len(rs), func(i int) bool { return !rs[i].Timestamp.Before(to) })
	if lo >= hi {
		return nil, nil
	}
	return append([]Reading(nil), rs[lo:hi]...), nil
}

func (m *MemorySource) Latest(ctx context.Context, deviceID string, channel int) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.readings[channelKey{device: deviceID, channel: channel}]
	if len(rs) == 0 {
		return nil, nil
	}
	r := rs[len(rs)-1]
	return &r, nil
}
