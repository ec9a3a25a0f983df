package metrics

import (
	"context"
	"sync"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Cache keeps the latest result per device.
type Cache interface {
	Put(ctx context.Context, r Result) error
	Get(ctx context.Context, device string) (*Result, error)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	results map[string]Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[string]Result)}
}

func (m *MemoryCache) Put(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.Device] = r
	return nil
}

func (m *MemoryCache) Get(_ context.Context, device string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[device]
	if !ok {
		return nil, errors.New().WithData(errors.ErrDeviceNotFound, device)
	}
	return &r, nil
}
