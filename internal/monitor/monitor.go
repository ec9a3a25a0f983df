// Package monitor runs the per-device polling cycle: stoppage detection and
// counter reconciliation into the active work order.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/config"
	"github.com/sebastiankruger/shopfloor-oee/internal/counter"
	"github.com/sebastiankruger/shopfloor-oee/internal/metrics"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

// StoppageService is the part of stoppage.Service the monitor drives.
type StoppageService interface {
	OpenFor(ctx context.Context, deviceID string) (*stoppage.Event, error)
	OpenDetected(ctx context.Context, deviceID, workOrderID string, start time.Time, thresholdMinutes float64) (*stoppage.Event, error)
	CloseDetected(ctx context.Context, id string, end time.Time) (*stoppage.Event, error)
	Unclassified(ctx context.Context, olderThan time.Duration) ([]*stoppage.Event, error)
}

// WorkOrderService is the part of workorder.Service the monitor drives.
type WorkOrderService interface {
	ActiveFor(ctx context.Context, resource string) (*workorder.WorkOrder, error)
	ReconcileCounts(ctx context.Context, resource string, good, scrap int64) (*workorder.WorkOrder, error)
}

// Refresher recalculates the latest OEE of every device.
type Refresher interface {
	RefreshAll(ctx context.Context, period time.Duration) []metrics.Result
}

// StateObserver is told the outcome of every device check.
type StateObserver interface {
	DeviceChecked(s DeviceState)
}

// DeviceState is what one check learned about a device.
type DeviceState struct {
	Device        string
	CheckedAt     time.Time
	Stopped       bool
	StoppageStart *time.Time
	WorkOrderID   string
	GoodCount     int64
	ScrapCount    int64
}

// Monitor schedules device checks on a bounded worker pool. Checks of the
// same device never overlap, so its stoppage events stay ordered.
type Monitor struct {
	runtime   *config.Runtime
	counters  counter.Source
	stoppages StoppageService
	orders    WorkOrderService
	observers []StateObserver
	now       func() time.Time

	refresher       Refresher
	metricsInterval time.Duration
	metricsPeriod   time.Duration

	mu        sync.Mutex
	pool      *workerpool.WorkerPool
	poolSize  int
	inFlight  map[string]bool
	alerted   map[string]bool
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	lastCycle time.Time
}

type Option func(*Monitor)

func WithObserver(o StateObserver) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithMetrics refreshes the latest OEE every interval over the trailing
// period.
func WithMetrics(r Refresher, interval, period time.Duration) Option {
	return func(m *Monitor) {
		m.refresher = r
		m.metricsInterval = interval
		m.metricsPeriod = period
	}
}

func New(rt *config.Runtime, counters counter.Source, stoppages StoppageService, orders WorkOrderService, opts ...Option) *Monitor {
	m := &Monitor{
		runtime:   rt,
		counters:  counters,
		stoppages: stoppages,
		orders:    orders,
		now:       time.Now,
		inFlight:  make(map[string]bool),
		alerted:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true

	snap := m.runtime.Snapshot()
	m.pool = workerpool.New(snap.MaxConcurrentChecks)
	m.poolSize = snap.MaxConcurrentChecks

	go m.loop(ctx)

	log.Info().
		Int("devices", len(snap.Devices)).
		Int("workers", snap.MaxConcurrentChecks).
		Dur("interval", snap.Interval).
		Msg("Monitor started")
}

// Stop cancels the loop and waits for in-flight checks to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	pool := m.pool
	m.running = false
	m.mu.Unlock()

	pool.StopWait()
	log.Info().Msg("Monitor stopped")
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastCycle is when the loop last scheduled checks.
func (m *Monitor) LastCycle() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCycle
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	var lastMetrics time.Time
	for {
		snap := m.runtime.Snapshot()
		m.resizePool(snap.MaxConcurrentChecks)
		m.cycle(ctx, snap)

		if m.refresher != nil && m.metricsInterval > 0 && m.now().Sub(lastMetrics) >= m.metricsInterval {
			lastMetrics = m.now()
			m.submit(ctx, "metrics", m.metricsInterval, func(ctx context.Context) error {
				m.refresher.RefreshAll(ctx, m.metricsPeriod)
				return nil
			})
		}

		// The interval is re-read every cycle so reloads apply from the next one.
		interval := snap.Interval
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle submits one check per configured device and raises reminders for
// stoppages still waiting for a reason.
func (m *Monitor) cycle(ctx context.Context, snap config.RuntimeSnapshot) {
	m.mu.Lock()
	m.lastCycle = m.now()
	m.mu.Unlock()

	timeout := snap.DeviceCheckTimeout()
	for _, d := range snap.Devices {
		device := d.ID
		m.submit(ctx, device, timeout, func(ctx context.Context) error {
			return m.CheckDevice(ctx, device)
		})
	}

	if _, ok := reminderCutoff(snap); ok {
		m.submit(ctx, "classification-reminder", timeout, func(ctx context.Context) error {
			_, err := m.RemindUnclassified(ctx)
			return err
		})
	}
}

// submit queues fn unless a task with the same key is still running. fn is
// cancelled after timeout so one stuck device cannot hold a worker forever.
func (m *Monitor) submit(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) {
	m.mu.Lock()
	if m.inFlight[key] {
		m.mu.Unlock()
		log.Debug().Str("task", key).Msg("Previous check still running, skipping cycle")
		return
	}
	m.inFlight[key] = true
	pool := m.pool
	m.mu.Unlock()

	pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", key).Msg("Recovered from panic in device check")
			}
			m.mu.Lock()
			delete(m.inFlight, key)
			m.mu.Unlock()
		}()

		if ctx.Err() != nil {
			return
		}
		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			ev := log.Warn().Err(err).Str("task", key)
			if taskCtx.Err() == context.DeadlineExceeded {
				ev = ev.Dur("timeout", timeout)
			}
			ev.Msg("Device check failed, retrying next cycle")
		}
	})
}

func (m *Monitor) resizePool(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < 1 || size == m.poolSize {
		return
	}
	old := m.pool
	m.pool = workerpool.New(size)
	m.poolSize = size
	// The old pool drains in the background; its tasks still clear inFlight.
	go old.StopWait()

	log.Info().Int("workers", size).Msg("Monitor worker pool resized")
}

// RemindUnclassified warns once about every stoppage that has waited longer
// than its device's classification alert for a reason. It returns the
// stoppages reminded about in this call.
func (m *Monitor) RemindUnclassified(ctx context.Context) ([]*stoppage.Event, error) {
	snap := m.runtime.Snapshot()
	shortest, ok := reminderCutoff(snap)
	if !ok {
		return nil, nil
	}

	events, err := m.stoppages.Unclassified(ctx, shortest)
	if err != nil {
		return nil, err
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var reminded []*stoppage.Event
	for _, e := range events {
		if m.alerted[e.ID] {
			continue
		}
		alert := snap.ThresholdsFor(e.DeviceID).ClassificationAlertMinutes
		if alert <= 0 || now.Sub(e.StartTime) <= minutes(alert) {
			continue
		}
		m.alerted[e.ID] = true
		reminded = append(reminded, e)
		log.Warn().
			Str("device", e.DeviceID).
			Str("stoppage", e.ID).
			Time("start", e.StartTime).
			Float64("alertMinutes", alert).
			Msg("Stoppage still unclassified")
	}
	return reminded, nil
}

// reminderCutoff is the shortest classification alert across the defaults
// and the device overrides. ok is false when every alert is disabled.
func reminderCutoff(snap config.RuntimeSnapshot) (time.Duration, bool) {
	var shortest float64
	consider := func(alert float64) {
		if alert > 0 && (shortest == 0 || alert < shortest) {
			shortest = alert
		}
	}
	consider(snap.Defaults.ClassificationAlertMinutes)
	for _, d := range snap.Devices {
		consider(snap.ThresholdsFor(d.ID).ClassificationAlertMinutes)
	}
	return minutes(shortest), shortest > 0
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
