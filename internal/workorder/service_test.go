package workorder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

// memoryRepo is a versioned in-memory repository. conflicts forces that
// many Save calls to fail with a version conflict.
type memoryRepo struct {
	mu        sync.Mutex
	orders    map[string]workorder.Snapshot
	conflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[string]workorder.Snapshot)}
}

func (r *memoryRepo) Create(_ context.Context, w *workorder.WorkOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[w.ID()]; ok {
		return errors.New().New(errors.ErrDuplicateWorkOrder)
	}
	w.SetVersion(1)
	r.orders[w.ID()] = w.Snapshot()
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*workorder.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.orders[id]
	if !ok {
		return nil, errors.New().New(errors.ErrWorkOrderNotFound)
	}
	return workorder.Restore(s), nil
}

func (r *memoryRepo) Save(_ context.Context, w *workorder.WorkOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return errors.New().New(errors.ErrVersionConflict)
	}
	stored, ok := r.orders[w.ID()]
	if !ok {
		return errors.New().New(errors.ErrWorkOrderNotFound)
	}
	if stored.Version != w.Version() {
		return errors.New().New(errors.ErrVersionConflict)
	}
	w.SetVersion(w.Version() + 1)
	r.orders[w.ID()] = w.Snapshot()
	return nil
}

func (r *memoryRepo) OpenForResource(_ context.Context, resource string) ([]*workorder.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*workorder.WorkOrder
	for _, s := range r.orders {
		if s.Resource == resource && s.Status.IsOpen() {
			out = append(out, workorder.Restore(s))
		}
	}
	return out, nil
}

func (r *memoryRepo) ListByStatus(_ context.Context, status workorder.Status) ([]*workorder.WorkOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*workorder.WorkOrder
	for _, s := range r.orders {
		if s.Status == status {
			out = append(out, workorder.Restore(s))
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(env events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
}

func (p *recordingPublisher) tags() []events.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Tag, 0, len(p.envs))
	for _, env := range p.envs {
		out = append(out, env.Tag)
	}
	return out
}

type completionRecorder struct {
	completed []workorder.Snapshot
}

func (c *completionRecorder) WorkOrderCompleted(_ context.Context, w workorder.Snapshot) error {
	c.completed = append(c.completed, w)
	return nil
}

func newService(repo *memoryRepo, pub events.Publisher, opts ...workorder.Option) *workorder.Service {
	clock := t0
	opts = append([]workorder.Option{workorder.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})}, opts...)
	return workorder.NewService(repo, pub, opts...)
}

func createOrder(t *testing.T, svc *workorder.Service, id, resource string) {
	t.Helper()
	_, err := svc.Create(context.Background(), workorder.Params{
		ID: id, ProductID: "BRK-100", PlannedQuantity: 100, Resource: resource,
	})
	require.NoError(t, err)
}

func TestServiceOneOpenOrderPerResource(t *testing.T) {
	ctx := context.Background()
	svc := newService(newMemoryRepo(), nil)

	createOrder(t, svc, "WO-1", "press-01")
	createOrder(t, svc, "WO-2", "press-01")
	createOrder(t, svc, "WO-3", "press-02")

	_, err := svc.Start(ctx, "WO-1")
	require.NoError(t, err)

	_, err = svc.Start(ctx, "WO-2")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrResourceBusy))

	_, err = svc.Pause(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "WO-2")
	assert.True(t, errors.HasCode(err, errors.ErrResourceBusy), "paused orders still hold the resource")

	_, err = svc.Start(ctx, "WO-3")
	require.NoError(t, err, "other resources are independent")

	_, err = svc.Complete(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "WO-2")
	require.NoError(t, err)
}

func TestServicePublishesTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := newService(newMemoryRepo(), pub)

	createOrder(t, svc, "WO-1", "press-01")
	_, err := svc.Start(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.Pause(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.Resume(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "WO-1", "material shortage")
	require.NoError(t, err)

	assert.Equal(t, []events.Tag{
		events.WorkOrderStarted,
		events.WorkOrderPaused,
		events.WorkOrderResumed,
		events.WorkOrderCancelled,
	}, pub.tags())

	last := pub.envs[len(pub.envs)-1].Payload.(workorder.Transition)
	assert.Equal(t, "material shortage", last.WorkOrder.CancelReason)
	assert.Equal(t, 5, last.WorkOrder.Version)
}

func TestServiceRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newService(repo, nil, workorder.WithMaxRetries(3))
	createOrder(t, svc, "WO-1", "press-01")

	repo.conflicts = 2
	w, err := svc.Start(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusActive, w.Status())

	repo.conflicts = 10
	_, err = svc.Pause(ctx, "WO-1")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	stored, err := svc.Get(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusActive, stored.Status(), "failed write leaves no partial state")
}

func TestServiceReconcileCounts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newService(repo, nil)

	w, err := svc.ReconcileCounts(ctx, "press-01", 10, 0)
	require.NoError(t, err)
	assert.Nil(t, w, "no open order is not an error")

	createOrder(t, svc, "WO-1", "press-01")
	_, err = svc.Start(ctx, "WO-1")
	require.NoError(t, err)

	w, err = svc.ReconcileCounts(ctx, "press-01", 40, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), w.GoodQuantity())
	version := w.Version()

	w, err = svc.ReconcileCounts(ctx, "press-01", 40, 1)
	require.NoError(t, err)
	assert.Equal(t, version, w.Version(), "identical counts are not rewritten")

	_, err = svc.ReconcileCounts(ctx, "press-01", 39, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCountDecreased))
}

func TestServiceNotifiesCompletionObservers(t *testing.T) {
	ctx := context.Background()
	rec := &completionRecorder{}
	svc := newService(newMemoryRepo(), nil, workorder.WithCompletionObserver(rec))

	createOrder(t, svc, "WO-1", "press-01")
	_, err := svc.Start(ctx, "WO-1")
	require.NoError(t, err)
	_, err = svc.ReconcileCounts(ctx, "press-01", 90, 3)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "WO-1")
	require.NoError(t, err)

	require.Len(t, rec.completed, 1)
	assert.Equal(t, int64(90), rec.completed[0].GoodQuantity)
	assert.Equal(t, workorder.StatusCompleted, rec.completed[0].Status)
}

func TestServiceActiveForUnknownResource(t *testing.T) {
	svc := newService(newMemoryRepo(), nil)
	_, err := svc.ActiveFor(context.Background(), "press-99")
	assert.True(t, errors.IsNotFound(err))
}
