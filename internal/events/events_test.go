package events_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

type stopPayload struct {
	DeviceID string
}

func TestDispatchRunsAllHandlersInOrder(t *testing.T) {
	reg := events.NewRegistry()
	var calls []string

	events.On(reg, events.StoppageOpened, "first", func(_ context.Context, p stopPayload) error {
		calls = append(calls, "first:"+p.DeviceID)
		return nil
	})
	events.On(reg, events.StoppageOpened, "failing", func(_ context.Context, p stopPayload) error {
		calls = append(calls, "failing")
		return fmt.Errorf("webhook down")
	})
	events.On(reg, events.StoppageOpened, "panicking", func(_ context.Context, p stopPayload) error {
		calls = append(calls, "panicking")
		panic("boom")
	})
	events.On(reg, events.StoppageOpened, "last", func(_ context.Context, p stopPayload) error {
		calls = append(calls, "last")
		return nil
	})

	failures := reg.Dispatch(context.Background(), events.NewEnvelope(events.StoppageOpened, time.Now(), stopPayload{DeviceID: "press-01"}))

	assert.Equal(t, []string{"first:press-01", "failing", "panicking", "last"}, calls)
	require.Len(t, failures, 2)
	assert.Equal(t, "failing", failures[0].Handler)
	assert.Equal(t, "panicking", failures[1].Handler)
}

func TestTypedHandlerRejectsWrongPayload(t *testing.T) {
	reg := events.NewRegistry()
	events.On(reg, events.StoppageClosed, "typed", func(_ context.Context, p stopPayload) error {
		return nil
	})

	failures := reg.Dispatch(context.Background(), events.NewEnvelope(events.StoppageClosed, time.Now(), "not a payload"))
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "unexpected payload")
}

func TestDispatchWithoutHandlers(t *testing.T) {
	reg := events.NewRegistry()
	assert.Empty(t, reg.Dispatch(context.Background(), events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil)))
	assert.Equal(t, 0, reg.HandlerCount(events.WorkOrderStarted))
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := events.NewQueue(2)
	for i := 0; i < 5; i++ {
		q.Publish(events.NewEnvelope(events.StoppageOpened, time.Now(), nil))
	}

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(3), q.Dropped())
}

func TestQueueRunDrainsOnClose(t *testing.T) {
	reg := events.NewRegistry()
	var mu sync.Mutex
	var seen []events.Tag
	reg.Handle(events.WorkOrderStarted, "recorder", func(_ context.Context, env events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, env.Tag)
		return nil
	})

	q := events.NewQueue(10)
	q.Publish(events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))
	q.Publish(events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))
	q.Close()
	q.Publish(events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))

	done := make(chan struct{})
	go func() {
		q.Run(context.Background(), reg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
	assert.Equal(t, int64(1), q.Dropped())
}
