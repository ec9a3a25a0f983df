package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is used when a non-positive size is configured.
const DefaultQueueSize = 256

// Queue is a bounded outbound channel. Publish never blocks: when the buffer
// is full the envelope is dropped and counted.
type Queue struct {
	ch      chan Envelope
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan Envelope, size),
		done: make(chan struct{}),
	}
}

func (q *Queue) Publish(env Envelope) {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return
	default:
	}

	select {
	case q.ch <- env:
	default:
		q.dropped.Add(1)
		log.Warn().
			Str("event", string(env.Tag)).
			Str("eventId", env.ID).
			Msg("Outbound event queue full, dropping event")
	}
}

// Dropped returns how many envelopes were discarded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Len returns the number of envelopes waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting envelopes. Run drains what is buffered and returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Run drains the queue into the registry until ctx is cancelled or the
// queue is closed and empty.
func (q *Queue) Run(ctx context.Context, registry *Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.ch:
			registry.Dispatch(ctx, env)
		case <-q.done:
			for {
				select {
				case env := <-q.ch:
					registry.Dispatch(ctx, env)
				default:
					return
				}
			}
		}
	}
}
