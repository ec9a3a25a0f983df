package workorder

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

// DefaultMaxRetries bounds optimistic-concurrency retries.
const DefaultMaxRetries = 3

// Service applies work order commands with the one-open-order-per-resource
// rule and optimistic concurrency.
type Service struct {
	repo       Repository
	publisher  events.Publisher
	observers  []CompletionObserver
	maxRetries int
	now        func() time.Time
}

type Option func(*Service)

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCompletionObserver(o CompletionObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

func NewService(repo Repository, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	s := &Service{
		repo:       repo,
		publisher:  publisher,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, p Params) (*WorkOrder, error) {
	w, err := New(p)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	log.Info().
		Str("workOrder", w.ID()).
		Str("resource", w.Resource()).
		Int64("plannedQty", w.PlannedQuantity()).
		Msg("Work order created")

	return w, nil
}

func (s *Service) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return s.repo.Get(ctx, id)
}

// ActiveFor returns the open (Active or Paused) order of a resource.
func (s *Service) ActiveFor(ctx context.Context, resource string) (*WorkOrder, error) {
	open, err := s.repo.OpenForResource(ctx, resource)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, errors.New().WithMessage(errors.ErrWorkOrderNotFound, "no active work order for "+resource)
	}
	return open[0], nil
}

func (s *Service) Start(ctx context.Context, id string) (*WorkOrder, error) {
	return s.mutate(ctx, id, func(w *WorkOrder, now time.Time) error {
		open, err := s.repo.OpenForResource(ctx, w.Resource())
		if err != nil {
			return err
		}
		for _, other := range open {
			if other.ID() != w.ID() {
				return errors.New().WithData(errors.ErrResourceBusy, struct {
					Resource, ActiveWorkOrder string
				}{w.Resource(), other.ID()})
			}
		}
		return w.Start(now)
	})
}

func (s *Service) Pause(ctx context.Context, id string) (*WorkOrder, error) {
	return s.mutate(ctx, id, func(w *WorkOrder, now time.Time) error {
		return w.Pause(now)
	})
}

func (s *Service) Resume(ctx context.Context, id string) (*WorkOrder, error) {
	return s.mutate(ctx, id, func(w *WorkOrder, now time.Time) error {
		return w.Resume(now)
	})
}

func (s *Service) Complete(ctx context.Context, id string) (*WorkOrder, error) {
	w, err := s.mutate(ctx, id, func(w *WorkOrder, now time.Time) error {
		return w.Complete(now)
	})
	if err != nil {
		return nil, err
	}

	for _, o := range s.observers {
		if err := o.WorkOrderCompleted(ctx, w.Snapshot()); err != nil {
			log.Warn().Err(err).Str("workOrder", id).Msg("Completion observer failed")
		}
	}
	return w, nil
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*WorkOrder, error) {
	return s.mutate(ctx, id, func(w *WorkOrder, now time.Time) error {
		return w.Cancel(now, reason)
	})
}

// ReconcileCounts writes cumulative counts into the open order of resource.
// It returns nil without error when the resource has no open order.
func (s *Service) ReconcileCounts(ctx context.Context, resource string, good, scrap int64) (*WorkOrder, error) {
	active, err := s.ActiveFor(ctx, resource)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var changed bool
	w, err := s.mutate(ctx, active.ID(), func(w *WorkOrder, _ time.Time) error {
		var err error
		changed, err = w.UpdateFromCounterData(good, scrap)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log.Debug().
			Str("workOrder", w.ID()).
			Int64("good", good).
			Int64("scrap", scrap).
			Msg("Work order counts reconciled")
	}
	return w, nil
}

// mutate loads, applies fn and saves, retrying on version conflicts.
func (s *Service) mutate(ctx context.Context, id string, fn func(w *WorkOrder, now time.Time) error) (*WorkOrder, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		w, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(w, s.now()); err != nil {
			return nil, err
		}
		if !w.Dirty() {
			return w, nil
		}
		transitions := w.PullTransitions()

		err = s.repo.Save(ctx, w)
		if errors.IsConflict(err) {
			lastErr = err
			log.Debug().
				Str("workOrder", id).
				Int("attempt", attempt+1).
				Msg("Work order version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, t := range transitions {
			t.WorkOrder.Version = w.Version()
			s.publisher.Publish(events.NewEnvelope(t.Tag(), t.At, t))
			log.Info().
				Str("workOrder", id).
				Str("resource", w.Resource()).
				Str("from", t.From.String()).
				Str("to", t.To.String()).
				Msg("Work order state changed")
		}
		return w, nil
	}

	return nil, errors.New().Wrap(errors.ErrVersionConflict, lastErr).
		WithMessage("work order " + id + " modified concurrently, retries exhausted")
}
