package workorder

import (
	"strings"
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

// Params describes a new work order.
type Params struct {
	ID                 string
	ProductID          string
	ProductDescription string
	PlannedQuantity    int64
	UnitOfMeasure      string
	ScheduledStart     time.Time
	ScheduledEnd       time.Time
	Resource           string
}

// Snapshot is the persisted and published view of a work order.
type Snapshot struct {
	ID                 string     `json:"id"`
	ProductID          string     `json:"productId"`
	ProductDescription string     `json:"productDescription"`
	PlannedQuantity    int64      `json:"plannedQuantity"`
	UnitOfMeasure      string     `json:"unitOfMeasure"`
	ScheduledStart     time.Time  `json:"scheduledStart"`
	ScheduledEnd       time.Time  `json:"scheduledEnd"`
	Resource           string     `json:"resource"`
	Status             Status     `json:"status"`
	GoodQuantity       int64      `json:"goodQuantity"`
	ScrapQuantity      int64      `json:"scrapQuantity"`
	ActualStart        *time.Time `json:"actualStart,omitempty"`
	ActualEnd          *time.Time `json:"actualEnd,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	Version            int        `json:"version"`
}

// Transition is a domain event raised by an accepted state change.
type Transition struct {
	WorkOrder Snapshot  `json:"workOrder"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}

// Tag maps the transition to its outbound event variant.
func (t Transition) Tag() events.Tag {
	switch {
	case t.To == StatusActive && t.From == StatusPending:
		return events.WorkOrderStarted
	case t.To == StatusActive:
		return events.WorkOrderResumed
	case t.To == StatusPaused:
		return events.WorkOrderPaused
	case t.To == StatusCompleted:
		return events.WorkOrderCompleted
	default:
		return events.WorkOrderCancelled
	}
}

// WorkOrder is a planned or running production job on one resource.
type WorkOrder struct {
	s       Snapshot
	pending []Transition
	dirty   bool
}

// New validates params and returns a Pending work order.
func New(p Params) (*WorkOrder, error) {
	errFactory := errors.New()

	if strings.TrimSpace(p.ID) == "" {
		return nil, errFactory.WithMessage(errors.ErrMissingField, "work order id is required")
	}
	if strings.TrimSpace(p.Resource) == "" {
		return nil, errFactory.WithMessage(errors.ErrMissingField, "resource reference is required")
	}
	if p.PlannedQuantity < 0 {
		return nil, errFactory.WithMessage(errors.ErrNegativeValue, "planned quantity cannot be negative")
	}
	if !p.ScheduledStart.IsZero() && !p.ScheduledEnd.IsZero() && p.ScheduledEnd.Before(p.ScheduledStart) {
		return nil, errFactory.WithMessage(errors.ErrInvalidPeriod, "scheduled end cannot be before scheduled start")
	}

	return &WorkOrder{s: Snapshot{
		ID:                 p.ID,
		ProductID:          p.ProductID,
		ProductDescription: p.ProductDescription,
		PlannedQuantity:    p.PlannedQuantity,
		UnitOfMeasure:      p.UnitOfMeasure,
		ScheduledStart:     p.ScheduledStart,
		ScheduledEnd:       p.ScheduledEnd,
		Resource:           p.Resource,
		Status:             StatusPending,
	}}, nil
}

// Restore rebuilds a work order from storage.
func Restore(s Snapshot) *WorkOrder {
	return &WorkOrder{s: s}
}

func (w *WorkOrder) Snapshot() Snapshot {
	s := w.s
	if w.s.ActualStart != nil {
		t := *w.s.ActualStart
		s.ActualStart = &t
	}
	if w.s.ActualEnd != nil {
		t := *w.s.ActualEnd
		s.ActualEnd = &t
	}
	return s
}

func (w *WorkOrder) ID() string             { return w.s.ID }
func (w *WorkOrder) Resource() string       { return w.s.Resource }
func (w *WorkOrder) Status() Status         { return w.s.Status }
func (w *WorkOrder) PlannedQuantity() int64 { return w.s.PlannedQuantity }
func (w *WorkOrder) GoodQuantity() int64    { return w.s.GoodQuantity }
func (w *WorkOrder) ScrapQuantity() int64   { return w.s.ScrapQuantity }
func (w *WorkOrder) Version() int           { return w.s.Version }

func (w *WorkOrder) ActualStart() (time.Time, bool) {
	if w.s.ActualStart == nil {
		return time.Time{}, false
	}
	return *w.s.ActualStart, true
}

func (w *WorkOrder) ActualEnd() (time.Time, bool) {
	if w.s.ActualEnd == nil {
		return time.Time{}, false
	}
	return *w.s.ActualEnd, true
}

// SetVersion is called by repositories after a successful write.
func (w *WorkOrder) SetVersion(v int) {
	w.s.Version = v
}

func (w *WorkOrder) Start(now time.Time) error {
	if w.s.Status != StatusPending {
		return errors.StateTransition(w.s.Status.String(), "Start")
	}
	now = now.UTC()
	w.s.ActualStart = &now
	w.transitionTo(StatusActive, now)
	return nil
}

func (w *WorkOrder) Pause(now time.Time) error {
	if w.s.Status != StatusActive {
		return errors.StateTransition(w.s.Status.String(), "Pause")
	}
	w.transitionTo(StatusPaused, now.UTC())
	return nil
}

func (w *WorkOrder) Resume(now time.Time) error {
	if w.s.Status != StatusPaused {
		return errors.StateTransition(w.s.Status.String(), "Resume")
	}
	w.transitionTo(StatusActive, now.UTC())
	return nil
}

func (w *WorkOrder) Complete(now time.Time) error {
	if !w.s.Status.IsOpen() {
		return errors.StateTransition(w.s.Status.String(), "Complete")
	}
	now = now.UTC()
	if w.s.ActualStart != nil && now.Before(*w.s.ActualStart) {
		return errors.New().WithMessage(errors.ErrInvalidPeriod, "actual end cannot be before actual start")
	}
	w.s.ActualEnd = &now
	w.transitionTo(StatusCompleted, now)
	return nil
}

func (w *WorkOrder) Cancel(now time.Time, reason string) error {
	if w.s.Status.IsTerminal() {
		return errors.StateTransition(w.s.Status.String(), "Cancel")
	}
	now = now.UTC()
	if w.s.ActualStart != nil && !now.Before(*w.s.ActualStart) {
		w.s.ActualEnd = &now
	}
	w.s.CancelReason = reason
	w.transitionTo(StatusCancelled, now)
	return nil
}

// UpdateFromCounterData records cumulative good and scrap counts. Counts may
// only grow; repeating the current values is a no-op and reports false.
func (w *WorkOrder) UpdateFromCounterData(good, scrap int64) (bool, error) {
	errFactory := errors.New()

	if !w.s.Status.IsOpen() {
		return false, errors.StateTransition(w.s.Status.String(), "UpdateFromCounterData")
	}
	if good < 0 || scrap < 0 {
		return false, errFactory.WithMessage(errors.ErrNegativeValue, "counts cannot be negative")
	}
	if good < w.s.GoodQuantity || scrap < w.s.ScrapQuantity {
		return false, errFactory.WithData(errors.ErrCountDecreased, struct {
			Good, Scrap, PreviousGood, PreviousScrap int64
		}{good, scrap, w.s.GoodQuantity, w.s.ScrapQuantity})
	}
	if good == w.s.GoodQuantity && scrap == w.s.ScrapQuantity {
		return false, nil
	}

	w.s.GoodQuantity = good
	w.s.ScrapQuantity = scrap
	w.dirty = true
	return true, nil
}

// PullTransitions returns and clears the transitions raised since the last call.
func (w *WorkOrder) PullTransitions() []Transition {
	out := w.pending
	w.pending = nil
	return out
}

// Dirty reports whether the order changed since it was created or restored.
func (w *WorkOrder) Dirty() bool {
	return w.dirty
}

func (w *WorkOrder) transitionTo(to Status, at time.Time) {
	from := w.s.Status
	w.s.Status = to
	w.dirty = true
	w.pending = append(w.pending, Transition{
		WorkOrder: w.Snapshot(),
		From:      from,
		To:        to,
		At:        at,
	})
}
