package stoppage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

// DefaultMaxRetries bounds optimistic-concurrency retries.
const DefaultMaxRetries = 3

// ClassifyRequest is an operator's reason selection.
type ClassifyRequest struct {
	ID       string
	Category string
	Subcode  int
	Comment  string
	Operator string
}

// ManualStoppage is a stoppage recorded by an operator.
type ManualStoppage struct {
	DeviceID    string
	WorkOrderID string
	Start       time.Time
	End         time.Time
}

// Service persists detected stoppages and runs the classification workflow
// for stoppages and job-completion issues.
type Service struct {
	taxonomy   *Taxonomy
	events     Repository
	issues     JobIssueRepository
	publisher  events.Publisher
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

func NewService(taxonomy *Taxonomy, eventRepo Repository, issueRepo JobIssueRepository, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	s := &Service{
		taxonomy:   taxonomy,
		events:     eventRepo,
		issues:     issueRepo,
		publisher:  publisher,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Taxonomy() *Taxonomy {
	return s.taxonomy
}

// OpenFor returns the device's ongoing stoppage, or nil.
func (s *Service) OpenFor(ctx context.Context, deviceID string) (*Event, error) {
	return s.events.OpenForDevice(ctx, deviceID)
}

func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	return s.events.Get(ctx, id)
}

// OpenDetected records an auto-detected, unclassified stoppage.
func (s *Service) OpenDetected(ctx context.Context, deviceID, workOrderID string, start time.Time, thresholdMinutes float64) (*Event, error) {
	e := &Event{
		ID:                      uuid.NewString(),
		DeviceID:                deviceID,
		WorkOrderID:             workOrderID,
		StartTime:               start.UTC(),
		Detection:               DetectionAuto,
		MinimumThresholdMinutes: thresholdMinutes,
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.NewEnvelope(events.StoppageOpened, s.now(), *e))
	log.Info().
		Str("device", deviceID).
		Str("stoppage", e.ID).
		Time("start", e.StartTime).
		Msg("Stoppage opened")
	return e, nil
}

// CloseDetected ends an open stoppage when production resumes.
// Closing an already closed event is a no-op.
func (s *Service) CloseDetected(ctx context.Context, id string, end time.Time) (*Event, error) {
	var changed bool
	e, err := s.mutateEvent(ctx, id, func(e *Event) (bool, error) {
		if !e.IsOpen() {
			return false, nil
		}
		changed = true
		return true, e.Close(end)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return e, nil
	}

	s.publisher.Publish(events.NewEnvelope(events.StoppageClosed, s.now(), *e))
	log.Info().
		Str("device", e.DeviceID).
		Str("stoppage", e.ID).
		Dur("duration", e.Duration(end)).
		Msg("Stoppage closed")
	return e, nil
}

// RecordManual stores a closed stoppage entered by an operator.
func (s *Service) RecordManual(ctx context.Context, m ManualStoppage) (*Event, error) {
	if m.End.IsZero() {
		return nil, errors.New().WithMessage(errors.ErrMissingField, "manual stoppage end time is required")
	}
	e := &Event{
		ID:          uuid.NewString(),
		DeviceID:    m.DeviceID,
		WorkOrderID: m.WorkOrderID,
		StartTime:   m.Start.UTC(),
		Detection:   DetectionManual,
	}
	if err := e.Close(m.End); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.NewEnvelope(events.StoppageOpened, s.now(), *e))
	s.publisher.Publish(events.NewEnvelope(events.StoppageClosed, s.now(), *e))
	return e, nil
}

// Classify attaches a reason to a stoppage. Repeating an identical request
// is a no-op; a different reason for a classified stoppage is rejected.
func (s *Service) Classify(ctx context.Context, req ClassifyRequest) (*Event, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	var changed bool
	e, err := s.mutateEvent(ctx, req.ID, func(e *Event) (bool, error) {
		if e.Classification != nil {
			if e.Classification.sameReason(req.Category, req.Subcode, req.Comment, req.Operator) {
				return false, nil
			}
			return false, errors.New().WithData(errors.ErrAlreadyClassified, e.ID)
		}
		e.Classification = &Classification{
			Category:     req.Category,
			Subcode:      req.Subcode,
			Comment:      req.Comment,
			ClassifiedBy: req.Operator,
			ClassifiedAt: s.now().UTC(),
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publisher.Publish(events.NewEnvelope(events.StoppageClassified, s.now(), *e))
		log.Info().
			Str("stoppage", e.ID).
			Str("category", req.Category).
			Int("subcode", req.Subcode).
			Str("operator", req.Operator).
			Msg("Stoppage classified")
	}
	return e, nil
}

// Unclassified returns stoppages still awaiting a reason that started more
// than olderThan ago.
func (s *Service) Unclassified(ctx context.Context, olderThan time.Duration) ([]*Event, error) {
	return s.events.ListUnclassified(ctx, s.now().Add(-olderThan))
}

// Overlapping returns a device's stoppages overlapping [from, to).
func (s *Service) Overlapping(ctx context.Context, deviceID string, from, to time.Time) ([]*Event, error) {
	return s.events.ListOverlapping(ctx, deviceID, from, to)
}

// WorkOrderCompleted opens a job issue when the good quantity of a
// completed order differs from plan.
func (s *Service) WorkOrderCompleted(ctx context.Context, w workorder.Snapshot) error {
	if w.GoodQuantity == w.PlannedQuantity {
		return nil
	}

	kind := IssueUnderProduction
	if w.GoodQuantity > w.PlannedQuantity {
		kind = IssueOverProduction
	}
	j := &JobIssue{
		ID:              uuid.NewString(),
		WorkOrderID:     w.ID,
		DeviceID:        w.Resource,
		Kind:            kind,
		PlannedQuantity: w.PlannedQuantity,
		ActualQuantity:  w.GoodQuantity,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.issues.Create(ctx, j); err != nil {
		return err
	}

	s.publisher.Publish(events.NewEnvelope(events.JobIssueOpened, j.CreatedAt, *j))
	log.Info().
		Str("workOrder", w.ID).
		Str("kind", string(kind)).
		Int64("variance", j.Variance()).
		Msg("Job completion issue opened")
	return nil
}

func (s *Service) JobIssues(ctx context.Context, workOrderID string) ([]*JobIssue, error) {
	return s.issues.ListByWorkOrder(ctx, workOrderID)
}

func (s *Service) UnresolvedJobIssues(ctx context.Context) ([]*JobIssue, error) {
	return s.issues.ListUnresolved(ctx)
}

// ClassifyJobIssue attaches a reason to a job issue with the same
// idempotency rules as Classify.
func (s *Service) ClassifyJobIssue(ctx context.Context, req ClassifyRequest) (*JobIssue, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	var changed bool
	j, err := s.mutateIssue(ctx, req.ID, func(j *JobIssue) (bool, error) {
		if j.Classification != nil {
			if j.Classification.sameReason(req.Category, req.Subcode, req.Comment, req.Operator) {
				return false, nil
			}
			return false, errors.New().WithData(errors.ErrAlreadyClassified, j.ID)
		}
		j.Classification = &Classification{
			Category:     req.Category,
			Subcode:      req.Subcode,
			Comment:      req.Comment,
			ClassifiedBy: req.Operator,
			ClassifiedAt: s.now().UTC(),
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publisher.Publish(events.NewEnvelope(events.JobIssueClassified, s.now(), *j))
	}
	return j, nil
}

// ResolveJobIssue closes a classified job issue. Resolving twice is a no-op.
func (s *Service) ResolveJobIssue(ctx context.Context, id, operator string) (*JobIssue, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, errors.New().WithMessage(errors.ErrMissingField, "operator is required")
	}

	var changed bool
	j, err := s.mutateIssue(ctx, id, func(j *JobIssue) (bool, error) {
		if j.IsResolved() {
			return false, nil
		}
		if !j.IsClassified() {
			return false, errors.New().WithData(errors.ErrNotClassified, j.ID)
		}
		now := s.now().UTC()
		j.ResolvedAt = &now
		j.ResolvedBy = operator
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publisher.Publish(events.NewEnvelope(events.JobIssueResolved, s.now(), *j))
	}
	return j, nil
}

func (s *Service) validateRequest(req ClassifyRequest) error {
	errFactory := errors.New()

	if req.ID == "" {
		return errFactory.WithMessage(errors.ErrMissingField, "id is required")
	}
	if req.Category == "" || req.Subcode == 0 || strings.TrimSpace(req.Operator) == "" {
		return errFactory.New(errors.ErrIncompleteClassifying)
	}
	return s.taxonomy.Validate(req.Category, req.Subcode)
}

// mutateEvent loads, applies fn and saves with bounded conflict retries. fn
// reports whether it changed the event.
func (s *Service) mutateEvent(ctx context.Context, id string, fn func(e *Event) (bool, error)) (*Event, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, err := s.events.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(e)
		if err != nil {
			return nil, err
		}
		if !changed {
			return e, nil
		}

		err = s.events.Save(ctx, e)
		if errors.IsConflict(err) {
			lastErr = err
			log.Debug().Str("stoppage", id).Int("attempt", attempt+1).Msg("Stoppage version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, errors.New().Wrap(errors.ErrVersionConflict, lastErr).
		WithMessage("stoppage " + id + " modified concurrently, retries exhausted")
}

func (s *Service) mutateIssue(ctx context.Context, id string, fn func(j *JobIssue) (bool, error)) (*JobIssue, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j, err := s.issues.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(j)
		if err != nil {
			return nil, err
		}
		if !changed {
			return j, nil
		}

		err = s.issues.Save(ctx, j)
		if errors.IsConflict(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, errors.New().Wrap(errors.ErrVersionConflict, lastErr).
		WithMessage("job issue " + id + " modified concurrently, retries exhausted")
}
