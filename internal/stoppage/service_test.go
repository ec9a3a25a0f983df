package stoppage_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

type eventRepo struct {
	mu        sync.Mutex
	rows      map[string]stoppage.Event
	conflicts int
	// beforeSave runs inside Save before the version check, simulating a
	// concurrent writer.
	beforeSave func(r *eventRepo)
}

func newEventRepo() *eventRepo {
	return &eventRepo{rows: make(map[string]stoppage.Event)}
}

func clone(e stoppage.Event) *stoppage.Event {
	if e.EndTime != nil {
		end := *e.EndTime
		e.EndTime = &end
	}
	if e.Classification != nil {
		c := *e.Classification
		e.Classification = &c
	}
	return &e
}

func (r *eventRepo) Create(_ context.Context, e *stoppage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := e.Validate(); err != nil {
		return err
	}
	e.Version = 1
	r.rows[e.ID] = *clone(*e)
	return nil
}

func (r *eventRepo) Get(_ context.Context, id string) (*stoppage.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, errors.New().New(errors.ErrStoppageNotFound)
	}
	return clone(e), nil
}

func (r *eventRepo) Save(_ context.Context, e *stoppage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hook := r.beforeSave; hook != nil {
		r.beforeSave = nil
		hook(r)
	}
	if r.conflicts > 0 {
		r.conflicts--
		return errors.New().New(errors.ErrVersionConflict)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if r.rows[e.ID].Version != e.Version {
		return errors.New().New(errors.ErrVersionConflict)
	}
	e.Version++
	r.rows[e.ID] = *clone(*e)
	return nil
}

func (r *eventRepo) OpenForDevice(_ context.Context, deviceID string) (*stoppage.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.DeviceID == deviceID && e.EndTime == nil {
			return clone(e), nil
		}
	}
	return nil, nil
}

func (r *eventRepo) ListUnclassified(_ context.Context, startedBefore time.Time) ([]*stoppage.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stoppage.Event
	for _, e := range r.rows {
		if e.Classification == nil && e.StartTime.Before(startedBefore) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *eventRepo) ListOverlapping(_ context.Context, deviceID string, from, to time.Time) ([]*stoppage.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stoppage.Event
	for _, e := range r.rows {
		if e.DeviceID == deviceID && e.Overlap(from, to) > 0 {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

type issueRepo struct {
	mu   sync.Mutex
	rows map[string]stoppage.JobIssue
}

func newIssueRepo() *issueRepo {
	return &issueRepo{rows: make(map[string]stoppage.JobIssue)}
}

func (r *issueRepo) Create(_ context.Context, j *stoppage.JobIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.Version = 1
	r.rows[j.ID] = *j
	return nil
}

func (r *issueRepo) Get(_ context.Context, id string) (*stoppage.JobIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[id]
	if !ok {
		return nil, errors.New().New(errors.ErrJobIssueNotFound)
	}
	return &j, nil
}

func (r *issueRepo) Save(_ context.Context, j *stoppage.JobIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := j.Validate(); err != nil {
		return err
	}
	if r.rows[j.ID].Version != j.Version {
		return errors.New().New(errors.ErrVersionConflict)
	}
	j.Version++
	r.rows[j.ID] = *j
	return nil
}

func (r *issueRepo) ListByWorkOrder(_ context.Context, workOrderID string) ([]*stoppage.JobIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stoppage.JobIssue
	for _, j := range r.rows {
		if j.WorkOrderID == workOrderID {
			j := j
			out = append(out, &j)
		}
	}
	return out, nil
}

func (r *issueRepo) ListUnresolved(_ context.Context) ([]*stoppage.JobIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stoppage.JobIssue
	for _, j := range r.rows {
		if j.ResolvedAt == nil {
			j := j
			out = append(out, &j)
		}
	}
	return out, nil
}

type tagRecorder struct {
	mu   sync.Mutex
	tags []events.Tag
}

func (p *tagRecorder) Publish(env events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, env.Tag)
}

type fixture struct {
	svc    *stoppage.Service
	events *eventRepo
	issues *issueRepo
	pub    *tagRecorder
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{events: newEventRepo(), issues: newIssueRepo(), pub: &tagRecorder{}, now: t0.Add(time.Hour)}
	f.svc = stoppage.NewService(stoppage.DefaultTaxonomy(), f.events, f.issues, f.pub,
		stoppage.WithClock(func() time.Time { return f.now }))
	return f
}

func TestOpenAndCloseDetected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	e, err := f.svc.OpenDetected(ctx, "press-01", "WO-1", t0, 5)
	require.NoError(t, err)
	assert.Equal(t, stoppage.DetectionAuto, e.Detection)
	assert.False(t, e.IsClassified())

	open, err := f.svc.OpenFor(ctx, "press-01")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, e.ID, open.ID)

	closed, err := f.svc.CloseDetected(ctx, e.ID, t0.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 12*time.Minute, closed.Duration(f.now))

	_, err = f.svc.CloseDetected(ctx, e.ID, t0.Add(20*time.Minute))
	require.NoError(t, err, "closing twice is a no-op")

	open, err = f.svc.OpenFor(ctx, "press-01")
	require.NoError(t, err)
	assert.Nil(t, open)

	assert.Equal(t, []events.Tag{events.StoppageOpened, events.StoppageClosed}, f.pub.tags)
}

func TestClassifyRequiresCategoryAndSubcode(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e, err := f.svc.OpenDetected(ctx, "press-01", "", t0, 5)
	require.NoError(t, err)

	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Category: "A1", Operator: "op-7"})
	assert.True(t, errors.HasCode(err, errors.ErrIncompleteClassifying))

	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Subcode: 2, Operator: "op-7"})
	assert.True(t, errors.HasCode(err, errors.ErrIncompleteClassifying))

	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Category: "A1", Subcode: 2})
	assert.True(t, errors.HasCode(err, errors.ErrIncompleteClassifying))

	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Category: "Z9", Subcode: 2, Operator: "op-7"})
	assert.True(t, errors.HasCode(err, errors.ErrUnknownReason))

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClassified())
}

func TestClassifyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e, err := f.svc.OpenDetected(ctx, "press-01", "", t0, 5)
	require.NoError(t, err)

	req := stoppage.ClassifyRequest{ID: e.ID, Category: "A1", Subcode: 6, Comment: "jam at infeed", Operator: "op-7"}
	first, err := f.svc.Classify(ctx, req)
	require.NoError(t, err)
	require.True(t, first.IsClassified())
	assert.Equal(t, "op-7", first.Classification.ClassifiedBy)
	assert.Equal(t, f.now, first.Classification.ClassifiedAt)

	f.now = f.now.Add(time.Minute)
	second, err := f.svc.Classify(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Classification.ClassifiedAt, second.Classification.ClassifiedAt)

	req.Subcode = 7
	_, err = f.svc.Classify(ctx, req)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyClassified))

	count := 0
	for _, tag := range f.pub.tags {
		if tag == events.StoppageClassified {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestClassifyRetriesAfterConcurrentClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e, err := f.svc.OpenDetected(ctx, "press-01", "", t0, 5)
	require.NoError(t, err)

	// The detector closes the event between the classifier's read and write.
	f.events.beforeSave = func(r *eventRepo) {
		row := r.rows[e.ID]
		end := t0.Add(10 * time.Minute)
		row.EndTime = &end
		row.Version++
		r.rows[e.ID] = row
	}

	got, err := f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Category: "B1", Subcode: 1, Operator: "op-7"})
	require.NoError(t, err)
	assert.True(t, got.IsClassified())
	require.NotNil(t, got.EndTime, "the concurrent close is kept")
	assert.Equal(t, t0.Add(10*time.Minute), *got.EndTime)
}

func TestClassifyConflictExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e, err := f.svc.OpenDetected(ctx, "press-01", "", t0, 5)
	require.NoError(t, err)

	f.events.conflicts = 100
	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: e.ID, Category: "B1", Subcode: 1, Operator: "op-7"})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	f.events.conflicts = 0
	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClassified(), "no partial classification")
}

func TestUnclassifiedQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	old, err := f.svc.OpenDetected(ctx, "press-01", "", t0, 5)
	require.NoError(t, err)
	_, err = f.svc.OpenDetected(ctx, "press-02", "", f.now.Add(-10*time.Minute), 5)
	require.NoError(t, err)
	classified, err := f.svc.OpenDetected(ctx, "press-03", "", t0, 5)
	require.NoError(t, err)
	_, err = f.svc.Classify(ctx, stoppage.ClassifyRequest{ID: classified.ID, Category: "C3", Subcode: 1, Operator: "op-1"})
	require.NoError(t, err)

	pending, err := f.svc.Unclassified(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, old.ID, pending[0].ID)
}

func TestRecordManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	e, err := f.svc.RecordManual(ctx, stoppage.ManualStoppage{DeviceID: "press-01", Start: t0, End: t0.Add(15 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, stoppage.DetectionManual, e.Detection)
	assert.False(t, e.IsOpen())

	_, err = f.svc.RecordManual(ctx, stoppage.ManualStoppage{DeviceID: "press-01", Start: t0, End: t0.Add(-time.Minute)})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPeriod))
}

func TestEventValidateClassificationAllOrNothing(t *testing.T) {
	e := &stoppage.Event{ID: "s1", DeviceID: "press-01", StartTime: t0}
	require.NoError(t, e.Validate())

	e.Classification = &stoppage.Classification{Category: "A1", Subcode: 1}
	assert.True(t, errors.HasCode(e.Validate(), errors.ErrIncompleteClassifying))

	e.Classification.ClassifiedBy = "op-1"
	e.Classification.ClassifiedAt = t0.Add(time.Hour)
	assert.NoError(t, e.Validate())
}

func TestEventOverlap(t *testing.T) {
	end := t0.Add(30 * time.Minute)
	e := &stoppage.Event{StartTime: t0, EndTime: &end}
	assert.Equal(t, 20*time.Minute, e.Overlap(t0.Add(10*time.Minute), t0.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), e.Overlap(end, t0.Add(time.Hour)))

	open := &stoppage.Event{StartTime: t0}
	assert.Equal(t, time.Hour, open.Overlap(t0.Add(-time.Hour), t0.Add(time.Hour)))
}

func TestJobIssueWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	err := f.svc.WorkOrderCompleted(ctx, workorder.Snapshot{ID: "WO-1", Resource: "press-01", PlannedQuantity: 100, GoodQuantity: 100})
	require.NoError(t, err)
	none, err := f.svc.JobIssues(ctx, "WO-1")
	require.NoError(t, err)
	assert.Empty(t, none, "on-plan orders raise no issue")

	err = f.svc.WorkOrderCompleted(ctx, workorder.Snapshot{ID: "WO-2", Resource: "press-01", PlannedQuantity: 100, GoodQuantity: 92})
	require.NoError(t, err)
	issues, err := f.svc.JobIssues(ctx, "WO-2")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	issue := issues[0]
	assert.Equal(t, stoppage.IssueUnderProduction, issue.Kind)
	assert.Equal(t, int64(-8), issue.Variance())

	_, err = f.svc.ResolveJobIssue(ctx, issue.ID, "sup-1")
	assert.True(t, errors.HasCode(err, errors.ErrNotClassified))

	req := stoppage.ClassifyRequest{ID: issue.ID, Category: "B2", Subcode: 1, Operator: "op-7"}
	_, err = f.svc.ClassifyJobIssue(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.ClassifyJobIssue(ctx, req)
	require.NoError(t, err)

	resolved, err := f.svc.ResolveJobIssue(ctx, issue.ID, "sup-1")
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved())

	again, err := f.svc.ResolveJobIssue(ctx, issue.ID, "sup-2")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", again.ResolvedBy)

	unresolved, err := f.svc.UnresolvedJobIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	err = f.svc.WorkOrderCompleted(ctx, workorder.Snapshot{ID: "WO-3", Resource: "press-01", PlannedQuantity: 100, GoodQuantity: 105})
	require.NoError(t, err)
	over, err := f.svc.JobIssues(ctx, "WO-3")
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, stoppage.IssueOverProduction, over[0].Kind)

	assert.Equal(t, []events.Tag{
		events.JobIssueOpened, events.JobIssueClassified, events.JobIssueResolved, events.JobIssueOpened,
	}, f.pub.tags)
}
