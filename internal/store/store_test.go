package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
	"github.com/sebastiankruger/shopfloor-oee/internal/store"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

var t0 = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "oee.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SeedTaxonomy(context.Background(), stoppage.DefaultTaxonomy()))
	return s
}

func newOrder(t *testing.T, id, resource string) *workorder.WorkOrder {
	t.Helper()
	w, err := workorder.New(workorder.Params{
		ID:              id,
		ProductID:       "P-100",
		PlannedQuantity: 1000,
		UnitOfMeasure:   "pcs",
		ScheduledStart:  t0,
		ScheduledEnd:    t0.Add(8 * time.Hour),
		Resource:        resource,
	})
	require.NoError(t, err)
	return w
}

func TestOpenTwiceKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "oee.db")

	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.WorkOrders().Create(ctx, newOrder(t, "WO-1", "press-01")))
	require.NoError(t, s.Close())

	s, err = store.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.WorkOrders().Get(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, "press-01", got.Resource())
	assert.NoError(t, s.Ping(ctx))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := store.Open(context.Background(), "")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestWorkOrderPersistence(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).WorkOrders()

	w := newOrder(t, "WO-1", "press-01")
	require.NoError(t, repo.Create(ctx, w))
	assert.Equal(t, 1, w.Version())

	err := repo.Create(ctx, newOrder(t, "WO-1", "press-02"))
	assert.True(t, errors.HasCode(err, errors.ErrDuplicateWorkOrder))

	require.NoError(t, w.Start(t0.Add(time.Minute)))
	_, err = w.UpdateFromCounterData(900, 12)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, w))
	assert.Equal(t, 2, w.Version())

	got, err := repo.Get(ctx, "WO-1")
	require.NoError(t, err)
	snap := got.Snapshot()
	assert.Equal(t, workorder.StatusActive, snap.Status)
	assert.Equal(t, int64(900), snap.GoodQuantity)
	assert.Equal(t, int64(12), snap.ScrapQuantity)
	require.NotNil(t, snap.ActualStart)
	assert.True(t, snap.ActualStart.Equal(t0.Add(time.Minute)))
	assert.True(t, snap.ScheduledEnd.Equal(t0.Add(8*time.Hour)))
	assert.Equal(t, 2, snap.Version)

	stale := workorder.Restore(w.Snapshot())
	stale.SetVersion(1)
	require.NoError(t, stale.Pause(t0.Add(2*time.Minute)))
	err = repo.Save(ctx, stale)
	assert.True(t, errors.IsConflict(err))

	_, err = repo.Get(ctx, "WO-404")
	assert.True(t, errors.IsNotFound(err))

	missing := newOrder(t, "WO-404", "press-01")
	missing.SetVersion(1)
	assert.True(t, errors.IsNotFound(repo.Save(ctx, missing)))
}

func TestOneOpenWorkOrderPerResource(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).WorkOrders()

	a := newOrder(t, "WO-A", "press-01")
	b := newOrder(t, "WO-B", "press-01")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	require.NoError(t, a.Start(t0))
	require.NoError(t, repo.Save(ctx, a))

	require.NoError(t, b.Start(t0))
	err := repo.Save(ctx, b)
	assert.True(t, errors.HasCode(err, errors.ErrResourceBusy))

	open, err := repo.OpenForResource(ctx, "press-01")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "WO-A", open[0].ID())

	pending, err := repo.ListByStatus(ctx, workorder.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "WO-B", pending[0].ID())
}

func TestStoppageEventPersistence(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Stoppages()

	e := &stoppage.Event{
		ID:                      "S-1",
		DeviceID:                "press-01",
		WorkOrderID:             "WO-1",
		StartTime:               t0,
		Detection:               stoppage.DetectionAuto,
		MinimumThresholdMinutes: 5,
	}
	require.NoError(t, repo.Create(ctx, e))
	assert.Equal(t, 1, e.Version)

	open, err := repo.OpenForDevice(ctx, "press-01")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "S-1", open.ID)
	assert.Nil(t, open.Classification)

	second := &stoppage.Event{ID: "S-2", DeviceID: "press-01", StartTime: t0.Add(time.Minute), Detection: stoppage.DetectionAuto}
	err = repo.Create(ctx, second)
	assert.True(t, errors.HasCode(err, errors.ErrResourceBusy), "only one open stoppage per device")

	require.NoError(t, open.Close(t0.Add(20*time.Minute)))
	open.Classification = &stoppage.Classification{
		Category:     "A1",
		Subcode:      2,
		Comment:      "die change",
		ClassifiedBy: "op-7",
		ClassifiedAt: t0.Add(30 * time.Minute),
	}
	require.NoError(t, repo.Save(ctx, open))
	assert.Equal(t, 2, open.Version)

	got, err := repo.Get(ctx, "S-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(t0.Add(20*time.Minute)))
	require.NotNil(t, got.Classification)
	assert.Equal(t, "A1", got.Classification.Category)
	assert.Equal(t, 2, got.Classification.Subcode)
	assert.Equal(t, "die change", got.Classification.Comment)
	assert.True(t, got.Classification.ClassifiedAt.Equal(t0.Add(30*time.Minute)))

	none, err := repo.OpenForDevice(ctx, "press-01")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.Get(ctx, "S-404")
	assert.True(t, errors.IsNotFound(err))
}

func TestStoppageRejectsUnknownReason(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Stoppages()

	end := t0.Add(10 * time.Minute)
	e := &stoppage.Event{ID: "S-1", DeviceID: "press-01", StartTime: t0, EndTime: &end, Detection: stoppage.DetectionManual}
	require.NoError(t, repo.Create(ctx, e))

	e.Classification = &stoppage.Classification{Category: "Z9", Subcode: 1, ClassifiedBy: "op", ClassifiedAt: end}
	err := repo.Save(ctx, e)
	assert.True(t, errors.HasCode(err, errors.ErrUnknownReason))

	e.Classification = &stoppage.Classification{Category: "A1", Subcode: 1}
	err = repo.Save(ctx, e)
	assert.True(t, errors.HasCode(err, errors.ErrIncompleteClassifying))
}

func TestStoppageQueries(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).Stoppages()

	closed := func(id, device string, start time.Time, d time.Duration) *stoppage.Event {
		end := start.Add(d)
		return &stoppage.Event{ID: id, DeviceID: device, StartTime: start, EndTime: &end, Detection: stoppage.DetectionAuto}
	}

	require.NoError(t, repo.Create(ctx, closed("S-1", "press-01", t0, 10*time.Minute)))
	require.NoError(t, repo.Create(ctx, closed("S-2", "press-01", t0.Add(time.Hour), 10*time.Minute)))
	require.NoError(t, repo.Create(ctx, closed("S-3", "press-02", t0.Add(30*time.Minute), 10*time.Minute)))
	require.NoError(t, repo.Create(ctx, &stoppage.Event{
		ID: "S-4", DeviceID: "press-01", StartTime: t0.Add(2 * time.Hour), Detection: stoppage.DetectionAuto,
	}))

	overlapping, err := repo.ListOverlapping(ctx, "press-01", t0.Add(5*time.Minute), t0.Add(3*time.Hour))
	require.NoError(t, err)
	ids := make([]string, 0, len(overlapping))
	for _, e := range overlapping {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"S-1", "S-2", "S-4"}, ids)

	overlapping, err = repo.ListOverlapping(ctx, "press-01", t0.Add(10*time.Minute), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overlapping, "touching boundaries do not overlap")

	unclassified, err := repo.ListUnclassified(ctx, t0.Add(45*time.Minute))
	require.NoError(t, err)
	require.Len(t, unclassified, 2)
	assert.Equal(t, "S-1", unclassified[0].ID)
	assert.Equal(t, "S-3", unclassified[1].ID)
}

func TestJobIssuePersistence(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t).JobIssues()

	j := &stoppage.JobIssue{
		ID:              "J-1",
		WorkOrderID:     "WO-1",
		DeviceID:        "press-01",
		Kind:            stoppage.IssueUnderProduction,
		PlannedQuantity: 1000,
		ActualQuantity:  940,
		CreatedAt:       t0,
	}
	require.NoError(t, repo.Create(ctx, j))

	unresolved, err := repo.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, int64(-60), unresolved[0].Variance())

	j.Classification = &stoppage.Classification{Category: "B2", Subcode: 3, ClassifiedBy: "sup-1", ClassifiedAt: t0.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, j))

	resolved := t0.Add(2 * time.Hour)
	j.ResolvedBy = "sup-1"
	j.ResolvedAt = &resolved
	require.NoError(t, repo.Save(ctx, j))
	assert.Equal(t, 3, j.Version)

	byOrder, err := repo.ListByWorkOrder(ctx, "WO-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.True(t, byOrder[0].IsResolved())
	assert.Equal(t, "B2", byOrder[0].Classification.Category)

	unresolved, err = repo.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	stale := *j
	stale.Version = 1
	assert.True(t, errors.IsConflict(repo.Save(ctx, &stale)))
}

func TestLoadTaxonomyMatchesSeed(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	// Seeding again updates in place.
	require.NoError(t, s.SeedTaxonomy(ctx, stoppage.DefaultTaxonomy()))

	loaded, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	assert.Equal(t, stoppage.DefaultTaxonomy().Categories(), loaded.Categories())
}

func TestServicesOverStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	clock := t0

	stoppages := stoppage.NewService(stoppage.DefaultTaxonomy(), s.Stoppages(), s.JobIssues(), events.Discard,
		stoppage.WithClock(func() time.Time { return clock }))
	orders := workorder.NewService(s.WorkOrders(), events.Discard,
		workorder.WithClock(func() time.Time { return clock }),
		workorder.WithCompletionObserver(stoppages))

	_, err := orders.Create(ctx, workorder.Params{ID: "WO-1", Resource: "press-01", PlannedQuantity: 500})
	require.NoError(t, err)
	_, err = orders.Start(ctx, "WO-1")
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	_, err = orders.ReconcileCounts(ctx, "press-01", 480, 5)
	require.NoError(t, err)
	done, err := orders.Complete(ctx, "WO-1")
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusCompleted, done.Status())

	issues, err := stoppages.JobIssues(ctx, "WO-1")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, stoppage.IssueUnderProduction, issues[0].Kind)
	assert.Equal(t, int64(480), issues[0].ActualQuantity)
}
