package stoppage

import (
	"context"
	"time"
)

// Repository persists stoppage events. Save compares Version with the
// stored row and fails with a conflict error on mismatch; on success it
// advances Version. Writes must reject events failing Validate.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Save(ctx context.Context, e *Event) error
	// OpenForDevice returns the device's open event, or nil.
	OpenForDevice(ctx context.Context, deviceID string) (*Event, error)
	// ListUnclassified returns closed or open unclassified events that
	// started before cutoff, oldest first.
	ListUnclassified(ctx context.Context, startedBefore time.Time) ([]*Event, error)
	// ListOverlapping returns events of a device overlapping [from, to).
	ListOverlapping(ctx context.Context, deviceID string, from, to time.Time) ([]*Event, error)
}

// JobIssueRepository persists job-completion issues with the same
// versioning contract as Repository.
type JobIssueRepository interface {
	Create(ctx context.Context, j *JobIssue) error
	Get(ctx context.Context, id string) (*JobIssue, error)
	Save(ctx context.Context, j *JobIssue) error
	ListByWorkOrder(ctx context.Context, workOrderID string) ([]*JobIssue, error)
	ListUnresolved(ctx context.Context) ([]*JobIssue, error)
}
