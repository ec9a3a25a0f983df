package workorder

import "context"

// Repository persists work orders. Save must compare the stored version with
// the entity's version and fail with a conflict error when they differ; on
// success it advances the entity's version.
type Repository interface {
	Create(ctx context.Context, w *WorkOrder) error
	Get(ctx context.Context, id string) (*WorkOrder, error)
	Save(ctx context.Context, w *WorkOrder) error
	// OpenForResource returns the Active or Paused orders of a resource.
	OpenForResource(ctx context.Context, resource string) ([]*WorkOrder, error)
	ListByStatus(ctx context.Context, status Status) ([]*WorkOrder, error)
}

// CompletionObserver is told about every completed work order after it has
// been stored.
type CompletionObserver interface {
	WorkOrderCompleted(ctx context.Context, w Snapshot) error
}
