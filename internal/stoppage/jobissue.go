package stoppage

import (
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// IssueKind describes how a completed job missed its planned quantity.
type IssueKind string

const (
	IssueUnderProduction IssueKind = "under_production"
	IssueOverProduction  IssueKind = "over_production"
)

// JobIssue is a completion deviation keyed to a work order. It is
// classified with the stoppage taxonomy and then resolved.
type JobIssue struct {
	ID              string          `json:"id"`
	WorkOrderID     string          `json:"workOrderId"`
	DeviceID        string          `json:"deviceId"`
	Kind            IssueKind       `json:"kind"`
	PlannedQuantity int64           `json:"plannedQuantity"`
	ActualQuantity  int64           `json:"actualQuantity"`
	CreatedAt       time.Time       `json:"createdAt"`
	Classification  *Classification `json:"classification,omitempty"`
	ResolvedBy      string          `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	Version         int             `json:"version"`
}

func (j *JobIssue) IsClassified() bool { return j.Classification != nil }
func (j *JobIssue) IsResolved() bool   { return j.ResolvedAt != nil }

// Variance is actual minus planned quantity.
func (j *JobIssue) Variance() int64 {
	return j.ActualQuantity - j.PlannedQuantity
}

func (j *JobIssue) Validate() error {
	errFactory := errors.New()

	if j.ID == "" || j.WorkOrderID == "" {
		return errFactory.WithMessage(errors.ErrMissingField, "job issue id and work order are required")
	}
	if j.Classification != nil && !j.Classification.Complete() {
		return errFactory.New(errors.ErrIncompleteClassifying)
	}
	if j.ResolvedAt != nil && (j.Classification == nil || j.ResolvedBy == "") {
		return errFactory.New(errors.ErrNotClassified)
	}
	return nil
}
