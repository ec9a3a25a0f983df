// Package stoppage detects production stoppages from counter data and runs
// the reason classification workflow.
package stoppage

import (
	"strings"
	"time"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Detection records how an event came to exist.
type Detection string

const (
	DetectionAuto   Detection = "auto"
	DetectionManual Detection = "manual"
)

// Classification is the reason attached to a stoppage or job issue.
type Classification struct {
	Category     string    `json:"category"`
	Subcode      int       `json:"subcode"`
	Comment      string    `json:"comment,omitempty"`
	ClassifiedBy string    `json:"classifiedBy"`
	ClassifiedAt time.Time `json:"classifiedAt"`
}

// Complete reports whether every required field is present.
func (c Classification) Complete() bool {
	return c.Category != "" && c.Subcode >= 1 && c.Subcode <= 9 &&
		strings.TrimSpace(c.ClassifiedBy) != "" && !c.ClassifiedAt.IsZero()
}

func (c Classification) sameReason(category string, subcode int, comment, operator string) bool {
	return c.Category == category && c.Subcode == subcode && c.Comment == comment && c.ClassifiedBy == operator
}

// Event is one stoppage of a device. EndTime is nil while it is ongoing.
type Event struct {
	ID                      string          `json:"id"`
	DeviceID                string          `json:"deviceId"`
	WorkOrderID             string          `json:"workOrderId,omitempty"`
	StartTime               time.Time       `json:"startTime"`
	EndTime                 *time.Time      `json:"endTime,omitempty"`
	Detection               Detection       `json:"detection"`
	MinimumThresholdMinutes float64         `json:"minimumThresholdMinutes"`
	Classification          *Classification `json:"classification,omitempty"`
	Version                 int             `json:"version"`
}

func (e *Event) IsOpen() bool       { return e.EndTime == nil }
func (e *Event) IsClassified() bool { return e.Classification != nil }

// Duration is measured to now while the event is open.
func (e *Event) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	if end.Before(e.StartTime) {
		return 0
	}
	return end.Sub(e.StartTime)
}

// Overlap returns how much of the event falls inside [from, to), treating
// an open event as lasting until to.
func (e *Event) Overlap(from, to time.Time) time.Duration {
	start := e.StartTime
	if start.Before(from) {
		start = from
	}
	end := to
	if e.EndTime != nil && e.EndTime.Before(to) {
		end = *e.EndTime
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// Close ends an open event.
func (e *Event) Close(end time.Time) error {
	if e.EndTime != nil {
		return errors.New().WithData(errors.ErrAlreadyClosed, e.ID)
	}
	if end.Before(e.StartTime) {
		return errors.New().WithMessage(errors.ErrInvalidPeriod, "stoppage end cannot be before its start")
	}
	end = end.UTC()
	e.EndTime = &end
	return nil
}

// Validate enforces the stored-row invariants, including that a
// classification is all-or-nothing.
func (e *Event) Validate() error {
	errFactory := errors.New()

	if e.ID == "" || e.DeviceID == "" {
		return errFactory.WithMessage(errors.ErrMissingField, "stoppage id and device are required")
	}
	if e.StartTime.IsZero() {
		return errFactory.WithMessage(errors.ErrMissingField, "stoppage start time is required")
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return errFactory.WithMessage(errors.ErrInvalidPeriod, "stoppage end cannot be before its start")
	}
	if e.Classification != nil && !e.Classification.Complete() {
		return errFactory.New(errors.ErrIncompleteClassifying)
	}
	return nil
}
