// Package events carries domain notifications out of the core. Producers
// enqueue envelopes; a dispatcher drains the queue into registered handlers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Tag identifies an event variant.
type Tag string

const (
	StoppageOpened     Tag = "stoppage.opened"
	StoppageClosed     Tag = "stoppage.closed"
	StoppageClassified Tag = "stoppage.classified"

	WorkOrderStarted   Tag = "workorder.started"
	WorkOrderPaused    Tag = "workorder.paused"
	WorkOrderResumed   Tag = "workorder.resumed"
	WorkOrderCompleted Tag = "workorder.completed"
	WorkOrderCancelled Tag = "workorder.cancelled"

	JobIssueOpened     Tag = "jobissue.opened"
	JobIssueClassified Tag = "jobissue.classified"
	JobIssueResolved   Tag = "jobissue.resolved"
)

// AllTags lists every variant in a stable order.
var AllTags = []Tag{
	StoppageOpened, StoppageClosed, StoppageClassified,
	WorkOrderStarted, WorkOrderPaused, WorkOrderResumed, WorkOrderCompleted, WorkOrderCancelled,
	JobIssueOpened, JobIssueClassified, JobIssueResolved,
}

// Envelope wraps a payload with delivery metadata.
type Envelope struct {
	ID         string    `json:"id"`
	Tag        Tag       `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// NewEnvelope stamps a payload with a fresh id.
func NewEnvelope(tag Tag, occurredAt time.Time, payload any) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Tag:        tag,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
}

// Publisher accepts envelopes for asynchronous delivery.
type Publisher interface {
	Publish(env Envelope)
}

type discard struct{}

func (discard) Publish(Envelope) {}

// Discard drops everything.
var Discard Publisher = discard{}
