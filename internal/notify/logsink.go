package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

// RegisterLog writes every event to the application log.
func RegisterLog(reg *events.Registry) {
	for _, tag := range events.AllTags {
		reg.Handle(tag, "log", logEvent)
	}
}

func logEvent(_ context.Context, env events.Envelope) error {
	log.Info().
		Str("event", string(env.Tag)).
		Str("eventId", env.ID).
		Time("occurredAt", env.OccurredAt).
		Interface("payload", env.Payload).
		Msg("Domain event")
	return nil
}
