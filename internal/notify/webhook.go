// Package notify delivers domain events to the outside world.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// Webhook posts every envelope as JSON to a fixed URL.
type Webhook struct {
	url        string
	httpClient *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Register subscribes the webhook to tags, or to every tag when none are given.
func (w *Webhook) Register(reg *events.Registry, tags ...events.Tag) {
	if len(tags) == 0 {
		tags = events.AllTags
	}
	for _, tag := range tags {
		reg.Handle(tag, "webhook", w.Send)
	}
}

// Send delivers one envelope. Delivery is attempted once; the registry logs
// failures and the event is not retried.
func (w *Webhook) Send(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(env.Tag))
	req.Header.Set("X-Event-Id", env.ID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return errors.New().Wrap(errors.ErrNotifyFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.New().WithData(errors.ErrNotifyFailed, struct {
			URL    string
			Status int
		}{w.url, resp.StatusCode})
	}

	log.Debug().
		Str("event", string(env.Tag)).
		Str("eventId", env.ID).
		Msg("Event delivered to webhook")

	return nil
}
