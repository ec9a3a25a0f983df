package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
)

type received struct {
	mu     sync.Mutex
	bodies []map[string]any
	tags   []string
}

func (r *received) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)

		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.tags = append(r.tags, req.Header.Get("X-Event-Type"))
		r.mu.Unlock()

		w.WriteHeader(status)
	}
}

func TestWebhookDeliversEnvelope(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(rec.handler(http.StatusAccepted))
	defer srv.Close()

	hook := NewWebhook(srv.URL, time.Second)
	env := events.NewEnvelope(events.StoppageOpened, time.Date(2024, 3, 4, 6, 11, 0, 0, time.UTC), map[string]string{"deviceId": "press-01"})

	require.NoError(t, hook.Send(context.Background(), env))

	require.Len(t, rec.bodies, 1)
	assert.Equal(t, "stoppage.opened", rec.tags[0])
	assert.Equal(t, env.ID, rec.bodies[0]["id"])
	assert.Equal(t, "stoppage.opened", rec.bodies[0]["type"])
	assert.Equal(t, "press-01", rec.bodies[0]["payload"].(map[string]any)["deviceId"])
}

func TestWebhookErrorStatus(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(rec.handler(http.StatusInternalServerError))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Send(context.Background(), events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNotifyFailed))
	assert.True(t, errors.IsDependency(err))
}

func TestWebhookUnreachable(t *testing.T) {
	err := NewWebhook("http://127.0.0.1:1/hook", 200*time.Millisecond).Send(context.Background(), events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))
	assert.True(t, errors.HasCode(err, errors.ErrNotifyFailed))
}

func TestWebhookThroughQueue(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	reg := events.NewRegistry()
	NewWebhook(srv.URL, time.Second).Register(reg, events.StoppageClosed)
	RegisterLog(reg)

	assert.Equal(t, 2, reg.HandlerCount(events.StoppageClosed))
	assert.Equal(t, 1, reg.HandlerCount(events.WorkOrderStarted))

	q := events.NewQueue(8)
	q.Publish(events.NewEnvelope(events.StoppageClosed, time.Now(), nil))
	q.Publish(events.NewEnvelope(events.WorkOrderStarted, time.Now(), nil))
	q.Close()
	q.Run(context.Background(), reg)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"stoppage.closed"}, rec.tags)
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewWebhook("http://example.invalid", 0).httpClient.Timeout)
}
