package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h *Handler, path string) (int, Status) {
	t.Helper()
	mux := http.NewServeMux()
	h.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var s Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, s
}

func TestLive(t *testing.T) {
	code, s := get(t, NewHandler(time.Hour), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", s.Status)
}

func TestReadyAllHealthy(t *testing.T) {
	h := NewHandler(0)
	h.AddCheck("store", func(context.Context) error { return nil })
	h.AddCheck("monitor", func(context.Context) error { return nil })

	code, s := get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", s.Status)
	assert.Equal(t, map[string]string{"store": "healthy", "monitor": "healthy", "startup": "complete"}, s.Checks)
}

func TestReadyFailingCheck(t *testing.T) {
	h := NewHandler(0)
	h.AddCheck("store", func(context.Context) error { return fmt.Errorf("database is locked") })

	code, s := get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", s.Status)
	assert.Equal(t, "database is locked", s.Checks["store"])
}

func TestReadyDuringStartup(t *testing.T) {
	code, s := get(t, NewHandler(time.Hour), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "in_progress", s.Checks["startup"])
}

func TestCheckReceivesDeadline(t *testing.T) {
	h := NewHandler(0)
	h.AddCheck("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return fmt.Errorf("no deadline")
		}
		return nil
	})

	code, _ := get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
}
