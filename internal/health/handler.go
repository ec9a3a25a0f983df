package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// CheckTimeout bounds a single readiness check.
const CheckTimeout = 2 * time.Second

// Status represents the health status response
type Status struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check reports nil when a dependency is usable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   Check
}

// Handler handles health check endpoints
type Handler struct {
	startTime   time.Time
	startupWait time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// NewHandler creates a handler that reports not ready until startupWait
// has passed.
func NewHandler(startupWait time.Duration) *Handler {
	return &Handler{
		startTime:   time.Now(),
		startupWait: startupWait,
	}
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(name string, fn Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
}

// Routes registers the probes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.HandleLive)
	mux.HandleFunc("/health/ready", h.HandleReady)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleLive handles the liveness probe
// Returns 200 if the application is running
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, Status{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
	})
}

// HandleReady handles the readiness probe
// Returns 200 if every registered check passes
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	sort.SliceStable(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	results := make(map[string]string, len(checks)+1)
	allHealthy := true

	for _, c := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
		err := c.fn(ctx)
		cancel()

		if err != nil {
			results[c.name] = err.Error()
			allHealthy = false
		} else {
			results[c.name] = "healthy"
		}
	}

	if time.Since(h.startTime) >= h.startupWait {
		results["startup"] = "complete"
	} else {
		results["startup"] = "in_progress"
		allHealthy = false
	}

	status := Status{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}

	if allHealthy {
		status.Status = "ready"
		writeStatus(w, http.StatusOK, status)
		return
	}
	status.Status = "not_ready"
	writeStatus(w, http.StatusServiceUnavailable, status)
}

// HandleHealth handles the combined health endpoint (for Docker HEALTHCHECK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.HandleReady(w, r)
}

func writeStatus(w http.ResponseWriter, code int, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
