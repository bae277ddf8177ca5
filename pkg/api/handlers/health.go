// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/version"
)

// defaultCheckTimeout bounds a single readiness check.
const defaultCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name     string
	fn       CheckFunc
	critical bool
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

// StatusResponse is the body of the /status endpoint.
type StatusResponse struct {
	Status  string                 `json:"status"`
	Version map[string]string      `json:"version"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]CheckResult `json:"checks"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	mu      sync.RWMutex
	checks  []healthCheck
	started time.Time
	timeout time.Duration
}

// NewHealthHandler creates a new health handler with no checks.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		started: time.Now(),
		timeout: defaultCheckTimeout,
	}
}

// AddCheck registers a readiness check. A failing critical check makes the
// service unready; other checks only degrade /status.
func (h *HealthHandler) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, fn: fn, critical: critical})
	sort.SliceStable(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context())
	if ready(results) {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]any{
		"ready":  false,
		"checks": results,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context())

	status := "ok"
	for _, res := range results {
		if res.Status != "ok" {
			status = "degraded"
			break
		}
	}
	code := http.StatusOK
	if !ready(results) {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	response.JSON(w, code, StatusResponse{
		Status:  status,
		Version: version.Info(),
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Checks:  results,
	})
}

// run executes every check concurrently, each under its own timeout.
func (h *HealthHandler) run(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checks := append([]healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]CheckResult, len(checks))

	var g errgroup.Group
	for _, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			res := CheckResult{Status: "ok", Critical: c.critical}
			if err := c.fn(cctx); err != nil {
				res.Status = "failing"
				res.Error = err.Error()
			}
			mu.Lock()
			results[c.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func ready(results map[string]CheckResult) bool {
	for _, res := range results {
		if res.Critical && res.Status != "ok" {
			return false
		}
	}
	return true
}
