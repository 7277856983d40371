package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck checks one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthOption configures the health handler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck adds a dependency check to /ready.
func WithReadinessCheck(name string, check func(ctx context.Context) error) HealthOption {
	return func(h *HealthHandler) {
		if check != nil {
			h.checks = append(h.checks, ReadinessCheck{Name: name, Check: check})
		}
	}
}

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	startedAt time.Time
	checks    []ReadinessCheck
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{startedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status reports liveness.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
	})
}

// Readiness runs every dependency check and returns 503 when any fails.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ready, checks := h.CheckAll(c.Request.Context())
	status := http.StatusOK
	resp := ReadinessResponse{Status: "ready", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "unavailable"
	}
	c.JSON(status, resp)
}

// CheckAll runs the checks and reports per-dependency results. The gRPC health server reuses it.
func (h *HealthHandler) CheckAll(ctx context.Context) (bool, map[string]string) {
	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			ready = false
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}
	return ready, results
}
