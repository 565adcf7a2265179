package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/areaindex/internal/index"
	"github.com/stwalsh4118/areaindex/internal/middleware"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout bounds each dependency ping in the readiness check
	HealthCheckTimeout = 2 * time.Second
)

// Dependency states reported by the readiness check.
const (
	stateConnected    = "connected"
	stateDisconnected = "disconnected"
	stateDisabled     = "disabled"
)

// Pinger is a dependency the readiness check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	db        Pinger
	cache     Pinger
	registry  *index.Registry
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance. cache and registry
// may be nil.
func NewHealthHandler(db Pinger, cache Pinger, registry *index.Registry, env string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		registry:  registry,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	Uptime        string `json:"uptime"`
	LoadedIndexes int    `json:"loaded_indexes"`
}

// Health handles GET /health. It is a liveness check and never touches
// dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready.
// The database must answer a ping. The index cache is optional: a failing
// cache is reported but does not make the service unready, since every
// lookup falls back to the database.
func (h *HealthHandler) Ready(c *gin.Context) {
	log := middleware.GetLogger(c)

	response := ReadyResponse{Status: "ready", Database: stateConnected, Cache: stateDisabled}

	if err := h.ping(c.Request.Context(), h.db); err != nil {
		if log != nil {
			log.Error("Database health check failed", err, map[string]interface{}{
				"timeout": HealthCheckTimeout.String(),
			})
		}
		response.Status = "not_ready"
		response.Database = stateDisconnected
	}

	if h.cache != nil {
		response.Cache = stateConnected
		if err := h.ping(c.Request.Context(), h.cache); err != nil {
			if log != nil {
				log.Warn("Index cache health check failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			response.Cache = stateDisconnected
		}
	}

	status := http.StatusOK
	if response.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

func (h *HealthHandler) ping(ctx context.Context, p Pinger) error {
	if p == nil {
		return fmt.Errorf("not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	loaded := 0
	if h.registry != nil {
		loaded = h.registry.Len()
	}

	c.JSON(http.StatusOK, InfoResponse{
		Version:       APIVersion,
		Environment:   h.env,
		Uptime:        formatUptime(time.Since(h.startTime)),
		LoadedIndexes: loaded,
	})
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
