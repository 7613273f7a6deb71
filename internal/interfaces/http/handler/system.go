package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Pinger checks a backing store is reachable
type Pinger interface {
	Ping() error
}

// RunningJobs reports the jobs executing on this instance
type RunningJobs interface {
	Running() []uuid.UUID
}

// SystemHandler serves health and instance information
type SystemHandler struct {
	BaseHandler
	db        Pinger
	jobs      RunningJobs
	version   string
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(db Pinger, jobs RunningJobs, version string) *SystemHandler {
	return &SystemHandler{
		db:        db,
		jobs:      jobs,
		version:   version,
		startTime: time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	GoVersion   string      `json:"go_version"`
	Uptime      string      `json:"uptime"`
	RunningJobs []uuid.UUID `json:"running_jobs"`
}

// Health answers load balancer probes; it fails when the database is unreachable
func (h *SystemHandler) Health(c *gin.Context) {
	running := 0
	if h.jobs != nil {
		running = len(h.jobs.Running())
	}
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unhealthy",
				"time":         time.Now().Format(time.RFC3339),
				"database":     "error",
				"running_jobs": running,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"time":         time.Now().Format(time.RFC3339),
		"database":     "ok",
		"running_jobs": running,
	})
}

// GetSystemInfo returns version, uptime and the jobs this instance is executing
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:        "Accounting Migration API",
		Version:     h.version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		RunningJobs: []uuid.UUID{},
	}
	if h.jobs != nil {
		info.RunningJobs = h.jobs.Running()
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}
