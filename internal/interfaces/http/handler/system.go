package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// healthCheckTimeout bounds each dependency probe
const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// InfoSource contributes a section to /system/info
type InfoSource func() (any, error)

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	startTime time.Time
	checks    map[string]HealthCheck
	sources   map[string]InfoSource
}

// NewSystemHandler creates a system handler. checks run on every health request.
func NewSystemHandler(name, version string, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		startTime: time.Now(),
		checks:    checks,
		sources:   make(map[string]InfoSource),
	}
}

// AddInfo registers a named section of the info response
func (h *SystemHandler) AddInfo(name string, source InfoSource) {
	h.sources[name] = source
}

// SystemInfoResponse describes the running service
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Uptime    string         `json:"uptime"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthResponse reports overall and per-dependency health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

// Info godoc
// @Summary      Get system information
// @Tags         system
// @Router       /system/info [get]
func (h *SystemHandler) Info(c *gin.Context) {
	resp := SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	for name, source := range h.sources {
		if resp.Details == nil {
			resp.Details = make(map[string]any, len(h.sources))
		}
		detail, err := source()
		if err != nil {
			logger.GetGinLogger(c).Warn("System info source failed", zap.String("source", name), zap.Error(err))
			detail = map[string]string{"error": err.Error()}
		}
		resp.Details[name] = detail
	}
	h.Success(c, resp)
}

// Health godoc
// @Summary      Health check
// @Description  503 when any dependency probe fails
// @Tags         system
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Time: time.Now().UTC()}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, dto.Response{Success: false, Data: resp})
		return
	}
	h.Success(c, resp)
}
