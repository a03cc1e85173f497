package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	pointsapp "github.com/loyalty/points/internal/application/points"
)

// DashboardService serves the console's read-only aggregates
type DashboardService interface {
	Overview(ctx context.Context) (*pointsapp.Overview, error)
	Trend(ctx context.Context, days int) (*pointsapp.Trend, error)
}

// DashboardHandler handles dashboard endpoints
type DashboardHandler struct {
	BaseHandler
	dashboard DashboardService
}

// NewDashboardHandler creates a dashboard handler
func NewDashboardHandler(dashboard DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Overview godoc
// @Summary      Today's KPIs
// @Tags         points-dashboard
// @Router       /points/dashboard/overview [get]
func (h *DashboardHandler) Overview(c *gin.Context) {
	overview, err := h.dashboard.Overview(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, overview)
}

// Trend godoc
// @Summary      Daily issued and redeemed totals
// @Param        days query int false "Number of days" default(7)
// @Tags         points-dashboard
// @Router       /points/dashboard/trend [get]
func (h *DashboardHandler) Trend(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.BadRequest(c, "days must be a positive integer")
			return
		}
		days = n
	}
	trend, err := h.dashboard.Trend(c.Request.Context(), days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, trend)
}
