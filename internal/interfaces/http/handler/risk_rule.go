package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/interfaces/http/dto"
)

// RiskRuleService manages risk rules and the blacklist they feed
type RiskRuleService interface {
	Create(ctx context.Context, req pointsapp.RiskRuleRequest) (*pointsapp.Mutation[pointsapp.RiskRuleResponse], error)
	Update(ctx context.Context, id uuid.UUID, req pointsapp.RiskRuleRequest) (*pointsapp.Mutation[pointsapp.RiskRuleResponse], error)
	Get(ctx context.Context, id uuid.UUID) (*pointsapp.RiskRuleResponse, error)
	List(ctx context.Context, f pointsapp.RiskRuleListFilter) (shared.Paginated[pointsapp.RiskRuleResponse], error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*pointsapp.Mutation[pointsapp.RiskRuleResponse], error)
	Delete(ctx context.Context, id uuid.UUID) (*pointsapp.Mutation[pointsapp.RiskRuleResponse], error)
	Blacklist(ctx context.Context, userID string) ([]pointsapp.BlacklistResponse, error)
	LiftBlacklist(ctx context.Context, entryID uuid.UUID, operator string) error
}

// RiskRuleHandler handles risk rule and blacklist endpoints
type RiskRuleHandler struct {
	BaseHandler
	risk RiskRuleService
}

// NewRiskRuleHandler creates a risk rule handler
func NewRiskRuleHandler(risk RiskRuleService) *RiskRuleHandler {
	return &RiskRuleHandler{risk: risk}
}

// Create godoc
// @Summary      Create a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules [post]
func (h *RiskRuleHandler) Create(c *gin.Context) {
	var req pointsapp.RiskRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.risk.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "create", "points_risk_rule", m.After.ID, m.Before, m.After)
	h.Created(c, m.After)
}

// Update godoc
// @Summary      Replace a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules/{id} [put]
func (h *RiskRuleHandler) Update(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req pointsapp.RiskRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.risk.Update(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "update", "points_risk_rule", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Get godoc
// @Summary      Get a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules/{id} [get]
func (h *RiskRuleHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rule, err := h.risk.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rule)
}

// List godoc
// @Summary      List risk rules
// @Tags         points-risk
// @Router       /points/risk-rules [get]
func (h *RiskRuleHandler) List(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	status, ok := h.statusParam(c)
	if !ok {
		return
	}
	page, err := h.risk.List(c.Request.Context(), pointsapp.RiskRuleListFilter{
		Search:    q.Search,
		EventType: optional[points.EventType](c.Query("eventType")),
		Status:    status,
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// Enable godoc
// @Summary      Enable a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules/{id}/enable [post]
func (h *RiskRuleHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable godoc
// @Summary      Disable a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules/{id}/disable [post]
func (h *RiskRuleHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *RiskRuleHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.risk.SetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, toggleAction(enabled), "points_risk_rule", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Delete godoc
// @Summary      Delete a risk rule
// @Tags         points-risk
// @Router       /points/risk-rules/{id} [delete]
func (h *RiskRuleHandler) Delete(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.risk.Delete(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "delete", "points_risk_rule", id, m.Before, m.After)
	h.Success(c, m.Before)
}

// Blacklist godoc
// @Summary      List a user's blacklist entries
// @Tags         points-risk
// @Router       /points/blacklist/{userId} [get]
func (h *RiskRuleHandler) Blacklist(c *gin.Context) {
	entries, err := h.risk.Blacklist(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if entries == nil {
		entries = []pointsapp.BlacklistResponse{}
	}
	h.Success(c, entries)
}

// LiftBlacklist godoc
// @Summary      Lift a blacklist entry
// @Tags         points-risk
// @Router       /points/blacklist/entries/{id} [delete]
func (h *RiskRuleHandler) LiftBlacklist(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.risk.LiftBlacklist(c.Request.Context(), id, operator(c)); err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "lift", "points_blacklist", id, nil, nil)
	c.Status(http.StatusNoContent)
}
