package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/interfaces/http/dto"
)

// RuleService manages rule definitions
type RuleService interface {
	Create(ctx context.Context, req pointsapp.RuleRequest) (*pointsapp.Mutation[pointsapp.RuleResponse], error)
	Update(ctx context.Context, id uuid.UUID, req pointsapp.RuleRequest) (*pointsapp.Mutation[pointsapp.RuleResponse], error)
	Get(ctx context.Context, id uuid.UUID) (*pointsapp.RuleResponse, error)
	List(ctx context.Context, f pointsapp.RuleListFilter) (shared.Paginated[pointsapp.RuleResponse], error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*pointsapp.Mutation[pointsapp.RuleResponse], error)
	Delete(ctx context.Context, id uuid.UUID) (*pointsapp.Mutation[pointsapp.RuleResponse], error)
}

// RuleHandler handles points rule endpoints
type RuleHandler struct {
	BaseHandler
	rules RuleService
}

// NewRuleHandler creates a rule handler
func NewRuleHandler(rules RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// Create godoc
// @Summary      Create a points rule
// @Tags         points-rules
// @Router       /points/rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var req pointsapp.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.rules.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "create", "points_rule", m.After.ID, m.Before, m.After)
	h.Created(c, m.After)
}

// Update godoc
// @Summary      Replace a points rule
// @Description  The version field must match the stored version
// @Tags         points-rules
// @Router       /points/rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req pointsapp.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.rules.Update(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "update", "points_rule", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Get godoc
// @Summary      Get a points rule
// @Tags         points-rules
// @Router       /points/rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rule)
}

// List godoc
// @Summary      List points rules
// @Tags         points-rules
// @Router       /points/rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	status, ok := h.statusParam(c)
	if !ok {
		return
	}
	page, err := h.rules.List(c.Request.Context(), pointsapp.RuleListFilter{
		Search:    q.Search,
		EventType: optional[points.EventType](c.Query("eventType")),
		Status:    status,
		StackMode: optional[points.StackMode](c.Query("stackMode")),
		Page:      q.Page,
		PageSize:  q.PageSize,
		OrderBy:   q.OrderBy,
		OrderDir:  q.OrderDir,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// Enable godoc
// @Summary      Enable a points rule
// @Tags         points-rules
// @Router       /points/rules/{id}/enable [post]
func (h *RuleHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable godoc
// @Summary      Disable a points rule
// @Tags         points-rules
// @Router       /points/rules/{id}/disable [post]
func (h *RuleHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *RuleHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.rules.SetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, toggleAction(enabled), "points_rule", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Delete godoc
// @Summary      Delete a points rule
// @Description  Rejected once the rule has ledger rows; disable it instead
// @Tags         points-rules
// @Router       /points/rules/{id} [delete]
func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.rules.Delete(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "delete", "points_rule", id, m.Before, m.After)
	h.Success(c, m.Before)
}

func toggleAction(enabled bool) string {
	if enabled {
		return "enable"
	}
	return "disable"
}
