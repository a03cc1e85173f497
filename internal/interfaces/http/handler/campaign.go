package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/interfaces/http/dto"
)

// CampaignService manages campaigns
type CampaignService interface {
	Create(ctx context.Context, req pointsapp.CampaignRequest) (*pointsapp.Mutation[pointsapp.CampaignResponse], error)
	Update(ctx context.Context, id uuid.UUID, req pointsapp.CampaignRequest) (*pointsapp.Mutation[pointsapp.CampaignResponse], error)
	Get(ctx context.Context, id uuid.UUID) (*pointsapp.CampaignResponse, error)
	List(ctx context.Context, f pointsapp.CampaignListFilter) (shared.Paginated[pointsapp.CampaignResponse], error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*pointsapp.Mutation[pointsapp.CampaignResponse], error)
	Delete(ctx context.Context, id uuid.UUID) (*pointsapp.Mutation[pointsapp.CampaignResponse], error)
}

// CampaignHandler handles campaign endpoints
type CampaignHandler struct {
	BaseHandler
	campaigns CampaignService
}

// NewCampaignHandler creates a campaign handler
func NewCampaignHandler(campaigns CampaignService) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// Create godoc
// @Summary      Create a campaign
// @Tags         points-campaigns
// @Router       /points/campaigns [post]
func (h *CampaignHandler) Create(c *gin.Context) {
	var req pointsapp.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.campaigns.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "create", "points_campaign", m.After.ID, m.Before, m.After)
	h.Created(c, m.After)
}

// Update godoc
// @Summary      Replace a campaign
// @Tags         points-campaigns
// @Router       /points/campaigns/{id} [put]
func (h *CampaignHandler) Update(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req pointsapp.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	m, err := h.campaigns.Update(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "update", "points_campaign", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Get godoc
// @Summary      Get a campaign with its spent points
// @Tags         points-campaigns
// @Router       /points/campaigns/{id} [get]
func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.campaigns.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, campaign)
}

// List godoc
// @Summary      List campaigns
// @Tags         points-campaigns
// @Router       /points/campaigns [get]
func (h *CampaignHandler) List(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	status, ok := h.statusParam(c)
	if !ok {
		return
	}
	f := pointsapp.CampaignListFilter{
		Search:   q.Search,
		Status:   status,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if raw := c.Query("ruleId"); raw != "" {
		ruleID, err := uuid.Parse(raw)
		if err != nil {
			h.BadRequest(c, "Invalid ruleId")
			return
		}
		f.RuleID = &ruleID
	}
	page, err := h.campaigns.List(c.Request.Context(), f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// Enable godoc
// @Summary      Enable a campaign
// @Tags         points-campaigns
// @Router       /points/campaigns/{id}/enable [post]
func (h *CampaignHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable godoc
// @Summary      Disable a campaign
// @Tags         points-campaigns
// @Router       /points/campaigns/{id}/disable [post]
func (h *CampaignHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *CampaignHandler) setEnabled(c *gin.Context, enabled bool) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.campaigns.SetEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, toggleAction(enabled), "points_campaign", id, m.Before, m.After)
	h.Success(c, m.After)
}

// Delete godoc
// @Summary      Delete a campaign
// @Tags         points-campaigns
// @Router       /points/campaigns/{id} [delete]
func (h *CampaignHandler) Delete(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	m, err := h.campaigns.Delete(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "delete", "points_campaign", id, m.Before, m.After)
	h.Success(c, m.Before)
}
