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

// GrantService runs operator bulk adjustments
type GrantService interface {
	Submit(ctx context.Context, in pointsapp.GrantInput) (*pointsapp.GrantTaskResponse, error)
	SubmitAsync(ctx context.Context, in pointsapp.GrantInput) (*pointsapp.GrantTaskResponse, error)
	Cancel(ctx context.Context, id uuid.UUID) (*pointsapp.GrantTaskResponse, error)
	Resume(ctx context.Context, id uuid.UUID, async bool) (*pointsapp.GrantTaskResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*pointsapp.GrantTaskResponse, error)
	List(ctx context.Context, f pointsapp.GrantListFilter) (shared.Paginated[pointsapp.GrantTaskResponse], error)
}

// GrantHandler handles grant task endpoints
type GrantHandler struct {
	BaseHandler
	grants GrantService
}

// NewGrantHandler creates a grant handler
func NewGrantHandler(grants GrantService) *GrantHandler {
	return &GrantHandler{grants: grants}
}

// GrantRequest submits a bulk adjustment. Async returns as soon as the task is recorded.
type GrantRequest struct {
	GrantType  string   `json:"grantType" binding:"required,grant_type"`
	TargetType string   `json:"targetType" binding:"required,target_type"`
	UserIDs    []string `json:"userIds" binding:"omitempty,dive,required,max=64"`
	LevelID    *int     `json:"levelId" binding:"omitempty,gte=0"`
	Points     int64    `json:"points" binding:"required,gt=0"`
	ReasonCode string   `json:"reasonCode" binding:"required,max=64"`
	Remark     string   `json:"remark" binding:"max=500"`
	Async      bool     `json:"async"`
}

// Submit godoc
// @Summary      Submit a grant task
// @Description  Synchronous by default; with async=true the task runs in the background and 202 is returned
// @Tags         points-grants
// @Router       /points/grants [post]
func (h *GrantHandler) Submit(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	in := pointsapp.GrantInput{
		GrantType:  points.GrantType(req.GrantType),
		TargetType: points.TargetType(req.TargetType),
		UserIDs:    req.UserIDs,
		LevelID:    req.LevelID,
		Points:     req.Points,
		ReasonCode: req.ReasonCode,
		Remark:     req.Remark,
		Operator:   operator(c),
	}

	submit := h.grants.Submit
	if req.Async {
		submit = h.grants.SubmitAsync
	}
	task, err := submit(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "submit", "points_grant_task", task.ID, nil, task)
	if req.Async {
		c.JSON(http.StatusAccepted, dto.NewSuccessResponse(task))
		return
	}
	h.Created(c, task)
}

// List godoc
// @Summary      List grant tasks
// @Tags         points-grants
// @Router       /points/grants [get]
func (h *GrantHandler) List(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	page, err := h.grants.List(c.Request.Context(), pointsapp.GrantListFilter{
		Status:    optional[points.GrantStatus](c.Query("status")),
		GrantType: optional[points.GrantType](c.Query("grantType")),
		Operator:  c.Query("operator"),
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// Get godoc
// @Summary      Get a grant task
// @Tags         points-grants
// @Router       /points/grants/{id} [get]
func (h *GrantHandler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	task, err := h.grants.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, task)
}

// Cancel godoc
// @Summary      Cancel a grant task
// @Description  A running task stops between targets and finishes as partial
// @Tags         points-grants
// @Router       /points/grants/{id}/cancel [post]
func (h *GrantHandler) Cancel(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	task, err := h.grants.Cancel(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "cancel", "points_grant_task", id, nil, task)
	h.Success(c, task)
}

// Resume godoc
// @Summary      Resume an unfinished grant task
// @Description  Targets already applied are skipped. ?async=true runs it in the background.
// @Tags         points-grants
// @Router       /points/grants/{id}/resume [post]
func (h *GrantHandler) Resume(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	async, err := parseBool(c.Query("async"))
	if err != nil {
		h.BadRequest(c, "Invalid async flag")
		return
	}
	task, err := h.grants.Resume(c.Request.Context(), id, async != nil && *async)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "resume", "points_grant_task", id, nil, task)
	h.Success(c, task)
}
