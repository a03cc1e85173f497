package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
)

// EngineService is the evaluation surface used by EngineHandler
type EngineService interface {
	Evaluate(ctx context.Context, in pointsapp.EvaluateInput) (*pointsapp.EvaluationResult, error)
	ListDecisions(ctx context.Context, f pointsapp.DecisionListFilter) (shared.Paginated[pointsapp.EvaluationResult], error)
}

// EngineHandler accepts activity events and exposes stored decisions
type EngineHandler struct {
	BaseHandler
	engine   EngineService
	location *time.Location
}

// NewEngineHandler creates an engine handler. loc resolves date-only filters.
func NewEngineHandler(engine EngineService, loc *time.Location) *EngineHandler {
	if loc == nil {
		loc = time.Local
	}
	return &EngineHandler{engine: engine, location: loc}
}

// EvaluateRequest is an activity event as posted by upstream services
type EvaluateRequest struct {
	BizID       string           `json:"bizId" binding:"required,max=128"`
	EventType   string           `json:"eventType" binding:"required,event_type"`
	UserID      string           `json:"userId" binding:"required,max=64"`
	Channel     string           `json:"channel" binding:"max=32"`
	DeviceID    string           `json:"deviceId" binding:"max=128"`
	IP          string           `json:"ip" binding:"omitempty,ip"`
	OccurredAt  time.Time        `json:"occurredAt" binding:"required"`
	OrderAmount *decimal.Decimal `json:"orderAmount"`
	ReferrerID  string           `json:"referrerId" binding:"max=64"`
	Extra       map[string]any   `json:"extra"`
}

func (r EvaluateRequest) input() pointsapp.EvaluateInput {
	return pointsapp.EvaluateInput{
		BizID:       r.BizID,
		EventType:   points.EventType(r.EventType),
		UserID:      r.UserID,
		Channel:     r.Channel,
		DeviceID:    r.DeviceID,
		IP:          r.IP,
		OccurredAt:  r.OccurredAt,
		OrderAmount: r.OrderAmount,
		ReferrerID:  r.ReferrerID,
		Extra:       r.Extra,
	}
}

// Evaluate godoc
// @Summary      Evaluate an activity event
// @Description  Runs the event through risk gating and the rule engine. A replayed bizId returns the stored decision with duplicate=true.
// @Tags         points-engine
// @Router       /points/events [post]
func (h *EngineHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.engine.Evaluate(c.Request.Context(), req.input())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListDecisions godoc
// @Summary      List engine decisions
// @Description  Filter by user, event type, outcome, review flag and date range
// @Tags         points-engine
// @Router       /points/decisions [get]
func (h *EngineHandler) ListDecisions(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	from, err := parseTime(c.Query("from"), h.location, false)
	if err != nil {
		h.BadRequest(c, "Invalid from: "+err.Error())
		return
	}
	to, err := parseTime(c.Query("to"), h.location, true)
	if err != nil {
		h.BadRequest(c, "Invalid to: "+err.Error())
		return
	}
	review, err := parseBool(c.Query("review"))
	if err != nil {
		h.BadRequest(c, "Invalid review flag")
		return
	}

	page, err := h.engine.ListDecisions(c.Request.Context(), pointsapp.DecisionListFilter{
		UserID:    c.Query("userId"),
		EventType: optional[points.EventType](c.Query("eventType")),
		Outcome:   optional[points.Outcome](c.Query("outcome")),
		Review:    review,
		From:      from,
		To:        to,
		Page:      q.Page,
		PageSize:  q.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}
