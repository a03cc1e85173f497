package handler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/infrastructure/storage"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// LedgerService reads and writes the points ledger
type LedgerService interface {
	Balance(ctx context.Context, userID string) (*pointsapp.BalanceResponse, error)
	Query(ctx context.Context, q pointsapp.LedgerQuery) (shared.Paginated[pointsapp.LedgerRowResponse], error)
	GetRow(ctx context.Context, id uuid.UUID) (*pointsapp.LedgerRowResponse, error)
	ExportCSV(ctx context.Context, w io.Writer, q pointsapp.LedgerQuery) (int, error)
	ExportArchive(ctx context.Context, q pointsapp.LedgerQuery) (*storage.Archive, error)
	Redeem(ctx context.Context, in pointsapp.RedeemInput) (*pointsapp.RedeemResult, error)
	Reverse(ctx context.Context, in pointsapp.ReverseInput) (*pointsapp.ReverseResult, error)
}

// LedgerHandler handles balance and ledger endpoints
type LedgerHandler struct {
	BaseHandler
	ledger   LedgerService
	location *time.Location
}

// NewLedgerHandler creates a ledger handler. loc resolves date-only filters.
func NewLedgerHandler(ledger LedgerService, loc *time.Location) *LedgerHandler {
	if loc == nil {
		loc = time.Local
	}
	return &LedgerHandler{ledger: ledger, location: loc}
}

// RedeemRequest spends points for an order
type RedeemRequest struct {
	UserID string `json:"userId" binding:"required,max=64"`
	Points int64  `json:"points" binding:"required,gt=0"`
	BizID  string `json:"bizId" binding:"required,max=128"`
	Reason string `json:"reason" binding:"max=255"`
}

// ReverseRequest refunds a ledger row
type ReverseRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// Balance godoc
// @Summary      Get a user's balance
// @Tags         points-ledger
// @Router       /points/balances/{userId} [get]
func (h *LedgerHandler) Balance(c *gin.Context) {
	balance, err := h.ledger.Balance(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balance)
}

// Query godoc
// @Summary      Query ledger rows
// @Description  Filter by userId, type, bizId, ruleId, campaignId and a from/to range (RFC 3339 or YYYY-MM-DD, to inclusive for dates)
// @Tags         points-ledger
// @Router       /points/ledger [get]
func (h *LedgerHandler) Query(c *gin.Context) {
	q, ok := h.ledgerQuery(c)
	if !ok {
		return
	}
	page, err := h.ledger.Query(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// GetRow godoc
// @Summary      Get a ledger row
// @Tags         points-ledger
// @Router       /points/ledger/{id} [get]
func (h *LedgerHandler) GetRow(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	row, err := h.ledger.GetRow(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, row)
}

// Export godoc
// @Summary      Export ledger rows as CSV
// @Description  Streams CSV. With archive=true the file is uploaded and a presigned link returned instead.
// @Tags         points-ledger
// @Produce      text/csv
// @Router       /points/ledger/export [get]
func (h *LedgerHandler) Export(c *gin.Context) {
	q, ok := h.ledgerQuery(c)
	if !ok {
		return
	}
	archive, err := parseBool(c.Query("archive"))
	if err != nil {
		h.BadRequest(c, "Invalid archive flag")
		return
	}

	if archive != nil && *archive {
		result, err := h.ledger.ExportArchive(c.Request.Context(), q)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		auditLog(c, "export", "points_ledger", result.Key, nil, result)
		h.Success(c, result)
		return
	}

	name := fmt.Sprintf("ledger-%s.csv", time.Now().In(h.location).Format("20060102-150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	rows, err := h.ledger.ExportCSV(c.Request.Context(), c.Writer, q)
	if err != nil {
		if !c.Writer.Written() {
			c.Writer.Header().Del("Content-Type")
			c.Writer.Header().Del("Content-Disposition")
			h.HandleError(c, err)
			return
		}
		// headers are gone; the truncated body is all the client will see
		logger.GetGinLogger(c).Error("Ledger export aborted", zap.Int("rows", rows), zap.Error(err))
		return
	}
	auditLog(c, "export", "points_ledger", name, nil, rows)
}

// Redeem godoc
// @Summary      Redeem points for an order
// @Description  Idempotent per bizId; a replay returns the first row with duplicate=true
// @Tags         points-ledger
// @Router       /points/ledger/redeem [post]
func (h *LedgerHandler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	result, err := h.ledger.Redeem(c.Request.Context(), pointsapp.RedeemInput{
		UserID:   req.UserID,
		Points:   req.Points,
		BizID:    req.BizID,
		Reason:   req.Reason,
		Operator: operator(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Reverse godoc
// @Summary      Reverse an earn row
// @Tags         points-ledger
// @Router       /points/ledger/{id}/reverse [post]
func (h *LedgerHandler) Reverse(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ReverseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}
	result, err := h.ledger.Reverse(c.Request.Context(), pointsapp.ReverseInput{
		RowID:    id,
		Reason:   req.Reason,
		Operator: operator(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "reverse", "points_ledger", id, result.Original, result.Refund)
	h.Created(c, result)
}

func (h *LedgerHandler) ledgerQuery(c *gin.Context) (pointsapp.LedgerQuery, bool) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return pointsapp.LedgerQuery{}, false
	}
	from, err := parseTime(c.Query("from"), h.location, false)
	if err != nil {
		h.BadRequest(c, "Invalid from: "+err.Error())
		return pointsapp.LedgerQuery{}, false
	}
	to, err := parseTime(c.Query("to"), h.location, true)
	if err != nil {
		h.BadRequest(c, "Invalid to: "+err.Error())
		return pointsapp.LedgerQuery{}, false
	}
	ledgerType := optional[points.LedgerType](c.Query("type"))
	if ledgerType != nil && !ledgerType.IsValid() {
		h.BadRequest(c, "Invalid type")
		return pointsapp.LedgerQuery{}, false
	}

	query := pointsapp.LedgerQuery{
		UserID:   c.Query("userId"),
		Type:     ledgerType,
		BizID:    c.Query("bizId"),
		From:     from,
		To:       to,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	for param, dst := range map[string]**uuid.UUID{"ruleId": &query.RuleID, "campaignId": &query.CampaignID} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			h.BadRequest(c, "Invalid "+param)
			return pointsapp.LedgerQuery{}, false
		}
		*dst = &id
	}
	return query, true
}
