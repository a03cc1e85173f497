package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loyalty/points/internal/application/event"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/interfaces/http/dto"
)

// OutboxService is the operator console over outbox delivery
type OutboxService interface {
	Parked(ctx context.Context, page, pageSize int) (shared.Paginated[event.OutboxEntryDTO], error)
	Entry(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error)
	Requeue(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error)
	RequeueAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*event.OutboxStatsDTO, error)
}

type OutboxHandler struct {
	BaseHandler
	outbox OutboxService
}

func NewOutboxHandler(outbox OutboxService) *OutboxHandler {
	return &OutboxHandler{outbox: outbox}
}

// RequeueAllResponse reports how many parked entries went back to pending
type RequeueAllResponse struct {
	Requeued int64 `json:"requeued"`
}

// Parked godoc
// @Summary      List parked outbox entries
// @Tags         outbox
// @Router       /system/outbox/parked [get]
func (h *OutboxHandler) Parked(c *gin.Context) {
	var q dto.ListRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	page, err := h.outbox.Parked(c.Request.Context(), q.Page, q.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	Page(c, page)
}

// Entry godoc
// @Summary      Get an outbox entry
// @Tags         outbox
// @Router       /system/outbox/{id} [get]
func (h *OutboxHandler) Entry(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outbox.Entry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Requeue godoc
// @Summary      Requeue a parked outbox entry
// @Tags         outbox
// @Router       /system/outbox/{id}/requeue [post]
func (h *OutboxHandler) Requeue(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outbox.Requeue(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "requeue", "outbox_entry", id, nil, entry)
	h.Success(c, entry)
}

// RequeueAll godoc
// @Summary      Requeue every parked outbox entry
// @Tags         outbox
// @Router       /system/outbox/parked/requeue [post]
func (h *OutboxHandler) RequeueAll(c *gin.Context) {
	n, err := h.outbox.RequeueAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	auditLog(c, "requeue_all", "outbox_entry", nil, nil, n)
	h.Success(c, RequeueAllResponse{Requeued: n})
}

// Stats godoc
// @Summary      Count outbox entries per status
// @Tags         outbox
// @Router       /system/outbox/stats [get]
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
