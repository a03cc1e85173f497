package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	pointsapp "github.com/loyalty/points/internal/application/points"
)

// MemberService stores user snapshots pushed by the user service
type MemberService interface {
	Upsert(ctx context.Context, in pointsapp.MemberInput) (*pointsapp.MemberResponse, error)
	Get(ctx context.Context, userID string) (*pointsapp.MemberResponse, error)
}

// MemberHandler handles member snapshot endpoints
type MemberHandler struct {
	BaseHandler
	members MemberService
}

// NewMemberHandler creates a member handler
func NewMemberHandler(members MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

// Upsert godoc
// @Summary      Create or replace a member snapshot
// @Tags         points-members
// @Router       /points/members/{userId} [put]
func (h *MemberHandler) Upsert(c *gin.Context) {
	var in pointsapp.MemberInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.BindError(c, err)
		return
	}
	in.UserID = c.Param("userId")
	member, err := h.members.Upsert(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, member)
}

// Get godoc
// @Summary      Get a member snapshot
// @Tags         points-members
// @Router       /points/members/{userId} [get]
func (h *MemberHandler) Get(c *gin.Context) {
	member, err := h.members.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, member)
}
