package points

import (
	"context"
	"errors"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// MemberService keeps the engine's snapshot of user attributes in sync with
// the user service
type MemberService struct {
	members points.MemberRepository
	logger  *zap.Logger
}

// NewMemberService creates a MemberService
func NewMemberService(members points.MemberRepository) *MemberService {
	return &MemberService{members: members, logger: zap.NewNop()}
}

// SetLogger sets the logger
func (s *MemberService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Upsert replaces the snapshot of a user. Registration and first order times
// already observed by the engine are kept when the input leaves them empty.
func (s *MemberService) Upsert(ctx context.Context, in MemberInput) (*MemberResponse, error) {
	member, err := s.members.FindByUserID(ctx, in.UserID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		member = points.NewMember(in.UserID)
	case err != nil:
		return nil, failure("load member", err)
	}

	member.Level = in.Level
	member.Tags = in.Tags
	member.ReferrerID = in.ReferrerID
	if in.RegisteredAt != nil {
		member.RegisteredAt = in.RegisteredAt
	}
	if in.FirstOrderAt != nil {
		member.FirstOrderAt = in.FirstOrderAt
	}
	member.UpdatedAt = time.Now()
	if err := member.Validate(); err != nil {
		return nil, err
	}
	if err := s.members.Save(ctx, member); err != nil {
		return nil, failure("save member", err)
	}
	s.logger.Debug("Member synced", zap.String("user_id", member.UserID), zap.Int("level", member.Level))
	resp := ToMemberResponse(member)
	return &resp, nil
}

// Get returns the snapshot of a user
func (s *MemberService) Get(ctx context.Context, userID string) (*MemberResponse, error) {
	member, err := s.members.FindByUserID(ctx, userID)
	if err != nil {
		return nil, failure("load member", err)
	}
	resp := ToMemberResponse(member)
	return &resp, nil
}
