package points

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// maxFailureSamples bounds the per-target failure details kept on a task
const maxFailureSamples = 50

// GrantRequest is an operator-initiated bulk adjustment
type GrantRequest struct {
	GrantType  GrantType
	TargetType TargetType
	UserIDs    []string
	LevelID    *int
	Points     int64
	ReasonCode string
	Remark     string
	Operator   string
}

// Validate checks the request before a task is created
func (r *GrantRequest) Validate() error {
	var v shared.ValidationError
	if !r.GrantType.IsValid() {
		v.Addf("grantType", "unsupported grant type %q", r.GrantType)
	}
	switch r.TargetType {
	case TargetUser:
		if len(r.UserIDs) == 0 {
			v.Add("userIds", "is required for target user")
		}
		for _, id := range r.UserIDs {
			if strings.TrimSpace(id) == "" {
				v.Add("userIds", "must not contain empty ids")
				break
			}
		}
	case TargetLevel:
		if r.LevelID == nil {
			v.Add("levelId", "is required for target level")
		} else if *r.LevelID < 0 {
			v.Add("levelId", "must not be negative")
		}
	case TargetAll:
	default:
		v.Addf("targetType", "unsupported target type %q", r.TargetType)
	}
	if r.Points <= 0 {
		v.Add("points", "must be positive")
	}
	if strings.TrimSpace(r.ReasonCode) == "" {
		v.Add("reasonCode", "is required")
	}
	return v.ErrOrNil()
}

// GrantFailure explains why one target was not applied
type GrantFailure struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// GrantTask records one bulk operator action. It is stored as partial with zero
// counts before any ledger row is written, so an interrupted run stays partial
// and SuccessCount always equals the rows committed under the task id.
type GrantTask struct {
	shared.BaseAggregateRoot
	GrantType     GrantType
	TargetType    TargetType
	UserIDs       []string
	LevelID       *int
	Points        int64
	ReasonCode    string
	Remark        string
	Operator      string
	TargetCount   int64
	Status        GrantStatus
	SuccessCount  int64
	FailureCount  int64
	ResultSummary string
	Failures      []GrantFailure
	Canceled      bool
	FinishedAt    *time.Time
}

// NewGrantTask creates the durable task record for a validated request
func NewGrantTask(req GrantRequest) (*GrantTask, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &GrantTask{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		GrantType:         req.GrantType,
		TargetType:        req.TargetType,
		UserIDs:           dedupeStrings(req.UserIDs),
		LevelID:           req.LevelID,
		Points:            req.Points,
		ReasonCode:        strings.TrimSpace(req.ReasonCode),
		Remark:            req.Remark,
		Operator:          req.Operator,
		Status:            GrantStatusPartial,
		ResultSummary:     "in progress",
	}, nil
}

// BizID is the correlation id written on every ledger row of the task
func (t *GrantTask) BizID() string {
	return t.ID.String()
}

// IsFinished reports whether the task reached a terminal state
func (t *GrantTask) IsFinished() bool {
	return t.FinishedAt != nil
}

// LedgerReason is the human text on the task's ledger rows
func (t *GrantTask) LedgerReason() string {
	if t.Remark != "" {
		return t.ReasonCode + ": " + t.Remark
	}
	return t.ReasonCode
}

// LedgerRow builds the task's row for one target user
func (t *GrantTask) LedgerRow(userID string, loc *time.Location) (*LedgerRow, error) {
	reason, bizID := t.LedgerReason(), t.BizID()
	switch t.GrantType {
	case GrantDeduct:
		return NewRedeemRow(userID, t.Points, reason, bizID, t.Operator, loc)
	case GrantFreeze:
		return NewFreezeRow(userID, t.Points, reason, bizID, t.Operator, loc)
	case GrantUnfreeze:
		return NewUnfreezeRow(userID, t.Points, reason, bizID, t.Operator, loc)
	default:
		return NewBonusRow(userID, t.Points, reason, bizID, t.Operator, loc)
	}
}

// RecordSuccess mirrors a committed target
func (t *GrantTask) RecordSuccess() {
	t.SuccessCount++
}

// RecordFailure mirrors a rejected target and keeps a bounded sample of reasons
func (t *GrantTask) RecordFailure(userID, reason string) {
	t.FailureCount++
	if len(t.Failures) < maxFailureSamples {
		t.Failures = append(t.Failures, GrantFailure{UserID: userID, Reason: reason})
	}
}

// PrepareResume clears failure bookkeeping before an interrupted task is run again.
// Failed targets wrote nothing, so they are simply attempted again.
func (t *GrantTask) PrepareResume() error {
	if t.IsFinished() && !t.Canceled {
		return shared.NewDomainError(shared.CodeInvalidState, "only unfinished or canceled tasks can be resumed")
	}
	t.FailureCount = 0
	t.Failures = nil
	t.FinishedAt = nil
	t.Canceled = false
	t.Status = GrantStatusPartial
	t.ResultSummary = "in progress"
	t.IncrementVersion()
	return nil
}

// Finish moves the task to its terminal status
func (t *GrantTask) Finish(canceled bool) {
	now := time.Now()
	t.FinishedAt = &now
	t.Canceled = canceled
	processed := t.SuccessCount + t.FailureCount

	switch {
	case canceled:
		t.Status = GrantStatusPartial
		t.ResultSummary = fmt.Sprintf("canceled after %d of %d targets: %d succeeded, %d failed",
			processed, t.TargetCount, t.SuccessCount, t.FailureCount)
	case t.TargetCount == 0:
		t.Status = GrantStatusCompleted
		t.ResultSummary = "no targets matched"
	case t.SuccessCount == 0:
		t.Status = GrantStatusFailed
		t.ResultSummary = fmt.Sprintf("all %d targets failed", t.FailureCount)
	case t.FailureCount == 0 && processed >= t.TargetCount:
		t.Status = GrantStatusCompleted
		t.ResultSummary = fmt.Sprintf("%d targets succeeded", t.SuccessCount)
	default:
		t.Status = GrantStatusPartial
		t.ResultSummary = fmt.Sprintf("%d succeeded, %d failed", t.SuccessCount, t.FailureCount)
	}
	t.IncrementVersion()
}

// GrantTaskFilter selects grant tasks
type GrantTaskFilter struct {
	shared.Filter
	Status    *GrantStatus
	GrantType *GrantType
	Operator  string
}

// GrantTaskRepository stores grant tasks. The counter increments are meant to run in
// the same transaction as the ledger append they account for.
type GrantTaskRepository interface {
	Create(ctx context.Context, task *GrantTask) error
	FindByID(ctx context.Context, id uuid.UUID) (*GrantTask, error)
	FindAll(ctx context.Context, filter GrantTaskFilter) ([]GrantTask, int64, error)
	// IncrementSuccess bumps success_count by one; it shares the ledger append's transaction
	IncrementSuccess(ctx context.Context, id uuid.UUID) error
	// SaveProgress persists everything but success_count, which only IncrementSuccess moves
	SaveProgress(ctx context.Context, task *GrantTask) error
	// FindUnfinished lists tasks interrupted before reaching a terminal state
	FindUnfinished(ctx context.Context, limit int) ([]GrantTask, error)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
