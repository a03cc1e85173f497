package points

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/storage"
	"github.com/loyalty/points/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// exportBatchSize is the number of rows read per round trip while exporting
const exportBatchSize = 500

var exportHeader = []string{
	"id", "user_id", "type", "amount", "reason", "biz_id", "rule_id",
	"campaign_id", "event_type", "operator", "biz_date", "created_at",
}

// ExportArchive stores finished exports and returns a download link
type ExportArchive interface {
	Store(ctx context.Context, name, contentType string, data []byte) (*storage.Archive, error)
}

// LedgerService reads balances and ledger rows and applies the order pipeline's
// redeems and the console's reversals
type LedgerService struct {
	ledger   points.LedgerRepository
	txScope  TransactionScope
	balances points.BalanceCache
	archive  ExportArchive
	metrics  *telemetry.PointsMetrics
	location *time.Location
	logger   *zap.Logger
}

// NewLedgerService creates a LedgerService
func NewLedgerService(ledger points.LedgerRepository, txScope TransactionScope, location *time.Location) *LedgerService {
	if location == nil {
		location = time.Local
	}
	return &LedgerService{
		ledger:   ledger,
		txScope:  txScope,
		location: location,
		logger:   zap.NewNop(),
	}
}

// SetBalanceCache sets the balance projection cache
func (s *LedgerService) SetBalanceCache(cache points.BalanceCache) {
	s.balances = cache
}

// SetExportArchive sets where archived exports are uploaded
func (s *LedgerService) SetExportArchive(archive ExportArchive) {
	s.archive = archive
}

// SetMetrics sets the business metrics recorder
func (s *LedgerService) SetMetrics(m *telemetry.PointsMetrics) {
	s.metrics = m
}

// SetLogger sets the logger
func (s *LedgerService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Balance returns the user's usable and frozen totals, served from the cache when possible
func (s *LedgerService) Balance(ctx context.Context, userID string) (*BalanceResponse, error) {
	if userID == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "userId is required")
	}
	cacheable := false
	var gen int64
	if s.balances != nil {
		cached, g, err := s.balances.Get(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn("Balance cache read failed", zap.String("user_id", userID), zap.Error(err))
		case cached != nil:
			return toBalanceResponse(*cached), nil
		default:
			cacheable, gen = true, g
		}
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, shared.PersistenceFailure("load balance", err)
	}
	if cacheable {
		if err := s.balances.Set(ctx, balance, gen); err != nil {
			s.logger.Warn("Balance cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return toBalanceResponse(balance), nil
}

// Query pages through ledger rows
func (s *LedgerService) Query(ctx context.Context, q LedgerQuery) (shared.Paginated[LedgerRowResponse], error) {
	filter := q.filter()
	rows, total, err := s.ledger.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[LedgerRowResponse]{}, shared.PersistenceFailure("query ledger", err)
	}
	items := make([]LedgerRowResponse, len(rows))
	for i := range rows {
		items[i] = ToLedgerRowResponse(&rows[i])
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// GetRow returns one ledger row
func (s *LedgerService) GetRow(ctx context.Context, id uuid.UUID) (*LedgerRowResponse, error) {
	row, err := s.ledger.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToLedgerRowResponse(row)
	return &resp, nil
}

// ExportCSV streams every row matching q to w as CSV, oldest first.
// Pagination fields of q are ignored.
func (s *LedgerService) ExportCSV(ctx context.Context, w io.Writer, q LedgerQuery) (int, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "export_csv", telemetry.SpanAttrUserID, q.UserID)
	defer span.End()

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}

	written := 0
	err := s.ledger.Stream(ctx, q.filter(), exportBatchSize, func(rows []points.LedgerRow) error {
		for i := range rows {
			if err := cw.Write(csvRecord(&rows[i])); err != nil {
				return err
			}
		}
		written += len(rows)
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return written, shared.PersistenceFailure("export ledger", err)
	}
	cw.Flush()
	return written, cw.Error()
}

// ExportArchive renders the export and uploads it, returning a presigned link
func (s *LedgerService) ExportArchive(ctx context.Context, q LedgerQuery) (*storage.Archive, error) {
	if s.archive == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "export archive storage is not configured")
	}
	var buf bytes.Buffer
	rows, err := s.ExportCSV(ctx, &buf, q)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("ledger-%s.csv", time.Now().UTC().Format("20060102T150405Z"))
	archive, err := s.archive.Store(ctx, name, "text/csv", buf.Bytes())
	if err != nil {
		return nil, shared.PersistenceFailure("store export archive", err)
	}
	s.logger.Info("Ledger export archived",
		zap.String("key", archive.Key),
		zap.Int("rows", rows),
		zap.Int64("bytes", archive.Size),
	)
	return archive, nil
}

// Redeem spends usable points for an order. The bizId makes retries idempotent:
// a second redeem with the same bizId returns the first row with Duplicate set.
func (s *LedgerService) Redeem(ctx context.Context, in RedeemInput) (*RedeemResult, error) {
	reason := in.Reason
	if reason == "" {
		reason = "redeem"
	}
	row, err := points.NewRedeemRow(in.UserID, in.Points, reason, in.BizID, in.Operator, s.location)
	if err != nil {
		return nil, err
	}

	duplicate := false
	var balance points.Balance
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.CounterStore().Lock(ctx, []points.CounterKey{points.AccountKey(in.UserID)}); err != nil {
			return err
		}
		ledger := repos.LedgerRepo()
		exists, err := ledger.ExistsByBiz(ctx, in.UserID, in.BizID, points.LedgerRedeem)
		if err != nil {
			return err
		}
		if exists {
			duplicate = true
			return nil
		}
		if balance, err = ledger.Balance(ctx, in.UserID); err != nil {
			return err
		}
		if !balance.CanApply(row) {
			return shared.NewDomainError(shared.CodeInsufficientBalance,
				fmt.Sprintf("usable balance %d is below %d", balance.Usable, in.Points))
		}
		res, err := ledger.Append(ctx, row)
		if err != nil {
			return err
		}
		if res == points.AppendDuplicate {
			duplicate = true
			return nil
		}
		balance.Apply(row)
		return nil
	})
	if err != nil {
		return nil, failure("redeem points", err)
	}

	if duplicate {
		existing, err := s.findByBiz(ctx, in.UserID, in.BizID, points.LedgerRedeem)
		if err != nil {
			return nil, err
		}
		current, err := s.Balance(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return &RedeemResult{Row: ToLedgerRowResponse(existing), Duplicate: true, Balance: current}, nil
	}

	s.invalidate(ctx, in.UserID)
	if s.metrics != nil {
		s.metrics.RecordPoints(ctx, string(points.LedgerRedeem), in.Points)
	}
	return &RedeemResult{Row: ToLedgerRowResponse(row), Balance: toBalanceResponse(balance)}, nil
}

// Reverse writes the refund row for an earn, bonus or commission row. A row can be reversed once.
func (s *LedgerService) Reverse(ctx context.Context, in ReverseInput) (*ReverseResult, error) {
	original, err := s.ledger.FindByID(ctx, in.RowID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		return nil, shared.PersistenceFailure("load ledger row", err)
	}
	reason := in.Reason
	if reason == "" {
		reason = "reversal of " + original.Reason
	}
	refund, err := points.NewRefundRow(original, reason, in.Operator, s.location)
	if err != nil {
		return nil, err
	}

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.CounterStore().Lock(ctx, []points.CounterKey{points.AccountKey(original.UserID)}); err != nil {
			return err
		}
		ledger := repos.LedgerRepo()
		balance, err := ledger.Balance(ctx, original.UserID)
		if err != nil {
			return err
		}
		if !balance.CanApply(refund) {
			return shared.NewDomainError(shared.CodeInsufficientBalance,
				fmt.Sprintf("usable balance %d cannot cover the reversal of %d", balance.Usable, original.Amount))
		}
		res, err := ledger.Append(ctx, refund)
		if err != nil {
			return err
		}
		if res == points.AppendDuplicate {
			return shared.NewDomainError(shared.CodeAlreadyExists, "ledger row already reversed")
		}
		return repos.SaveEvents(ctx, points.NewLedgerRowReversed(original, refund))
	})
	if err != nil {
		return nil, failure("reverse ledger row", err)
	}

	s.invalidate(ctx, original.UserID)
	s.logger.Info("Ledger row reversed",
		zap.String("row_id", original.ID.String()),
		zap.String("refund_id", refund.ID.String()),
		zap.String("operator", in.Operator),
	)
	return &ReverseResult{Original: ToLedgerRowResponse(original), Refund: ToLedgerRowResponse(refund)}, nil
}

func (s *LedgerService) findByBiz(ctx context.Context, userID, bizID string, t points.LedgerType) (*points.LedgerRow, error) {
	filter := points.LedgerFilter{UserID: userID, BizID: bizID, Type: &t}
	filter.Filter = shared.Filter{Page: 1, PageSize: 1}.Normalize()
	rows, _, err := s.ledger.FindAll(ctx, filter)
	if err != nil {
		return nil, shared.PersistenceFailure("load ledger row", err)
	}
	if len(rows) == 0 {
		return nil, shared.ErrNotFound
	}
	return &rows[0], nil
}

func (s *LedgerService) invalidate(ctx context.Context, userID string) {
	if s.balances == nil {
		return
	}
	if err := s.balances.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate balance cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func csvRecord(r *points.LedgerRow) []string {
	ruleID, campaignID := "", ""
	if r.RuleID != nil {
		ruleID = r.RuleID.String()
	}
	if r.CampaignID != nil {
		campaignID = r.CampaignID.String()
	}
	return []string{
		r.ID.String(),
		r.UserID,
		string(r.Type),
		strconv.FormatInt(r.Amount, 10),
		r.Reason,
		r.BizID,
		ruleID,
		campaignID,
		string(r.EventType),
		r.Operator,
		r.BizDate,
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
