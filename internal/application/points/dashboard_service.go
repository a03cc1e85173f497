package points

import (
	"context"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"golang.org/x/sync/errgroup"
)

// MaxTrendDays bounds the trend window
const MaxTrendDays = 90

// DashboardService aggregates KPIs for the admin console
type DashboardService struct {
	ledger    points.LedgerRepository
	rules     points.RuleRepository
	campaigns points.CampaignRepository
	decisions points.EvaluationRepository
	location  *time.Location
	now       func() time.Time
}

// NewDashboardService creates a DashboardService
func NewDashboardService(
	ledger points.LedgerRepository,
	rules points.RuleRepository,
	campaigns points.CampaignRepository,
	decisions points.EvaluationRepository,
	location *time.Location,
) *DashboardService {
	if location == nil {
		location = time.Local
	}
	return &DashboardService{
		ledger:    ledger,
		rules:     rules,
		campaigns: campaigns,
		decisions: decisions,
		location:  location,
		now:       time.Now,
	}
}

// Overview returns today's KPIs in the business timezone
func (s *DashboardService) Overview(ctx context.Context) (*Overview, error) {
	now := s.now().In(s.location)
	today := now.Format(points.BizDateLayout)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)

	var (
		totals    []points.DailyTotal
		rules     int64
		campaigns int64
		outcomes  map[points.Outcome]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totals, err = s.ledger.DailyTotals(gctx, today, today)
		return err
	})
	g.Go(func() (err error) {
		rules, err = s.rules.CountActive(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		campaigns, err = s.campaigns.CountActive(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		outcomes, err = s.decisions.CountByOutcomeSince(gctx, midnight)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, failure("load dashboard overview", err)
	}

	o := &Overview{
		Date:            today,
		ActiveRules:     rules,
		ActiveCampaigns: campaigns,
		Decisions:       outcomes,
		GeneratedAt:     now,
	}
	if o.Decisions == nil {
		o.Decisions = map[points.Outcome]int64{}
	}
	if len(totals) > 0 {
		o.IssuedToday = totals[0].Issued
		o.RedeemedToday = totals[0].Redeemed
		o.ActiveUsers = totals[0].ActiveUsers
	}
	return o, nil
}

// Trend returns one entry per day for the last days days, today included.
// Days without ledger activity are reported with zero totals.
func (s *DashboardService) Trend(ctx context.Context, days int) (*Trend, error) {
	if days <= 0 {
		days = 7
	}
	if days > MaxTrendDays {
		days = MaxTrendDays
	}
	now := s.now().In(s.location)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	start := end.AddDate(0, 0, -(days - 1))
	from, to := start.Format(points.BizDateLayout), end.Format(points.BizDateLayout)

	totals, err := s.ledger.DailyTotals(ctx, from, to)
	if err != nil {
		return nil, failure("load dashboard trend", err)
	}
	byDate := make(map[string]points.DailyTotal, len(totals))
	for _, t := range totals {
		byDate[t.BizDate] = t
	}

	series := make([]points.DailyTotal, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(points.BizDateLayout)
		if t, ok := byDate[date]; ok {
			series = append(series, t)
			continue
		}
		series = append(series, points.DailyTotal{BizDate: date})
	}
	return &Trend{From: from, To: to, Days: series}, nil
}
