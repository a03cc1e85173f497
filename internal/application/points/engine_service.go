package points

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Skip reasons added by the engine on top of the rule matcher's
const (
	SkipCampaignUnavailable = "campaign_unavailable"
	SkipZeroReward          = "zero_reward"
	SkipMaxPerUserTotal     = "max_per_user_total"
	SkipMaxPerUserDay       = "max_per_user_day"
	SkipCooldown            = "cooldown"
	SkipExclusiveLost       = "exclusive_lost"
)

// DefaultDowngradeMultiplier applies when no multiplier is configured
const DefaultDowngradeMultiplier = 0.5

// errReplay aborts a commit that lost the race against a concurrent delivery of the same event
var errReplay = errors.New("event already evaluated")

// EngineConfig holds the engine-defined knobs
type EngineConfig struct {
	DowngradeMultiplier float64
	Location            *time.Location
}

// EngineService evaluates activity events into ledger rows
type EngineService struct {
	rules        points.RuleRepository
	campaigns    points.CampaignRepository
	riskRules    points.RiskRuleRepository
	members      points.MemberRepository
	decisions    points.EvaluationRepository
	blacklist    points.BlacklistRepository
	riskCounters points.RiskCounterStore
	txScope      TransactionScope
	balances     points.BalanceCache
	metrics      *telemetry.PointsMetrics
	logger       *zap.Logger
	cfg          EngineConfig
}

// NewEngineService creates an EngineService
func NewEngineService(
	rules points.RuleRepository,
	campaigns points.CampaignRepository,
	riskRules points.RiskRuleRepository,
	members points.MemberRepository,
	decisions points.EvaluationRepository,
	blacklist points.BlacklistRepository,
	riskCounters points.RiskCounterStore,
	txScope TransactionScope,
	cfg EngineConfig,
) *EngineService {
	if cfg.DowngradeMultiplier <= 0 || cfg.DowngradeMultiplier > 1 {
		cfg.DowngradeMultiplier = DefaultDowngradeMultiplier
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &EngineService{
		rules:        rules,
		campaigns:    campaigns,
		riskRules:    riskRules,
		members:      members,
		decisions:    decisions,
		blacklist:    blacklist,
		riskCounters: riskCounters,
		txScope:      txScope,
		cfg:          cfg,
		logger:       zap.NewNop(),
	}
}

// SetBalanceCache sets the cache invalidated after every committed award
func (s *EngineService) SetBalanceCache(cache points.BalanceCache) {
	s.balances = cache
}

// SetMetrics sets the business metrics recorder
func (s *EngineService) SetMetrics(m *telemetry.PointsMetrics) {
	s.metrics = m
}

// SetLogger sets the logger
func (s *EngineService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// riskVerdict is the outcome of the risk gate
type riskVerdict struct {
	action    points.HitAction
	review    bool
	reason    string
	hits      []points.RiskHit
	blacklist []*points.BlacklistEntry
	observed  []points.RiskObservation
}

// Evaluate runs one event through the risk gate, candidate selection, throttles,
// stacking, reward computation and campaign clipping, and commits the result in one
// transaction. A replayed bizId returns the stored decision with Duplicate set.
func (s *EngineService) Evaluate(ctx context.Context, in EvaluateInput) (result *EvaluationResult, err error) {
	telemetry.WithProfilingLabels(ctx, map[string]string{
		telemetry.ProfilingLabelOperation: "evaluate",
		telemetry.ProfilingLabelEventType: string(in.EventType),
	}, func(ctx context.Context) {
		result, err = s.evaluate(ctx, in)
	})
	return result, err
}

func (s *EngineService) evaluate(ctx context.Context, in EvaluateInput) (result *EvaluationResult, err error) {
	start := time.Now()
	ev := in.toEvent()
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "engine", "evaluate",
		telemetry.SpanAttrUserID, ev.UserID,
		telemetry.SpanAttrEventType, string(ev.EventType),
		telemetry.SpanAttrBizID, ev.BizID,
	)
	defer func() {
		telemetry.RecordError(span, err)
		if result != nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrOutcome, string(result.Outcome),
				telemetry.SpanAttrAwarded, result.TotalAwarded,
			)
		}
		span.End()
	}()

	if stored, ok, err := s.storedDecision(ctx, ev); err != nil {
		return nil, err
	} else if ok {
		return ToEvaluationResult(stored, true), nil
	}

	member, memberChanged, err := s.loadMember(ctx, ev)
	if err != nil {
		return nil, err
	}

	decision := points.NewDecision(ev)
	verdict, err := s.riskGate(ctx, ev)
	if err != nil {
		return nil, err
	}
	decision.RiskHits = verdict.hits
	decision.Review = verdict.review

	if verdict.action == points.HitActionBlock {
		decision.Block(verdict.reason)
		decision.Finalize()
		if err := s.commitBlocked(ctx, decision, verdict.blacklist); err != nil {
			return s.replayOr(ctx, ev, err)
		}
		s.recordDecision(ctx, decision, start)
		s.logger.Info("Event blocked by risk gate",
			zap.String("user_id", ev.UserID),
			zap.String("event_type", string(ev.EventType)),
			zap.String("biz_id", ev.BizID),
			zap.String("reason", verdict.reason),
		)
		return ToEvaluationResult(decision, false), nil
	}
	if verdict.action == points.HitActionDowngrade {
		decision.RiskAction = points.HitActionDowngrade
		decision.Multiplier = s.cfg.DowngradeMultiplier
	} else if verdict.action == points.HitActionReview {
		decision.RiskAction = points.HitActionReview
	}

	entries, awards, err := s.selectCandidates(ctx, ev, member)
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrCandidates, len(awards))

	if err := s.commit(ctx, ev, decision, entries, awards, member, memberChanged, verdict.blacklist); err != nil {
		return s.replayOr(ctx, ev, err)
	}

	if decision.TotalAwarded > 0 {
		s.recordRewarded(ctx, verdict.observed)
		if s.balances != nil {
			if err := s.balances.Invalidate(ctx, ev.UserID); err != nil {
				s.logger.Warn("Failed to invalidate balance cache", zap.String("user_id", ev.UserID), zap.Error(err))
			}
		}
	}
	s.recordDecision(ctx, decision, start)
	return ToEvaluationResult(decision, false), nil
}

// ListDecisions pages through stored decisions, e.g. the review queue
func (s *EngineService) ListDecisions(ctx context.Context, f DecisionListFilter) (shared.Paginated[EvaluationResult], error) {
	filter := points.DecisionFilter{
		UserID:    f.UserID,
		EventType: f.EventType,
		Outcome:   f.Outcome,
		Review:    f.Review,
		From:      f.From,
		To:        f.To,
	}
	filter.Page = f.Page
	filter.PageSize = f.PageSize
	filter.Filter = filter.Filter.Normalize()

	decisions, total, err := s.decisions.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[EvaluationResult]{}, shared.PersistenceFailure("list decisions", err)
	}
	items := make([]EvaluationResult, len(decisions))
	for i := range decisions {
		items[i] = *ToEvaluationResult(&decisions[i], false)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

func (s *EngineService) storedDecision(ctx context.Context, ev *points.ActivityEvent) (*points.Decision, bool, error) {
	stored, err := s.decisions.Find(ctx, ev.UserID, ev.EventType, ev.BizID)
	if err == nil {
		return stored, true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil, false, nil
	}
	return nil, false, shared.PersistenceFailure("load decision", err)
}

// replayOr turns a lost race against a concurrent delivery into the duplicate result
func (s *EngineService) replayOr(ctx context.Context, ev *points.ActivityEvent, err error) (*EvaluationResult, error) {
	if !errors.Is(err, errReplay) {
		return nil, failure("evaluate event", err)
	}
	stored, ok, findErr := s.storedDecision(ctx, ev)
	if findErr != nil {
		return nil, findErr
	}
	if !ok {
		return nil, shared.PersistenceFailure("evaluate event", err)
	}
	return ToEvaluationResult(stored, true), nil
}

// loadMember returns the actor snapshot with the event's own facts folded in
func (s *EngineService) loadMember(ctx context.Context, ev *points.ActivityEvent) (*points.Member, bool, error) {
	member, err := s.members.FindByUserID(ctx, ev.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		member = points.NewMember(ev.UserID)
	} else if err != nil {
		return nil, false, shared.PersistenceFailure("load member", err)
	}
	changed := member.ObserveEvent(ev)
	return member, changed, nil
}

func (s *EngineService) riskGate(ctx context.Context, ev *points.ActivityEvent) (riskVerdict, error) {
	var v riskVerdict

	blacklisted, err := s.blacklist.IsBlacklisted(ctx, ev.UserID, ev.EventType)
	if err != nil {
		return v, shared.PersistenceFailure("check blacklist", err)
	}
	if blacklisted {
		v.action = points.HitActionBlock
		v.reason = "actor is blacklisted"
		v.hits = append(v.hits, points.RiskHit{Action: points.HitActionBlock, Limit: "blacklist", Blacklisted: true})
		return v, nil
	}

	rules, err := s.riskRules.FindEnabledFor(ctx, ev.EventType)
	if err != nil {
		return v, shared.PersistenceFailure("load risk rules", err)
	}

	day := ev.LocalTime(s.cfg.Location).Format(points.BizDateLayout)
	counts := make(map[points.EventType]points.RiskCounts)
	for _, rule := range rules {
		if !rule.AppliesTo(ev.EventType) {
			continue
		}
		c, observed := counts[rule.EventType]
		if !observed {
			obs := points.RiskObservation{
				Scope:     rule.EventType,
				EventType: ev.EventType,
				BizID:     ev.BizID,
				UserID:    ev.UserID,
				DeviceID:  ev.DeviceID,
				IP:        ev.IP,
				At:        ev.OccurredAt,
				Day:       day,
			}
			c, err = s.riskCounters.Observe(ctx, obs)
			if err != nil {
				return v, shared.PersistenceFailure("observe risk counters", err)
			}
			counts[rule.EventType] = c
			v.observed = append(v.observed, obs)
		}

		limit := rule.Exceeded(c)
		if limit == "" {
			continue
		}
		hit := points.RiskHit{RiskRuleID: rule.ID, Action: rule.HitAction, Limit: limit}
		if rule.BlacklistEnabled {
			hit.Blacklisted = true
			v.blacklist = append(v.blacklist, points.NewBlacklistEntry(ev.UserID, rule, rule.Name+": "+limit))
		}
		v.hits = append(v.hits, hit)
		if rule.HitAction == points.HitActionReview {
			v.review = true
		}
		if stronger := v.action.Stronger(rule.HitAction); stronger != v.action {
			v.action = stronger
			v.reason = "risk rule " + rule.Name + " exceeded " + limit
		}
	}
	return v, nil
}

// selectCandidates runs candidate selection and reward computation outside the transaction.
// It returns one trace entry per loaded rule and the awards still in the running,
// each pointing at its trace entry by index.
func (s *EngineService) selectCandidates(ctx context.Context, ev *points.ActivityEvent, member *points.Member) ([]points.TraceEntry, map[*points.Award]int, error) {
	rules, err := s.rules.FindActive(ctx, ev.EventType, ev.OccurredAt)
	if err != nil {
		return nil, nil, shared.PersistenceFailure("load rules", err)
	}

	entries := make([]points.TraceEntry, len(rules))
	matched := make([]int, 0, len(rules))
	for i, rule := range rules {
		entries[i] = points.TraceEntry{RuleID: rule.ID, RuleName: rule.Name}
		reason, condErr := rule.Match(ev, member, s.cfg.Location)
		if condErr != nil {
			s.logger.Error("Rule extra conditions cannot be evaluated, rule excluded",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.Error(condErr),
			)
		}
		if reason != "" {
			entries[i].Skipped = reason
			continue
		}
		matched = append(matched, i)
	}

	awards := make(map[*points.Award]int, len(matched))
	if len(matched) == 0 {
		return entries, awards, nil
	}

	ids := make([]uuid.UUID, len(matched))
	for j, i := range matched {
		ids[j] = rules[i].ID
	}
	campaigns, err := s.campaigns.FindByRuleIDs(ctx, ids)
	if err != nil {
		return nil, nil, shared.PersistenceFailure("load campaigns", err)
	}

	for _, i := range matched {
		rule := rules[i]
		campaign, bound := points.SelectCampaign(campaigns, rule.ID, ev.UserID, member, ev.OccurredAt)
		if bound && campaign == nil {
			entries[i].Skipped = SkipCampaignUnavailable
			continue
		}
		if campaign != nil {
			id := campaign.ID
			entries[i].CampaignID = &id
		}
		computed := rule.ComputeReward(ev.Amount())
		entries[i].ComputedValue = computed
		if computed <= 0 {
			entries[i].Skipped = SkipZeroReward
			continue
		}
		awards[&points.Award{Rule: rule, Campaign: campaign, Computed: computed}] = i
	}
	return entries, awards, nil
}

// recordRewarded feeds an awarded event into the device and ip windows. A failure
// only weakens later device and ip limits, so it is logged.
func (s *EngineService) recordRewarded(ctx context.Context, observed []points.RiskObservation) {
	for _, obs := range observed {
		if err := s.riskCounters.Rewarded(ctx, obs); err != nil {
			s.logger.Warn("Failed to record rewarded event in risk windows",
				zap.String("user_id", obs.UserID),
				zap.String("scope", string(obs.Scope)),
				zap.Error(err),
			)
		}
	}
}

// lockedMember reloads the member inside the transaction, after its key was locked,
// and folds the event in again
func lockedMember(ctx context.Context, repos TransactionalRepositories, ev *points.ActivityEvent) (*points.Member, bool, error) {
	member, err := repos.MemberRepo().FindByUserID(ctx, ev.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		member = points.NewMember(ev.UserID)
	} else if err != nil {
		return nil, false, err
	}
	return member, member.ObserveEvent(ev), nil
}

// commit locks every contention key the candidates touch, applies throttles, stacking,
// downgrade and campaign clipping on the locked values, and writes everything at once.
// Member dependent conditions are matched again on the snapshot read under the member lock.
func (s *EngineService) commit(
	ctx context.Context,
	ev *points.ActivityEvent,
	decision *points.Decision,
	entries []points.TraceEntry,
	candidates map[*points.Award]int,
	member *points.Member,
	memberChanged bool,
	blacklist []*points.BlacklistEntry,
) error {
	day := ev.LocalTime(s.cfg.Location).Format(points.BizDateLayout)

	var keys []points.CounterKey
	lockMember := len(candidates) > 0 || memberChanged
	if lockMember {
		keys = append(keys, points.MemberKey(ev.UserID))
	}
	for a := range candidates {
		keys = append(keys,
			points.RuleUserTotalKey(a.Rule.ID, ev.UserID),
			points.RuleUserDayKey(a.Rule.ID, day, ev.UserID),
		)
		if a.Campaign != nil {
			keys = append(keys,
				points.CampaignTotalKey(a.Campaign.ID),
				points.CampaignDayKey(a.Campaign.ID, day),
				points.CampaignUserKey(a.Campaign.ID, ev.UserID),
			)
		}
	}

	return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		counters := map[points.CounterKey]*points.Counter{}
		if len(keys) > 0 {
			var err error
			if counters, err = repos.CounterStore().Lock(ctx, keys); err != nil {
				return err
			}
		}

		snapshot, snapshotChanged := member, memberChanged
		if lockMember {
			var err error
			if snapshot, snapshotChanged, err = lockedMember(ctx, repos, ev); err != nil {
				return err
			}
		}

		eligible := make([]*points.Award, 0, len(candidates))
		for a, i := range candidates {
			if reason, _ := a.Rule.Match(ev, snapshot, s.cfg.Location); reason != "" {
				entries[i].Skipped = reason
				continue
			}
			if reason := throttled(a.Rule, ev, day, counters); reason != "" {
				entries[i].Skipped = reason
				continue
			}
			eligible = append(eligible, a)
		}

		winners, dropped := points.ResolveStacking(eligible)
		for _, a := range dropped {
			entries[candidates[a]].Skipped = SkipExclusiveLost
		}

		pending := make(map[points.CounterKey]int64)
		var (
			rows  []*points.LedgerRow
			lines []points.AwardLine
		)
		for _, a := range winners {
			i := candidates[a]
			a.Amount = points.ApplyMultiplier(a.Computed, decision.Multiplier)
			entries[i].Downgraded = decision.Multiplier < 1

			if a.Campaign != nil {
				totalKey := points.CampaignTotalKey(a.Campaign.ID)
				dayKey := points.CampaignDayKey(a.Campaign.ID, day)
				userKey := points.CampaignUserKey(a.Campaign.ID, ev.UserID)
				a.Amount, a.ClippedBy = a.Campaign.Clip(a.Amount, points.CampaignSpend{
					Total: counterValue(counters, totalKey) + pending[totalKey],
					Day:   counterValue(counters, dayKey) + pending[dayKey],
					User:  counterValue(counters, userKey) + pending[userKey],
				})
				pending[totalKey] += a.Amount
				pending[dayKey] += a.Amount
				pending[userKey] += a.Amount
			}
			entries[i].AwardedAmount = a.Amount
			entries[i].ClippedBy = a.ClippedBy
			if a.Amount <= 0 {
				continue
			}

			row, err := points.NewEarnRow(ev, a.Rule, a.Campaign, a.Amount, s.cfg.Location)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			lines = append(lines, points.AwardLine{
				LedgerRowID: row.ID,
				RuleID:      a.Rule.ID,
				CampaignID:  row.CampaignID,
				Amount:      a.Amount,
				ClippedBy:   a.ClippedBy,
			})
		}

		decision.Trace = entries
		decision.Finalize()

		saved, err := repos.DecisionRepo().Save(ctx, decision)
		if err != nil {
			return err
		}
		if !saved {
			return errReplay
		}

		if len(rows) > 0 {
			res, err := repos.LedgerRepo().Append(ctx, rows...)
			if err != nil {
				return err
			}
			if res == points.AppendDuplicate {
				return errReplay
			}
		}

		store := repos.CounterStore()
		for _, a := range winners {
			if a.Amount <= 0 {
				continue
			}
			if err := store.Add(ctx, points.RuleUserTotalKey(a.Rule.ID, ev.UserID), 1, ev.OccurredAt); err != nil {
				return err
			}
			if err := store.Add(ctx, points.RuleUserDayKey(a.Rule.ID, day, ev.UserID), 1, ev.OccurredAt); err != nil {
				return err
			}
			if a.Campaign == nil {
				continue
			}
			for _, key := range []points.CounterKey{
				points.CampaignTotalKey(a.Campaign.ID),
				points.CampaignDayKey(a.Campaign.ID, day),
				points.CampaignUserKey(a.Campaign.ID, ev.UserID),
			} {
				if err := store.Add(ctx, key, a.Amount, ev.OccurredAt); err != nil {
					return err
				}
			}
			if err := repos.CampaignRepo().AddSpent(ctx, a.Campaign.ID, a.Amount); err != nil {
				return err
			}
		}

		if snapshotChanged {
			if err := repos.MemberRepo().Save(ctx, snapshot); err != nil {
				return err
			}
		}
		for _, entry := range blacklist {
			if err := repos.BlacklistRepo().Add(ctx, entry); err != nil {
				return err
			}
		}
		if len(lines) > 0 {
			return repos.SaveEvents(ctx, points.NewPointsAwarded(decision, lines))
		}
		return nil
	})
}

func (s *EngineService) commitBlocked(ctx context.Context, decision *points.Decision, blacklist []*points.BlacklistEntry) error {
	return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		saved, err := repos.DecisionRepo().Save(ctx, decision)
		if err != nil {
			return err
		}
		if !saved {
			return errReplay
		}
		for _, entry := range blacklist {
			if err := repos.BlacklistRepo().Add(ctx, entry); err != nil {
				return err
			}
		}
		return repos.SaveEvents(ctx, points.NewEventRiskBlocked(decision))
	})
}

func (s *EngineService) recordDecision(ctx context.Context, d *points.Decision, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordEvaluation(ctx, string(d.EventType), string(d.Outcome), time.Since(start))
	for _, hit := range d.RiskHits {
		s.metrics.RecordRiskHit(ctx, string(d.EventType), string(hit.Action))
	}
	for _, t := range d.Trace {
		if t.ClippedBy != points.ClipNone {
			s.metrics.RecordBudgetClip(ctx, string(t.ClippedBy))
		}
	}
}

// throttled applies the rule-level per-user limits against the locked counters
func throttled(rule *points.PointsRule, ev *points.ActivityEvent, day string, counters map[points.CounterKey]*points.Counter) string {
	total := counters[points.RuleUserTotalKey(rule.ID, ev.UserID)]
	if rule.MaxPerUserTotal > 0 && counterValue(counters, points.RuleUserTotalKey(rule.ID, ev.UserID)) >= int64(rule.MaxPerUserTotal) {
		return SkipMaxPerUserTotal
	}
	if rule.MaxPerUserDay > 0 && counterValue(counters, points.RuleUserDayKey(rule.ID, day, ev.UserID)) >= int64(rule.MaxPerUserDay) {
		return SkipMaxPerUserDay
	}
	if rule.CooldownMinutes > 0 && total != nil && total.LastAt != nil {
		gap := ev.OccurredAt.Sub(*total.LastAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < time.Duration(rule.CooldownMinutes)*time.Minute {
			return SkipCooldown
		}
	}
	return ""
}

func counterValue(counters map[points.CounterKey]*points.Counter, key points.CounterKey) int64 {
	if c, ok := counters[key]; ok && c != nil {
		return c.Value
	}
	return 0
}
