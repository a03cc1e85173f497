package points

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultGrantBatchSize bounds how many targets are applied between progress saves
	DefaultGrantBatchSize = 200
	// DefaultGrantConcurrency bounds how many background tasks run at once
	DefaultGrantConcurrency = 2
)

// GrantConfig tunes task execution
type GrantConfig struct {
	BatchSize     int
	MaxConcurrent int
	Location      *time.Location
}

// GrantService runs operator bulk adjustments. A task is stored before its first
// ledger write and every target commits its row together with the task's success
// counter, so an interrupted task is a consistent partial one.
type GrantService struct {
	tasks    points.GrantTaskRepository
	members  points.MemberRepository
	txScope  TransactionScope
	balances points.BalanceCache
	metrics  *telemetry.PointsMetrics
	logger   *zap.Logger
	cfg      GrantConfig

	slots   *semaphore.Weighted
	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// NewGrantService creates a GrantService
func NewGrantService(
	tasks points.GrantTaskRepository,
	members points.MemberRepository,
	txScope TransactionScope,
	cfg GrantConfig,
) *GrantService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultGrantBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultGrantConcurrency
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GrantService{
		tasks:   tasks,
		members: members,
		txScope: txScope,
		cfg:     cfg,
		logger:  zap.NewNop(),
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		baseCtx: ctx,
		stopAll: cancel,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetBalanceCache sets the cache invalidated for every adjusted user
func (s *GrantService) SetBalanceCache(cache points.BalanceCache) {
	s.balances = cache
}

// SetMetrics sets the business metrics recorder
func (s *GrantService) SetMetrics(m *telemetry.PointsMetrics) {
	s.metrics = m
}

// SetLogger sets the logger
func (s *GrantService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Submit creates a task and runs it to completion before returning
func (s *GrantService) Submit(ctx context.Context, in GrantInput) (*GrantTaskResponse, error) {
	task, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.run(ctx, task); err != nil {
		return nil, err
	}
	resp := ToGrantTaskResponse(task)
	return &resp, nil
}

// SubmitAsync creates a task and runs it in the background. The returned task is
// still in progress; poll Get or Cancel it.
func (s *GrantService) SubmitAsync(ctx context.Context, in GrantInput) (*GrantTaskResponse, error) {
	task, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.start(task)
	resp := ToGrantTaskResponse(task)
	resp.Running = true
	return &resp, nil
}

// Cancel stops a running task between targets, or closes an interrupted one as canceled
func (s *GrantService) Cancel(ctx context.Context, id uuid.UUID) (*GrantTaskResponse, error) {
	s.mu.Lock()
	cancel, running := s.running[id]
	s.mu.Unlock()
	if running {
		cancel()
		s.logger.Info("Grant task cancellation requested", zap.String("task_id", id.String()))
		return s.Get(ctx, id)
	}

	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsFinished() {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "grant task already finished")
	}
	if err := s.finish(ctx, task, true); err != nil {
		return nil, err
	}
	resp := ToGrantTaskResponse(task)
	return &resp, nil
}

// Resume runs an interrupted or canceled task again. Targets already applied are
// recognized by their ledger row and neither written nor counted twice.
func (s *GrantService) Resume(ctx context.Context, id uuid.UUID, async bool) (*GrantTaskResponse, error) {
	if s.isRunning(id) {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "grant task is already running")
	}
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := task.PrepareResume(); err != nil {
		return nil, err
	}
	if err := s.tasks.SaveProgress(ctx, task); err != nil {
		return nil, failure("save grant task", err)
	}
	s.logger.Info("Resuming grant task",
		zap.String("task_id", id.String()),
		zap.Int64("success_count", task.SuccessCount),
		zap.Int64("target_count", task.TargetCount),
	)

	if async {
		s.start(task)
		resp := ToGrantTaskResponse(task)
		resp.Running = true
		return &resp, nil
	}
	if err := s.run(ctx, task); err != nil {
		return nil, err
	}
	resp := ToGrantTaskResponse(task)
	return &resp, nil
}

// ResumeUnfinished picks up to limit tasks interrupted by a previous shutdown and
// resumes them in the background. It returns how many were started.
func (s *GrantService) ResumeUnfinished(ctx context.Context, limit int) (int, error) {
	tasks, err := s.tasks.FindUnfinished(ctx, limit)
	if err != nil {
		return 0, failure("load unfinished grant tasks", err)
	}
	started := 0
	for i := range tasks {
		task := &tasks[i]
		if s.isRunning(task.ID) {
			continue
		}
		if err := task.PrepareResume(); err != nil {
			s.logger.Warn("Skipping grant task", zap.String("task_id", task.ID.String()), zap.Error(err))
			continue
		}
		if err := s.tasks.SaveProgress(ctx, task); err != nil {
			return started, failure("save grant task", err)
		}
		s.start(task)
		started++
	}
	return started, nil
}

// Get returns a task and whether it is running in this process
func (s *GrantService) Get(ctx context.Context, id uuid.UUID) (*GrantTaskResponse, error) {
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToGrantTaskResponse(task)
	resp.Running = s.isRunning(id)
	return &resp, nil
}

// List pages through tasks, newest first
func (s *GrantService) List(ctx context.Context, f GrantListFilter) (shared.Paginated[GrantTaskResponse], error) {
	filter := points.GrantTaskFilter{Status: f.Status, GrantType: f.GrantType, Operator: f.Operator}
	filter.Page = f.Page
	filter.PageSize = f.PageSize
	filter.Filter = filter.Filter.Normalize()

	tasks, total, err := s.tasks.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[GrantTaskResponse]{}, failure("list grant tasks", err)
	}
	items := make([]GrantTaskResponse, len(tasks))
	for i := range tasks {
		items[i] = ToGrantTaskResponse(&tasks[i])
		items[i].Running = s.isRunning(tasks[i].ID)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// Stop cancels every background task and waits for them to save their progress
func (s *GrantService) Stop(ctx context.Context) error {
	s.stopAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// create stores the task with its resolved audience size before anything is applied
func (s *GrantService) create(ctx context.Context, in GrantInput) (*points.GrantTask, error) {
	task, err := points.NewGrantTask(in.request())
	if err != nil {
		return nil, err
	}
	switch task.TargetType {
	case points.TargetUser:
		task.TargetCount = int64(len(task.UserIDs))
	default:
		count, err := s.members.CountAudience(ctx, task.LevelID)
		if err != nil {
			return nil, failure("count grant audience", err)
		}
		task.TargetCount = count
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, failure("create grant task", err)
	}
	s.logger.Info("Grant task created",
		zap.String("task_id", task.ID.String()),
		zap.String("grant_type", string(task.GrantType)),
		zap.String("target_type", string(task.TargetType)),
		zap.Int64("target_count", task.TargetCount),
		zap.String("operator", task.Operator),
	)
	return task, nil
}

func (s *GrantService) start(task *points.GrantTask) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.running[task.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
		}()

		if err := s.slots.Acquire(ctx, 1); err != nil {
			if s.baseCtx.Err() != nil {
				return
			}
			if err := s.finish(context.WithoutCancel(ctx), task, true); err != nil {
				s.logger.Error("Failed to close queued grant task", zap.String("task_id", task.ID.String()), zap.Error(err))
			}
			return
		}
		defer s.slots.Release(1)

		if err := s.run(ctx, task); err != nil {
			s.logger.Error("Grant task stopped", zap.String("task_id", task.ID.String()), zap.Error(err))
		}
	}()
}

func (s *GrantService) isRunning(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// run applies the task to its audience in batches. A canceled context finishes the
// task as canceled; an error listing the audience leaves it unfinished for Resume.
func (s *GrantService) run(ctx context.Context, task *points.GrantTask) (err error) {
	telemetry.WithProfilingLabels(ctx, map[string]string{
		telemetry.ProfilingLabelOperation: "grant",
		telemetry.ProfilingLabelGrantType: string(task.GrantType),
	}, func(ctx context.Context) {
		err = s.runBatches(ctx, task)
	})
	return err
}

func (s *GrantService) runBatches(ctx context.Context, task *points.GrantTask) (err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "grant", "run",
		telemetry.SpanAttrTaskID, task.ID.String(),
		telemetry.SpanAttrGrantType, string(task.GrantType),
		telemetry.SpanAttrBatchSize, s.cfg.BatchSize,
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	canceled := false
	if task.TargetType == points.TargetUser {
		for start := 0; start < len(task.UserIDs) && !canceled; start += s.cfg.BatchSize {
			end := min(start+s.cfg.BatchSize, len(task.UserIDs))
			if canceled, err = s.applyBatch(ctx, task, task.UserIDs[start:end]); err != nil {
				return err
			}
		}
	} else {
		after := ""
		for !canceled {
			ids, listErr := s.members.ListUserIDs(ctx, task.LevelID, after, s.cfg.BatchSize)
			if listErr != nil {
				if ctx.Err() != nil {
					canceled = true
					break
				}
				return failure("list grant audience", listErr)
			}
			if len(ids) == 0 {
				break
			}
			if canceled, err = s.applyBatch(ctx, task, ids); err != nil {
				return err
			}
			after = ids[len(ids)-1]
			if len(ids) < s.cfg.BatchSize {
				break
			}
		}
	}

	if canceled && s.baseCtx.Err() != nil {
		// Shutting down: progress is saved and the task stays unfinished for ResumeUnfinished.
		s.logger.Info("Grant task interrupted by shutdown", zap.String("task_id", task.ID.String()))
		return nil
	}
	return s.finish(context.WithoutCancel(ctx), task, canceled)
}

// applyBatch applies each target independently and saves the task's progress once
func (s *GrantService) applyBatch(ctx context.Context, task *points.GrantTask, userIDs []string) (bool, error) {
	canceled := false
	touched := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		applied, err := s.applyTarget(ctx, task, userID)
		switch {
		case err != nil && ctx.Err() != nil:
			canceled = true
		case err != nil:
			task.RecordFailure(userID, failureReason(err))
			s.logger.Debug("Grant target failed",
				zap.String("task_id", task.ID.String()),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		case applied:
			task.RecordSuccess()
			touched = append(touched, userID)
		}
		if canceled {
			break
		}
	}

	progressCtx := context.WithoutCancel(ctx)
	if s.balances != nil && len(touched) > 0 {
		if err := s.balances.Invalidate(progressCtx, touched...); err != nil {
			s.logger.Warn("Failed to invalidate balance cache", zap.Int("users", len(touched)), zap.Error(err))
		}
	}
	if err := s.tasks.SaveProgress(progressCtx, task); err != nil {
		return canceled, failure("save grant progress", err)
	}
	return canceled, nil
}

// applyTarget writes the task's row for one user. It reports false without error
// when the row already exists from an earlier run.
func (s *GrantService) applyTarget(ctx context.Context, task *points.GrantTask, userID string) (bool, error) {
	row, err := task.LedgerRow(userID, s.cfg.Location)
	if err != nil {
		return false, err
	}

	applied := false
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.CounterStore().Lock(ctx, []points.CounterKey{points.AccountKey(userID)}); err != nil {
			return err
		}
		ledger := repos.LedgerRepo()
		exists, err := ledger.ExistsByBiz(ctx, userID, row.BizID, row.Type)
		if err != nil || exists {
			return err
		}
		balance, err := ledger.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if !balance.CanApply(row) {
			return shared.ErrInsufficientBalance
		}
		res, err := ledger.Append(ctx, row)
		if err != nil {
			return err
		}
		if res == points.AppendDuplicate {
			return nil
		}
		if err := repos.GrantTaskRepo().IncrementSuccess(ctx, task.ID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *GrantService) finish(ctx context.Context, task *points.GrantTask, canceled bool) error {
	task.Finish(canceled)
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.GrantTaskRepo().SaveProgress(ctx, task); err != nil {
			return err
		}
		return repos.SaveEvents(ctx, points.NewGrantTaskFinished(task))
	})
	if err != nil {
		return failure("finish grant task", err)
	}
	s.logger.Info("Grant task finished",
		zap.String("task_id", task.ID.String()),
		zap.String("status", string(task.Status)),
		zap.Int64("success_count", task.SuccessCount),
		zap.Int64("failure_count", task.FailureCount),
		zap.Bool("canceled", canceled),
	)
	if s.metrics != nil {
		s.metrics.RecordGrantTask(ctx, string(task.GrantType), string(task.Status), task.SuccessCount, task.FailureCount)
	}
	return nil
}

func failureReason(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	var ve *shared.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return "persistence failure: " + err.Error()
}
