// Package scheduler runs named housekeeping jobs on a small worker pool with retries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is the work registered under a name
type Job func(ctx context.Context) error

// RunStatus is the state of one submission
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run records one submission of a job across its attempts
type Run struct {
	ID         uuid.UUID
	Job        string
	Status     RunStatus
	Attempts   int
	LastError  string
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Config sizes the pool and the retry policy
type Config struct {
	Workers       int
	JobTimeout    time.Duration
	RetryAttempts int // extra attempts after the first failure
	RetryDelay    time.Duration
	QueueSize     int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	return c
}

// Scheduler executes submitted runs on Config.Workers goroutines
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	last    map[string]Run
	running bool
	cancel  context.CancelFunc
	queue   chan *Run
	wg      sync.WaitGroup
}

// New creates a stopped scheduler
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		jobs:   make(map[string]Job),
		last:   make(map[string]Run),
		queue:  make(chan *Run, cfg.QueueSize),
	}
}

// Register binds job to name, replacing any earlier binding
func (s *Scheduler) Register(name string, job Job) {
	s.mu.Lock()
	s.jobs[name] = job
	s.mu.Unlock()
}

// Start launches the workers; a second call is a no-op
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
	s.logger.Info("Scheduler started", zap.Int("workers", s.cfg.Workers), zap.Duration("job_timeout", s.cfg.JobTimeout))
	return nil
}

// Stop cancels in-flight runs and waits for the workers until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Submit queues a run of the named job and returns its initial record
func (s *Scheduler) Submit(name string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.running {
		return Run{}, ErrSchedulerNotRunning
	}
	run := &Run{ID: uuid.New(), Job: name, Status: RunQueued, QueuedAt: time.Now()}
	select {
	case s.queue <- run:
		return *run, nil
	default:
		return Run{}, ErrJobQueueFull
	}
}

// LastRun returns the latest finished run of a job
func (s *Scheduler) LastRun(name string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.last[name]
	return run, ok
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case run := <-s.queue:
			s.execute(ctx, run)
		}
	}
}

// execute runs the first attempt and up to RetryAttempts retries
func (s *Scheduler) execute(ctx context.Context, run *Run) {
	s.mu.Lock()
	job := s.jobs[run.Job]
	s.mu.Unlock()

	log := s.logger.With(zap.String("job", run.Job), zap.String("run_id", run.ID.String()))
	run.Status = RunRunning
	run.StartedAt = time.Now()

	for {
		run.Attempts++
		err := s.attempt(ctx, job)
		if err == nil {
			run.Status = RunSucceeded
			run.LastError = ""
			s.finish(run)
			log.Info("Job succeeded", zap.Int("attempts", run.Attempts), zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
			return
		}
		run.LastError = err.Error()

		if run.Attempts > s.cfg.RetryAttempts || ctx.Err() != nil {
			run.Status = RunFailed
			s.finish(run)
			log.Error("Job failed", zap.Int("attempts", run.Attempts), zap.Error(err))
			return
		}
		log.Warn("Job attempt failed, retrying", zap.Int("attempt", run.Attempts), zap.Duration("delay", s.cfg.RetryDelay), zap.Error(err))

		select {
		case <-ctx.Done():
			run.Status = RunFailed
			s.finish(run)
			return
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Scheduler) finish(run *Run) {
	run.FinishedAt = time.Now()
	s.mu.Lock()
	s.last[run.Job] = *run
	s.mu.Unlock()
}
