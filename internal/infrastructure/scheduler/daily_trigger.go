package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DailyTriggerConfig holds configuration for the daily trigger
type DailyTriggerConfig struct {
	Hour   int
	Minute int
	// Location is the timezone Hour and Minute are read in
	Location *time.Location
	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration
}

// DailyTrigger submits a fixed set of jobs once per day at a wall-clock time
type DailyTrigger struct {
	config    DailyTriggerConfig
	scheduler *Scheduler
	jobs      []string
	logger    *zap.Logger
	now       func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	lastRunDate string
}

// NewDailyTrigger creates a trigger for the named jobs
func NewDailyTrigger(config DailyTriggerConfig, scheduler *Scheduler, logger *zap.Logger, jobs ...string) *DailyTrigger {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyTrigger{
		config:    config,
		scheduler: scheduler,
		jobs:      jobs,
		logger:    logger,
		now:       time.Now,
	}
}

// Start starts the trigger loop
func (d *DailyTrigger) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.runLoop(ctx)

	d.logger.Info("Daily trigger started",
		zap.Int("hour", d.config.Hour),
		zap.Int("minute", d.config.Minute),
		zap.String("timezone", d.config.Location.String()),
		zap.Strings("jobs", d.jobs),
	)
	return nil
}

// Stop stops the trigger loop
func (d *DailyTrigger) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Daily trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DailyTrigger) runLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkAndTrigger()
		}
	}
}

// checkAndTrigger submits the jobs once the configured time of day has passed.
// A check interval longer than a minute still fires on the first tick after it.
func (d *DailyTrigger) checkAndTrigger() bool {
	now := d.now().In(d.config.Location)
	currentDate := now.Format(time.DateOnly)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastRunDate == currentDate {
		return false
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), d.config.Hour, d.config.Minute, 0, 0, d.config.Location)
	if now.Before(due) {
		return false
	}
	d.lastRunDate = currentDate

	d.logger.Info("Triggering daily jobs", zap.String("date", currentDate))
	for _, name := range d.jobs {
		if _, err := d.scheduler.Submit(name); err != nil {
			d.logger.Error("Failed to submit daily job", zap.String("job", name), zap.Error(err))
		}
	}
	return true
}
