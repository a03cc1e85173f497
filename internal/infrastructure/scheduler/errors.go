package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning rejects submissions before Start or after Stop
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	// ErrJobQueueFull rejects submissions while every queue slot is taken
	ErrJobQueueFull = errors.New("job queue is full")
	// ErrUnknownJob rejects names without a registered job
	ErrUnknownJob = errors.New("unknown job")
)
