// Package scheduler runs the periodic background jobs.
package scheduler

import "errors"

var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
	ErrUnknownJob              = errors.New("unknown job")
	ErrJobInFlight             = errors.New("job is already in flight")
)
