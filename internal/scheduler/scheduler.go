package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one named periodic task. Jobs of the same name never overlap: a
// tick that fires while a previous run is still active is skipped, not
// queued.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error
}

type job struct {
	Job
	inFlight atomic.Bool
}

// Scheduler manages the registered background jobs.
type Scheduler struct {
	logger    *zap.Logger
	jobs      []*job
	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{Job: j})
}

// Start begins all registered jobs. Each job runs once immediately, then
// on its interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrSchedulerAlreadyRunning
	}

	s.isRunning = true
	s.stopCh = make(chan struct{})

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(ctx, j)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsJobInFlight reports whether a run of the named job is active.
func (s *Scheduler) IsJobInFlight(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		if j.Name == name {
			return j.inFlight.Load()
		}
	}
	return false
}

// Trigger runs the named job immediately on the caller's goroutine.
// A run already in flight is not doubled: ErrJobInFlight is returned.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	var target *job
	for _, j := range s.jobs {
		if j.Name == name {
			target = j
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		return ErrUnknownJob
	}

	return s.execute(ctx, target)
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	// Execute immediately on start.
	if err := s.execute(ctx, j); err != nil {
		s.logger.Error("Initial job run failed", zap.String("job", j.Name), zap.Error(err))
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context canceled", zap.String("job", j.Name))
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			err := s.execute(ctx, j)
			switch {
			case err == ErrJobInFlight:
				s.logger.Warn("Skipping job run, previous run still active", zap.String("job", j.Name))
			case err != nil:
				s.logger.Error("Scheduled job run failed", zap.String("job", j.Name), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	if !j.inFlight.CompareAndSwap(false, true) {
		return ErrJobInFlight
	}
	defer j.inFlight.Store(false)

	start := time.Now()
	s.logger.Info("Executing job", zap.String("job", j.Name))

	err := j.Run(ctx)
	if err != nil {
		s.logger.Error("Job failed", zap.String("job", j.Name), zap.Error(err))
		return err
	}

	s.logger.Info("Job completed", zap.String("job", j.Name), zap.Duration("duration", time.Since(start)))
	return nil
}
