// Package scheduler enqueues periodic maintenance tasks on cron schedules.
// With a lock manager, only the instance that wins the per-job lock
// enqueues on each tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"membership-manager/internal/common/logging"
	"membership-manager/internal/locks"
	"membership-manager/internal/tasks"
)

// DefaultHold is how long a tick's lock is kept after enqueueing, so that
// instances whose clocks lag slightly do not enqueue the same tick again
const DefaultHold = 30 * time.Second

// Locker takes a single-try distributed lock
type Locker interface {
	TryAcquire(ctx context.Context, key string, expiration time.Duration) (locks.Lock, error)
}

// Job maps a cron expression to a task
type Job struct {
	Name     string
	Schedule string
	Task     string
}

// Scheduler runs cron jobs that enqueue tasks
type Scheduler struct {
	cron   *cron.Cron
	queue  tasks.Enqueuer
	locker Locker
	hold   time.Duration
	logger logging.Logger
}

// New validates every job's schedule and registers it. locker may be nil.
func New(jobs []Job, queue tasks.Enqueuer, locker Locker, loc *time.Location, logger logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		queue:  queue,
		locker: locker,
		hold:   DefaultHold,
		logger: logger.WithFields(logging.Field{"component", "scheduler"}),
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.fire(context.Background(), job) }); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
		}
		s.logger.Info("Scheduled job",
			logging.String("job", job.Name),
			logging.String("schedule", job.Schedule),
			logging.String("task", job.Task),
		)
	}
	return s, nil
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// fire enqueues job's task unless another instance holds the lock
func (s *Scheduler) fire(ctx context.Context, job Job) {
	logger := s.logger.WithFields(logging.String("job", job.Name))

	if s.locker != nil {
		lock, err := s.locker.TryAcquire(ctx, "cron:"+job.Name, s.hold)
		if err != nil {
			logger.Error("Failed to take job lock", err)
			return
		}
		if lock == nil {
			logger.Debug("Job already enqueued by another instance")
			return
		}
		time.AfterFunc(s.hold, func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Warn("Failed to release job lock", logging.Err(err))
			}
		})
	}

	if err := s.queue.Enqueue(ctx, job.Task, nil); err != nil {
		logger.Error("Failed to enqueue scheduled task", err)
		return
	}
	logger.Info("Enqueued scheduled task", logging.String("task", job.Task))
}
