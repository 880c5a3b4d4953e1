// Package tasks runs background work (emails, MailChimp sync, sheet
// maintenance, payment processing) from a Redis list.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
	"membership-manager/internal/metrics"
	"membership-manager/internal/redis"
)

const (
	queueKey   = "tasks:queue"
	delayedKey = "tasks:delayed"
	deadKey    = "tasks:dead"

	// DefaultMaxAttempts includes the first run
	DefaultMaxAttempts = 3
)

// Task is one unit of queued work
type Task struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Params   map[string]string `json:"params"`
	Attempt  int               `json:"attempt"`
	Enqueued time.Time         `json:"enqueued"`
	LastErr  string            `json:"last_error,omitempty"`
	// Raw holds the undecodable payload of a malformed task
	Raw      string            `json:"raw,omitempty"`
}

// Handler processes one task's parameters
type Handler func(ctx context.Context, params map[string]string) error

// Enqueuer adds tasks to the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, params map[string]string) error
}

// Queue is a Redis-backed task queue with retry and a dead-letter list
type Queue struct {
	redis       *redis.Client
	handlers    map[string]Handler
	mu          sync.RWMutex
	maxAttempts int
	retry       utils.RetryConfig
	pollTimeout time.Duration
	metrics     *metrics.Registry
	logger      logging.Logger
	now         func() time.Time
}

// NewQueue creates a queue on client
func NewQueue(client *redis.Client, m *metrics.Registry, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	retry := utils.DefaultRetryConfig()
	retry.InitialDelay = 10 * time.Second
	retry.MaxDelay = 5 * time.Minute

	return &Queue{
		redis:       client,
		handlers:    make(map[string]Handler),
		maxAttempts: DefaultMaxAttempts,
		retry:       retry,
		pollTimeout: time.Second,
		metrics:     m,
		logger:      logger.WithFields(logging.Field{"component", "tasks"}),
		now:         time.Now,
	}
}

// Register installs the handler for name, replacing any earlier one
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

func (q *Queue) handler(name string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// Enqueue adds a task
func (q *Queue) Enqueue(ctx context.Context, name string, params map[string]string) error {
	if params == nil {
		params = map[string]string{}
	}
	task := Task{
		ID:       utils.NewInvoiceID(),
		Name:     name,
		Params:   params,
		Attempt:  1,
		Enqueued: q.now(),
	}
	if err := q.push(ctx, &task); err != nil {
		return err
	}

	q.metrics.ObserveEnqueue(name)
	q.logger.Debug("Task enqueued", logging.String("task", name), logging.String("id", task.ID))
	return nil
}

func (q *Queue) push(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return errors.InternalError("failed to encode task", err)
	}
	if err := q.redis.Push(ctx, queueKey, data); err != nil {
		return errors.ConnectionError("failed to enqueue task", err).WithContext("task", task.Name)
	}
	return nil
}

// Run starts workers and blocks until ctx is cancelled
func (q *Queue) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	q.logger.Info("Task workers starting", logging.Int("workers", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.work(ctx, id)
		}(i)
	}
	wg.Wait()
	q.logger.Info("Task workers stopped")
}

func (q *Queue) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := q.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			q.logger.Error("Task worker error", err, logging.Int("worker", id))
			time.Sleep(q.pollTimeout)
		}
	}
}

// ProcessNext promotes due retries, then waits up to the poll timeout for
// one task and runs it. Returns false when nothing was processed.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	if err := q.promoteDue(ctx); err != nil {
		return false, err
	}

	data, err := q.redis.PopWait(ctx, queueKey, q.pollTimeout)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.ConnectionError("failed to read task queue", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		q.logger.Error("Malformed task payload", err, logging.String("payload", string(data)))
		q.metrics.ObserveTask("malformed", err)
		q.bury(ctx, &Task{Name: "malformed", Raw: string(data), Enqueued: q.now()}, err)
		return true, nil
	}

	q.execute(ctx, &task)
	return true, nil
}

func (q *Queue) execute(ctx context.Context, task *Task) {
	logger := q.logger.WithFields(
		logging.String("task", task.Name),
		logging.String("id", task.ID),
		logging.Int("attempt", task.Attempt),
	)

	h, ok := q.handler(task.Name)
	if !ok {
		err := errors.NotFoundError("task handler").WithContext("task", task.Name)
		q.metrics.ObserveTask(task.Name, err)
		logger.Error("No handler registered", err)
		q.bury(ctx, task, err)
		return
	}

	start := q.now()
	err := q.safeRun(ctx, h, task.Params)
	q.metrics.ObserveTask(task.Name, err)
	if err == nil {
		logger.Info("Task complete", logging.Duration("elapsed", q.now().Sub(start)))
		return
	}

	if task.Attempt >= q.maxAttempts || !utils.IsTransient(err) {
		logger.Error("Task failed permanently", err)
		q.bury(ctx, task, err)
		return
	}

	delay := q.backoff(task.Attempt)
	logger.Warn("Task failed; will retry", logging.Err(err), logging.Duration("delay", delay))
	task.Attempt++
	task.LastErr = err.Error()
	if err := q.schedule(ctx, task, q.now().Add(delay)); err != nil {
		logger.Error("Failed to schedule retry", err)
	}
}

func (q *Queue) safeRun(ctx context.Context, h Handler, params map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.InternalError(fmt.Sprintf("task panicked: %v", r), nil)
		}
	}()
	return h(ctx, params)
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * q.retry.BackoffFactor)
		if delay > q.retry.MaxDelay {
			return q.retry.MaxDelay
		}
	}
	return delay
}

func (q *Queue) schedule(ctx context.Context, task *Task, at time.Time) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.redis.IndexAdd(ctx, delayedKey, string(data), float64(at.Unix()))
}

// promoteDue moves retries whose time has come back onto the queue. ZREM
// decides which instance wins when several promote at once.
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.redis.IndexUpTo(ctx, delayedKey, float64(q.now().Unix()))
	if err != nil {
		return errors.ConnectionError("failed to read delayed tasks", err)
	}
	for _, payload := range due {
		removed, err := q.redis.IndexRemove(ctx, delayedKey, payload)
		if err != nil {
			return errors.ConnectionError("failed to claim delayed task", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.redis.Push(ctx, queueKey, []byte(payload)); err != nil {
			return errors.ConnectionError("failed to requeue delayed task", err)
		}
	}
	return nil
}

// bury keeps a failed task for inspection
func (q *Queue) bury(ctx context.Context, task *Task, cause error) {
	task.LastErr = cause.Error()
	data, err := json.Marshal(task)
	if err == nil {
		err = q.redis.Push(ctx, deadKey, data)
	}
	if err != nil {
		q.logger.Error("Failed to dead-letter task", err, logging.String("task", task.Name))
	}
}

// DeadLetters returns how many tasks have failed permanently
func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	return q.redis.Len(ctx, deadKey)
}

// Pending returns how many tasks are waiting to run
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.redis.Len(ctx, queueKey)
}
