// Package locks provides distributed locks on top of go-redsync. The
// scheduler uses them so that only one instance enqueues each cron job,
// and the task worker uses them to keep sheet-mutating jobs exclusive.
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/redis"
)

// Lock is a held distributed lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	IsHeld() bool
}

// Manager hands out redsync mutexes
type Manager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*RedsyncLock
	mutex      sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex; locks from AcquireLock renew
// themselves until released
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *Manager
	once       sync.Once
}

// NewManager creates a lock manager on the given Redis connection
func NewManager(redisClient *redis.Client) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	return &Manager{
		redsync:    redsync.New(pool),
		localLocks: make(map[string]*RedsyncLock),
	}, nil
}

// AcquireLock blocks (within redsync's retry budget) until key is held.
// The lock is extended at a third of its expiry until released.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := m.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.ConflictError("failed to acquire distributed lock").WithCause(err).WithContext("key", key)
	}

	lock := m.track(mutex, key, expiration)
	go m.renew(lock)
	return lock, nil
}

// TryAcquire makes a single attempt and never renews. A nil lock with a
// nil error means another holder has it.
func (m *Manager) TryAcquire(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := m.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		if isTaken(err) {
			return nil, nil
		}
		return nil, errors.ConnectionError("failed to try distributed lock", err).WithContext("key", key)
	}
	return m.track(mutex, key, expiration), nil
}

func isTaken(err error) bool {
	var takenPtr *redsync.ErrTaken
	var taken redsync.ErrTaken
	return stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &takenPtr) || stderrors.As(err, &taken)
}

func (m *Manager) track(mutex *redsync.Mutex, key string, expiration time.Duration) *RedsyncLock {
	ctx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        ctx,
		cancel:     cancel,
		manager:    m,
	}

	m.mutex.Lock()
	m.localLocks[key] = lock
	m.mutex.Unlock()
	return lock
}

func (m *Manager) renew(lock *RedsyncLock) {
	interval := lock.expiration / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()
			if err != nil || !ok {
				lock.Release(context.Background())
				return
			}
		}
	}
}

// Close releases every lock still held by this manager
func (m *Manager) Close() error {
	m.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(m.localLocks))
	for _, l := range m.localLocks {
		held = append(held, l)
	}
	m.mutex.Unlock()

	for _, l := range held {
		l.Release(context.Background())
	}
	return nil
}

func (l *RedsyncLock) Key() string {
	return l.key
}

// Release stops renewal and unlocks in Redis
func (l *RedsyncLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()

		l.manager.mutex.Lock()
		if l.manager.localLocks[l.key] == l {
			delete(l.manager.localLocks, l.key)
		}
		l.manager.mutex.Unlock()

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, unlockErr := l.mutex.UnlockContext(ctx); unlockErr != nil {
			err = errors.ConnectionError("failed to release distributed lock", unlockErr).WithContext("key", l.key)
		}
	})
	return err
}

func (l *RedsyncLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}
