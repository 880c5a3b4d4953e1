package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/redis"
)

func newManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	m, err := NewManager(client)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, s
}

func TestNewManager_RequiresClient(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}

func TestAcquireLock(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	lock, err := m.AcquireLock(ctx, "member-sheet-cull", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "member-sheet-cull", lock.Key())
	assert.True(t, lock.IsHeld())
	assert.True(t, s.Exists("lock:member-sheet-cull"))

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = m.AcquireLock(shortCtx, "member-sheet-cull", 30*time.Second)
	assert.Error(t, err)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, lock.IsHeld())
	assert.False(t, s.Exists("lock:member-sheet-cull"))

	// releasing twice is harmless
	assert.NoError(t, lock.Release(ctx))
}

func TestTryAcquire(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, err := m.TryAcquire(ctx, "cron:archive", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.TryAcquire(ctx, "cron:archive", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	third, err := m.TryAcquire(ctx, "cron:archive", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestClose_ReleasesHeldLocks(t *testing.T) {
	m, s := newManager(t)
	_, err := m.AcquireLock(context.Background(), "a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.False(t, s.Exists("lock:a"))
}
