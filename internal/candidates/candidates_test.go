package candidates

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/redis"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewStore(client, nil), mr
}

func TestStoreGetDelete(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	invoice, err := s.Store(ctx, map[string]string{"email": "jane@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, invoice)
	assert.True(t, mr.Exists(keyPrefix+invoice))

	c, err := s.Get(ctx, invoice)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", c.Member["email"])
	assert.Equal(t, invoice, c.Invoice)
	assert.True(t, c.Expire.Equal(now.Add(DefaultLifetime)))

	// reading leaves the candidate in place
	_, err = s.Get(ctx, invoice)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, invoice))
	_, err = s.Get(ctx, invoice)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	require.NoError(t, s.Delete(ctx, invoice))

	members, _ := mr.ZMembers(indexKey)
	assert.Empty(t, members)
}

func TestGet_EmptyInvoice(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), "")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestClearExpired(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return start }
	old, err := s.Store(ctx, map[string]string{"email": "old@example.com"})
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(12 * time.Hour) }
	fresh, err := s.Store(ctx, map[string]string{"email": "fresh@example.com"})
	require.NoError(t, err)

	n, err := s.ClearExpired(ctx, start.Add(DefaultLifetime))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(keyPrefix+old))
	assert.True(t, mr.Exists(keyPrefix+fresh))

	n, err = s.ClearExpired(ctx, start.Add(DefaultLifetime))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
