package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("sets default pool size", func(t *testing.T) {
		mr := miniredis.RunT(t)
		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NotNil(t, client.GetGoRedisClient())
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

func TestHealth(t *testing.T) {
	client, mr := setupTestRedis(t)
	assert.NoError(t, client.Health(context.Background()))

	mr.Close()
	assert.Error(t, client.Health(context.Background()))
}

func TestJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	require.NoError(t, client.SetJSON(ctx, "k", payload{Name: "jane"}, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("k"))

	var got payload
	require.NoError(t, client.GetJSON(ctx, "k", &got))
	assert.Equal(t, "jane", got.Name)
	assert.True(t, mr.Exists("k"))

	n, err := client.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, Nil, client.GetJSON(ctx, "k", &got))
}

func TestIndex(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.IndexAdd(ctx, "idx", "a", 10))
	require.NoError(t, client.IndexAdd(ctx, "idx", "b", 20))
	require.NoError(t, client.IndexAdd(ctx, "idx", "c", 30))

	got, err := client.IndexUpTo(ctx, "idx", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	removed, err := client.IndexRemove(ctx, "idx", "a", "b", "zz")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	got, err = client.IndexUpTo(ctx, "idx", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)
}

func TestList(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Push(ctx, "q", []byte("first")))
	require.NoError(t, client.Push(ctx, "q", []byte("second")))

	n, err := client.Len(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	item, err := client.PopWait(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(item))

	deleted, err := client.Delete(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
