// Package redis wraps go-redis with the operations the candidate store,
// task queue and health check need.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Nil is returned when a key does not exist
const Nil = redis.Nil

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// GetGoRedisClient exposes the underlying client for redsync
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// SetJSON stores value as JSON with a TTL (0 means no expiry)
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// GetJSON decodes the value at key into dest. Returns Nil when the key is
// missing.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Del(ctx, keys...).Result()
}

// IndexAdd scores member in a sorted set
func (c *Client) IndexAdd(ctx context.Context, index, member string, score float64) error {
	return c.rdb.ZAdd(ctx, index, &redis.Z{Score: score, Member: member}).Err()
}

// IndexRemove drops members from a sorted set and returns how many were
// present
func (c *Client) IndexRemove(ctx context.Context, index string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.ZRem(ctx, index, args...).Result()
}

// IndexUpTo returns members with score <= max
func (c *Client) IndexUpTo(ctx context.Context, index string, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

// Push adds payload to the head of a list
func (c *Client) Push(ctx context.Context, list string, payload []byte) error {
	return c.rdb.LPush(ctx, list, payload).Err()
}

// PopWait blocks up to timeout for an item from the tail of a list.
// Returns Nil on timeout.
func (c *Client) PopWait(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	res, err := c.rdb.BRPop(ctx, timeout, list).Result()
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [list, value]
	return []byte(res[1]), nil
}

// Len returns the length of a list
func (c *Client) Len(ctx context.Context, list string) (int64, error) {
	return c.rdb.LLen(ctx, list).Result()
}
