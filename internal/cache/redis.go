package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

func versionKey(key string) string { return "ver:" + key }

// KEYS[1] value key, KEYS[2] version key, ARGV[1] expected version,
// ARGV[2] payload, ARGV[3] ttl in milliseconds.
const setIfVersionScript = `
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var setIfVersionLua = redis.NewScript(setIfVersionScript)

// Cache is the key-value surface shared by the permission resolver, the
// single-use token store and the brute-force guard.
type Cache struct {
	client redis.UniversalClient
}

func NewCache(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	return json.Unmarshal(val, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetDel atomically reads and removes key. Of several concurrent callers at
// most one observes the value.
func (c *Cache) GetDel(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache getdel %s: %w", key, err)
	}
	return json.Unmarshal(val, dest)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Version returns the invalidation counter of key. A key that was never
// bumped is at version 0.
func (c *Cache) Version(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache version %s: %w", key, err)
	}
	return v, nil
}

// SetIfVersion writes value only while key is still at version. It reports
// whether the write happened.
func (c *Cache) SetIfVersion(ctx context.Context, key string, value interface{}, ttl time.Duration, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	n, err := setIfVersionLua.Run(ctx, c.client, []string{key, versionKey(key)},
		strconv.FormatInt(version, 10), data, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("cache set %s: %w", key, err)
	}
	return n == 1, nil
}

// Bump deletes keys and advances their versions in one transaction, so a
// SetIfVersion holding an older version is refused.
func (c *Cache) Bump(ctx context.Context, versionTTL time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, k := range keys {
			pipe.Incr(ctx, versionKey(k))
			pipe.Expire(ctx, versionKey(k), versionTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache bump: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists %s: %w", key, err)
	}
	return n > 0, nil
}

// IncrementWindow bumps a fixed-window counter. The TTL is attached only on
// the first hit, so the window starts at the first attempt and never slides.
func (c *Cache) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("cache expire %s: %w", key, err)
		}
	}
	return count, nil
}

// Ping probes reachability, giving up after timeout.
func (c *Cache) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}
