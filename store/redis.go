package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tryConsumeScript performs the check-then-increment as one atomic step on the
// server, so two instances can never both take the last slot under the limit.
// KEYS[1] = counter key, ARGV[1] = limit, ARGV[2] = window in milliseconds.
// Returns {allowed, count, pttl_ms}.
var tryConsumeScript = redis.NewScript(`
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	local limit = tonumber(ARGV[1])
	if count >= limit then
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl < 0 then ttl = tonumber(ARGV[2]) end
		return {0, count, ttl}
	end
	count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then ttl = tonumber(ARGV[2]) end
	return {1, count, ttl}
`)

// Redis is a Redis-backed implementation of Store.
// Suitable for distributed deployments where all instances must share one
// admission decision per key.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
// Populate from environment variables in your application code.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis creates a Redis store with the given configuration.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "ratelimit:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		prefix: config.Prefix,
	}, nil
}

// NewRedisWithClient wraps an existing client, e.g. one shared with the
// refresh token store.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	raw, err := tryConsumeScript.Run(ctx, r.client, []string{r.prefix + key}, limit, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis try-consume failed: %w", err)
	}
	return parseConsumeReply(raw, limit)
}

// parseConsumeReply decodes the {allowed, count, pttl_ms} script reply.
// A reply of the wrong shape or element type is an error, never a decision.
func parseConsumeReply(raw interface{}, limit int) (Result, error) {
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return Result{}, fmt.Errorf("redis try-consume: unexpected reply %v", raw)
	}

	nums := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("redis try-consume: unexpected reply element %T", v)
		}
		nums[i] = n
	}

	allowed := nums[0] == 1
	count := nums[1]
	reset := time.Duration(nums[2]) * time.Millisecond
	if reset < time.Second {
		reset = time.Second
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{Allowed: allowed, Remaining: remaining, Reset: reset}, nil
}

// Close releases resources held by the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
