package poster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript reserves a slot atomically across processes. KEYS[1] holds
// the count of the current window, KEYS[2] the window generation. Returns
// {0, generation} on success, otherwise {ms until the window resets, 0}.
var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local gen_key = KEYS[2]
	local capacity = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('PEXPIRE', key, window_ms)
		return {0, redis.call('INCR', gen_key)}
	end
	if count <= capacity then
		return {0, tonumber(redis.call('GET', gen_key) or '0')}
	end

	redis.call('DECR', key)
	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end
	return {ttl, 0}
`)

// releaseScript decrements only while the slot's generation is current
var releaseScript = redis.NewScript(`
	local gen = tonumber(redis.call('GET', KEYS[2]) or '0')
	if gen ~= tonumber(ARGV[1]) then
		return -1
	end
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	if count > 0 then
		return redis.call('DECR', KEYS[1])
	end
	return 0
`)

// RedisWindow is a fixed window shared by every process pointing at the same
// Redis key, so several herald instances posting to one account stay within
// the account's allowance.
type RedisWindow struct {
	redis    *redis.Client
	key      string
	genKey   string
	window   time.Duration
	capacity int
	wait     func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// NewRedisWindow connects to Redis and fails fast when it is unreachable
func NewRedisWindow(ctx context.Context, addr, key string, window time.Duration, capacity int, logger *slog.Logger) (*RedisWindow, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis_window")
	logger.Info("redis rate window connected", "addr", addr, "key", key)

	return &RedisWindow{
		redis:    client,
		key:      key,
		genKey:   key + ":generation",
		window:   window,
		capacity: capacity,
		wait:     sleepCtx,
		logger:   logger,
	}, nil
}

// Acquire implements Window
func (w *RedisWindow) Acquire(ctx context.Context) (Slot, error) {
	for {
		res, err := acquireScript.Run(ctx, w.redis, []string{w.key, w.genKey}, w.capacity, w.window.Milliseconds()).Int64Slice()
		if err != nil {
			return Slot{}, fmt.Errorf("rate window redis operation failed: %w", err)
		}
		if len(res) != 2 {
			return Slot{}, fmt.Errorf("rate window script returned %d values", len(res))
		}
		if res[0] == 0 {
			return Slot{generation: res[1]}, nil
		}

		delay := time.Duration(res[0]) * time.Millisecond
		w.logger.Warn("rate window full, waiting for reset", "capacity", w.capacity, "wait", delay)
		if err := w.wait(ctx, delay); err != nil {
			return Slot{}, err
		}
	}
}

// Release implements Window
func (w *RedisWindow) Release(ctx context.Context, slot Slot) {
	n, err := releaseScript.Run(ctx, w.redis, []string{w.key, w.genKey}, slot.generation).Int64()
	if err != nil {
		w.logger.Warn("failed to release rate window slot", "error", err)
		return
	}
	if n < 0 {
		w.logger.Debug("rate window slot expired before release", "generation", slot.generation)
	}
}

// Count returns the reservations held in the current window
func (w *RedisWindow) Count(ctx context.Context) (int64, error) {
	n, err := w.redis.Get(ctx, w.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate window: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (w *RedisWindow) Close() error {
	if w.redis != nil {
		return w.redis.Close()
	}
	return nil
}
