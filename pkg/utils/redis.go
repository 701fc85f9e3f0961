package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Holders are kept in a sorted set scored by their expiry (unix ms), so a
// holder leaked by a crashed process ages out on its own.
var concurrencyAcquireScript = redis.NewScript(`
-- KEYS[1] = holder zset
-- ARGV[1] = limit (int)
-- ARGV[2] = ttl_ms (int)
-- ARGV[3] = holder id
-- ARGV[4] = now_ms (int)
--
-- Returns:
--  1 if acquired (or already held by this holder)
--  0 if rejected (limit reached)
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)

if redis.call('ZSCORE', KEYS[1], ARGV[3]) then
  redis.call('ZADD', KEYS[1], now + ttl, ARGV[3])
  return 1
end

if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end

redis.call('ZADD', KEYS[1], now + ttl, ARGV[3])
redis.call('PEXPIRE', KEYS[1], ttl)
return 1
`)

var concurrencyReleaseScript = redis.NewScript(`
-- KEYS[1] = holder zset
-- ARGV[1] = holder id
-- Returns the number of removed holders (0 when already released).
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
end
return removed
`)

var concurrencyCountScript = redis.NewScript(`
-- KEYS[1] = holder zset
-- ARGV[1] = now_ms (int)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]))
return redis.call('ZCARD', KEYS[1])
`)

// AcquireConcurrencyCap attempts to take one of limit slots under key for holder.
// Acquiring twice with the same holder is a refresh, not a second slot.
//
// Safety properties:
// - Atomic acquire using Lua.
// - Per-holder expiry prevents leaked slots on process crash.
func AcquireConcurrencyCap(ctx context.Context, rdb redis.Scripter, key, holder string, limit int, ttl time.Duration, now time.Time) (bool, error) {
	if err := checkCapArgs(rdb, key, holder); err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, fmt.Errorf("limit must be > 0")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}

	res, err := concurrencyAcquireScript.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds(), holder, now.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReleaseConcurrencyCap releases holder's slot. Releasing twice is harmless;
// the returned bool reports whether a slot was actually freed.
func ReleaseConcurrencyCap(ctx context.Context, rdb redis.Scripter, key, holder string) (bool, error) {
	if err := checkCapArgs(rdb, key, holder); err != nil {
		return false, err
	}
	n, err := concurrencyReleaseScript.Run(ctx, rdb, []string{key}, holder).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountConcurrencyCap returns the number of live holders under key.
func CountConcurrencyCap(ctx context.Context, rdb redis.Scripter, key string, now time.Time) (int, error) {
	if rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}
	return concurrencyCountScript.Run(ctx, rdb, []string{key}, now.UnixMilli()).Int()
}

func checkCapArgs(rdb redis.Scripter, key, holder string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if holder == "" {
		return fmt.Errorf("holder is required")
	}
	return nil
}
