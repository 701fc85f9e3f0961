// Package callcap bounds how many calls the bridge relays at once.
package callcap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callbridge/internal/config"
	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidArgument = errors.New("callcap: invalid argument")

// DefaultKey is the Redis key holding active call holders.
const DefaultKey = "callbridge:calls:active"

// Limiter hands out call slots keyed by Twilio CallSid. Acquiring again
// with a held CallSid refreshes it. Release is idempotent.
type Limiter interface {
	Acquire(ctx context.Context, holder string) (bool, error)
	Release(ctx context.Context, holder string) error
	Count(ctx context.Context) (int, error)
}

// New picks a limiter for cfg. rdb may be nil.
func New(cfg config.CallsConfig, rdb redis.Scripter) Limiter {
	if cfg.MaxConcurrent <= 0 {
		return Unlimited{}
	}
	if rdb != nil {
		return NewRedis(rdb, DefaultKey, cfg.MaxConcurrent, cfg.CapTTL)
	}
	return NewMemory(cfg.MaxConcurrent, cfg.CapTTL)
}

// Unlimited accepts every call.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Release(context.Context, string) error         { return nil }
func (Unlimited) Count(context.Context) (int, error)            { return 0, nil }

// Redis shares the cap across processes through utils' Lua scripts.
type Redis struct {
	rdb   redis.Scripter
	key   string
	limit int
	ttl   time.Duration
	now   func() time.Time
}

func NewRedis(rdb redis.Scripter, key string, limit int, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, key: key, limit: limit, ttl: ttl, now: time.Now}
}

func (r *Redis) Acquire(ctx context.Context, holder string) (bool, error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, r.rdb, r.key, holder, r.limit, r.ttl, r.now())
	if err != nil {
		return false, fmt.Errorf("callcap: acquire: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, holder string) error {
	if _, err := utils.ReleaseConcurrencyCap(ctx, r.rdb, r.key, holder); err != nil {
		return fmt.Errorf("callcap: release: %w", err)
	}
	return nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := utils.CountConcurrencyCap(ctx, r.rdb, r.key, r.now())
	if err != nil {
		return 0, fmt.Errorf("callcap: count: %w", err)
	}
	return n, nil
}

// Memory is the single-process limiter with the same expiry semantics as
// Redis.
type Memory struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	holders map[string]time.Time
	now     func() time.Time
}

func NewMemory(limit int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Memory{limit: limit, ttl: ttl, holders: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, holder string) (bool, error) {
	if holder == "" {
		return false, fmt.Errorf("%w: holder is required", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)
	if _, ok := m.holders[holder]; ok {
		m.holders[holder] = now.Add(m.ttl)
		return true, nil
	}
	if len(m.holders) >= m.limit {
		return false, nil
	}
	m.holders[holder] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Release(_ context.Context, holder string) error {
	if holder == "" {
		return fmt.Errorf("%w: holder is required", ErrInvalidArgument)
	}
	m.mu.Lock()
	delete(m.holders, holder)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(m.now())
	return len(m.holders), nil
}

func (m *Memory) expireLocked(now time.Time) {
	for h, exp := range m.holders {
		if !exp.After(now) {
			delete(m.holders, h)
		}
	}
}
