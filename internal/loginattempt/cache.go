// Package loginattempt counts consecutive failed logins per username and decides lockout.
package loginattempt

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultTTL         = 15 * time.Minute
	DefaultCapacity    = 100
)

// Store is the contract the authentication path depends on.
type Store interface {
	RecordFailure(ctx context.Context, principal string) error
	HasExceeded(ctx context.Context, principal string) (bool, error)
	Remove(ctx context.Context, principal string) error
}

type Config struct {
	MaxAttempts int
	TTL         time.Duration
	Capacity    int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ConfigFromEnv reads LOGIN_* variables, falling back to the defaults above.
func ConfigFromEnv() Config {
	cfg := Config{MaxAttempts: DefaultMaxAttempts, TTL: DefaultTTL, Capacity: DefaultCapacity}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_MAX_ATTEMPTS")); err == nil && v > 0 {
		cfg.MaxAttempts = v
	}
	if v, err := time.ParseDuration(os.Getenv("LOGIN_ATTEMPT_TTL")); err == nil && v > 0 {
		cfg.TTL = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_ATTEMPT_CAPACITY")); err == nil && v > 0 {
		cfg.Capacity = v
	}
	cfg.RedisAddr = os.Getenv("LOGIN_ATTEMPT_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("LOGIN_ATTEMPT_REDIS_PASSWORD")
	if v, err := strconv.Atoi(os.Getenv("LOGIN_ATTEMPT_REDIS_DB")); err == nil {
		cfg.RedisDB = v
	}
	return cfg
}

type entry struct {
	count     int
	expiresAt time.Time
}

// Cache is the process-local Store. Each write restarts the entry's TTL; once the
// capacity is reached expired entries are dropped first, then the one closest to expiry.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxAttempts int
	ttl         time.Duration
	capacity    int
	now         func() time.Time
}

func NewCache(cfg Config) *Cache {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Cache{
		entries:     make(map[string]*entry),
		maxAttempts: cfg.MaxAttempts,
		ttl:         cfg.TTL,
		capacity:    cfg.Capacity,
		now:         time.Now,
	}
}

// WithClock swaps the time source; tests use it to step past the TTL.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) RecordFailure(_ context.Context, principal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.entries[principal]
	if !ok || !now.Before(e.expiresAt) {
		if !ok {
			c.makeRoomLocked(now)
		}
		e = &entry{}
		c.entries[principal] = e
	}
	e.count++
	e.expiresAt = now.Add(c.ttl)
	return nil
}

func (c *Cache) HasExceeded(_ context.Context, principal string) (bool, error) {
	return c.Attempts(principal) >= c.maxAttempts, nil
}

func (c *Cache) Remove(_ context.Context, principal string) error {
	c.mu.Lock()
	delete(c.entries, principal)
	c.mu.Unlock()
	return nil
}

// Attempts reports the live failure count for principal; unknown or expired means zero.
func (c *Cache) Attempts(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[principal]
	if !ok {
		return 0
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, principal)
		return 0
	}
	return e.count
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) makeRoomLocked(now time.Time) {
	if len(c.entries) < c.capacity {
		return
	}
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.capacity {
		var (
			oldest   string
			oldestAt time.Time
			found    bool
		)
		for k, e := range c.entries {
			if !found || e.expiresAt.Before(oldestAt) {
				oldest, oldestAt, found = k, e.expiresAt, true
			}
		}
		delete(c.entries, oldest)
	}
}
