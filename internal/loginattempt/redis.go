package loginattempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore shares attempt counts between replicas. Keys expire TTL after the last failure.
type RedisStore struct {
	client      redis.Cmdable
	prefix      string
	maxAttempts int
	ttl         time.Duration
}

// NewRedisStore works with any redis.Cmdable, cluster clients included.
func NewRedisStore(client redis.Cmdable, cfg Config) *RedisStore {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "login_attempt", maxAttempts: cfg.MaxAttempts, ttl: cfg.TTL}
}

// DialRedis connects using cfg.RedisAddr and pings once.
func DialRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) key(principal string) string {
	return fmt.Sprintf("%s:%s", s.prefix, principal)
}

func (s *RedisStore) RecordFailure(ctx context.Context, principal string) error {
	key := s.key(principal)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

func (s *RedisStore) HasExceeded(ctx context.Context, principal string) (bool, error) {
	n, err := s.client.Get(ctx, s.key(principal)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read login attempts: %w", err)
	}
	return n >= s.maxAttempts, nil
}

func (s *RedisStore) Remove(ctx context.Context, principal string) error {
	if err := s.client.Del(ctx, s.key(principal)).Err(); err != nil {
		return fmt.Errorf("clear login attempts: %w", err)
	}
	return nil
}
