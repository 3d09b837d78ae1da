package loginattempt

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis serves the handful of commands RedisStore issues from a map.
type fakeRedis struct {
	redis.Cmdable
	values  map[string]string
	ttls    map[string]time.Duration
	getErr  error
	deleted []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
	}
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) TxPipelined(_ context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, fn(&fakePipe{f: f})
}

type fakePipe struct {
	redis.Pipeliner
	f *fakeRedis
}

func (p *fakePipe) Incr(_ context.Context, key string) *redis.IntCmd {
	n, _ := strconv.ParseInt(p.f.values[key], 10, 64)
	n++
	p.f.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (p *fakePipe) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	p.f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	s := NewRedisStore(newFakeRedis(), Config{})
	assert.Equal(t, "login_attempt:alice", s.key("alice"))
}

func TestRedisStoreMissingKeyIsNotExceeded(t *testing.T) {
	s := NewRedisStore(newFakeRedis(), Config{MaxAttempts: 3})
	exceeded, err := s.HasExceeded(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestRedisStoreCountsAndExpires(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewRedisStore(rdb, Config{MaxAttempts: 3, TTL: 10 * time.Minute})

	for i := 0; i < 2; i++ {
		require.NoError(t, s.RecordFailure(ctx, "alice"))
	}
	exceeded, err := s.HasExceeded(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exceeded)
	assert.Equal(t, 10*time.Minute, rdb.ttls["login_attempt:alice"])

	require.NoError(t, s.RecordFailure(ctx, "alice"))
	exceeded, err = s.HasExceeded(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exceeded)

	require.NoError(t, s.Remove(ctx, "alice"))
	assert.Equal(t, []string{"login_attempt:alice"}, rdb.deleted)
	exceeded, err = s.HasExceeded(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestRedisStoreSurfacesReadErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	_, err := NewRedisStore(rdb, Config{}).HasExceeded(context.Background(), "alice")
	assert.Error(t, err)
}
