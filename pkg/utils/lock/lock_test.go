package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLock(t *testing.T, l DistributedLock, key string) {
	ctx := context.Background()

	lease, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	// 伪造 token 不能释放
	require.NoError(t, l.Release(ctx, &Lease{Key: key, Token: "bogus"}))
	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, l.Release(ctx, lease))
	again, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, again))
}

func TestLocalLock(t *testing.T) {
	exerciseLock(t, NewLocalLock(), "cron:replenish")
}

func TestLocalLockExpires(t *testing.T) {
	l := NewLocalLock()
	now := time.Now()
	l.clock = func() time.Time { return now }

	_, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(context.Background(), "k", time.Second)
	assert.NoError(t, err)
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR 未设置，跳过 Redis 测试")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	exerciseLock(t, NewRedisLock(rdb), "test:lock:"+time.Now().Format("150405.000000"))
}
