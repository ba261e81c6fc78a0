package guard

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 两种实现共用的行为测试
func runGuardSuite(t *testing.T, g Guard, prefix string) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		key := prefix + "proxy:0xabc"

		e, err := g.Acquire(ctx, key, "req-1")
		require.NoError(t, err)
		assert.Equal(t, StateSubmitted, e.State)

		_, err = g.Acquire(ctx, key, "req-2")
		assert.ErrorIs(t, err, ErrInFlight)

		require.NoError(t, g.Attach(ctx, key, "req-1", "0xhash"))
		got, err := g.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "0xhash", got.TxHash)
		assert.Equal(t, "req-1", got.Owner)

		// 其他请求不能完成或释放
		assert.ErrorIs(t, g.Complete(ctx, key, "req-2", StateMined), ErrNotOwner)
		assert.ErrorIs(t, g.Release(ctx, key, "req-2"), ErrNotOwner)

		require.NoError(t, g.Complete(ctx, key, "req-1", StateMined))
		got, err = g.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)

		// 终态后可以再次获取
		_, err = g.Acquire(ctx, key, "req-3")
		require.NoError(t, err)
		require.NoError(t, g.Release(ctx, key, "req-3"))
	})

	t.Run("independent keys", func(t *testing.T) {
		_, err := g.Acquire(ctx, prefix+"proxy:0x1", "a")
		require.NoError(t, err)
		_, err = g.Acquire(ctx, prefix+"create:0x1", "b")
		require.NoError(t, err)
		require.NoError(t, g.Release(ctx, prefix+"proxy:0x1", "a"))
		require.NoError(t, g.Release(ctx, prefix+"create:0x1", "b"))
	})

	t.Run("single flight under contention", func(t *testing.T) {
		key := prefix + "proxy:contended"
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := g.Acquire(ctx, key, fmt.Sprintf("req-%d", i)); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestMemoryGuard(t *testing.T) {
	runGuardSuite(t, NewMemoryGuard(time.Minute), "")
}

func TestZeroMaxAgeUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultMaxAge, NewMemoryGuard(0).maxAge)
	assert.Equal(t, DefaultMaxAge, NewRedisGuard(nil, 0).maxAge)
	assert.Equal(t, DefaultMaxAge, NewRedisGuard(nil, -time.Second).maxAge)
	assert.Equal(t, time.Minute, NewRedisGuard(nil, time.Minute).maxAge)

	// 0 不能变成永不过期
	g := NewMemoryGuard(0)
	_, err := g.Acquire(context.Background(), "proxy:0xzero", "req-1")
	require.NoError(t, err)
	_, exp, ok := g.c.GetWithExpiration("proxy:0xzero")
	require.True(t, ok)
	assert.False(t, exp.IsZero())
}

func TestRedisGuardZeroMaxAge(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR 未设置，跳过 Redis 测试")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	key := fmt.Sprintf("test-%d:proxy:0xzero", time.Now().UnixNano())
	g := NewRedisGuard(rdb, 0)
	_, err := g.Acquire(ctx, key, "req-1")
	require.NoError(t, err)
	_, err = g.Acquire(ctx, key, "req-2")
	assert.ErrorIs(t, err, ErrInFlight)
	require.NoError(t, g.Release(ctx, key, "req-1"))
}

func TestMemoryGuardStaleEviction(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard(50 * time.Millisecond)

	_, err := g.Acquire(ctx, "proxy:0xstale", "old")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	// 超时后新请求可以获取，旧请求无法再释放新条目
	_, err = g.Acquire(ctx, "proxy:0xstale", "new")
	require.NoError(t, err)
	assert.ErrorIs(t, g.Release(ctx, "proxy:0xstale", "old"), ErrNotOwner)
	assert.Equal(t, 1, g.Len())
}

func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR 未设置，跳过 Redis 测试")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	prefix := fmt.Sprintf("test-%d:", time.Now().UnixNano())
	runGuardSuite(t, NewRedisGuard(rdb, time.Minute), prefix)
}
