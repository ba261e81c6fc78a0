package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// 只有 value 与 token 一致时才删除，避免误删其他实例在 TTL 过期后重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 Redis SET NX PX 的实现
type RedisLock struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLock(client redis.Cmdable) *RedisLock {
	return &RedisLock{client: client, prefix: "lock:"}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{Key: key, Token: token}, nil
}

func (l *RedisLock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.prefix + lease.Key}, lease.Token).Err()
}
