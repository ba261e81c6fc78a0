package guard

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "owner", ARGV[1], "state", "submitted", "created_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

	attachScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
	redis.call("HSET", KEYS[1], "tx_hash", ARGV[2])
	return 1
end
return 0
`)

	removeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisGuard 多实例部署时使用的分布式锁表，条目存为 hash，TTL 即最大存活时间
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	maxAge time.Duration
}

func NewRedisGuard(client redis.Cmdable, maxAge time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: "relay:inflight:", maxAge: normalizeMaxAge(maxAge)}
}

func (g *RedisGuard) Acquire(ctx context.Context, key, owner string) (*Entry, error) {
	now := time.Now()
	ok, err := acquireScript.Run(ctx, g.client, []string{g.prefix + key},
		owner, strconv.FormatInt(now.UnixMilli(), 10), g.maxAge.Milliseconds()).Int()
	if err != nil {
		return nil, err
	}
	if ok == 0 {
		return nil, ErrInFlight
	}
	return &Entry{Key: key, Owner: owner, State: StateSubmitted, CreatedAt: now}, nil
}

func (g *RedisGuard) Attach(ctx context.Context, key, owner, txHash string) error {
	ok, err := attachScript.Run(ctx, g.client, []string{g.prefix + key}, owner, txHash).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrNotOwner
	}
	return nil
}

func (g *RedisGuard) Get(ctx context.Context, key string) (*Entry, error) {
	m, err := g.client.HGetAll(ctx, g.prefix+key).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	ms, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return &Entry{
		Key:       key,
		Owner:     m["owner"],
		TxHash:    m["tx_hash"],
		State:     State(m["state"]),
		CreatedAt: time.UnixMilli(ms),
	}, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key, owner string, _ State) error {
	return g.remove(ctx, key, owner)
}

func (g *RedisGuard) Release(ctx context.Context, key, owner string) error {
	return g.remove(ctx, key, owner)
}

func (g *RedisGuard) remove(ctx context.Context, key, owner string) error {
	n, err := removeScript.Run(ctx, g.client, []string{g.prefix + key}, owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}
