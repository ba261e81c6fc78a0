package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"relay-core/pkg/safe_random"
)

var ErrLockHeld = errors.New("锁已被其他实例持有")

// Lease 表示一次成功的加锁，Token 用于释放时校验归属
type Lease struct {
	Key   string
	Token string
}

// DistributedLock 定义分布式锁接口
type DistributedLock interface {
	// Acquire 尝试获取锁，锁被占用时返回 ErrLockHeld
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	// Release 只释放自己持有的锁
	Release(ctx context.Context, lease *Lease) error
}

func newToken() (string, error) {
	return safe_random.GenerateRandomHexString(16)
}

// LocalLock 单实例部署时使用的进程内实现
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]localHold
	clock func() time.Time
}

type localHold struct {
	token   string
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localHold), clock: time.Now}
}

func (l *LocalLock) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, ErrLockHeld
	}
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}
	return &Lease{Key: key, Token: token}, nil
}

func (l *LocalLock) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[lease.Key]; ok && h.token == lease.Token {
		delete(l.held, lease.Key)
	}
	return nil
}
