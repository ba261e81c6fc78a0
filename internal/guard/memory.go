package guard

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"relay-core/pkg/logger"
)

// MemoryGuard 基于 go-cache 的进程内锁表，过期时间即最大存活时间
type MemoryGuard struct {
	mu     sync.Mutex
	c      *gocache.Cache
	maxAge time.Duration
	log    *zap.Logger
}

func NewMemoryGuard(maxAge time.Duration) *MemoryGuard {
	maxAge = normalizeMaxAge(maxAge)
	cleanup := maxAge / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	g := &MemoryGuard{
		c:      gocache.New(maxAge, cleanup),
		maxAge: maxAge,
		log:    logger.Named("guard"),
	}
	// 手动删除也会触发回调，这里只关心超时回收
	g.c.OnEvicted(func(key string, v interface{}) {
		e, ok := v.(Entry)
		if ok && e.State == StateSubmitted && time.Since(e.CreatedAt) >= g.maxAge {
			g.log.Warn("在途条目超时回收",
				zap.String("key", key),
				zap.String("tx_hash", e.TxHash),
				zap.Duration("age", time.Since(e.CreatedAt)),
			)
		}
	})
	return g
}

func (g *MemoryGuard) Acquire(_ context.Context, key, owner string) (*Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := Entry{Key: key, Owner: owner, State: StateSubmitted, CreatedAt: time.Now()}
	// Add 在 key 存在且未过期时返回错误
	if err := g.c.Add(key, e, g.maxAge); err != nil {
		return nil, ErrInFlight
	}
	return &e, nil
}

func (g *MemoryGuard) Attach(_ context.Context, key, owner, txHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, exp, err := g.owned(key, owner)
	if err != nil {
		return err
	}
	e.TxHash = txHash
	g.c.Set(key, e, remaining(exp))
	return nil
}

func (g *MemoryGuard) Get(_ context.Context, key string) (*Entry, error) {
	v, found := g.c.Get(key)
	if !found {
		return nil, nil
	}
	e := v.(Entry)
	return &e, nil
}

func (g *MemoryGuard) Complete(_ context.Context, key, owner string, state State) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, _, err := g.owned(key, owner)
	if err != nil {
		return err
	}
	g.log.Debug("在途条目到达终态",
		zap.String("key", key),
		zap.String("tx_hash", e.TxHash),
		zap.String("state", string(state)),
	)
	g.c.Delete(key)
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, _, err := g.owned(key, owner); err != nil {
		return err
	}
	g.c.Delete(key)
	return nil
}

// Len 当前未过期的条目数
func (g *MemoryGuard) Len() int {
	return g.c.ItemCount()
}

func (g *MemoryGuard) owned(key, owner string) (Entry, time.Time, error) {
	v, exp, found := g.c.GetWithExpiration(key)
	if !found {
		return Entry{}, exp, ErrNotOwner
	}
	e := v.(Entry)
	if e.Owner != owner {
		return Entry{}, exp, ErrNotOwner
	}
	return e, exp, nil
}

func remaining(exp time.Time) time.Duration {
	if exp.IsZero() {
		return gocache.NoExpiration
	}
	d := time.Until(exp)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
