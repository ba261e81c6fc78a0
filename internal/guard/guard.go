// Package guard 实现按 key 的单飞锁表: 同一个代理地址 (或同一个创建者) 同时只允许一笔中继交易在途。
//
// 状态机: absent → submitted → {mined | failed} → absent。
// 条目在提交到节点之前插入，并带有最大存活时间，超时自动回收。
package guard

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateSubmitted State = "submitted"
	StateMined     State = "mined"
	StateFailed    State = "failed"
)

// Entry 在途条目
type Entry struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"` // 持有该条目的请求 ID
	TxHash    string    `json:"tx_hash"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultMaxAge maxAge <= 0 时使用，两种实现都不允许条目永不过期
const DefaultMaxAge = 10 * time.Minute

func normalizeMaxAge(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		return DefaultMaxAge
	}
	return maxAge
}

var (
	// ErrInFlight key 已有在途交易
	ErrInFlight = errors.New("guard: key already in flight")
	// ErrNotOwner 条目不存在或属于其他请求 (通常是已被超时回收)
	ErrNotOwner = errors.New("guard: entry not held by this request")
)

// Guard 由 Relayer 注入使用，单实例用 MemoryGuard，多实例用 RedisGuard
type Guard interface {
	// Acquire 原子地插入 submitted 条目，key 已存在时返回 ErrInFlight
	Acquire(ctx context.Context, key, owner string) (*Entry, error)
	// Attach 记录已广播的交易哈希
	Attach(ctx context.Context, key, owner, txHash string) error
	// Get 查看条目，不存在时返回 nil
	Get(ctx context.Context, key string) (*Entry, error)
	// Complete 交易到达终态后移除条目
	Complete(ctx context.Context, key, owner string, state State) error
	// Release 提交失败时直接移除条目
	Release(ctx context.Context, key, owner string) error
}
