// Package repository 保存中继交易记录。写记录的同时发布对应事件:
// gorm 实现把事件写入 outbox 表 (同一事务)，内存实现直接交给 Publisher。
package repository

import (
	"context"
	"errors"
	"time"

	"relay-core/internal/event"
	"relay-core/internal/model"
)

var (
	ErrNotFound  = errors.New("repository: record not found")
	ErrDuplicate = errors.New("repository: duplicate record id")
)

// Finalization 交易到达终态时更新的字段
type Finalization struct {
	Status       model.RelayStatus
	Error        string
	BlockNumber  uint64
	GasUsed      uint64
	CreatedProxy string
	FinalizedAt  time.Time
}

// RelayRepository 中继记录存储
type RelayRepository interface {
	// Create 写入新记录，evt 不为 nil 时一并发布
	Create(ctx context.Context, rec *model.RelayTransaction, evt *event.RelayEvent) error
	// Finalize 更新终态字段。记录已是终态时返回 ErrNotFound
	Finalize(ctx context.Context, id string, f Finalization, evt *event.RelayEvent) error
	Get(ctx context.Context, id string) (*model.RelayTransaction, error)
	// ListSubmitted 仍在等待确认的记录，按创建时间升序
	ListSubmitted(ctx context.Context, limit int) ([]model.RelayTransaction, error)
	// CountMinedCreations 某个发送者已经上链成功的代理创建数量，即下一次创建的 nonce
	CountMinedCreations(ctx context.Context, from string) (uint64, error)
}
