package model

import (
	"time"
)

// RelayKind 中继请求类型
type RelayKind string

const (
	KindCreate  RelayKind = "create"  // 通过工厂创建代理
	KindExecute RelayKind = "execute" // 通过已有代理执行调用
)

// RelayStatus 中继记录状态
type RelayStatus string

const (
	StatusSubmitted RelayStatus = "submitted" // 已广播，等待上链
	StatusMined     RelayStatus = "mined"     // 上链且执行成功
	StatusFailed    RelayStatus = "failed"    // 上链但执行失败
	StatusRejected  RelayStatus = "rejected"  // 节点拒绝或提交失败，没有交易在途
	StatusStale     RelayStatus = "stale"     // 超过最大存活时间仍未确认
)

// Final 是否为终态
func (s RelayStatus) Final() bool {
	return s != StatusSubmitted
}

// RelayTransaction 中继交易审计记录
type RelayTransaction struct {
	ID           string      `gorm:"type:varchar(36);primaryKey" json:"id"` // 中继 ID，服务端生成的 uuid
	Kind         RelayKind   `gorm:"type:varchar(16);not null" json:"kind"`
	DedupKey     string      `gorm:"type:varchar(64);not null;index" json:"dedup_key"`
	From         string      `gorm:"column:from_address;type:varchar(42);not null;index:idx_from_kind_status" json:"from"`
	To           string      `gorm:"column:to_address;type:varchar(42);not null" json:"to"`
	Proxy        string      `gorm:"type:varchar(42)" json:"proxy,omitempty"`
	Nonce        string      `gorm:"type:varchar(78);not null" json:"nonce"` // uint256 十进制
	Signer       string      `gorm:"type:varchar(42)" json:"signer,omitempty"`
	TxHash       string      `gorm:"type:varchar(66);index" json:"tx_hash,omitempty"`
	Status       RelayStatus `gorm:"type:varchar(16);not null;index;index:idx_from_kind_status" json:"status"`
	Error        string      `gorm:"type:text" json:"error,omitempty"`
	BlockNumber  uint64      `json:"block_number,omitempty"`
	GasUsed      uint64      `json:"gas_used,omitempty"`
	CreatedProxy string      `gorm:"type:varchar(42)" json:"created_proxy,omitempty"`
	BodyHash     string      `gorm:"type:varchar(64)" json:"body_hash"` // 请求体 blake3 指纹
	ClientIP     string      `gorm:"type:varchar(64)" json:"client_ip,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FinalizedAt  *time.Time  `json:"finalized_at,omitempty"`
}

func (RelayTransaction) TableName() string {
	return "relay_transactions"
}

// OutboxMessage 本地消息表 (Transactional Outbox)
// 与中继记录在同一个数据库事务中写入，由 OutboxRelay 投递到 MQ
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string    `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string    `gorm:"type:varchar(255)" json:"key"`
	Payload   []byte    `gorm:"type:bytea;not null" json:"payload"`
	Status    string    `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
)

// AllModels 需要迁移的模型
func AllModels() []interface{} {
	return []interface{}{&RelayTransaction{}, &OutboxMessage{}}
}
