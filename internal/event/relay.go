package event

import (
	"context"
	"encoding/json"
	"time"
)

// Topic 中继事件主题
const Topic = "relay_events"

type Type string

const (
	// TypeSubmitted 交易已广播
	TypeSubmitted Type = "relay.submitted"
	// TypeFinalized 交易到达终态 (mined/failed/stale)
	TypeFinalized Type = "relay.finalized"
	// TypeRejected 提交失败，没有交易在途
	TypeRejected Type = "relay.rejected"
)

// RelayEvent 中继生命周期事件
// Topic: relay_events, Key: DedupKey (同一代理的事件保持有序)
type RelayEvent struct {
	Type         Type      `json:"type"`
	ID           string    `json:"id"` // 中继记录 ID
	Kind         string    `json:"kind"`
	DedupKey     string    `json:"dedup_key"`
	From         string    `json:"from"`
	Proxy        string    `json:"proxy,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	CreatedProxy string    `json:"created_proxy,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Encode 序列化为 JSON
func (e RelayEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 反序列化
func Decode(payload []byte) (*RelayEvent, error) {
	var e RelayEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, e RelayEvent) error
}

// PublisherFunc 函数适配
type PublisherFunc func(ctx context.Context, e RelayEvent) error

func (f PublisherFunc) Publish(ctx context.Context, e RelayEvent) error { return f(ctx, e) }

// Discard 丢弃所有事件
var Discard Publisher = PublisherFunc(func(context.Context, RelayEvent) error { return nil })
