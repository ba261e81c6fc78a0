// Package chain 封装与区块链节点的交互: 广播交易、读取账户/代理合约 nonce、查询回执和出块状态。
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NonceScope 区分普通账户 nonce 与代理合约内部 nonce
type NonceScope int

const (
	// ScopeAccount 外部账户的下一个 nonce (包含 pending)
	ScopeAccount NonceScope = iota
	// ScopeProxy 代理合约中某个 owner 的 nonce
	ScopeProxy
)

func (s NonceScope) String() string {
	switch s {
	case ScopeAccount:
		return "account"
	case ScopeProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// TxState 交易在链上的状态
type TxState string

const (
	TxPending TxState = "pending"
	TxSuccess TxState = "success"
	TxFailure TxState = "failure"
)

// Final 是否已经是终态
func (s TxState) Final() bool {
	return s == TxSuccess || s == TxFailure
}

// Receipt 精简后的交易回执，未上链时 State 为 pending
type Receipt struct {
	TxHash       common.Hash
	State        TxState
	BlockNumber  uint64
	GasUsed      uint64
	Logs         []*types.Log
	ProxyAddress *common.Address // 回执中包含 ProxyCreation 事件时解析出的代理地址
}

var (
	// ErrSubmission 节点拒绝了交易 (余额不足、nonce 错误、格式错误等)
	ErrSubmission = errors.New("chain: transaction rejected")
	// ErrUnavailable 重试耗尽后节点仍不可用
	ErrUnavailable = errors.New("chain: node unavailable")
	// ErrNoCode 目标地址没有合约代码
	ErrNoCode = errors.New("chain: no contract code at address")
	// ErrUnknownScope 不支持的 nonce 类型
	ErrUnknownScope = errors.New("chain: unknown nonce scope")
)

// Gateway 是中继服务唯一依赖的链上接口
type Gateway interface {
	ChainID(ctx context.Context) (*big.Int, error)
	// Submit 广播已签名交易，返回交易哈希
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// Nonce 读取 target 的下一个 nonce。ScopeProxy 时 target 是代理合约，owner 是签名用户
	Nonce(ctx context.Context, scope NonceScope, target, owner common.Address) (uint64, error)
	// Receipt 查询交易状态，找不到回执时返回 pending
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	// IsMining 节点是否在出块
	IsMining(ctx context.Context) (bool, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}
