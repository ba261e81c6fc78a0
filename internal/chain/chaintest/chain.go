// Package chaintest 提供一个内存中的链，实现 chain.Gateway，用于单元测试。
//
// 支持: 账户余额与 nonce、交易池、暂停/恢复出块、代理工厂部署代理、
// 代理 forward 执行 (维护代理内部 nonce)、回执与事件日志。
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"relay-core/internal/chain"
)

var (
	// ExecutedTopic 代理执行内部调用时，目标合约发出的事件
	ExecutedTopic = crypto.Keccak256Hash([]byte("Executed(address,bytes)"))

	DefaultChainID = big.NewInt(1337)
	// DefaultFactory 默认代理工厂地址
	DefaultFactory = common.HexToAddress("0x00000000000000000000000000000000000FAC70")
)

const (
	transferGas = 21000
	callGas     = 90000
)

type proxyState struct {
	owner  common.Address
	nonces map[common.Address]uint64
}

// Chain 内存链，所有方法并发安全
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	signer   types.Signer
	factory  common.Address
	gasPrice *big.Int

	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64 // 已上链的账户 nonce
	pending  []*types.Transaction
	known    map[common.Hash]bool
	receipts map[common.Hash]*chain.Receipt
	proxies  map[common.Address]*proxyState
	reverts  map[common.Address]bool

	mining       bool
	miningErr    error
	block        uint64
	submitErrs   []error
	submitCalls  int
	receiptCalls int
}

// New 创建一条正在出块的链
func New() *Chain {
	return &Chain{
		chainID:  new(big.Int).Set(DefaultChainID),
		signer:   types.LatestSignerForChainID(DefaultChainID),
		factory:  DefaultFactory,
		gasPrice: big.NewInt(1_000_000_000),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		known:    make(map[common.Hash]bool),
		receipts: make(map[common.Hash]*chain.Receipt),
		proxies:  make(map[common.Address]*proxyState),
		reverts:  make(map[common.Address]bool),
		mining:   true,
	}
}

// Factory 代理工厂地址
func (c *Chain) Factory() common.Address { return c.factory }

// Fund 直接给账户加余额
func (c *Chain) Fund(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceLocked(addr).Add(c.balanceLocked(addr), wei)
}

// Balance 当前余额 (已上链)
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(addr))
}

// PauseMining 停止出块，之后提交的交易停留在交易池
func (c *Chain) PauseMining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mining = false
}

// ResumeMining 恢复出块并立即打包交易池中的全部交易
func (c *Chain) ResumeMining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mining = true
	c.mineLocked()
}

// PendingCount 交易池中的交易数量
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SubmitCalls Submit 被调用的次数
func (c *Chain) SubmitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitCalls
}

// FailNextSubmit 让接下来的 Submit 依次返回这些错误
func (c *Chain) FailNextSubmit(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErrs = append(c.submitErrs, errs...)
}

// RevertCallsTo 让代理对 target 的调用在执行时失败
func (c *Chain) RevertCallsTo(target common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reverts[target] = true
}

// SetMiningError 让 IsMining 返回错误 (模拟节点不支持 eth_mining)
func (c *Chain) SetMiningError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.miningErr = err
}

// DeployProxy 直接部署一个代理，供只关心执行路径的测试使用
func (c *Chain) DeployProxy(owner common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := proxyAddress(c.factory, owner, big.NewInt(int64(len(c.proxies))+1_000_000))
	c.proxies[addr] = &proxyState{owner: owner, nonces: map[common.Address]uint64{}}
	return addr
}

// ---------------------------------------------------------------------
// chain.Gateway
// ---------------------------------------------------------------------

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) Submit(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitCalls++

	if len(c.submitErrs) > 0 {
		err := c.submitErrs[0]
		c.submitErrs = c.submitErrs[1:]
		return common.Hash{}, err
	}
	if c.known[tx.Hash()] {
		return tx.Hash(), nil
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: invalid sender: %v", chain.ErrSubmission, err)
	}
	expected := c.pendingNonceLocked(from)
	if tx.Nonce() < expected {
		return common.Hash{}, fmt.Errorf("%w: nonce too low: next nonce %d, tx nonce %d", chain.ErrSubmission, expected, tx.Nonce())
	}
	if tx.Nonce() > expected {
		return common.Hash{}, fmt.Errorf("%w: nonce too high: next nonce %d, tx nonce %d", chain.ErrSubmission, expected, tx.Nonce())
	}
	if c.balanceLocked(from).Cmp(tx.Cost()) < 0 {
		return common.Hash{}, fmt.Errorf("%w: insufficient funds for gas * price + value: address %s", chain.ErrSubmission, from.Hex())
	}

	c.known[tx.Hash()] = true
	c.pending = append(c.pending, tx)
	if c.mining {
		c.mineLocked()
	}
	return tx.Hash(), nil
}

func (c *Chain) Nonce(_ context.Context, scope chain.NonceScope, target, owner common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch scope {
	case chain.ScopeAccount:
		return c.pendingNonceLocked(target), nil
	case chain.ScopeProxy:
		p, ok := c.proxies[target]
		if !ok {
			return 0, fmt.Errorf("%w: %s", chain.ErrNoCode, target.Hex())
		}
		return p.nonces[owner], nil
	default:
		return 0, chain.ErrUnknownScope
	}
}

func (c *Chain) Receipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptCalls++

	if r, ok := c.receipts[hash]; ok {
		cp := *r
		return &cp, nil
	}
	return &chain.Receipt{TxHash: hash, State: chain.TxPending}, nil
}

func (c *Chain) IsMining(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.miningErr != nil {
		return false, c.miningErr
	}
	return c.mining, nil
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(msg.Data) == 0 {
		return transferGas, nil
	}
	if msg.To != nil {
		if _, ok := c.proxies[*msg.To]; ok {
			call, err := chain.UnpackForward(msg.Data)
			if err != nil {
				return 0, fmt.Errorf("execution reverted: %v", err)
			}
			if c.reverts[call.To] {
				return 0, fmt.Errorf("execution reverted")
			}
		}
	}
	return callGas, nil
}

func (c *Chain) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	return c.Balance(addr), nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

// ---------------------------------------------------------------------
// 出块与执行
// ---------------------------------------------------------------------

func (c *Chain) mineLocked() {
	if len(c.pending) == 0 {
		return
	}
	c.block++
	for _, tx := range c.pending {
		c.receipts[tx.Hash()] = c.executeLocked(tx)
	}
	c.pending = nil
}

func (c *Chain) executeLocked(tx *types.Transaction) *chain.Receipt {
	from, _ := types.Sender(c.signer, tx)
	c.nonces[from]++

	r := &chain.Receipt{TxHash: tx.Hash(), BlockNumber: c.block, State: chain.TxSuccess}

	var logs []*types.Log
	var ok bool
	switch {
	case tx.To() == nil:
		ok = false
	case *tx.To() == c.factory:
		logs, ok = c.createProxyLocked(tx)
	case c.proxies[*tx.To()] != nil:
		logs, ok = c.forwardLocked(*tx.To(), tx.Data())
	default:
		ok = true
	}

	gas := uint64(transferGas)
	if len(tx.Data()) > 0 {
		gas = callGas
	}
	if gas > tx.Gas() {
		gas = tx.Gas()
		ok = false
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), tx.GasPrice())
	bal := c.balanceLocked(from)
	bal.Sub(bal, fee)
	r.GasUsed = gas

	if !ok {
		r.State = chain.TxFailure
		return r
	}
	if v := tx.Value(); v.Sign() > 0 {
		bal.Sub(bal, v)
		to := c.balanceLocked(*tx.To())
		to.Add(to, v)
	}
	for i, l := range logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = c.block
		l.Index = uint(i)
	}
	r.Logs = logs
	r.ProxyAddress = chain.ParseProxyCreation(logs)
	return r
}

func (c *Chain) createProxyLocked(tx *types.Transaction) ([]*types.Log, bool) {
	call, err := chain.UnpackCreateProxy(tx.Data())
	if err != nil {
		return nil, false
	}
	addr := proxyAddress(c.factory, call.Sender, call.Nonce)
	if _, exists := c.proxies[addr]; exists {
		return nil, false
	}
	c.proxies[addr] = &proxyState{owner: call.Sender, nonces: map[common.Address]uint64{}}

	logs := []*types.Log{{
		Address: c.factory,
		Topics:  []common.Hash{chain.ProxyCreationTopic},
		Data:    common.LeftPadBytes(addr.Bytes(), 32),
	}}
	if len(call.Initializer) > 0 {
		logs = append(logs, &types.Log{
			Address: addr,
			Topics:  []common.Hash{ExecutedTopic},
			Data:    common.CopyBytes(call.Initializer),
		})
	}
	return logs, true
}

func (c *Chain) forwardLocked(proxy common.Address, data []byte) ([]*types.Log, bool) {
	call, err := chain.UnpackForward(data)
	if err != nil {
		return nil, false
	}
	if c.reverts[call.To] {
		return nil, false
	}
	p := c.proxies[proxy]
	p.nonces[call.Signer]++
	return []*types.Log{{
		Address: call.To,
		Topics:  []common.Hash{ExecutedTopic},
		Data:    common.CopyBytes(call.Data),
	}}, true
}

func (c *Chain) pendingNonceLocked(addr common.Address) uint64 {
	n := c.nonces[addr]
	for _, tx := range c.pending {
		if from, _ := types.Sender(c.signer, tx); from == addr {
			n++
		}
	}
	return n
}

func (c *Chain) balanceLocked(addr common.Address) *big.Int {
	b, ok := c.balances[addr]
	if !ok {
		b = new(big.Int)
		c.balances[addr] = b
	}
	return b
}

func proxyAddress(factory, sender common.Address, nonce *big.Int) common.Address {
	h := crypto.Keccak256(factory.Bytes(), sender.Bytes(), common.LeftPadBytes(nonce.Bytes(), 32))
	return common.BytesToAddress(h[12:])
}

// HasEvent 回执中是否包含指定 topic 的日志
func HasEvent(r *chain.Receipt, topic common.Hash) bool {
	for _, l := range r.Logs {
		if len(l.Topics) > 0 && l.Topics[0] == topic {
			return true
		}
	}
	return false
}
