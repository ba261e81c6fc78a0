// Package purse 管理中继使用的签名钱包池。
//
// 所有钱包由同一个助记词派生: m/44'/60'/0'/0/0 为主钱包 (只负责给子钱包充值和回收余额)，
// m/44'/60'/0'/0/1..N 为签名钱包。私钥导入 kms 后只通过 KeyID 使用。
package purse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"relay-core/internal/chain"
	"relay-core/pkg/bip32"
	"relay-core/pkg/bip39"
	"relay-core/pkg/kms"
	"relay-core/pkg/logger"
	"relay-core/pkg/monitor"
)

const transferGas = 21000

var (
	// ErrPoolExhausted 所有签名钱包都在使用中
	ErrPoolExhausted = errors.New("purse: no idle signer")
	// ErrPurseClosed 钱包池已关闭
	ErrPurseClosed = errors.New("purse: closed")
	// ErrNotInitialized 尚未派生钱包
	ErrNotInitialized = errors.New("purse: not initialized")
	// ErrMasterUnderfunded 主钱包余额不足以补充签名钱包
	ErrMasterUnderfunded = errors.New("purse: master wallet underfunded")
	// ErrFundingTimeout 等待充值交易上链超时
	ErrFundingTimeout = errors.New("purse: funding not confirmed in time")
)

// Signer 一次分配得到的签名钱包句柄
type Signer struct {
	Index   int
	Address common.Address
	keyID   string
}

// SignerStatus 钱包状态快照
type SignerStatus struct {
	Index   int            `json:"index"`
	Address common.Address `json:"address"`
	Busy    bool           `json:"busy"`
	Balance *big.Int       `json:"balance_wei"`
	Ether   string         `json:"balance_eth"`
}

// Status 钱包池状态快照
type Status struct {
	Master  SignerStatus   `json:"master"`
	Signers []SignerStatus `json:"signers"`
	Busy    int            `json:"busy"`
	Closed  bool           `json:"closed"`
}

type slot struct {
	signer Signer
	busy   bool
}

// Purse 签名钱包池，并发安全
type Purse struct {
	gw     chain.Gateway
	km     kms.KeyManager
	wallet *bip32.Wallet
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	master  *Signer
	slots   []*slot
	next    int
	busy    int
	closed  bool
	chainID *big.Int

	// 充值和回收都从主钱包发交易，串行执行避免 nonce 冲突
	fundMu sync.Mutex
}

// New 使用已有的 HD 钱包创建钱包池，调用 Init 之后才能分配
func New(gw chain.Gateway, km kms.KeyManager, wallet *bip32.Wallet, opts Options) *Purse {
	opts.applyDefaults()
	return &Purse{
		gw:     gw,
		km:     km,
		wallet: wallet,
		opts:   opts,
		log:    logger.Named("purse"),
	}
}

// NewFromMnemonic 从助记词创建钱包池，私钥保存在进程内 kms
func NewFromMnemonic(gw chain.Gateway, mnemonic string, opts Options) (*Purse, error) {
	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	wallet, err := bip32.NewMasterKeyFromSeed(seed, nil)
	if err != nil {
		return nil, err
	}
	return New(gw, kms.NewLocalKMS(), wallet, opts), nil
}

// Init 派生钱包并把余额不足的签名钱包补足。
// 派生成功后即可分配，即使充值失败 (例如主钱包余额不足) 也会返回错误让调用方决定是否继续。
func (p *Purse) Init(ctx context.Context) error {
	if err := p.Open(ctx); err != nil {
		return err
	}
	p.log.Info("钱包池已派生",
		zap.String("master", p.master.Address.Hex()),
		zap.Int("signers", len(p.slots)))

	_, err := p.Replenish(ctx)
	return err
}

// Open 只派生钱包不充值，供只读查询和回收使用。重复调用安全
func (p *Purse) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPurseClosed
	}
	if p.master != nil {
		return nil
	}

	chainID, err := p.gw.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("读取 chain id 失败: %w", err)
	}

	master, err := p.importAccount(0, "purse-master")
	if err != nil {
		return err
	}
	slots := make([]*slot, 0, p.opts.Children)
	for i := 1; i <= p.opts.Children; i++ {
		s, err := p.importAccount(uint32(i), fmt.Sprintf("purse-signer-%d", i))
		if err != nil {
			return err
		}
		s.Index = i - 1
		slots = append(slots, &slot{signer: *s})
	}

	p.chainID = chainID
	p.master = master
	p.slots = slots
	return nil
}

func (p *Purse) importAccount(index uint32, label string) (*Signer, error) {
	key, err := p.wallet.DeriveAccount(index)
	if err != nil {
		return nil, fmt.Errorf("派生钱包 %d 失败: %w", index, err)
	}
	priv, err := key.ECDSA()
	if err != nil {
		return nil, err
	}
	keyID, err := p.km.ImportKey(label, priv)
	if err != nil {
		return nil, fmt.Errorf("导入密钥失败: %w", err)
	}
	addr, err := p.km.Address(keyID)
	if err != nil {
		return nil, err
	}
	return &Signer{Index: int(index), Address: addr, keyID: keyID}, nil
}

// MasterAddress 主钱包地址，未初始化时返回零地址
func (p *Purse) MasterAddress() common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil {
		return common.Address{}
	}
	return p.master.Address
}

// Size 签名钱包数量
func (p *Purse) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Allocate 按轮询顺序取一个空闲钱包。调用方必须在交易提交结果确定后调用 Release
func (p *Purse) Allocate() (*Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPurseClosed
	}
	if len(p.slots) == 0 {
		return nil, ErrNotInitialized
	}
	for i := 0; i < len(p.slots); i++ {
		idx := (p.next + i) % len(p.slots)
		s := p.slots[idx]
		if s.busy {
			continue
		}
		s.busy = true
		p.busy++
		p.next = (idx + 1) % len(p.slots)
		monitor.SignersBusy.Set(float64(p.busy))
		signer := s.signer
		return &signer, nil
	}
	return nil, ErrPoolExhausted
}

// Release 归还钱包，重复归还只记录告警
func (p *Purse) Release(s *Signer) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Index < 0 || s.Index >= len(p.slots) || p.slots[s.Index].signer.Address != s.Address {
		p.log.Warn("归还了未知的签名钱包", zap.String("address", s.Address.Hex()))
		return
	}
	sl := p.slots[s.Index]
	if !sl.busy {
		p.log.Warn("签名钱包重复归还", zap.String("address", s.Address.Hex()))
		return
	}
	sl.busy = false
	p.busy--
	monitor.SignersBusy.Set(float64(p.busy))
}

// SignTx 用分配到的钱包签名交易
func (p *Purse) SignTx(s *Signer, tx *types.Transaction) (*types.Transaction, error) {
	p.mu.Lock()
	chainID := p.chainID
	p.mu.Unlock()
	if chainID == nil {
		return nil, ErrNotInitialized
	}
	return p.km.SignTx(s.keyID, tx, chainID)
}

// Status 读取所有钱包余额
func (p *Purse) Status(ctx context.Context) (*Status, error) {
	p.mu.Lock()
	if p.master == nil {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}
	master := *p.master
	slots := make([]slot, len(p.slots))
	for i, s := range p.slots {
		slots[i] = *s
	}
	st := &Status{Busy: p.busy, Closed: p.closed}
	p.mu.Unlock()

	ms, err := p.statusOf(ctx, master, false)
	if err != nil {
		return nil, err
	}
	st.Master = ms
	for _, s := range slots {
		ss, err := p.statusOf(ctx, s.signer, s.busy)
		if err != nil {
			return nil, err
		}
		st.Signers = append(st.Signers, ss)
	}
	return st, nil
}

func (p *Purse) statusOf(ctx context.Context, s Signer, busy bool) (SignerStatus, error) {
	bal, err := p.gw.BalanceAt(ctx, s.Address)
	if err != nil {
		return SignerStatus{}, err
	}
	eth := WeiToEther(bal)
	monitor.SignerBalance.WithLabelValues(s.Address.Hex()).Set(eth.InexactFloat64())
	return SignerStatus{Index: s.Index, Address: s.Address, Busy: busy, Balance: bal, Ether: eth.String()}, nil
}

// Replenish 把余额低于 MinBalance 的签名钱包补到 FundAmount，并等待充值交易上链。
// 返回本次充值的钱包数量。
func (p *Purse) Replenish(ctx context.Context) (int, error) {
	p.fundMu.Lock()
	defer p.fundMu.Unlock()

	// 启动时节点不可用导致没有派生的，在这里补上
	if err := p.Open(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPurseClosed
	}
	if p.master == nil {
		p.mu.Unlock()
		return 0, ErrNotInitialized
	}
	master := *p.master
	targets := make([]Signer, 0, len(p.slots))
	for _, s := range p.slots {
		targets = append(targets, s.signer)
	}
	p.mu.Unlock()

	gasPrice, err := p.gasPrice(ctx)
	if err != nil {
		return 0, err
	}

	type transfer struct {
		to     common.Address
		amount *big.Int
	}
	var transfers []transfer
	total := new(big.Int)
	fee := new(big.Int).Mul(big.NewInt(transferGas), gasPrice)
	for _, s := range targets {
		bal, err := p.gw.BalanceAt(ctx, s.Address)
		if err != nil {
			return 0, err
		}
		monitor.SignerBalance.WithLabelValues(s.Address.Hex()).Set(WeiToEther(bal).InexactFloat64())
		if bal.Cmp(p.opts.MinBalance) >= 0 {
			continue
		}
		amount := new(big.Int).Sub(p.opts.FundAmount, bal)
		if amount.Sign() <= 0 {
			continue
		}
		transfers = append(transfers, transfer{to: s.Address, amount: amount})
		total.Add(total, amount)
		total.Add(total, fee)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	masterBal, err := p.gw.BalanceAt(ctx, master.Address)
	if err != nil {
		return 0, err
	}
	if masterBal.Cmp(total) < 0 {
		p.log.Warn("主钱包余额不足",
			zap.String("master", master.Address.Hex()),
			zap.String("balance", WeiToEther(masterBal).String()),
			zap.String("required", WeiToEther(total).String()))
		return 0, fmt.Errorf("%w: have %s ETH, need %s ETH", ErrMasterUnderfunded,
			WeiToEther(masterBal).String(), WeiToEther(total).String())
	}

	nonce, err := p.gw.Nonce(ctx, chain.ScopeAccount, master.Address, common.Address{})
	if err != nil {
		return 0, err
	}
	hashes := make([]common.Hash, 0, len(transfers))
	for i, t := range transfers {
		tx := types.NewTransaction(nonce+uint64(i), t.to, t.amount, transferGas, gasPrice, nil)
		h, err := p.send(ctx, master, tx)
		if err != nil {
			return len(hashes), fmt.Errorf("充值 %s 失败: %w", t.to.Hex(), err)
		}
		p.log.Info("签名钱包充值已提交",
			zap.String("signer", t.to.Hex()),
			zap.String("amount", WeiToEther(t.amount).String()),
			zap.String("tx", h.Hex()))
		hashes = append(hashes, h)
	}

	if err := p.waitMined(ctx, hashes); err != nil {
		return len(hashes), err
	}
	p.log.Info("签名钱包充值完成", zap.Int("funded", len(hashes)))
	return len(hashes), nil
}

// Teardown 关闭钱包池。drain 为 true 时先等待在用的签名钱包归还 (最长 FundingTimeout)，
// 再把空闲钱包的余额 (扣除手续费) 转回主钱包并等待上链，仍在使用的钱包不回收。
// 关闭后销毁 kms 中的签名密钥。
func (p *Purse) Teardown(ctx context.Context, drain bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	busy := p.busy
	var master Signer
	var signers []Signer
	if p.master != nil {
		master = *p.master
		for _, s := range p.slots {
			signers = append(signers, s.signer)
		}
	}
	p.mu.Unlock()

	if busy > 0 {
		p.log.Warn("关闭钱包池时仍有签名钱包在使用", zap.Int("busy", busy))
	}
	if len(signers) == 0 {
		return nil
	}

	var drainErr error
	if drain {
		drainErr = p.drain(ctx, master, p.idleSigners(ctx))
	}

	for _, s := range signers {
		if err := p.km.Destroy(s.keyID); err != nil && !errors.Is(err, kms.ErrKeyNotFound) {
			p.log.Warn("销毁签名密钥失败", zap.String("address", s.Address.Hex()), zap.Error(err))
		}
	}
	return drainErr
}

// idleSigners 等待在用的钱包归还，超时后只返回空闲的钱包
func (p *Purse) idleSigners(ctx context.Context) []Signer {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FundingTimeout)
	defer cancel()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		var idle []Signer
		for _, s := range p.slots {
			if !s.busy {
				idle = append(idle, s.signer)
			}
		}
		busy := p.busy
		p.mu.Unlock()

		if busy == 0 {
			return idle
		}
		select {
		case <-ctx.Done():
			p.log.Warn("签名钱包仍在使用，跳过回收", zap.Int("busy", busy))
			return idle
		case <-ticker.C:
		}
	}
}

func (p *Purse) drain(ctx context.Context, master Signer, signers []Signer) error {
	p.fundMu.Lock()
	defer p.fundMu.Unlock()

	gasPrice, err := p.gasPrice(ctx)
	if err != nil {
		return err
	}
	fee := new(big.Int).Mul(big.NewInt(transferGas), gasPrice)

	var hashes []common.Hash
	var errs []error
	for _, s := range signers {
		bal, err := p.gw.BalanceAt(ctx, s.Address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if bal.Cmp(fee) <= 0 {
			continue
		}
		nonce, err := p.gw.Nonce(ctx, chain.ScopeAccount, s.Address, common.Address{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		amount := new(big.Int).Sub(bal, fee)
		tx := types.NewTransaction(nonce, master.Address, amount, transferGas, gasPrice, nil)
		h, err := p.send(ctx, s, tx)
		if err != nil {
			errs = append(errs, fmt.Errorf("回收 %s 失败: %w", s.Address.Hex(), err))
			continue
		}
		p.log.Info("签名钱包余额回收已提交",
			zap.String("signer", s.Address.Hex()),
			zap.String("amount", WeiToEther(amount).String()),
			zap.String("tx", h.Hex()))
		hashes = append(hashes, h)
	}
	if len(hashes) > 0 {
		if err := p.waitMined(ctx, hashes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Purse) send(ctx context.Context, from Signer, tx *types.Transaction) (common.Hash, error) {
	p.mu.Lock()
	chainID := p.chainID
	p.mu.Unlock()
	signed, err := p.km.SignTx(from.keyID, tx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return p.gw.Submit(ctx, signed)
}

func (p *Purse) gasPrice(ctx context.Context) (*big.Int, error) {
	if p.opts.GasPrice != nil {
		return p.opts.GasPrice, nil
	}
	return p.gw.SuggestGasPrice(ctx)
}

// waitMined 轮询直到全部交易上链，任一交易失败或超过 FundingTimeout 返回错误
func (p *Purse) waitMined(ctx context.Context, hashes []common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FundingTimeout)
	defer cancel()

	pending := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		pending[h] = struct{}{}
	}
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		for h := range pending {
			r, err := p.gw.Receipt(ctx, h)
			if err != nil {
				p.log.Debug("查询回执失败", zap.String("tx", h.Hex()), zap.Error(err))
				continue
			}
			switch r.State {
			case chain.TxSuccess:
				delete(pending, h)
			case chain.TxFailure:
				return fmt.Errorf("purse: transfer %s failed on chain", h.Hex())
			}
		}
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %d transfers pending", ErrFundingTimeout, len(pending))
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
