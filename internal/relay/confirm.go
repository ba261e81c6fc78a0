package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"relay-core/internal/chain"
	"relay-core/internal/event"
	"relay-core/internal/guard"
	"relay-core/internal/model"
	"relay-core/internal/repository"
	"relay-core/pkg/logger"
	"relay-core/pkg/monitor"
)

// Resolver 对一笔在途交易做一次确认
type Resolver interface {
	Resolve(ctx context.Context, p Pending) (done bool, err error)
}

// Resolve 查询回执: 未上链返回 false；成功或失败时更新记录并释放 guard 条目；
// 超过 MaxAge 仍未上链按 stale 处理。
func (r *Relayer) Resolve(ctx context.Context, p Pending) (bool, error) {
	rcpt, err := r.gw.Receipt(ctx, p.TxHash)
	if err != nil {
		return false, err
	}

	switch rcpt.State {
	case chain.TxSuccess:
		r.finalize(ctx, p, model.StatusMined, rcpt)
		return true, nil
	case chain.TxFailure:
		r.finalize(ctx, p, model.StatusFailed, rcpt)
		return true, nil
	}

	if r.opts.MaxAge > 0 && r.now().Sub(p.SubmittedAt) > r.opts.MaxAge {
		r.finalize(ctx, p, model.StatusStale, nil)
		return true, nil
	}
	if mining, err := r.gw.IsMining(ctx); err == nil && !mining {
		r.log.Debug("节点暂停出块，交易仍在交易池", zap.String("tx", p.TxHash.Hex()))
	}
	return false, nil
}

func (r *Relayer) finalize(ctx context.Context, p Pending, status model.RelayStatus, rcpt *chain.Receipt) {
	now := r.now()
	f := repository.Finalization{Status: status, FinalizedAt: now}
	switch status {
	case model.StatusFailed:
		f.Error = "transaction reverted"
	case model.StatusStale:
		f.Error = "transaction not confirmed within max age"
	}
	if rcpt != nil {
		f.BlockNumber = rcpt.BlockNumber
		f.GasUsed = rcpt.GasUsed
		if rcpt.ProxyAddress != nil {
			f.CreatedProxy = rcpt.ProxyAddress.Hex()
		}
	}
	evt := &event.RelayEvent{
		Type:         event.TypeFinalized,
		ID:           p.ID,
		Kind:         string(p.Kind),
		DedupKey:     p.Key,
		From:         p.From.Hex(),
		Proxy:        p.Proxy,
		TxHash:       p.TxHash.Hex(),
		Status:       string(status),
		Error:        f.Error,
		BlockNumber:  f.BlockNumber,
		CreatedProxy: f.CreatedProxy,
		OccurredAt:   now,
	}

	// 先落终态再释放 key: 释放后进来的创建请求读到的创建计数必须已经包含这一笔
	recorded := true
	if err := r.repo.Finalize(ctx, p.ID, f, evt); err != nil {
		recorded = false
		if !errors.Is(err, repository.ErrNotFound) {
			r.log.Error("更新中继记录失败", zap.String("id", p.ID), zap.Error(err))
		}
	}

	state := guard.StateMined
	if status != model.StatusMined {
		state = guard.StateFailed
	}
	if err := r.guard.Complete(ctx, p.Key, p.ID, state); err != nil {
		if errors.Is(err, guard.ErrNotOwner) {
			// 条目已超时回收或被其他请求持有
			r.log.Debug("在途条目已不属于该请求", zap.String("key", p.Key), zap.String("id", p.ID))
		} else {
			r.log.Warn("释放在途条目失败", zap.String("key", p.Key), zap.Error(err))
		}
	}
	if !recorded {
		// 另一个确认者已经处理过，或记录写入失败
		return
	}

	monitor.RelayInFlight.Dec()
	monitor.ConfirmDuration.WithLabelValues(string(status)).Observe(now.Sub(p.SubmittedAt).Seconds())
	r.log.Info("中继交易已确认",
		zap.String("id", p.ID),
		zap.String("key", p.Key),
		zap.String("tx", p.TxHash.Hex()),
		zap.String("status", string(status)))
}

// Recover 重启后恢复未确认的交易: 先补回 guard 条目，再交给确认者跟踪
func (r *Relayer) Recover(ctx context.Context) (int, error) {
	recs, err := r.repo.ListSubmitted(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, rec := range recs {
		p := PendingFromRecord(rec)
		if err := r.reacquire(ctx, p); err != nil {
			return i, err
		}
		if err := r.confirmer.Track(ctx, p); err != nil {
			return i, err
		}
		monitor.RelayInFlight.Inc()
	}
	return len(recs), nil
}

// reacquire 进程内 guard 重启后是空的；Redis guard 中条目可能还在
func (r *Relayer) reacquire(ctx context.Context, p Pending) error {
	if _, err := r.guard.Acquire(ctx, p.Key, p.ID); err != nil {
		if !errors.Is(err, guard.ErrInFlight) {
			return err
		}
		e, err := r.guard.Get(ctx, p.Key)
		if err != nil {
			return err
		}
		if e != nil && e.Owner != p.ID {
			r.log.Warn("恢复时在途条目属于其他请求",
				zap.String("key", p.Key), zap.String("owner", e.Owner), zap.String("id", p.ID))
			return nil
		}
	}
	if err := r.guard.Attach(ctx, p.Key, p.ID, p.TxHash.Hex()); err != nil && !errors.Is(err, guard.ErrNotOwner) {
		return err
	}
	return nil
}

// PendingFromRecord 由中继记录还原在途交易
func PendingFromRecord(rec model.RelayTransaction) Pending {
	return Pending{
		ID:          rec.ID,
		Key:         rec.DedupKey,
		Kind:        rec.Kind,
		From:        common.HexToAddress(rec.From),
		Proxy:       rec.Proxy,
		TxHash:      common.HexToHash(rec.TxHash),
		SubmittedAt: rec.CreatedAt,
	}
}

// PollingConfirmer 进程内轮询确认
type PollingConfirmer struct {
	interval    time.Duration
	concurrency int
	log         *zap.Logger

	mu      sync.Mutex
	pending map[string]Pending
}

func NewPollingConfirmer(interval time.Duration, concurrency int) *PollingConfirmer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &PollingConfirmer{
		interval:    interval,
		concurrency: concurrency,
		log:         logger.Named("confirmer"),
		pending:     make(map[string]Pending),
	}
}

func (c *PollingConfirmer) Track(_ context.Context, p Pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[p.ID] = p
	return nil
}

// Len 正在跟踪的交易数量
func (c *PollingConfirmer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run 阻塞轮询直到 ctx 取消
func (c *PollingConfirmer) Run(ctx context.Context, r Resolver) {
	c.log.Info("启动交易确认轮询", zap.Duration("interval", c.interval))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("停止交易确认轮询", zap.Int("pending", c.Len()))
			return
		case <-ticker.C:
			c.Poll(ctx, r)
		}
	}
}

// Poll 对所有在途交易做一轮确认
func (c *PollingConfirmer) Poll(ctx context.Context, r Resolver) {
	c.mu.Lock()
	batch := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		batch = append(batch, p)
	}
	c.mu.Unlock()

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, p := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(p Pending) {
			defer wg.Done()
			defer func() { <-sem }()

			done, err := r.Resolve(ctx, p)
			if err != nil {
				c.log.Debug("确认交易失败，下轮重试", zap.String("tx", p.TxHash.Hex()), zap.Error(err))
				return
			}
			if done {
				c.mu.Lock()
				delete(c.pending, p.ID)
				c.mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
}
