// Package relay 接收用户签名的免 gas 请求，由签名钱包池代为提交到链上，
// 并保证同一个代理 (或同一个创建者) 同时只有一笔交易在途。
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"relay-core/internal/chain"
	"relay-core/internal/event"
	"relay-core/internal/guard"
	"relay-core/internal/model"
	"relay-core/internal/purse"
	"relay-core/internal/repository"
	"relay-core/pkg/config"
	"relay-core/pkg/errno"
	"relay-core/pkg/logger"
	"relay-core/pkg/monitor"
)

// SignerPool 签名钱包池
type SignerPool interface {
	Allocate() (*purse.Signer, error)
	Release(s *purse.Signer)
	SignTx(s *purse.Signer, tx *types.Transaction) (*types.Transaction, error)
}

// Confirmer 跟踪已提交的交易直到终态
type Confirmer interface {
	Track(ctx context.Context, p Pending) error
}

// Pending 等待确认的交易
type Pending struct {
	ID          string          `json:"id"` // 中继记录 ID，同时是 guard 条目的 owner
	Key         string          `json:"key"`
	Kind        model.RelayKind `json:"kind"`
	From        common.Address  `json:"from"`
	Proxy       string          `json:"proxy,omitempty"`
	TxHash      common.Hash     `json:"tx_hash"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Meta 请求来源信息。RequestID 可能来自客户端，只用于日志关联
type Meta struct {
	RequestID string
	ClientIP  string
}

// Options 交易构造参数
type Options struct {
	Factory          common.Address
	GasLimit         uint64   // 估算失败时使用
	GasBufferPercent uint64   // 估算结果上浮比例
	GasPrice         *big.Int // nil 时使用节点建议值
	MaxAge           time.Duration
}

// OptionsFromConfig 从链和 guard 配置构造
func OptionsFromConfig(cc config.ChainConfig, gc config.GuardConfig) (Options, error) {
	opts := Options{
		GasLimit:         cc.GasLimit,
		GasBufferPercent: cc.GasBufferPercent,
		MaxAge:           gc.MaxAge,
	}
	if cc.ProxyFactory != "" {
		if !common.IsHexAddress(cc.ProxyFactory) {
			return Options{}, fmt.Errorf("chain.proxy_factory 不是合法地址: %s", cc.ProxyFactory)
		}
		opts.Factory = common.HexToAddress(cc.ProxyFactory)
	}
	price, err := purse.GweiToWei(cc.GasPriceGwei)
	if err != nil {
		return Options{}, fmt.Errorf("chain.gas_price_gwei: %w", err)
	}
	opts.GasPrice = price
	return opts, nil
}

// Relayer 无状态编排: 校验 → 单飞锁 → 分配签名钱包 → 构造并提交交易
type Relayer struct {
	gw        chain.Gateway
	pool      SignerPool
	guard     guard.Guard
	repo      repository.RelayRepository
	verifier  *Verifier
	confirmer Confirmer
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func New(gw chain.Gateway, pool SignerPool, g guard.Guard, repo repository.RelayRepository, confirmer Confirmer, opts Options) *Relayer {
	if opts.GasLimit == 0 {
		opts.GasLimit = 1_000_000
	}
	return &Relayer{
		gw:        gw,
		pool:      pool,
		guard:     g,
		repo:      repo,
		verifier:  NewVerifier(gw, repo, opts.Factory),
		confirmer: confirmer,
		opts:      opts,
		log:       logger.Named("relayer"),
		now:       time.Now,
	}
}

// Relay 处理一个中继请求，任何路径都返回响应
func (r *Relayer) Relay(ctx context.Context, body Body, meta Meta) *Response {
	start := r.now()
	if meta.RequestID == "" {
		meta.RequestID = uuid.NewString()
	}

	req, err := ParseRequest(body)
	if err != nil {
		return r.done(nil, meta, errorResponse(err), start)
	}
	if err := r.verifier.Verify(ctx, req); err != nil {
		// nonce 不一致但该 key 正有交易在途时，按冲突处理
		if errors.Is(err, errno.ErrNonceMismatch) {
			if e, gerr := r.guard.Get(ctx, req.DedupKey()); gerr == nil && e != nil {
				err = guard.ErrInFlight
			}
		}
		if errors.Is(err, guard.ErrInFlight) {
			monitor.GuardConflictsTotal.Inc()
		}
		return r.done(req, meta, errorResponse(err), start)
	}

	if req.Preflight {
		return r.done(req, meta, r.preflight(ctx, req), start)
	}
	return r.done(req, meta, r.submit(ctx, req, meta), start)
}

func (r *Relayer) preflight(ctx context.Context, req *Request) *Response {
	e, err := r.guard.Get(ctx, req.DedupKey())
	if err != nil {
		return errorResponse(err)
	}
	if e != nil {
		monitor.GuardConflictsTotal.Inc()
		return errorResponse(guard.ErrInFlight)
	}
	to, data, err := r.outbound(req)
	if err != nil {
		return errorResponse(err)
	}
	gas, err := r.gw.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		if errors.Is(err, chain.ErrUnavailable) {
			return errorResponse(err)
		}
		return errorResponse(errno.ErrChainRejected.WithMessage("gas estimation failed: " + err.Error()))
	}
	return &Response{StatusCode: errno.OK.HTTPStatus, Body: ResponseBody{Gas: r.buffered(gas)}}
}

func (r *Relayer) submit(ctx context.Context, req *Request, meta Meta) *Response {
	key := req.DedupKey()
	// 记录 ID 同时是 guard 条目的 owner 和确认任务的 key，必须由服务端生成
	id := uuid.NewString()
	// 先占位再提交，同一个 key 的并发请求只有一个能走到节点
	if _, err := r.guard.Acquire(ctx, key, id); err != nil {
		if errors.Is(err, guard.ErrInFlight) {
			monitor.GuardConflictsTotal.Inc()
		}
		return errorResponse(err)
	}

	rec := r.record(id, req, meta)
	hash, signer, err := r.send(ctx, req)
	// 广播结果确定后的收尾不受客户端断开影响
	ctx = context.WithoutCancel(ctx)
	if signer != nil {
		rec.Signer = signer.Hex()
	}
	if err != nil {
		// 没有交易在途，立即释放，让修正后的请求可以重试
		if rerr := r.guard.Release(ctx, key, id); rerr != nil {
			r.log.Warn("释放在途条目失败", zap.String("key", key), zap.Error(rerr))
		}
		resp := errorResponse(err)
		if resp.Code != errno.ErrPoolExhausted.Code {
			monitor.SubmissionErrorsTotal.WithLabelValues(reason(resp.Code)).Inc()
			rec.Status = model.StatusRejected
			rec.Error = resp.Body.Errors[0]
			r.save(ctx, rec, event.TypeRejected)
		}
		return resp
	}

	rec.TxHash = hash.Hex()
	if err := r.guard.Attach(ctx, key, id, rec.TxHash); err != nil {
		r.log.Warn("记录交易哈希失败", zap.String("key", key), zap.Error(err))
	}
	r.save(ctx, rec, event.TypeSubmitted)
	monitor.RelayInFlight.Inc()
	r.log.Debug("中继交易已广播", zap.String("request_id", meta.RequestID), zap.String("id", id), zap.String("tx", rec.TxHash))

	p := Pending{
		ID:          rec.ID,
		Key:         key,
		Kind:        req.Kind(),
		From:        req.From,
		Proxy:       rec.Proxy,
		TxHash:      hash,
		SubmittedAt: rec.CreatedAt,
	}
	if err := r.confirmer.Track(ctx, p); err != nil {
		// 交易已经广播，条目会在 max_age 后回收
		r.log.Error("提交确认任务失败", zap.String("id", rec.ID), zap.String("tx", rec.TxHash), zap.Error(err))
	}
	return &Response{StatusCode: errno.OK.HTTPStatus, Body: ResponseBody{ID: rec.TxHash}}
}

// send 分配签名钱包、构造、签名并广播交易。签名钱包在广播结果确定后立即归还
func (r *Relayer) send(ctx context.Context, req *Request) (common.Hash, *common.Address, error) {
	signer, err := r.pool.Allocate()
	if err != nil {
		return common.Hash{}, nil, err
	}
	defer r.pool.Release(signer)
	addr := signer.Address

	to, data, err := r.outbound(req)
	if err != nil {
		return common.Hash{}, &addr, err
	}
	gas := r.gasLimit(ctx, signer.Address, to, data)
	price, err := r.gasPrice(ctx)
	if err != nil {
		return common.Hash{}, &addr, err
	}
	nonce, err := r.gw.Nonce(ctx, chain.ScopeAccount, signer.Address, common.Address{})
	if err != nil {
		return common.Hash{}, &addr, err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, price, data)
	signed, err := r.pool.SignTx(signer, tx)
	if err != nil {
		return common.Hash{}, &addr, fmt.Errorf("sign: %w", err)
	}
	hash, err := r.gw.Submit(ctx, signed)
	return hash, &addr, err
}

// outbound 创建请求直接调用工厂，执行请求通过代理 forward
func (r *Relayer) outbound(req *Request) (common.Address, []byte, error) {
	switch t := req.Target.(type) {
	case CreateTarget:
		return req.To, req.TxData, nil
	case ExecuteTarget:
		data, err := chain.PackForward(req.To, req.Signature, req.From, req.TxData)
		if err != nil {
			return common.Address{}, nil, errno.ErrMalformedRequest.WithMessage("encode forward call: " + err.Error())
		}
		return t.Proxy, data, nil
	default:
		return common.Address{}, nil, errno.ErrMalformedRequest
	}
}

func (r *Relayer) gasLimit(ctx context.Context, from, to common.Address, data []byte) uint64 {
	est, err := r.gw.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		r.log.Debug("gas 估算失败，使用默认值", zap.Uint64("gas_limit", r.opts.GasLimit), zap.Error(err))
		return r.opts.GasLimit
	}
	return r.buffered(est)
}

func (r *Relayer) buffered(gas uint64) uint64 {
	return gas + gas*r.opts.GasBufferPercent/100
}

func (r *Relayer) gasPrice(ctx context.Context) (*big.Int, error) {
	if r.opts.GasPrice != nil {
		return r.opts.GasPrice, nil
	}
	return r.gw.SuggestGasPrice(ctx)
}

func (r *Relayer) record(id string, req *Request, meta Meta) *model.RelayTransaction {
	rec := &model.RelayTransaction{
		ID:        id,
		Kind:      req.Kind(),
		DedupKey:  req.DedupKey(),
		From:      req.From.Hex(),
		To:        req.To.Hex(),
		Nonce:     req.Nonce.String(),
		Status:    model.StatusSubmitted,
		BodyHash:  req.Fingerprint(),
		ClientIP:  meta.ClientIP,
		CreatedAt: r.now(),
	}
	if t, ok := req.Target.(ExecuteTarget); ok {
		rec.Proxy = t.Proxy.Hex()
	}
	return rec
}

func (r *Relayer) save(ctx context.Context, rec *model.RelayTransaction, typ event.Type) {
	evt := &event.RelayEvent{
		Type:       typ,
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		DedupKey:   rec.DedupKey,
		From:       rec.From,
		Proxy:      rec.Proxy,
		TxHash:     rec.TxHash,
		Status:     string(rec.Status),
		Error:      rec.Error,
		OccurredAt: rec.CreatedAt,
	}
	if err := r.repo.Create(ctx, rec, evt); err != nil {
		r.log.Error("保存中继记录失败", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (r *Relayer) done(req *Request, meta Meta, resp *Response, start time.Time) *Response {
	kind := "unknown"
	fields := []zap.Field{
		zap.String("request_id", meta.RequestID),
		zap.String("client_ip", meta.ClientIP),
		zap.Int("status", resp.StatusCode),
		zap.Duration("cost", r.now().Sub(start)),
	}
	if req != nil {
		kind = string(req.Kind())
		fields = append(fields, zap.String("kind", kind), zap.String("key", req.DedupKey()), zap.Bool("preflight", req.Preflight))
	}
	if resp.Body.ID != "" {
		fields = append(fields, zap.String("tx", resp.Body.ID))
	}
	if len(resp.Body.Errors) > 0 {
		fields = append(fields, zap.String("error", strings.Join(resp.Body.Errors, "; ")))
	}
	monitor.RelayRequestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode >= 500 {
		r.log.Warn("中继请求失败", fields...)
	} else {
		r.log.Info("中继请求", fields...)
	}
	return resp
}

func reason(code int) string {
	switch code {
	case errno.ErrChainRejected.Code:
		return "rejected"
	case errno.ErrGatewayUnavailable.Code:
		return "unavailable"
	default:
		return "other"
	}
}
