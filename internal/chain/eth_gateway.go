package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ssgreg/repeat"
	"go.uber.org/zap"

	"relay-core/pkg/logger"
)

// Options EthGateway 的超时与重试参数
type Options struct {
	// Timeout 单次 RPC 调用超时
	Timeout time.Duration
	// MaxTries 网络抖动时的最大尝试次数
	MaxTries int
	// Backoff 重试退避基准
	Backoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxTries <= 0 {
		o.MaxTries = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 250 * time.Millisecond
	}
}

// EthGateway 基于 go-ethereum ethclient 的 Gateway 实现
type EthGateway struct {
	rpc    *rpc.Client
	client *ethclient.Client
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	chainID *big.Int // 首次查询后缓存
}

// Dial 连接节点
func Dial(ctx context.Context, url string, opts Options) (*EthGateway, error) {
	opts.applyDefaults()

	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败 (%s): %w", url, err)
	}
	return &EthGateway{
		rpc:    rc,
		client: ethclient.NewClient(rc),
		opts:   opts,
		log:    logger.Named("chain"),
	}, nil
}

func (g *EthGateway) Close() {
	g.client.Close()
}

func (g *EthGateway) ChainID(ctx context.Context) (*big.Int, error) {
	g.mu.Lock()
	cached := g.chainID
	g.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	var id *big.Int
	err := g.retry(ctx, "eth_chainId", func(ctx context.Context) error {
		v, err := g.client.ChainID(ctx)
		id = v
		return err
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.chainID = id
	g.mu.Unlock()
	return new(big.Int).Set(id), nil
}

func (g *EthGateway) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := g.retry(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		err := g.client.SendTransaction(ctx, tx)
		// 上一次尝试其实已经送达节点，重试时会收到 already known
		if err != nil && isAlreadyKnown(err) {
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
			return common.Hash{}, err
		}
		return common.Hash{}, fmt.Errorf("%w: %s", ErrSubmission, err.Error())
	}
	return tx.Hash(), nil
}

func (g *EthGateway) Nonce(ctx context.Context, scope NonceScope, target, owner common.Address) (uint64, error) {
	switch scope {
	case ScopeAccount:
		var nonce uint64
		err := g.retry(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
			n, err := g.client.PendingNonceAt(ctx, target)
			nonce = n
			return err
		})
		return nonce, err

	case ScopeProxy:
		data, err := ProxyABI.Pack("nonce", owner)
		if err != nil {
			return 0, err
		}
		var out []byte
		err = g.retry(ctx, "eth_call", func(ctx context.Context) error {
			res, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
			out = res
			return err
		})
		if err != nil {
			return 0, err
		}
		if len(out) == 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoCode, target.Hex())
		}
		values, err := ProxyABI.Unpack("nonce", out)
		if err != nil {
			return 0, fmt.Errorf("解析代理 nonce 失败: %w", err)
		}
		n := values[0].(*big.Int)
		if !n.IsUint64() {
			return 0, fmt.Errorf("代理 nonce 溢出: %s", n)
		}
		return n.Uint64(), nil

	default:
		return 0, ErrUnknownScope
	}
}

func (g *EthGateway) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var r *types.Receipt
	err := g.retry(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		rc, err := g.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil
		}
		r = rc
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &Receipt{TxHash: hash, State: TxPending}, nil
	}

	state := TxFailure
	if r.Status == types.ReceiptStatusSuccessful {
		state = TxSuccess
	}
	out := &Receipt{
		TxHash:       hash,
		State:        state,
		GasUsed:      r.GasUsed,
		Logs:         r.Logs,
		ProxyAddress: ParseProxyCreation(r.Logs),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func (g *EthGateway) IsMining(ctx context.Context) (bool, error) {
	var mining bool
	err := g.retry(ctx, "eth_mining", func(ctx context.Context) error {
		return g.rpc.CallContext(ctx, &mining, "eth_mining")
	})
	return mining, err
}

func (g *EthGateway) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := g.retry(ctx, "eth_estimateGas", func(ctx context.Context) error {
		v, err := g.client.EstimateGas(ctx, msg)
		gas = v
		return err
	})
	return gas, err
}

func (g *EthGateway) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal *big.Int
	err := g.retry(ctx, "eth_getBalance", func(ctx context.Context) error {
		v, err := g.client.BalanceAt(ctx, addr, nil)
		bal = v
		return err
	})
	return bal, err
}

func (g *EthGateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := g.retry(ctx, "eth_gasPrice", func(ctx context.Context) error {
		v, err := g.client.SuggestGasPrice(ctx)
		price = v
		return err
	})
	return price, err
}

// retry 对网络层瞬时错误做有限次数的退避重试，节点返回的业务错误直接返回
func (g *EthGateway) retry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	var lastErr error
	tries := 0

	err := repeat.Repeat(
		repeat.Fn(func() error {
			if err := ctx.Err(); err != nil {
				lastErr = err
				return err
			}
			tries++

			callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()

			err := fn(callCtx)
			lastErr = err
			if err != nil && ctx.Err() == nil && isTransient(err) {
				g.log.Debug("RPC 调用失败，准备重试",
					zap.String("method", method),
					zap.Int("try", tries),
					zap.Error(err),
				)
				return repeat.HintTemporary(err)
			}
			return err
		}),
		repeat.WithDelay(repeat.FullJitterBackoff(g.opts.Backoff).Set()),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(g.opts.MaxTries),
	)
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if isTransient(lastErr) && ctx.Err() == nil {
		g.log.Warn("RPC 重试耗尽", zap.String("method", method), zap.Int("tries", tries), zap.Error(lastErr))
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, lastErr)
	}
	return lastErr
}

// isTransient 判断错误是否值得重试
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	// 节点返回的 JSON-RPC 错误是确定性的
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
