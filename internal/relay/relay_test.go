package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-core/internal/chain"
	"relay-core/internal/chain/chaintest"
	"relay-core/internal/event"
	"relay-core/internal/guard"
	"relay-core/internal/model"
	"relay-core/internal/purse"
	"relay-core/internal/repository"
	"relay-core/pkg/errno"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	masterCopy = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	target     = common.HexToAddress("0x0000000000000000000000000000000000007a59")
)

type recordingConfirmer struct {
	mu      sync.Mutex
	pending []Pending
}

func (c *recordingConfirmer) Track(_ context.Context, p Pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, p)
	return nil
}

func (c *recordingConfirmer) byTx(t *testing.T, hash string) Pending {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.TxHash.Hex() == hash {
			return p
		}
	}
	t.Fatalf("no pending entry for %s", hash)
	return Pending{}
}

type env struct {
	t       *testing.T
	chain   *chaintest.Chain
	purse   *purse.Purse
	guard   *guard.MemoryGuard
	repo    *repository.MemoryRelayRepository
	conf    *recordingConfirmer
	relayer *Relayer
	base    int // 初始化钱包池产生的提交次数
}

func newEnv(t *testing.T, signers int) *env {
	t.Helper()
	c := chaintest.New()
	p, err := purse.NewFromMnemonic(c, testMnemonic, purse.Options{
		Children:     signers,
		FundAmount:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	c.Fund(common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
	require.NoError(t, p.Init(context.Background()))

	e := &env{
		t:     t,
		chain: c,
		purse: p,
		guard: guard.NewMemoryGuard(10 * time.Minute),
		repo:  repository.NewMemoryRelayRepository(nil),
		conf:  &recordingConfirmer{},
		base:  c.SubmitCalls(),
	}
	e.relayer = New(c, p, e.guard, e.repo, e.conf, Options{
		Factory:          c.Factory(),
		GasLimit:         1_000_000,
		GasBufferPercent: 20,
		MaxAge:           10 * time.Minute,
	})
	return e
}

type user struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newUser(t *testing.T) user {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return user{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func signedBody(t *testing.T, u user, to common.Address, data []byte, nonce int64, proxy *common.Address) Body {
	t.Helper()
	b, err := SignBody(u.key, to, data, big.NewInt(nonce), proxy)
	require.NoError(t, err)
	return b
}

func (e *env) createBody(u user, nonce int64) Body {
	data, err := chain.PackCreateProxy(masterCopy, []byte{0xde, 0xad}, u.addr, big.NewInt(nonce))
	require.NoError(e.t, err)
	return signedBody(e.t, u, e.chain.Factory(), data, nonce, nil)
}

func (e *env) executeBody(u user, proxy common.Address, data []byte, nonce int64) Body {
	return signedBody(e.t, u, target, data, nonce, &proxy)
}

// submits 中继产生的提交次数
func (e *env) submits() int {
	return e.chain.SubmitCalls() - e.base
}

func (e *env) relay(b Body) *Response {
	return e.relayer.Relay(context.Background(), b, Meta{ClientIP: "127.0.0.1"})
}

// resolve 确认一笔已提交的交易并返回记录
func (e *env) resolve(resp *Response) *model.RelayTransaction {
	e.t.Helper()
	p := e.conf.byTx(e.t, resp.Body.ID)
	done, err := e.relayer.Resolve(context.Background(), p)
	require.NoError(e.t, err)
	require.True(e.t, done)
	rec, err := e.repo.Get(context.Background(), p.ID)
	require.NoError(e.t, err)
	return rec
}

func (e *env) receipt(resp *Response) *chain.Receipt {
	e.t.Helper()
	r, err := e.chain.Receipt(context.Background(), common.HexToHash(resp.Body.ID))
	require.NoError(e.t, err)
	return r
}

// createProxy 通过中继创建代理并等待确认
func (e *env) createProxy(u user) common.Address {
	e.t.Helper()
	resp := e.relay(e.createBody(u, 0))
	require.Equal(e.t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	rec := e.resolve(resp)
	require.Equal(e.t, model.StatusMined, rec.Status)
	require.NotEmpty(e.t, rec.CreatedProxy)
	return common.HexToAddress(rec.CreatedProxy)
}

func TestRelay_CreateProxy(t *testing.T) {
	e := newEnv(t, 3)
	u := newUser(t)

	resp := e.relay(e.createBody(u, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	require.NotEmpty(t, resp.Body.ID)

	r := e.receipt(resp)
	assert.Equal(t, chain.TxSuccess, r.State)
	assert.True(t, chaintest.HasEvent(r, chain.ProxyCreationTopic))

	rec := e.resolve(resp)
	assert.Equal(t, model.StatusMined, rec.Status)
	assert.Equal(t, model.KindCreate, rec.Kind)
	assert.Equal(t, r.ProxyAddress.Hex(), rec.CreatedProxy)
	assert.Equal(t, "127.0.0.1", rec.ClientIP)
	assert.NotEmpty(t, rec.Signer)
	assert.NotEmpty(t, rec.BodyHash)
	assert.Zero(t, e.guard.Len())

	// 创建 nonce 随成功创建的次数递增
	resp = e.relay(e.createBody(u, 0))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errno.ErrNonceMismatch.Code, resp.Code)
	resp = e.relay(e.createBody(u, 1))
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
}

func TestRelay_ExecuteThroughCreatedProxy(t *testing.T) {
	e := newEnv(t, 3)
	u := newUser(t)
	proxy := e.createProxy(u)

	resp := e.relay(e.executeBody(u, proxy, []byte{0x01, 0x02}, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)

	r := e.receipt(resp)
	assert.Equal(t, chain.TxSuccess, r.State)
	assert.True(t, chaintest.HasEvent(r, chaintest.ExecutedTopic))
	assert.False(t, chaintest.HasEvent(r, chain.ProxyCreationTopic))

	rec := e.resolve(resp)
	assert.Equal(t, model.StatusMined, rec.Status)
	assert.Equal(t, proxy.Hex(), rec.Proxy)
	assert.Empty(t, rec.CreatedProxy)

	n, err := e.chain.Nonce(context.Background(), chain.ScopeProxy, proxy, u.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestRelay_DuplicateWhileInFlight(t *testing.T) {
	e := newEnv(t, 3)
	u := newUser(t)
	proxy := e.createProxy(u)

	e.chain.PauseMining()
	body := e.executeBody(u, proxy, []byte{0x01}, 0)
	first := e.relay(body)
	require.Equal(t, http.StatusOK, first.StatusCode, first.Body.Errors)
	submits := e.chain.SubmitCalls()

	second := e.relay(body)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, errno.ErrConflictingInFlight.Code, second.Code)
	// 下一个 nonce 也按冲突处理
	next := e.relay(e.executeBody(u, proxy, []byte{0x02}, 1))
	assert.Equal(t, http.StatusTooManyRequests, next.StatusCode)
	assert.Equal(t, submits, e.chain.SubmitCalls(), "冲突请求不应到达节点")

	p := e.conf.byTx(t, first.Body.ID)
	done, err := e.relayer.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, done, "暂停出块时交易仍在交易池")

	e.chain.ResumeMining()
	rec := e.resolve(first)
	assert.Equal(t, model.StatusMined, rec.Status)

	third := e.relay(e.executeBody(u, proxy, []byte{0x02}, 1))
	assert.Equal(t, http.StatusOK, third.StatusCode, third.Body.Errors)
}

func TestRelay_ConcurrentCreatesIndependentKeys(t *testing.T) {
	e := newEnv(t, 3)
	alice, bob := newUser(t), newUser(t)

	var wg sync.WaitGroup
	resps := make([]*Response, 2)
	for i, u := range []user{alice, bob} {
		wg.Add(1)
		go func(i int, u user) {
			defer wg.Done()
			resps[i] = e.relay(e.createBody(u, 0))
		}(i, u)
	}
	wg.Wait()

	proxies := map[string]bool{}
	for _, resp := range resps {
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
		rec := e.resolve(resp)
		require.Equal(t, model.StatusMined, rec.Status)
		proxies[rec.CreatedProxy] = true
	}
	assert.Len(t, proxies, 2)
}

func TestRelay_SameKeyContention(t *testing.T) {
	e := newEnv(t, 5)
	u := newUser(t)
	proxy := e.createProxy(u)
	e.chain.PauseMining()

	body := e.executeBody(u, proxy, []byte{0x01}, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := e.relay(body)
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, codes[http.StatusOK])
	assert.Equal(t, 9, codes[http.StatusTooManyRequests])
	assert.Equal(t, 1, e.chain.PendingCount())
}

func TestRelay_InvalidSignature(t *testing.T) {
	e := newEnv(t, 1)
	u, mallory := newUser(t), newUser(t)
	proxy := e.chain.DeployProxy(u.addr)

	// 签名者不是 from
	body := e.executeBody(mallory, proxy, []byte{0x01}, 0)
	body.From = u.addr.Hex()
	resp := e.relay(body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errno.ErrInvalidSignature.Code, resp.Code)

	// 签名后篡改数据
	body = e.executeBody(u, proxy, []byte{0x01}, 0)
	body.TxData = "0x02"
	resp = e.relay(body)
	assert.Equal(t, errno.ErrInvalidSignature.Code, resp.Code)

	// 签名无法恢复
	body = e.executeBody(u, proxy, []byte{0x01}, 0)
	body.Signature = hexutil.Encode(make([]byte, 65))
	resp = e.relay(body)
	assert.Equal(t, errno.ErrInvalidSignature.Code, resp.Code)

	assert.Zero(t, e.submits())
}

func TestRelay_MalformedRequests(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)
	valid := e.createBody(u, 0)

	cases := map[string]func(b *Body){
		"missing nonce":      func(b *Body) { b.Nonce = nil },
		"bad from":           func(b *Body) { b.From = "0x1234" },
		"bad data":           func(b *Body) { b.TxData = "zz" },
		"short signature":    func(b *Body) { b.Signature = "0x1234" },
		"negative nonce":     func(b *Body) { b.Nonce = json.RawMessage("-1") },
		"bad proxy":          func(b *Body) { s := "nope"; b.Proxy = &s },
		"create not factory": func(b *Body) { *b = signedBody(t, u, target, mustHex(b.TxData), 0, nil) },
		"create nonce differs from call": func(b *Body) {
			data, _ := chain.PackCreateProxy(masterCopy, nil, u.addr, big.NewInt(1))
			*b = signedBody(t, u, e.chain.Factory(), data, 0, nil)
		},
		"create not factory call": func(b *Body) { *b = signedBody(t, u, e.chain.Factory(), []byte{0x01}, 0, nil) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := valid
			mutate(&b)
			resp := e.relay(b)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, errno.ErrMalformedRequest.Code, resp.Code, resp.Body.Errors)
			assert.NotEmpty(t, resp.Body.Errors)
		})
	}

	// 代理不存在
	resp := e.relay(e.executeBody(u, common.HexToAddress("0x0000000000000000000000000000000000000bad"), nil, 0))
	assert.Equal(t, errno.ErrMalformedRequest.Code, resp.Code)
	assert.Zero(t, e.submits())
}

func mustHex(s string) []byte {
	b, err := hexutil.Decode(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestRelay_NonceMismatch(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)

	resp := e.relay(e.executeBody(u, proxy, []byte{0x01}, 3))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errno.ErrNonceMismatch.Code, resp.Code)
	assert.Contains(t, resp.Body.Errors[0], "expected 0")

	resp = e.relay(e.createBody(u, 1))
	assert.Equal(t, errno.ErrNonceMismatch.Code, resp.Code)
}

func TestRelay_PoolExhausted(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)

	s, err := e.purse.Allocate()
	require.NoError(t, err)

	resp := e.relay(e.executeBody(u, proxy, []byte{0x01}, 0))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, errno.ErrPoolExhausted.Code, resp.Code)
	assert.True(t, resp.Retryable())
	assert.Zero(t, e.guard.Len(), "钱包不足时不应占用 key")

	e.purse.Release(s)
	resp = e.relay(e.executeBody(u, proxy, []byte{0x01}, 0))
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
}

func TestRelay_SubmissionRejectedReleasesGuard(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)

	e.chain.FailNextSubmit(fmt.Errorf("%w: insufficient funds for gas * price + value", chain.ErrSubmission))
	resp := e.relay(e.createBody(u, 0))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, errno.ErrChainRejected.Code, resp.Code)
	assert.Contains(t, resp.Body.Errors[0], "insufficient funds")
	assert.Zero(t, e.guard.Len())

	// 失败的创建不推进 nonce，使用同一个 nonce 重试
	resp = e.relay(e.createBody(u, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)

	// 签名钱包已归还
	s, err := e.purse.Allocate()
	require.NoError(t, err)
	e.purse.Release(s)
}

func TestRelay_GatewayUnavailable(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)

	e.chain.FailNextSubmit(fmt.Errorf("%w: dial tcp: connection refused", chain.ErrUnavailable))
	resp := e.relay(e.createBody(u, 0))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, errno.ErrGatewayUnavailable.Code, resp.Code)
	assert.Zero(t, e.guard.Len())
}

func TestRelay_RevertedExecutionReleasesKey(t *testing.T) {
	e := newEnv(t, 2)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)
	e.chain.RevertCallsTo(target)

	resp := e.relay(e.executeBody(u, proxy, []byte{0x01}, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	assert.Equal(t, chain.TxFailure, e.receipt(resp).State)

	rec := e.resolve(resp)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Zero(t, e.guard.Len())

	// 执行失败不推进代理 nonce，同一 nonce 可以重新提交
	resp = e.relay(e.executeBody(u, proxy, []byte{0x01}, 0))
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
}

func TestRelay_Preflight(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)

	body := e.executeBody(u, proxy, []byte{0x01}, 0)
	body.Preflight = true
	resp := e.relay(body)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	assert.Equal(t, uint64(90000*120/100), resp.Body.Gas)
	assert.Empty(t, resp.Body.ID)
	assert.Zero(t, e.submits())
	assert.Zero(t, e.guard.Len())

	e.chain.PauseMining()
	body.Preflight = false
	require.Equal(t, http.StatusOK, e.relay(body).StatusCode)

	body.Preflight = true
	resp = e.relay(body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// 目标合约会失败时预检直接报错
	e.chain.ResumeMining()
	other := newUser(t)
	otherProxy := e.chain.DeployProxy(other.addr)
	e.chain.RevertCallsTo(target)
	b := e.executeBody(other, otherProxy, []byte{0x01}, 0)
	b.Preflight = true
	resp = e.relay(b)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestResolve_StaleReclaimsKey(t *testing.T) {
	e := newEnv(t, 1)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)
	e.chain.PauseMining()

	resp := e.relay(e.executeBody(u, proxy, []byte{0x01}, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := e.conf.byTx(t, resp.Body.ID)

	e.relayer.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	done, err := e.relayer.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, e.guard.Len())

	rec, err := e.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStale, rec.Status)
}

func TestPollingConfirmer(t *testing.T) {
	e := newEnv(t, 2)
	pc := NewPollingConfirmer(10*time.Millisecond, 2)
	e.relayer.confirmer = pc
	u := newUser(t)

	e.chain.PauseMining()
	resp := e.relay(e.createBody(u, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	assert.Equal(t, 1, pc.Len())

	pc.Poll(context.Background(), e.relayer)
	assert.Equal(t, 1, pc.Len())

	e.chain.ResumeMining()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pc.Run(ctx, e.relayer)

	require.Eventually(t, func() bool { return pc.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, e.guard.Len())
}

func TestRecover_RestoresGuardEntries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1)
	u := newUser(t)
	proxy := e.chain.DeployProxy(u.addr)
	e.chain.PauseMining()

	body := e.executeBody(u, proxy, []byte{0x01}, 0)
	resp := e.relay(body)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	key := e.conf.byTx(t, resp.Body.ID).Key

	// 重启: 进程内的 guard 和确认队列都丢失，记录还在
	g := guard.NewMemoryGuard(10 * time.Minute)
	pc := NewPollingConfirmer(time.Second, 1)
	restarted := New(e.chain, e.purse, g, e.repo, pc, e.relayer.opts)

	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pc.Len())
	entry, err := g.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, resp.Body.ID, entry.TxHash)

	// 条目已由同一记录持有时重复恢复不报错
	n, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	submits := e.chain.SubmitCalls()
	dup := restarted.Relay(ctx, body, Meta{})
	assert.Equal(t, http.StatusTooManyRequests, dup.StatusCode, dup.Body.Errors)
	assert.Equal(t, submits, e.chain.SubmitCalls())
	assert.Equal(t, 1, e.chain.PendingCount())

	e.chain.ResumeMining()
	pc.Poll(ctx, restarted)
	assert.Zero(t, pc.Len())
	assert.Zero(t, g.Len())
}

func TestRelay_ClientRequestIDIsNotTheRecordID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2)
	pc := NewPollingConfirmer(time.Hour, 2)
	e.relayer.confirmer = pc
	alice, bob := newUser(t), newUser(t)
	pa, pb := e.chain.DeployProxy(alice.addr), e.chain.DeployProxy(bob.addr)

	// 两个不同 key 的请求带着同一个 X-Request-ID
	meta := Meta{RequestID: "retry-1", ClientIP: "127.0.0.1"}
	e.chain.PauseMining()
	ra := e.relayer.Relay(ctx, e.executeBody(alice, pa, []byte{0x01}, 0), meta)
	rb := e.relayer.Relay(ctx, e.executeBody(bob, pb, []byte{0x01}, 0), meta)
	require.Equal(t, http.StatusOK, ra.StatusCode, ra.Body.Errors)
	require.Equal(t, http.StatusOK, rb.StatusCode, rb.Body.Errors)
	assert.Equal(t, 2, pc.Len())
	assert.Equal(t, 2, e.guard.Len())

	_, err := e.repo.Get(ctx, "retry-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	e.chain.ResumeMining()
	pc.Poll(ctx, e.relayer)
	assert.Zero(t, pc.Len())
	assert.Zero(t, e.guard.Len())

	pending, err := e.repo.ListSubmitted(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	next := e.relayer.Relay(ctx, e.executeBody(alice, pa, []byte{0x02}, 1), meta)
	assert.Equal(t, http.StatusOK, next.StatusCode, next.Body.Errors)
}

func TestRelay_CreateProxyForAnotherOwner(t *testing.T) {
	e := newEnv(t, 2)
	joe, rando := newUser(t), newUser(t)

	// joe 代付创建，代理归 rando 所有
	data, err := chain.PackCreateProxy(masterCopy, []byte{0xde, 0xad}, rando.addr, big.NewInt(0))
	require.NoError(t, err)
	body := signedBody(t, joe, e.chain.Factory(), data, 0, nil)

	e.chain.PauseMining()
	resp := e.relay(body)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	second := e.relay(body)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	e.chain.ResumeMining()
	r := e.receipt(resp)
	assert.Equal(t, chain.TxSuccess, r.State)
	assert.True(t, chaintest.HasEvent(r, chain.ProxyCreationTopic))
	rec := e.resolve(resp)
	assert.Equal(t, model.StatusMined, rec.Status)
}

// finalizeRecorder 记录写终态时 guard 条目是否还在
type finalizeRecorder struct {
	*repository.MemoryRelayRepository
	g    guard.Guard
	held []bool
}

func (f *finalizeRecorder) Finalize(ctx context.Context, id string, fin repository.Finalization, evt *event.RelayEvent) error {
	entry, _ := f.g.Get(ctx, evt.DedupKey)
	f.held = append(f.held, entry != nil)
	return f.MemoryRelayRepository.Finalize(ctx, id, fin, evt)
}

func TestResolve_RecordsBeforeReleasingKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1)
	rec := &finalizeRecorder{MemoryRelayRepository: e.repo, g: e.guard}
	e.relayer = New(e.chain, e.purse, e.guard, rec, e.conf, e.relayer.opts)
	u := newUser(t)

	resp := e.relay(e.createBody(u, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body.Errors)
	done, err := e.relayer.Resolve(ctx, e.conf.byTx(t, resp.Body.ID))
	require.NoError(t, err)
	require.True(t, done)

	assert.Equal(t, []bool{true}, rec.held)
	assert.Zero(t, e.guard.Len())
	n, err := e.repo.CountMinedCreations(ctx, u.addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
