package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"relay-core/internal/chain"
	"relay-core/pkg/errno"
)

// MessageHash keccak256(from ‖ to ‖ txData ‖ uint256(nonce))，紧凑编码
func MessageHash(from, to common.Address, data []byte, nonce *big.Int) common.Hash {
	return crypto.Keccak256Hash(from.Bytes(), to.Bytes(), data, common.LeftPadBytes(nonce.Bytes(), 32))
}

// Sign 以 eth_sign 方式对请求哈希签名，v 为 27/28
func Sign(key *ecdsa.PrivateKey, from, to common.Address, data []byte, nonce *big.Int) ([]byte, error) {
	h := MessageHash(from, to, data, nonce)
	sig, err := crypto.Sign(accounts.TextHash(h.Bytes()), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner 从 eth_sign 签名恢复地址，v 可以是 0/1 或 27/28
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	if s[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid signature recovery id")
	}
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CreationCounter 提供发送者的代理创建 nonce
type CreationCounter interface {
	CountMinedCreations(ctx context.Context, from string) (uint64, error)
}

// Verifier 校验签名、请求结构和链上 nonce
type Verifier struct {
	gw        chain.Gateway
	creations CreationCounter
	factory   common.Address
}

// NewVerifier factory 为零地址时不限制创建请求的目标
func NewVerifier(gw chain.Gateway, creations CreationCounter, factory common.Address) *Verifier {
	return &Verifier{gw: gw, creations: creations, factory: factory}
}

// Verify 依次检查签名、请求结构和 nonce
func (v *Verifier) Verify(ctx context.Context, req *Request) error {
	signer, err := RecoverSigner(req.Hash(), req.Signature)
	if err != nil {
		return errno.ErrInvalidSignature.WithMessage("invalid signature: " + err.Error())
	}
	if signer != req.From {
		return errno.ErrInvalidSignature.WithMessage(fmt.Sprintf("signature recovers to %s, not %s", signer.Hex(), req.From.Hex()))
	}

	if err := v.checkShape(req); err != nil {
		return err
	}

	expected, err := v.expectedNonce(ctx, req)
	if err != nil {
		return err
	}
	if req.Nonce.Cmp(new(big.Int).SetUint64(expected)) != 0 {
		return errno.ErrNonceMismatch.WithMessage(fmt.Sprintf("nonce mismatch: expected %d, got %s", expected, req.Nonce.String()))
	}
	return nil
}

// checkShape 创建请求必须发往工厂，且调用数据中的 nonce 与请求一致。
// 调用数据里的 sender 是新代理的所有者，可以不是 from (替他人创建代理)
func (v *Verifier) checkShape(req *Request) error {
	if _, ok := req.Target.(CreateTarget); !ok {
		return nil
	}
	if v.factory != (common.Address{}) && req.To != v.factory {
		return errno.ErrMalformedRequest.WithMessage("creation requests must target the proxy factory " + v.factory.Hex())
	}
	call, err := chain.UnpackCreateProxy(req.TxData)
	if err != nil {
		return errno.ErrMalformedRequest.WithMessage("txData is not a proxy creation call")
	}
	if call.Nonce.Cmp(req.Nonce) != 0 {
		return errno.ErrMalformedRequest.WithMessage("proxy creation nonce does not match request nonce")
	}
	return nil
}

func (v *Verifier) expectedNonce(ctx context.Context, req *Request) (uint64, error) {
	switch t := req.Target.(type) {
	case CreateTarget:
		n, err := v.creations.CountMinedCreations(ctx, req.From.Hex())
		if err != nil {
			return 0, errno.ErrDatabase.WithMessage("read creation nonce: " + err.Error())
		}
		return n, nil
	case ExecuteTarget:
		n, err := v.gw.Nonce(ctx, chain.ScopeProxy, t.Proxy, req.From)
		if err != nil {
			if errors.Is(err, chain.ErrNoCode) {
				return 0, errno.ErrMalformedRequest.WithMessage("proxy " + t.Proxy.Hex() + " is not deployed")
			}
			return 0, classify(err)
		}
		return n, nil
	default:
		return 0, errno.ErrMalformedRequest
	}
}

// SignBody 构造并签名一个中继请求体。proxy 为 nil 时是创建请求
func SignBody(key *ecdsa.PrivateKey, to common.Address, data []byte, nonce *big.Int, proxy *common.Address) (Body, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	sig, err := Sign(key, from, to, data, nonce)
	if err != nil {
		return Body{}, err
	}
	b := Body{
		From:      from.Hex(),
		To:        to.Hex(),
		TxData:    hexutil.Encode(data),
		Nonce:     json.RawMessage(nonce.String()),
		Signature: hexutil.Encode(sig),
	}
	if proxy != nil {
		s := proxy.Hex()
		b.Proxy = &s
	}
	return b, nil
}
