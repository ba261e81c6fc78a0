package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"relay-core/internal/model"
	"relay-core/pkg/crypto_util"
	"relay-core/pkg/errno"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Body 中继请求的原始 JSON 结构
type Body struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	TxData    string          `json:"txData"`
	Nonce     json.RawMessage `json:"nonce"` // 数字，或十进制 / 0x 十六进制字符串
	Signature string          `json:"signature"`
	Proxy     *string         `json:"proxy"`
	Preflight bool            `json:"preflight"`
}

// Target 请求的执行目标: CreateTarget 或 ExecuteTarget
type Target interface {
	Kind() model.RelayKind
	dedupKey(from common.Address) string
}

// CreateTarget 通过工厂创建代理，同一发送者同时只允许一笔
type CreateTarget struct{}

func (CreateTarget) Kind() model.RelayKind { return model.KindCreate }

func (CreateTarget) dedupKey(from common.Address) string {
	return "create:" + strings.ToLower(from.Hex())
}

// ExecuteTarget 通过已有代理执行调用，同一代理同时只允许一笔
type ExecuteTarget struct {
	Proxy common.Address
}

func (ExecuteTarget) Kind() model.RelayKind { return model.KindExecute }

func (t ExecuteTarget) dedupKey(common.Address) string {
	return "proxy:" + strings.ToLower(t.Proxy.Hex())
}

// Request 解析后的中继请求
type Request struct {
	From      common.Address
	To        common.Address
	TxData    []byte
	Nonce     *big.Int
	Signature []byte
	Target    Target
	Preflight bool
}

// Kind 请求类型
func (r *Request) Kind() model.RelayKind { return r.Target.Kind() }

// DedupKey 单飞锁的 key
func (r *Request) DedupKey() string { return r.Target.dedupKey(r.From) }

// Hash 请求签名覆盖的哈希
func (r *Request) Hash() common.Hash {
	return MessageHash(r.From, r.To, r.TxData, r.Nonce)
}

// Fingerprint 请求体指纹，用于审计记录
func (r *Request) Fingerprint() string {
	var proxy []byte
	if t, ok := r.Target.(ExecuteTarget); ok {
		proxy = t.Proxy.Bytes()
	}
	return crypto_util.Fingerprint(r.From.Bytes(), r.To.Bytes(), r.TxData, r.Nonce.Bytes(), r.Signature, proxy)
}

// ParseRequest 校验字段格式并转换为 Request，失败时返回 errno.ErrMalformedRequest
func ParseRequest(b Body) (*Request, error) {
	var problems []string
	addr := func(field, v string) common.Address {
		if !common.IsHexAddress(v) {
			problems = append(problems, field+" must be a 0x-prefixed 20 byte address")
			return common.Address{}
		}
		return common.HexToAddress(v)
	}
	hexBytes := func(field, v string) []byte {
		if v == "" {
			problems = append(problems, field+" is required")
			return nil
		}
		out, err := hexutil.Decode(v)
		if err != nil {
			problems = append(problems, field+" must be 0x-prefixed hex data")
			return nil
		}
		return out
	}

	req := &Request{
		From:      addr("from", b.From),
		To:        addr("to", b.To),
		TxData:    hexBytes("txData", b.TxData),
		Signature: hexBytes("signature", b.Signature),
		Preflight: b.Preflight,
		Target:    CreateTarget{},
	}
	if req.Signature != nil && len(req.Signature) != 65 {
		problems = append(problems, "signature must be 65 bytes")
	}

	nonce, err := ParseNonce(b.Nonce)
	if err != nil {
		problems = append(problems, err.Error())
	}
	req.Nonce = nonce

	if b.Proxy != nil && *b.Proxy != "" {
		req.Target = ExecuteTarget{Proxy: addr("proxy", *b.Proxy)}
	}

	if len(problems) > 0 {
		return nil, errno.ErrMalformedRequest.WithMessage(strings.Join(problems, "; "))
	}
	return req, nil
}

// ParseNonce 接受 JSON 数字、十进制字符串或 0x 十六进制字符串
func ParseNonce(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("nonce is required")
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("nonce must be a number")
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)

	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("nonce must be a non-negative uint256")
	}
	return n, nil
}
