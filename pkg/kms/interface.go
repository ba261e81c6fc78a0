package kms

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// KeyType 定义了支持的密钥类型
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "Secp256k1" // 以太坊账户密钥
)

// KeyMetadata 包含密钥的元数据，不包含敏感的私钥信息
type KeyMetadata struct {
	KeyID     string         `json:"key_id"`
	Type      KeyType        `json:"type"`
	Address   common.Address `json:"address"`
	Label     string         `json:"label"`
	CreatedAt int64          `json:"created_at"`
	Enabled   bool           `json:"enabled"`
}

// KeyManager 定义了密钥管理服务的核心行为。
// 私钥只在实现内部使用，调用方拿到的永远是 KeyID 和签名结果。
// 后续可以替换为 HSM 或云端 KMS。
type KeyManager interface {
	// CreateKey 生成新密钥并返回 KeyID
	CreateKey(label string) (string, error)
	// ImportKey 导入外部派生的私钥 (例如 HD 钱包子密钥)
	ImportKey(label string, priv *ecdsa.PrivateKey) (string, error)
	// Address 返回 KeyID 对应的账户地址
	Address(keyID string) (common.Address, error)
	// SignTx 使用指定密钥签名交易
	SignTx(keyID string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignHash 对 32 字节摘要签名，返回 65 字节 [R || S || V]
	SignHash(keyID string, hash []byte) ([]byte, error)
	// Disable 禁用密钥，之后的签名请求会失败
	Disable(keyID string) error
	// Destroy 删除密钥并清零内存中的私钥
	Destroy(keyID string) error
	// List 返回所有密钥的元数据
	List() []KeyMetadata
}

var (
	ErrKeyNotFound   = errors.New("密钥未找到")
	ErrKeyDisabled   = errors.New("密钥已禁用")
	ErrUnsupportedOp = errors.New("该密钥类型不支持此操作")
	ErrInvalidHash   = errors.New("摘要长度必须为 32 字节")
)
