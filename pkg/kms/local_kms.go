package kms

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"relay-core/pkg/safe_random"
)

// keyEntry 是内部存储结构，包含私钥（敏感数据）和元数据
type keyEntry struct {
	Metadata   KeyMetadata
	PrivateKey *ecdsa.PrivateKey
}

// LocalKMS 是 KeyManager 接口的本地内存实现，模拟一个 HSM
type LocalKMS struct {
	mu   sync.RWMutex
	keys map[string]*keyEntry
}

func NewLocalKMS() *LocalKMS {
	return &LocalKMS{
		keys: make(map[string]*keyEntry),
	}
}

func (kms *LocalKMS) CreateKey(label string) (string, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("生成私钥失败: %w", err)
	}
	return kms.ImportKey(label, priv)
}

func (kms *LocalKMS) ImportKey(label string, priv *ecdsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("私钥为空")
	}

	keyID, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return "", fmt.Errorf("生成 KeyID 失败: %w", err)
	}

	kms.mu.Lock()
	defer kms.mu.Unlock()

	kms.keys[keyID] = &keyEntry{
		Metadata: KeyMetadata{
			KeyID:     keyID,
			Type:      KeyTypeSecp256k1,
			Address:   crypto.PubkeyToAddress(priv.PublicKey),
			Label:     label,
			CreatedAt: time.Now().Unix(),
			Enabled:   true,
		},
		PrivateKey: priv,
	}
	return keyID, nil
}

func (kms *LocalKMS) Address(keyID string) (common.Address, error) {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	entry, ok := kms.keys[keyID]
	if !ok {
		return common.Address{}, ErrKeyNotFound
	}
	return entry.Metadata.Address, nil
}

func (kms *LocalKMS) SignTx(keyID string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	priv, err := kms.signingKey(keyID)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	return signed, nil
}

func (kms *LocalKMS) SignHash(keyID string, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrInvalidHash
	}
	priv, err := kms.signingKey(keyID)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash, priv)
}

func (kms *LocalKMS) Disable(keyID string) error {
	kms.mu.Lock()
	defer kms.mu.Unlock()

	entry, ok := kms.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	entry.Metadata.Enabled = false
	return nil
}

func (kms *LocalKMS) Destroy(keyID string) error {
	kms.mu.Lock()
	defer kms.mu.Unlock()

	entry, ok := kms.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	// 清零私钥标量
	if entry.PrivateKey != nil && entry.PrivateKey.D != nil {
		entry.PrivateKey.D.SetInt64(0)
	}
	delete(kms.keys, keyID)
	return nil
}

func (kms *LocalKMS) List() []KeyMetadata {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	out := make([]KeyMetadata, 0, len(kms.keys))
	for _, e := range kms.keys {
		out = append(out, e.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (kms *LocalKMS) signingKey(keyID string) (*ecdsa.PrivateKey, error) {
	kms.mu.RLock()
	defer kms.mu.RUnlock()

	entry, ok := kms.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !entry.Metadata.Enabled {
		return nil, ErrKeyDisabled
	}
	return entry.PrivateKey, nil
}
