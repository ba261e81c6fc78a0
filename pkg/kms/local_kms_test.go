package kms

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportAndSignTx(t *testing.T) {
	kms := NewLocalKMS()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	keyID, err := kms.ImportKey("signer-1", priv)
	require.NoError(t, err)

	addr, err := kms.Address(keyID)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(priv.PublicKey), addr)

	chainID := big.NewInt(1337)
	tx := types.NewTransaction(0, common.HexToAddress("0x01"), big.NewInt(1), 21000, big.NewInt(1), nil)
	signed, err := kms.SignTx(keyID, tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, sender)
}

func TestSignHash(t *testing.T) {
	kms := NewLocalKMS()
	keyID, err := kms.CreateKey("k")
	require.NoError(t, err)

	hash := crypto.Keccak256([]byte("hello"))
	sig, err := kms.SignHash(keyID, hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	addr, _ := kms.Address(keyID)
	assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))

	_, err = kms.SignHash(keyID, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestDisableAndDestroy(t *testing.T) {
	kms := NewLocalKMS()
	keyID, err := kms.CreateKey("k")
	require.NoError(t, err)

	require.NoError(t, kms.Disable(keyID))
	_, err = kms.SignHash(keyID, make([]byte, 32))
	assert.ErrorIs(t, err, ErrKeyDisabled)

	require.NoError(t, kms.Destroy(keyID))
	_, err = kms.Address(keyID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Empty(t, kms.List())
}
