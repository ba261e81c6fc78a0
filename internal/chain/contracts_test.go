package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardPackUnpack(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	signer := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := PackForward(to, []byte{1, 2, 3}, signer, []byte{0xde, 0xad})
	require.NoError(t, err)

	call, err := UnpackForward(data)
	require.NoError(t, err)
	assert.Equal(t, to, call.To)
	assert.Equal(t, signer, call.Signer)
	assert.Equal(t, []byte{0xde, 0xad}, call.Data)

	_, err = UnpackCreateProxy(data)
	assert.Error(t, err, "forward 数据不能被当作 createProxy 解析")
}

func TestCreateProxyUnpack(t *testing.T) {
	sender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data, err := PackCreateProxy(common.HexToAddress("0x44"), []byte{9}, sender, big.NewInt(0))
	require.NoError(t, err)

	call, err := UnpackCreateProxy(data)
	require.NoError(t, err)
	assert.Equal(t, sender, call.Sender)
	assert.Equal(t, int64(0), call.Nonce.Int64())
}

func TestParseProxyCreationNoEvent(t *testing.T) {
	assert.Nil(t, ParseProxyCreation(nil))
}
