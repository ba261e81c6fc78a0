package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const proxyABIJSON = `[
	{"type":"function","name":"forward","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"sig","type":"bytes"},{"name":"signer","type":"address"},{"name":"data","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"nonce","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"changeOwnerAndExecute","stateMutability":"nonpayable",
	 "inputs":[{"name":"_newOwner","type":"address"},{"name":"_to","type":"address"},{"name":"_value","type":"uint256"},{"name":"_data","type":"bytes"}],
	 "outputs":[]}
]`

const proxyFactoryABIJSON = `[
	{"type":"function","name":"createProxyWithSenderNonce","stateMutability":"nonpayable",
	 "inputs":[{"name":"_mastercopy","type":"address"},{"name":"initializer","type":"bytes"},{"name":"_sender","type":"address"},{"name":"_nonce","type":"uint256"}],
	 "outputs":[{"name":"proxy","type":"address"}]},
	{"type":"event","name":"ProxyCreation","anonymous":false,
	 "inputs":[{"name":"proxy","type":"address","indexed":false}]}
]`

var (
	ProxyABI        abi.ABI
	ProxyFactoryABI abi.ABI

	// ProxyCreationTopic ProxyCreation(address) 事件签名
	ProxyCreationTopic common.Hash
)

func init() {
	var err error
	if ProxyABI, err = abi.JSON(strings.NewReader(proxyABIJSON)); err != nil {
		panic(fmt.Sprintf("parse proxy abi: %v", err))
	}
	if ProxyFactoryABI, err = abi.JSON(strings.NewReader(proxyFactoryABIJSON)); err != nil {
		panic(fmt.Sprintf("parse proxy factory abi: %v", err))
	}
	ProxyCreationTopic = ProxyFactoryABI.Events["ProxyCreation"].ID
}

// PackForward 编码 proxy.forward(to, sig, signer, data)
func PackForward(to common.Address, sig []byte, signer common.Address, data []byte) ([]byte, error) {
	return ProxyABI.Pack("forward", to, sig, signer, data)
}

// ForwardCall forward 调用的参数
type ForwardCall struct {
	To     common.Address
	Sig    []byte
	Signer common.Address
	Data   []byte
}

// UnpackForward 解析 forward 调用数据
func UnpackForward(input []byte) (*ForwardCall, error) {
	args, err := unpackInput(ProxyABI, "forward", input)
	if err != nil {
		return nil, err
	}
	return &ForwardCall{
		To:     args[0].(common.Address),
		Sig:    args[1].([]byte),
		Signer: args[2].(common.Address),
		Data:   args[3].([]byte),
	}, nil
}

// CreateProxyCall createProxyWithSenderNonce 调用的参数
type CreateProxyCall struct {
	MasterCopy  common.Address
	Initializer []byte
	Sender      common.Address
	Nonce       *big.Int
}

// PackCreateProxy 编码 factory.createProxyWithSenderNonce
func PackCreateProxy(masterCopy common.Address, initializer []byte, sender common.Address, nonce *big.Int) ([]byte, error) {
	return ProxyFactoryABI.Pack("createProxyWithSenderNonce", masterCopy, initializer, sender, nonce)
}

// UnpackCreateProxy 解析 createProxyWithSenderNonce 调用数据
func UnpackCreateProxy(input []byte) (*CreateProxyCall, error) {
	args, err := unpackInput(ProxyFactoryABI, "createProxyWithSenderNonce", input)
	if err != nil {
		return nil, err
	}
	return &CreateProxyCall{
		MasterCopy:  args[0].(common.Address),
		Initializer: args[1].([]byte),
		Sender:      args[2].(common.Address),
		Nonce:       args[3].(*big.Int),
	}, nil
}

// ParseProxyCreation 从回执日志中找出新建的代理地址
func ParseProxyCreation(logs []*types.Log) *common.Address {
	for _, l := range logs {
		if len(l.Topics) == 0 || l.Topics[0] != ProxyCreationTopic || len(l.Data) < 32 {
			continue
		}
		addr := common.BytesToAddress(l.Data[12:32])
		return &addr
	}
	return nil
}

func unpackInput(contract abi.ABI, name string, input []byte) ([]interface{}, error) {
	method, ok := contract.Methods[name]
	if !ok {
		return nil, fmt.Errorf("abi: method %s not found", name)
	}
	if len(input) < 4 || string(input[:4]) != string(method.ID) {
		return nil, fmt.Errorf("abi: input is not a %s call", name)
	}
	return method.Inputs.Unpack(input[4:])
}
