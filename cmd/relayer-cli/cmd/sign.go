package cmd

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"relay-core/internal/chain"
	"relay-core/internal/relay"
	"relay-core/pkg/config"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "构造并签名一个中继请求 (客户端 / 测试用)",
	Long: `用用户私钥对 keccak256(from ‖ to ‖ txData ‖ nonce) 做 eth_sign 签名，输出可直接 POST 到 /relay 的 JSON。

创建代理:  relayer-cli sign --create --master-copy 0x... --nonce 0
通过代理执行: relayer-cli sign --proxy 0x... --to 0x... --data 0x... --nonce 3

私钥从 --key-file 读取，未指定时交互输入。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")
		proxyHex, _ := cmd.Flags().GetString("proxy")
		toHex, _ := cmd.Flags().GetString("to")
		dataHex, _ := cmd.Flags().GetString("data")
		nonceStr, _ := cmd.Flags().GetString("nonce")
		preflight, _ := cmd.Flags().GetBool("preflight")

		key, err := loadUserKey(cmd)
		if err != nil {
			return err
		}
		from := crypto.PubkeyToAddress(key.PublicKey)

		nonce, err := relay.ParseNonce(json.RawMessage(nonceStr))
		if err != nil {
			return err
		}

		var (
			to    common.Address
			data  []byte
			proxy *common.Address
		)
		switch {
		case create && proxyHex != "":
			return errors.New("--create 和 --proxy 不能同时使用")
		case create:
			factoryHex, _ := cmd.Flags().GetString("factory")
			if factoryHex == "" {
				factoryHex = config.Global.Chain.ProxyFactory
			}
			mcHex, _ := cmd.Flags().GetString("master-copy")
			initHex, _ := cmd.Flags().GetString("initializer")
			if !common.IsHexAddress(factoryHex) || !common.IsHexAddress(mcHex) {
				return errors.New("创建代理需要合法的 --factory (或 chain.proxy_factory) 和 --master-copy")
			}
			initializer, err := hexutil.Decode(initHex)
			if err != nil {
				return fmt.Errorf("--initializer: %w", err)
			}
			to = common.HexToAddress(factoryHex)
			data, err = chain.PackCreateProxy(common.HexToAddress(mcHex), initializer, from, nonce)
			if err != nil {
				return err
			}
		default:
			if !common.IsHexAddress(proxyHex) || !common.IsHexAddress(toHex) {
				return errors.New("执行请求需要合法的 --proxy 和 --to")
			}
			p := common.HexToAddress(proxyHex)
			proxy = &p
			to = common.HexToAddress(toHex)
			if data, err = hexutil.Decode(dataHex); err != nil {
				return fmt.Errorf("--data: %w", err)
			}
		}

		body, err := relay.SignBody(key, to, data, nonce, proxy)
		if err != nil {
			return err
		}
		body.Preflight = preflight

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	},
}

func loadUserKey(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	keyFile, _ := cmd.Flags().GetString("key-file")
	var hexKey string
	if keyFile != "" {
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, err
		}
		hexKey = string(b)
	} else {
		k, err := readPassword("请输入用户私钥 (hex): ")
		if err != nil {
			return nil, err
		}
		hexKey = k
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("私钥格式错误: %w", err)
	}
	return key, nil
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().String("key-file", "", "保存 hex 私钥的文件")
	signCmd.Flags().Bool("create", false, "构造创建代理请求")
	signCmd.Flags().String("factory", "", "代理工厂地址，默认 chain.proxy_factory")
	signCmd.Flags().String("master-copy", "", "代理 master copy 地址")
	signCmd.Flags().String("initializer", "0x", "代理初始化调用数据")
	signCmd.Flags().String("proxy", "", "执行请求使用的代理地址")
	signCmd.Flags().String("to", "", "执行请求的目标合约")
	signCmd.Flags().String("data", "0x", "执行请求的调用数据")
	signCmd.Flags().String("nonce", "0", "请求 nonce (十进制或 0x 十六进制)")
	signCmd.Flags().Bool("preflight", false, "只估算 gas，不提交")
}
