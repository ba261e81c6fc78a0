package cmd

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"relay-core/internal/chain"
	"relay-core/internal/purse"
	"relay-core/pkg/config"
	"relay-core/pkg/keystore"
)

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}

// loadMnemonic keystore 存在但没有配置密码时交互输入
func loadMnemonic() (string, error) {
	cfg := config.Global.Purse
	password := cfg.Password
	if password == "" && cfg.KeystorePath != "" {
		if _, err := os.Stat(cfg.KeystorePath); err == nil {
			p, err := readPassword(fmt.Sprintf("请输入 %s 的密码: ", cfg.KeystorePath))
			if err != nil {
				return "", err
			}
			password = p
		}
	}
	mnemonic, _, err := keystore.ResolveMnemonic(cfg.KeystorePath, password, cfg.Mnemonic)
	return mnemonic, err
}

func dial(ctx context.Context) (*chain.EthGateway, error) {
	return chain.Dial(ctx, config.Global.Chain.RpcUrl, chain.Options{
		Timeout:  config.Global.Chain.RpcTimeout,
		MaxTries: config.Global.Chain.RpcMaxRetries,
	})
}

// openPurse 派生钱包池但不充值
func openPurse(ctx context.Context) (*purse.Purse, func(), error) {
	mnemonic, err := loadMnemonic()
	if err != nil {
		return nil, nil, err
	}
	gw, err := dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts, err := purse.OptionsFromConfig(config.Global.Purse, config.Global.Chain)
	if err != nil {
		gw.Close()
		return nil, nil, err
	}
	p, err := purse.NewFromMnemonic(gw, mnemonic, opts)
	if err != nil {
		gw.Close()
		return nil, nil, err
	}
	if err := p.Open(ctx); err != nil {
		gw.Close()
		return nil, nil, err
	}
	return p, gw.Close, nil
}
