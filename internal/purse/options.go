package purse

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"relay-core/pkg/config"
)

var weiPerEther = decimal.New(1, 18)

// Options 钱包池参数，金额单位均为 wei
type Options struct {
	Children       int
	FundAmount     *big.Int // 每个签名钱包补足到的余额
	MinBalance     *big.Int // 低于该余额时触发补充
	GasPrice       *big.Int // nil 时使用节点建议值
	FundingTimeout time.Duration
	PollInterval   time.Duration
}

// OptionsFromConfig 把配置中的 ETH/Gwei 字符串换算为 wei
func OptionsFromConfig(pc config.PurseConfig, cc config.ChainConfig) (Options, error) {
	fund, err := EtherToWei(pc.FundAmount)
	if err != nil {
		return Options{}, fmt.Errorf("purse.fund_amount: %w", err)
	}
	min, err := EtherToWei(pc.MinBalance)
	if err != nil {
		return Options{}, fmt.Errorf("purse.min_balance: %w", err)
	}
	if min.Cmp(fund) > 0 {
		return Options{}, fmt.Errorf("purse.min_balance 不能大于 purse.fund_amount")
	}
	gasPrice, err := GweiToWei(cc.GasPriceGwei)
	if err != nil {
		return Options{}, fmt.Errorf("chain.gas_price_gwei: %w", err)
	}
	if pc.Children <= 0 {
		return Options{}, fmt.Errorf("purse.children 必须大于 0")
	}
	return Options{
		Children:       pc.Children,
		FundAmount:     fund,
		MinBalance:     min,
		GasPrice:       gasPrice,
		FundingTimeout: pc.FundingTimeout,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Children <= 0 {
		o.Children = 1
	}
	if o.FundAmount == nil {
		o.FundAmount = big.NewInt(0)
	}
	if o.MinBalance == nil {
		o.MinBalance = new(big.Int).Set(o.FundAmount)
	}
	if o.FundingTimeout <= 0 {
		o.FundingTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
}

// EtherToWei "0.5" -> 500000000000000000
func EtherToWei(eth string) (*big.Int, error) {
	return scale(eth, weiPerEther)
}

// GweiToWei 空字符串或 "0" 返回 nil，表示使用节点建议的 gas price
func GweiToWei(gwei string) (*big.Int, error) {
	if gwei == "" {
		return nil, nil
	}
	v, err := scale(gwei, decimal.New(1, 9))
	if err != nil || v.Sign() == 0 {
		return nil, err
	}
	return v, nil
}

// WeiToEther 用于日志和状态展示
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEther)
}

func scale(s string, unit decimal.Decimal) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("金额不能为负数: %s", s)
	}
	return d.Mul(unit).BigInt(), nil
}
