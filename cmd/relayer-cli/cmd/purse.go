package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relay-core/internal/purse"
	"relay-core/pkg/config"
)

var purseCmd = &cobra.Command{
	Use:   "purse",
	Short: "管理签名钱包池",
}

var purseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看主钱包和签名钱包余额",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		p, closeFn, err := openPurse(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := p.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var purseFundCmd = &cobra.Command{
	Use:   "fund",
	Short: "从主钱包给余额不足的签名钱包充值并等待上链",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.Global.Purse.FundingTimeout+time.Minute)
		defer cancel()

		p, closeFn, err := openPurse(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := p.Replenish(ctx)
		if err != nil {
			return fmt.Errorf("充值失败: %w", err)
		}
		fmt.Printf("✅ 已充值 %d 个签名钱包\n", n)
		st, err := p.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var purseDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "把签名钱包余额 (扣除手续费) 转回主钱包",
	Long:  `回收前请先停止 relay-server，否则正在使用的签名钱包可能被扣光余额。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.Global.Purse.FundingTimeout+time.Minute)
		defer cancel()

		p, closeFn, err := openPurse(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		master := p.MasterAddress()
		if err := p.Teardown(ctx, true); err != nil {
			return fmt.Errorf("回收失败: %w", err)
		}
		fmt.Printf("✅ 签名钱包余额已转回主钱包 %s\n", master.Hex())
		return nil
	},
}

func printStatus(st *purse.Status) {
	fmt.Printf("主钱包: %s  余额: %s ETH\n\n", st.Master.Address.Hex(), st.Master.Ether)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tADDRESS\tBALANCE(ETH)\tBUSY")
	for _, s := range st.Signers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", s.Index, s.Address.Hex(), s.Ether, s.Busy)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(purseCmd)
	purseCmd.AddCommand(purseStatusCmd, purseFundCmd, purseDrainCmd)
}
