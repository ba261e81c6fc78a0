package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relay-core/pkg/config"
	"relay-core/pkg/logger"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "relayer-cli",
	Short: "元交易中继服务命令行工具",
	Long: `管理中继服务的签名钱包池 (初始化 keystore、查看余额、充值、回收)，
构造并签名中继请求，以及订阅中继事件。`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// 读取 config.yaml 和环境变量，与 relay-server 共用一份配置
		config.Init()
		logger.Init(config.Global.App.Env)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute 将所有子命令添加到根命令并设置标志
// Ctrl+C 取消当前命令的 context
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
