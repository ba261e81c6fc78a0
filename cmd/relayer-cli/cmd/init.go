package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"relay-core/pkg/bip39"
	"relay-core/pkg/keystore"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "初始化签名钱包池的助记词 (生成助记词并加密保存)",
	Long:  `生成新的 BIP-39 助记词，用输入的密码加密后保存为 keystore 文件。主钱包和所有签名钱包都从这个助记词派生。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")
		words, _ := cmd.Flags().GetInt("words")
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("文件 %s 已存在，请先删除或指定其他文件名", outputFile)
		}

		fmt.Println("请设置一个强密码来保护助记词。")
		password, err := readPassword("输入密码: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("确认密码: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return errors.New("两次输入的密码不一致")
		}
		if len(password) < 8 {
			return errors.New("密码长度至少需要 8 位")
		}

		mnemonic, err := bip39.NewMnemonicService().GenerateMnemonic(wordsToBits(words))
		if err != nil {
			return fmt.Errorf("生成助记词失败: %w", err)
		}

		encryptedKey, err := keystore.EncryptMnemonic(mnemonic, password)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := encryptedKey.SaveToFile(outputFile); err != nil {
			return fmt.Errorf("保存文件失败: %w", err)
		}

		fmt.Printf("\n✅ keystore 已生成: %s (ID: %s)\n", outputFile, encryptedKey.Id)
		fmt.Println("启动 relay-server 时通过 PURSE_PASSWORD 提供密码。")

		fmt.Print("\n是否需要现在显示助记词以便备份? (y/N): ")
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "y" || input == "yes" {
			fmt.Println("\n---------------------------------------------------")
			fmt.Println(mnemonic)
			fmt.Println("---------------------------------------------------")
		}
		return nil
	},
}

// wordsToBits 12 词 = 128 位熵，每多 3 个词加 32 位
func wordsToBits(words int) int {
	switch words {
	case 15, 18, 21, 24:
		return 128 + (words-12)/3*32
	default:
		return 128
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", "purse.json", "输出的 keystore 文件名")
	initCmd.Flags().Int("words", 12, "助记词长度 (12/15/18/21/24)")
}
