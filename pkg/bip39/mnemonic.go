package bip39

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("无效的助记词")

// MnemonicService 提供助记词相关的功能
type MnemonicService struct{}

func NewMnemonicService() *MnemonicService {
	return &MnemonicService{}
}

// GenerateMnemonic 生成一个新的随机助记词。
// bitSize: 熵的位数，128 (12 个单词) 或 256 (24 个单词)。
func (s *MnemonicService) GenerateMnemonic(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", fmt.Errorf("生成熵失败: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("生成助记词失败: %w", err)
	}
	return mnemonic, nil
}

func (s *MnemonicService) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalize(mnemonic))
}

// MnemonicToSeed 将助记词转换为种子，不做校验
func (s *MnemonicService) MnemonicToSeed(mnemonic string, passphrase string) []byte {
	return bip39.NewSeed(normalize(mnemonic), passphrase)
}

// SeedFromMnemonic 校验助记词后再生成种子，钱包池启动时使用
func (s *MnemonicService) SeedFromMnemonic(mnemonic string, passphrase string) ([]byte, error) {
	m := normalize(mnemonic)
	if !bip39.IsMnemonicValid(m) {
		return nil, ErrInvalidMnemonic
	}
	return bip39.NewSeedWithErrorChecking(m, passphrase)
}

// 配置文件和环境变量里的助记词经常带多余空白
func normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
