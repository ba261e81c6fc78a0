package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEncryptDecrypt(t *testing.T) {
	k, err := EncryptMnemonicWithN(testMnemonic, "s3cret-pass", LightScryptN)
	require.NoError(t, err)
	assert.Equal(t, 3, k.Version)
	assert.NotEmpty(t, k.Id)

	m, err := DecryptMnemonic(k, "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, m)

	_, err = DecryptMnemonic(k, "wrong")
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestSaveLoadAndResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purse.json")

	k, err := EncryptMnemonicWithN(testMnemonic, "pw", LightScryptN)
	require.NoError(t, err)
	require.NoError(t, k.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, k.Id, loaded.Id)

	m, fromFile, err := ResolveMnemonic(path, "pw", "ignored")
	require.NoError(t, err)
	assert.True(t, fromFile)
	assert.Equal(t, testMnemonic, m)

	_, _, err = ResolveMnemonic(path, "", "")
	assert.Error(t, err)
}

func TestResolveFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.json")

	m, fromFile, err := ResolveMnemonic(missing, "", testMnemonic)
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, testMnemonic, m)

	_, _, err = ResolveMnemonic(missing, "", "")
	assert.ErrorIs(t, err, ErrNoMnemonic)
}
