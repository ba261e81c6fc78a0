package crypto_util

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Fingerprint 对多段数据做长度前缀拼接后取 Blake3，用于请求体指纹
func Fingerprint(parts ...[]byte) string {
	h := blake3.New(32, nil)
	var lenBuf [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
