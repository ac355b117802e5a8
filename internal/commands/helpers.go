package commands

import (
	"crypto/rand"
	"math/big"
)

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateRandomPassword 生成不含易混淆字符的随机密码
func generateRandomPassword(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			buf[i] = passwordAlphabet[0]
			continue
		}
		buf[i] = passwordAlphabet[idx.Int64()]
	}
	return string(buf)
}
