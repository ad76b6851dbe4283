// Package invite 生成与校验房间邀请码：固定 8 位小写字母数字。
package invite

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	Length   = 8
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Generator 产生一个新的候选邀请码，唯一性由存储层的唯一索引兜底。
type Generator func() (string, error)

// NewCode 使用 crypto/rand 均匀地从字母表中取字符。
func NewCode() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize 去掉首尾空白并转小写，用户手输的邀请码经常带大写或空格。
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Valid 判断已规范化的邀请码是否符合格式。
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
