package lobby

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	codeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode returns a random 6-character join code.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// NormalizeCode makes a hand-typed code comparable: codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code (after normalization) has the join code shape.
func ValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != codeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(codeCharset, c) {
			return false
		}
	}
	return true
}
