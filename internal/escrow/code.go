package escrow

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 8

	maxCodeAttempts = 5
)

// CodeGenerator produces candidate redemption codes.
type CodeGenerator func() (string, error)

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode returns a uniformly random code from CodeAlphabet.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode canonicalises user input: trimmed, upper-cased, with spaces
// and dashes removed.
func NormalizeCode(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, raw)
}

// ValidCode reports whether code is a well-formed normalised code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(CodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
