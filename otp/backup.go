package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

// Alphabet excludes visually ambiguous characters (0/O, 1/I/L, U/V).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTWXYZ23456789"

const (
	// DefaultBackupCodeCount is how many codes a fresh batch contains.
	DefaultBackupCodeCount = 10
	// DefaultBackupCodeLength is the number of alphabet characters per
	// code, excluding the display hyphen.
	DefaultBackupCodeLength = 10
)

// GenerateBackupCodes returns count fresh recovery codes formatted in
// two hyphenated halves, e.g. "K3NPR-7WXJM". Codes are returned in
// plaintext exactly once; callers persist only hashes.
func GenerateBackupCodes(count, length int) ([]string, error) {
	if count < 1 || count > 32 {
		return nil, errors.New("invalid backup code count")
	}
	if length < 8 || length > 20 || length%2 != 0 {
		return nil, errors.New("invalid backup code length")
	}

	alphabetSize := big.NewInt(int64(len(backupCodeAlphabet)))
	codes := make([]string, 0, count)

	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length + 1)
		for j := 0; j < length; j++ {
			if j == length/2 {
				b.WriteByte('-')
			}
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, err
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		codes = append(codes, b.String())
	}

	return codes, nil
}

// NormalizeBackupCode strips separators and whitespace and uppercases,
// so user-entered variants of the same code hash identically.
func NormalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '-' || c == ' ' || c == '\t':
			continue
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// HashBackupCode digests a normalized code salted with the account id,
// so identical codes across accounts produce unrelated hashes.
func HashBackupCode(accountID, code string) [32]byte {
	return sha256.Sum256([]byte(accountID + ":" + NormalizeBackupCode(code)))
}
