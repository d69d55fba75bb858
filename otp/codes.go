package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Purpose names what a challenge authorizes when completed. One active
// challenge exists per account and purpose; issuing a new one replaces
// the old.
type Purpose string

const (
	PurposeLogin   Purpose = "login"
	PurposeEnroll  Purpose = "enroll"
	PurposeDisable Purpose = "disable"
)

// Channel is the delivery or verification mechanism for a challenge.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelTOTP  Channel = "totp"
)

// NewCode generates a random numeric code of the given width. Each
// digit is drawn independently so leading zeros are as likely as any
// other digit.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return code, nil
}

// HashCode is the digest persisted in place of a challenge code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
