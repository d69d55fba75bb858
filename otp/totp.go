package otp

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPConfig controls authenticator-app verification. Period and Skew
// are in RFC 6238 terms: Skew is the number of adjacent time steps
// accepted on each side of the current one.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// TOTP generates enrollment secrets and verifies authenticator codes.
type TOTP struct {
	config TOTPConfig
}

// NewTOTP applies defaults and returns a verifier.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("totp issuer required")
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("totp digits must be 6 or 8")
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Period < 15 || cfg.Period > 120 {
		return nil, errors.New("totp period out of range")
	}
	if cfg.Skew < 0 || cfg.Skew > 2 {
		return nil, errors.New("totp skew out of range")
	}

	return &TOTP{config: cfg}, nil
}

// GenerateSecret creates an enrollment secret for an account and the
// otpauth:// provisioning URI encoding it.
func (t *TOTP) GenerateSecret(accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.config.Issuer,
		AccountName: accountName,
		Period:      uint(t.config.Period),
		Digits:      otplib.Digits(t.config.Digits),
		Algorithm:   otplib.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}

	return key.Secret(), key.URL(), nil
}

// Verify checks a code against the secret across the configured skew
// window. On success it returns the matched time step so the caller can
// reject replays of the same step.
func (t *TOTP) Verify(secret, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != t.config.Digits || !isDigits(trimmed) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}

	opts := totp.ValidateOpts{
		Period:    uint(t.config.Period),
		Skew:      0,
		Digits:    otplib.Digits(t.config.Digits),
		Algorithm: otplib.AlgorithmSHA1,
	}

	baseStep := now.Unix() / int64(t.config.Period)
	for offset := -t.config.Skew; offset <= t.config.Skew; offset++ {
		step := baseStep + int64(offset)
		if step < 0 {
			continue
		}

		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*int64(t.config.Period), 0), opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, step, nil
		}
	}

	return false, 0, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
