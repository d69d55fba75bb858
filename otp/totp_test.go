package otp

import (
	"strings"
	"testing"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func testTOTP(t *testing.T) *TOTP {
	t.Helper()

	v, err := NewTOTP(TOTPConfig{
		Issuer: "commercekit",
		Digits: 6,
		Period: 30,
		Skew:   1,
	})
	if err != nil {
		t.Fatalf("NewTOTP failed: %v", err)
	}
	return v
}

func TestGenerateSecretAndVerify(t *testing.T) {
	v := testTOTP(t)

	secret, uri, err := v.GenerateSecret("customer@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if secret == "" {
		t.Fatal("expected non-empty secret")
	}
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri: %s", uri)
	}

	now := time.Now()
	code, err := totp.GenerateCodeCustom(secret, now, totp.ValidateOpts{
		Period:    30,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}

	ok, step, err := v.Verify(secret, code, now)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected current code to verify")
	}
	if step != now.Unix()/30 {
		t.Fatalf("unexpected matched step %d", step)
	}
}

func TestVerifyAcceptsAdjacentStepWithinSkew(t *testing.T) {
	v := testTOTP(t)

	secret, _, err := v.GenerateSecret("customer@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Now()
	previous := now.Add(-30 * time.Second)
	code, err := totp.GenerateCodeCustom(secret, previous, totp.ValidateOpts{
		Period:    30,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}

	ok, _, err := v.Verify(secret, code, now)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected previous-step code accepted within skew")
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	v := testTOTP(t)

	secret, _, err := v.GenerateSecret("customer@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		ok, _, err := v.Verify(secret, code, time.Now())
		if err != nil {
			t.Fatalf("Verify errored for %q: %v", code, err)
		}
		if ok {
			t.Fatalf("expected %q rejected", code)
		}
	}
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	v := testTOTP(t)

	secret, _, err := v.GenerateSecret("customer@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	ok, _, err := v.Verify(secret, "000000", time.Now())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong code rejected")
	}
}

func TestNewTOTPValidation(t *testing.T) {
	if _, err := NewTOTP(TOTPConfig{}); err == nil {
		t.Fatal("expected error for missing issuer")
	}
	if _, err := NewTOTP(TOTPConfig{Issuer: "x", Digits: 7}); err == nil {
		t.Fatal("expected error for unsupported digits")
	}
	if _, err := NewTOTP(TOTPConfig{Issuer: "x", Skew: 5}); err == nil {
		t.Fatal("expected error for excessive skew")
	}
}
