package token

import (
	"errors"
	"testing"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}

	opaque, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	gotSID, gotSecret, err := DecodeRefreshToken(opaque)
	if err != nil {
		t.Fatalf("DecodeRefreshToken failed: %v", err)
	}
	if gotSID != sid.String() {
		t.Fatalf("session id mismatch: got %s want %s", gotSID, sid.String())
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch after round trip")
	}
}

func TestDecodeRefreshTokenRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not base64url !!!",
		"dG9vLXNob3J0",
	}
	for _, raw := range cases {
		if _, _, err := DecodeRefreshToken(raw); !errors.Is(err, ErrMalformedRefreshToken) {
			t.Fatalf("expected ErrMalformedRefreshToken for %q, got %v", raw, err)
		}
	}
}

func TestParseSessionIDRejectsWrongSize(t *testing.T) {
	if _, err := ParseSessionID("c2hvcnQ"); err == nil {
		t.Fatal("expected error for undersized session id")
	}
}

func TestHashRefreshSecretDeterministic(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) != HashRefreshSecret(secret) {
		t.Fatal("expected identical digests for identical secrets")
	}

	other, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) == HashRefreshSecret(other) {
		t.Fatal("expected distinct digests for distinct secrets")
	}
}
