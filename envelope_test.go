package authcore

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapSuccess(t *testing.T) {
	env := Wrap(map[string]string{"hello": "world"}, nil)
	if !env.Success || env.ErrorCode != "" || env.Message != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Data == nil {
		t.Fatal("expected data to be carried through")
	}
}

func TestWrapErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrInvalidCredentials, "invalid_credentials"},
		{ErrAccountLocked, "account_locked"},
		{ErrAccountUnverified, "account_unverified"},
		{ErrMFARequired, "mfa_required"},
		{ErrMFAAttemptsExceeded, "mfa_attempts_exceeded"},
		{ErrMFAChallengeInvalid, "mfa_invalid"},
		{ErrBackupCodeInvalid, "backup_code_invalid"},
		{ErrBackupCodesExist, "backup_codes_exist"},
		{ErrRefreshReuse, "session_revoked"},
		{ErrTokenInvalid, "invalid_token"},
		{ErrSessionNotFound, "session_not_found"},
		{ErrPasswordPolicy, "password_policy"},
		{ErrAuthUnavailable, "service_unavailable"},
	}

	for _, tc := range cases {
		env := Wrap(nil, tc.err)
		if env.Success {
			t.Fatalf("%v: expected failure envelope", tc.err)
		}
		if env.ErrorCode != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, env.ErrorCode)
		}
		if env.Message == "" {
			t.Fatalf("%v: expected a caller-safe message", tc.err)
		}
	}
}

func TestWrapUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("%w: redis timed out", ErrAuthUnavailable)
	env := Wrap(nil, wrapped)
	if env.ErrorCode != "service_unavailable" {
		t.Fatalf("expected service_unavailable, got %q", env.ErrorCode)
	}
	// Internal detail never leaks into the message.
	if env.Message == wrapped.Error() {
		t.Fatal("envelope message must not expose internal error text")
	}
}

func TestWrapUnknownError(t *testing.T) {
	env := Wrap(nil, errors.New("something nobody mapped"))
	if env.ErrorCode != "internal_error" {
		t.Fatalf("expected internal_error, got %q", env.ErrorCode)
	}
}
