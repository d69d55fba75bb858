package authcore

import (
	"testing"
)

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "acct-1", nil)

	err := env.engine.ChangePassword(requestCtx("203.0.113.7", "curl/8.0"), "acct-1", "not-the-password", "an entirely new phrase")
	if !isErr(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "acct-1", nil)

	err := env.engine.ChangePassword(requestCtx("203.0.113.7", "curl/8.0"), "acct-1", testPassword, testPassword)
	if !isErr(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
}

func TestChangePasswordEnforcesMinLength(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "acct-1", nil)

	err := env.engine.ChangePassword(requestCtx("203.0.113.7", "curl/8.0"), "acct-1", testPassword, "short")
	if !isErr(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "acct-1", nil)
	ctx := requestCtx("203.0.113.7", "Mozilla/5.0")

	res := env.mustLogin(t, ctx)

	const newPassword = "an entirely new phrase"
	if err := env.engine.ChangePassword(ctx, "acct-1", testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Every outstanding session dies with the old credential.
	if _, err := env.engine.ValidateAccess(ctx, res.AccessToken); !isErr(err, ErrSessionNotFound) {
		t.Fatalf("expected session revocation, got %v", err)
	}
	if _, _, err := env.engine.RefreshSession(ctx, res.RefreshToken); !isErr(err, ErrSessionNotFound) {
		t.Fatalf("expected refresh rejection, got %v", err)
	}

	if _, err := env.engine.Login(ctx, testIdentifier, testPassword, LoginOptions{}); !isErr(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := env.engine.Login(ctx, testIdentifier, newPassword, LoginOptions{}); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}
}
