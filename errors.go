package authcore

import "errors"

var (
	// ErrInvalidCredentials covers wrong password and unknown
	// identifier alike, so a caller cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by AccountStore lookups. The
	// engine never surfaces it on authentication paths.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountLocked is returned while a lockout is active, even when
	// the presented password is correct.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is an administrative gate on login.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountDeleted is returned for soft-deleted accounts.
	ErrAccountDeleted = errors.New("account deleted")
	// ErrAccountUnverified is returned when email verification is
	// required for login and the account has not completed it.
	ErrAccountUnverified = errors.New("account unverified")

	// ErrMFARequired signals that credentials were accepted but a
	// second factor must be completed. It is control flow, not failure.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAChallengeInvalid covers wrong codes and stale challenge
	// references while attempts remain.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrMFAChallengeExpired is returned when the challenge outlived
	// its TTL.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")
	// ErrMFAAttemptsExceeded is returned when the attempt budget is
	// spent. A fresh login is required.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")
	// ErrMFANotEnabled is returned for MFA operations on accounts
	// without MFA.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFAAlreadyEnabled rejects double enrollment.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrBackupCodeInvalid is returned for unknown or already consumed
	// backup codes.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodesNotConfigured is returned when no backup codes have
	// been generated for the account.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrBackupCodesExist is returned by GenerateBackupCodes when a
	// batch already exists; regeneration must be explicit.
	ErrBackupCodesExist = errors.New("backup codes already generated")

	// ErrTokenInvalid covers malformed, tampered, expired, or
	// wrong-purpose access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid covers malformed or unknown refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when a superseded refresh token is
	// replayed against a live session. The session is destroyed.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned when the addressed session does
	// not exist or has been revoked.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDeviceNotFound is returned for device operations on unknown
	// device ids.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrPasswordPolicy is returned when a new password fails policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse rejects changing a password to itself.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrAccountsUnavailable wraps account repository failures.
	ErrAccountsUnavailable = errors.New("account backend unavailable")
	// ErrAuthUnavailable wraps Redis-layer failures on any auth path.
	ErrAuthUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when the engine is nil or not
	// built.
	ErrEngineNotReady = errors.New("engine not initialized")
)
