package authcore

import "errors"

// Envelope is the uniform response wrapper for callers exposing engine
// results over an API edge.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Wrap builds an Envelope from an operation result. Internal error
// detail is never copied into the envelope; only the stable code and a
// caller-safe message.
func Wrap(data any, err error) Envelope {
	if err == nil {
		return Envelope{Success: true, Data: data}
	}

	code, message := publicError(err)
	return Envelope{
		Success:   false,
		Message:   message,
		ErrorCode: code,
	}
}

func publicError(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials", "Invalid identifier or password."
	case errors.Is(err, ErrAccountLocked):
		return "account_locked", "Account is temporarily locked. Try again later."
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled", "Account is disabled."
	case errors.Is(err, ErrAccountDeleted):
		return "account_deleted", "Account no longer exists."
	case errors.Is(err, ErrAccountUnverified):
		return "account_unverified", "Email verification is required before signing in."
	case errors.Is(err, ErrMFARequired):
		return "mfa_required", "A second authentication factor is required."
	case errors.Is(err, ErrMFAChallengeExpired):
		return "mfa_expired", "The verification code expired. Sign in again."
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return "mfa_attempts_exceeded", "Too many incorrect codes. Sign in again."
	case errors.Is(err, ErrMFAChallengeInvalid):
		return "mfa_invalid", "The verification code is incorrect."
	case errors.Is(err, ErrMFANotEnabled):
		return "mfa_not_enabled", "Two-factor authentication is not enabled."
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return "mfa_already_enabled", "Two-factor authentication is already enabled."
	case errors.Is(err, ErrBackupCodeInvalid):
		return "backup_code_invalid", "The backup code is invalid or already used."
	case errors.Is(err, ErrBackupCodesNotConfigured):
		return "backup_codes_not_configured", "No backup codes have been generated."
	case errors.Is(err, ErrBackupCodesExist):
		return "backup_codes_exist", "Backup codes already exist. Regenerate to replace them."
	case errors.Is(err, ErrRefreshReuse):
		return "session_revoked", "Session security check failed. Sign in again."
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrRefreshInvalid):
		return "invalid_token", "The token is invalid or expired."
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found", "Session not found."
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found", "Device not found."
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy", "The new password does not meet the policy."
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse", "The new password must differ from the current one."
	case errors.Is(err, ErrAuthUnavailable), errors.Is(err, ErrAccountsUnavailable):
		return "service_unavailable", "Authentication is temporarily unavailable."
	default:
		return "internal_error", "Something went wrong."
	}
}
