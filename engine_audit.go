package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventLockoutTriggered      = "lockout_triggered"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventMFAEnrollStarted      = "mfa_enroll_started"
	auditEventMFAEnabled            = "mfa_enabled"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutDevice          = "logout_device"
	auditEventLogoutAll             = "logout_all"
	auditEventSessionEvicted        = "session_evicted"
	auditEventDeviceRegistered      = "device_registered"
	auditEventDeviceTrusted         = "device_trusted"
	auditEventDeviceRemoved         = "device_removed"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
)

// AuditErrorCode is the stable machine-readable code attached to failed
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked       AuditErrorCode = "account_locked"
	auditErrAccountDisabled     AuditErrorCode = "account_disabled"
	auditErrAccountDeleted      AuditErrorCode = "account_deleted"
	auditErrAccountUnverified   AuditErrorCode = "account_unverified"
	auditErrMFARequired         AuditErrorCode = "mfa_required"
	auditErrMFAInvalid          AuditErrorCode = "mfa_invalid"
	auditErrMFAExpired          AuditErrorCode = "mfa_expired"
	auditErrMFAAttemptsExceeded AuditErrorCode = "mfa_attempts_exceeded"
	auditErrMFANotEnabled       AuditErrorCode = "mfa_not_enabled"
	auditErrMFAAlreadyEnabled   AuditErrorCode = "mfa_already_enabled"
	auditErrBackupCodeInvalid   AuditErrorCode = "backup_code_invalid"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrRefreshReuse        AuditErrorCode = "refresh_reuse"
	auditErrSessionNotFound     AuditErrorCode = "session_not_found"
	auditErrDeviceNotFound      AuditErrorCode = "device_not_found"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrPasswordReuse       AuditErrorCode = "password_reuse"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	deviceID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		DeviceID:  deviceID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountDeleted):
		return auditErrAccountDeleted
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrMFAChallengeInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAChallengeExpired):
		return auditErrMFAExpired
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrMFAAttemptsExceeded
	case errors.Is(err, ErrMFANotEnabled):
		return auditErrMFANotEnabled
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, ErrBackupCodeInvalid),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrBackupCodeInvalid
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAuthUnavailable),
		errors.Is(err, ErrAccountsUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
