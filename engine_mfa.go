package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/seclog"
)

// VerifyMFA completes a pending login. mfaToken is the intermediate
// token from Login; code is whatever the challenge asked for: a
// delivered OTP, an authenticator code, or a backup code. Backup codes
// are recognized by containing non-digit characters.
func (e *Engine) VerifyMFA(ctx context.Context, mfaToken, code string, opts LoginOptions) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.ParsePending(mfaToken)
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, "", "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "pending_token_invalid"}
		})
		return nil, ErrTokenInvalid
	}

	account, err := e.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		return nil, statusErr
	}

	if isBackupCodeInput(code) {
		if err := e.verifyBackupCode(ctx, account, claims.ChallengeID, code); err != nil {
			return nil, err
		}
	} else if err := e.verifyLoginChallenge(ctx, account, claims.ChallengeID, code); err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindMFASuccess,
		UserAgent: userAgentFromContext(ctx),
	})
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, "", "", nil, nil)

	// The fingerprint travels in the pending token, so the session binds
	// to the device that passed the first factor.
	fingerprint := claims.DeviceID
	_, lookupErr := e.devices.Lookup(ctx, account.ID, fingerprint)
	newDevice := errors.Is(lookupErr, device.ErrDeviceNotFound)
	if lookupErr != nil && !newDevice {
		return nil, wrapUnavailable(ErrAuthUnavailable, lookupErr)
	}

	return e.issueSession(ctx, account, fingerprint, newDevice, opts.RememberDevice)
}

// verifyLoginChallenge checks a delivered or authenticator code against
// the live login challenge. Every call spends one attempt.
func (e *Engine) verifyLoginChallenge(ctx context.Context, account *Account, challengeID, code string) error {
	ch, err := e.challenges.Get(ctx, account.ID, challengePurposeLogin)
	if err != nil {
		return e.failMFA(ctx, account, mapChallengeError(err))
	}
	if challengeID != "" && ch.ID != challengeID {
		// Pending token refers to a superseded challenge.
		return e.failMFA(ctx, account, ErrMFAChallengeInvalid)
	}

	switch ch.Channel {
	case otp.ChannelTOTP:
		return e.verifyTOTPStep(ctx, account, challengePurposeLogin, code)
	default:
		_, err := e.challenges.Consume(
			ctx,
			account.ID,
			challengePurposeLogin,
			challengeID,
			otp.HashCode(code),
			e.config.OTP.MaxAttempts,
		)
		if err != nil {
			return e.failMFA(ctx, account, mapChallengeError(err))
		}
		return nil
	}
}

// verifyTOTPStep validates an authenticator code and closes the replay
// window for its time step. The challenge only carries the attempt
// budget; the code itself verifies against the account secret.
func (e *Engine) verifyTOTPStep(ctx context.Context, account *Account, purpose otp.Purpose, code string) error {
	if account.MFA.TOTPSecret == "" {
		return e.failMFA(ctx, account, ErrMFANotEnabled)
	}

	ok, step, err := e.totp.Verify(account.MFA.TOTPSecret, code, time.Now())
	if err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
	if ok {
		accepted, markErr := e.challenges.MarkTOTPStep(ctx, account.ID, step, time.Duration(e.config.TOTP.Period*(e.config.TOTP.Skew+2))*time.Second)
		if markErr != nil {
			return wrapUnavailable(ErrAuthUnavailable, markErr)
		}
		ok = accepted
	}
	if !ok {
		if failErr := e.challenges.Fail(ctx, account.ID, purpose, e.config.OTP.MaxAttempts); failErr != nil {
			return e.failMFA(ctx, account, mapChallengeError(failErr))
		}
		return e.failMFA(ctx, account, ErrMFAChallengeInvalid)
	}

	if err := e.challenges.Delete(ctx, account.ID, purpose); err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
	return nil
}

// verifyBackupCode consumes a single-use recovery code in place of the
// challenge code. A miss still spends an attempt on the live challenge.
func (e *Engine) verifyBackupCode(ctx context.Context, account *Account, challengeID, code string) error {
	if !account.MFA.Enabled {
		return e.failMFA(ctx, account, ErrMFANotEnabled)
	}

	ch, err := e.challenges.Get(ctx, account.ID, challengePurposeLogin)
	if err != nil {
		return e.failMFA(ctx, account, mapChallengeError(err))
	}
	if challengeID != "" && ch.ID != challengeID {
		return e.failMFA(ctx, account, ErrMFAChallengeInvalid)
	}

	has, err := e.accounts.HasBackupCodes(ctx, account.ID)
	if err != nil {
		return wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if !has {
		return e.failMFA(ctx, account, ErrBackupCodesNotConfigured)
	}

	consumed, err := e.accounts.ConsumeBackupCode(ctx, account.ID, otp.HashBackupCode(account.ID, code))
	if err != nil {
		return wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if !consumed {
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, account.ID, "", "", ErrBackupCodeInvalid, nil)
		if failErr := e.challenges.Fail(ctx, account.ID, challengePurposeLogin, e.config.OTP.MaxAttempts); failErr != nil {
			return e.failMFA(ctx, account, mapChallengeError(failErr))
		}
		return e.failMFA(ctx, account, ErrBackupCodeInvalid)
	}

	if err := e.challenges.Delete(ctx, account.ID, challengePurposeLogin); err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindBackupCodeUsed,
		Severity:  seclog.SeverityWarning,
	})
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, account.ID, "", "", nil, nil)
	return nil
}

func (e *Engine) failMFA(ctx context.Context, account *Account, cause error) error {
	e.metricInc(MetricMFAFailure)
	ev := &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindMFAFailure,
		UserAgent: userAgentFromContext(ctx),
	}
	eventType := auditEventMFAFailure
	if errors.Is(cause, ErrMFAAttemptsExceeded) {
		ev.Severity = seclog.SeverityWarning
		ev.Detail = "attempt budget exhausted"
		eventType = auditEventMFAAttemptsExceeded
	}
	e.recordEvent(ctx, ev)
	e.emitAudit(ctx, eventType, false, account.ID, "", "", cause, nil)
	return cause
}

// EnableMFA starts enrollment on a channel. For TOTP it returns the
// secret and provisioning URI; for email and SMS it sends a
// confirmation code. Enrollment completes with ConfirmMFA.
func (e *Engine) EnableMFA(ctx context.Context, accountID string, channel MFAChannel) (*MFAEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFA.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	now := time.Now()
	ch := &otp.Challenge{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Purpose:   challengePurposeEnroll,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.OTP.TTL).Unix(),
	}
	enrollment := &MFAEnrollment{Channel: channel}

	var sendTo, code string
	switch channel {
	case MFAChannelTOTP:
		secret, uri, err := e.totp.GenerateSecret(account.Identifier)
		if err != nil {
			return nil, err
		}
		// Stored unconfirmed; a valid code in ConfirmMFA activates it.
		if err := e.accounts.UpdateMFA(ctx, account.ID, MFASettings{
			Channel:    MFAChannelTOTP,
			TOTPSecret: secret,
		}); err != nil {
			return nil, wrapUnavailable(ErrAccountsUnavailable, err)
		}
		ch.Channel = otp.ChannelTOTP
		enrollment.Secret = secret
		enrollment.URI = uri
	case MFAChannelSMS:
		if account.Phone == "" {
			return nil, ErrMFAChallengeInvalid
		}
		generated, err := otp.NewCode(e.config.OTP.Digits)
		if err != nil {
			return nil, err
		}
		code, sendTo = generated, account.Phone
		ch.Channel = otp.ChannelSMS
		ch.CodeHash = otp.HashCode(code)
		enrollment.Destination = maskPhone(account.Phone)
		ch.Destination = enrollment.Destination
		if err := e.accounts.UpdateMFA(ctx, account.ID, MFASettings{Channel: MFAChannelSMS}); err != nil {
			return nil, wrapUnavailable(ErrAccountsUnavailable, err)
		}
	case MFAChannelEmail:
		generated, err := otp.NewCode(e.config.OTP.Digits)
		if err != nil {
			return nil, err
		}
		code, sendTo = generated, account.Email
		ch.Channel = otp.ChannelEmail
		ch.CodeHash = otp.HashCode(code)
		enrollment.Destination = maskEmail(account.Email)
		ch.Destination = enrollment.Destination
		if err := e.accounts.UpdateMFA(ctx, account.ID, MFASettings{Channel: MFAChannelEmail}); err != nil {
			return nil, wrapUnavailable(ErrAccountsUnavailable, err)
		}
	default:
		return nil, ErrMFAChallengeInvalid
	}

	if err := e.challenges.Put(ctx, ch); err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	if code != "" {
		e.deliverCode(channel, sendTo, code)
		e.recordEvent(ctx, &seclog.Event{
			AccountID: account.ID,
			Kind:      seclog.KindOTPIssued,
			Detail:    string(channel),
		})
	}

	e.emitAudit(ctx, auditEventMFAEnrollStarted, true, account.ID, "", "", nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})

	return enrollment, nil
}

// ConfirmMFA finishes enrollment by proving the second factor works.
// Confirming an email enrollment also marks the address verified.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFA.Enabled {
		return ErrMFAAlreadyEnabled
	}

	ch, err := e.challenges.Get(ctx, account.ID, challengePurposeEnroll)
	if err != nil {
		return mapChallengeError(err)
	}

	switch ch.Channel {
	case otp.ChannelTOTP:
		if err := e.verifyTOTPStep(ctx, account, challengePurposeEnroll, code); err != nil {
			return err
		}
	default:
		if _, err := e.challenges.Consume(
			ctx,
			account.ID,
			challengePurposeEnroll,
			ch.ID,
			otp.HashCode(code),
			e.config.OTP.MaxAttempts,
		); err != nil {
			return mapChallengeError(err)
		}
	}

	settings := account.MFA
	settings.Enabled = true
	if ch.Channel == otp.ChannelTOTP {
		settings.TOTPConfirmed = true
	}
	if err := e.accounts.UpdateMFA(ctx, account.ID, settings); err != nil {
		return wrapUnavailable(ErrAccountsUnavailable, err)
	}

	// The code round-trip proved ownership of the delivery target.
	if ch.Channel == otp.ChannelEmail && !account.EmailVerified {
		if err := e.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
			e.warn("email verification mark failed: %v", err)
		}
	}
	if ch.Channel == otp.ChannelSMS && !account.PhoneVerified {
		if err := e.accounts.MarkPhoneVerified(ctx, account.ID); err != nil {
			e.warn("phone verification mark failed: %v", err)
		}
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindMFAEnabled,
	})
	e.emitAudit(ctx, auditEventMFAEnabled, true, account.ID, "", "", nil, func() map[string]string {
		return map[string]string{"channel": string(settings.Channel)}
	})

	return nil
}

// DisableMFA turns the second factor off. The caller must prove control
// of it: an authenticator or backup code verifies directly; for email
// and SMS channels a first call with an empty code sends a disable
// challenge and returns ErrMFARequired.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.MFA.Enabled {
		return ErrMFANotEnabled
	}

	switch {
	case isBackupCodeInput(code):
		has, err := e.accounts.HasBackupCodes(ctx, account.ID)
		if err != nil {
			return wrapUnavailable(ErrAccountsUnavailable, err)
		}
		if !has {
			return ErrBackupCodesNotConfigured
		}
		consumed, err := e.accounts.ConsumeBackupCode(ctx, account.ID, otp.HashBackupCode(account.ID, code))
		if err != nil {
			return wrapUnavailable(ErrAccountsUnavailable, err)
		}
		if !consumed {
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, account.ID, "", "", ErrBackupCodeInvalid, nil)
			return ErrBackupCodeInvalid
		}
	case account.MFA.Channel == MFAChannelTOTP:
		if err := e.verifyDisableTOTP(ctx, account, code); err != nil {
			return err
		}
	default:
		if code == "" {
			return e.openDisableChallenge(ctx, account)
		}
		ch, err := e.challenges.Get(ctx, account.ID, challengePurposeDisable)
		if err != nil {
			return mapChallengeError(err)
		}
		if _, err := e.challenges.Consume(
			ctx,
			account.ID,
			challengePurposeDisable,
			ch.ID,
			otp.HashCode(code),
			e.config.OTP.MaxAttempts,
		); err != nil {
			return mapChallengeError(err)
		}
	}

	if err := e.accounts.UpdateMFA(ctx, account.ID, MFASettings{}); err != nil {
		return wrapUnavailable(ErrAccountsUnavailable, err)
	}
	// Spent and unspent backup codes die with the factor they recover.
	if err := e.accounts.ReplaceBackupCodes(ctx, account.ID, nil); err != nil {
		e.warn("backup code cleanup failed: %v", err)
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindMFADisabled,
		Severity:  seclog.SeverityWarning,
	})
	e.emitAudit(ctx, auditEventMFADisabled, true, account.ID, "", "", nil, nil)

	return nil
}

// verifyDisableTOTP checks an authenticator code without a stored
// challenge; replay protection still applies.
func (e *Engine) verifyDisableTOTP(ctx context.Context, account *Account, code string) error {
	ok, step, err := e.totp.Verify(account.MFA.TOTPSecret, code, time.Now())
	if err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
	if ok {
		accepted, markErr := e.challenges.MarkTOTPStep(ctx, account.ID, step, time.Duration(e.config.TOTP.Period*(e.config.TOTP.Skew+2))*time.Second)
		if markErr != nil {
			return wrapUnavailable(ErrAuthUnavailable, markErr)
		}
		ok = accepted
	}
	if !ok {
		return ErrMFAChallengeInvalid
	}
	return nil
}

func (e *Engine) openDisableChallenge(ctx context.Context, account *Account) error {
	generated, err := otp.NewCode(e.config.OTP.Digits)
	if err != nil {
		return err
	}

	now := time.Now()
	ch := &otp.Challenge{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Purpose:   challengePurposeDisable,
		CodeHash:  otp.HashCode(generated),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.OTP.TTL).Unix(),
	}

	sendTo := account.Email
	ch.Channel = otp.ChannelEmail
	ch.Destination = maskEmail(account.Email)
	if account.MFA.Channel == MFAChannelSMS {
		sendTo = account.Phone
		ch.Channel = otp.ChannelSMS
		ch.Destination = maskPhone(account.Phone)
	}

	if err := e.challenges.Put(ctx, ch); err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
	e.deliverCode(account.MFA.Channel, sendTo, generated)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindOTPIssued,
		Detail:    string(ch.Channel),
	})

	return ErrMFARequired
}

func (e *Engine) getAccount(ctx context.Context, accountID string) (*Account, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		return nil, statusErr
	}
	return account, nil
}

// isBackupCodeInput reports whether a submitted code can only be a
// backup code: delivered and authenticator codes are all digits, backup
// codes always contain letters.
func isBackupCodeInput(code string) bool {
	normalized := otp.NormalizeBackupCode(code)
	if normalized == "" {
		return false
	}
	for i := 0; i < len(normalized); i++ {
		if normalized[i] < '0' || normalized[i] > '9' {
			return true
		}
	}
	return false
}

func mapChallengeError(err error) error {
	switch {
	case errors.Is(err, otp.ErrChallengeNotFound):
		return ErrMFAChallengeInvalid
	case errors.Is(err, otp.ErrChallengeExpired):
		return ErrMFAChallengeExpired
	case errors.Is(err, otp.ErrCodeMismatch):
		return ErrMFAChallengeInvalid
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrMFAAttemptsExceeded
	default:
		return wrapUnavailable(ErrAuthUnavailable, err)
	}
}
