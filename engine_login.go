package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/seclog"
	"github.com/commercekit/authcore/token"
)

// Login verifies the first factor and either issues a session or opens
// an MFA challenge. Unknown identifiers and wrong passwords both return
// ErrInvalidCredentials after a dummy hash comparison, so the two cases
// are indistinguishable by response and by timing.
func (e *Engine) Login(ctx context.Context, identifier, pass string, opts LoginOptions) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identifier = normalizeIdentifier(identifier)
	if identifier == "" || pass == "" {
		e.hasher.DummyVerify(pass)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return nil, ErrInvalidCredentials
	}

	account, err := e.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.hasher.DummyVerify(pass)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"identifier": identifier, "reason": "unknown_identifier"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, wrapUnavailable(ErrAccountsUnavailable, err)
	}

	// Lockout is checked before the password so a correct guess during
	// the lock window still fails and still burns the comparison.
	if account.Locked(time.Now()) {
		e.hasher.DummyVerify(pass)
		e.metricInc(MetricLoginFailure)
		e.recordEvent(ctx, &seclog.Event{
			AccountID: account.ID,
			Kind:      seclog.KindLoginFailure,
			Detail:    "login attempt while locked",
			UserAgent: userAgentFromContext(ctx),
		})
		e.emitAudit(ctx, auditEventLoginLocked, false, account.ID, "", "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, account)
	}

	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", "", statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return nil, statusErr
	}
	if e.config.Credentials.RequireVerifiedEmail && !account.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", "", ErrAccountUnverified, func() map[string]string {
			return map[string]string{"reason": "email_unverified"}
		})
		return nil, ErrAccountUnverified
	}

	if account.FailedAttempts > 0 || account.LockedUntil > 0 {
		if err := e.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
			e.warn("login failure counter reset failed: %v", err)
		}
	}

	e.maybeUpgradeHash(ctx, account, pass)
	pass = ""

	if !account.EmailVerified {
		e.deliverVerificationNotice(account.Email)
	}

	attrs := deviceAttributesFromContext(ctx)
	fingerprint := device.Fingerprint(attrs)

	known, err := e.devices.Lookup(ctx, account.ID, fingerprint)
	newDevice := false
	switch {
	case err == nil:
	case errors.Is(err, device.ErrDeviceNotFound):
		newDevice = true
	default:
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}

	if e.mfaRequiredForLogin(account, known, newDevice) {
		return e.openLoginChallenge(ctx, account, fingerprint)
	}

	return e.issueSession(ctx, account, fingerprint, newDevice, opts.RememberDevice)
}

// failLogin records a wrong-password attempt: the counter increment and
// lockout decision happen atomically in the account store.
func (e *Engine) failLogin(ctx context.Context, account *Account) error {
	count, lockedUntil, err := e.accounts.RecordLoginFailure(
		ctx,
		account.ID,
		e.config.Credentials.MaxFailedAttempts,
		e.config.Credentials.LockDuration,
	)
	if err != nil {
		e.warn("login failure record failed: %v", err)
	}

	e.metricInc(MetricLoginFailure)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindLoginFailure,
		Detail:    "wrong password",
		UserAgent: userAgentFromContext(ctx),
	})
	e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": "password_mismatch"}
	})

	if lockedUntil > 0 && count == e.config.Credentials.MaxFailedAttempts {
		e.metricInc(MetricLockout)
		e.recordEvent(ctx, &seclog.Event{
			AccountID: account.ID,
			Kind:      seclog.KindLockout,
			Severity:  seclog.SeverityCritical,
			Detail:    "too many failed logins",
		})
		e.emitAudit(ctx, auditEventLockoutTriggered, false, account.ID, "", "", ErrAccountLocked, nil)
	}

	return ErrInvalidCredentials
}

// mfaRequiredForLogin decides whether this login needs a second factor.
// Enrolled accounts always do, unless the device carries explicit trust
// and trusted devices are allowed to skip. Unenrolled accounts are
// challenged over email on unknown devices when that policy is on and a
// mailer can reach them.
func (e *Engine) mfaRequiredForLogin(account *Account, known *device.Record, newDevice bool) bool {
	if account.MFA.Enabled {
		if !newDevice && known != nil && known.Trusted && e.config.Devices.TrustedSkipsMFA {
			return false
		}
		return true
	}

	if newDevice && e.config.Devices.RequireMFAForNewDevice {
		return e.mailer != nil && account.Email != ""
	}

	return false
}

// openLoginChallenge starts the MFA step: a server-side challenge plus
// a short-lived pending token bound to it. Reissuing replaces any prior
// login challenge for the account.
func (e *Engine) openLoginChallenge(ctx context.Context, account *Account, fingerprint string) (*LoginResult, error) {
	channel := account.MFA.Channel
	if !account.MFA.Enabled {
		// New-device check for an unenrolled account: email fallback.
		channel = MFAChannelEmail
	}

	now := time.Now()
	ch := &otp.Challenge{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Purpose:   challengePurposeLogin,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.OTP.TTL).Unix(),
	}

	var destination, sendTo, code string
	switch channel {
	case MFAChannelTOTP:
		ch.Channel = otp.ChannelTOTP
	case MFAChannelSMS:
		generated, err := otp.NewCode(e.config.OTP.Digits)
		if err != nil {
			return nil, err
		}
		code, sendTo = generated, account.Phone
		ch.Channel = otp.ChannelSMS
		ch.CodeHash = otp.HashCode(code)
		destination = maskPhone(account.Phone)
		ch.Destination = destination
	default:
		generated, err := otp.NewCode(e.config.OTP.Digits)
		if err != nil {
			return nil, err
		}
		code, sendTo = generated, account.Email
		channel = MFAChannelEmail
		ch.Channel = otp.ChannelEmail
		ch.CodeHash = otp.HashCode(code)
		destination = maskEmail(account.Email)
		ch.Destination = destination
	}

	if err := e.challenges.Put(ctx, ch); err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	if code != "" {
		e.deliverCode(channel, sendTo, code)
	}

	pending, err := e.tokens.CreatePending(account.ID, fingerprint, ch.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFAChallengeIssued)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindOTPIssued,
		Detail:    string(channel),
		UserAgent: userAgentFromContext(ctx),
	})
	e.emitAudit(ctx, auditEventMFARequired, true, account.ID, "", "", nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})

	return &LoginResult{
		MFARequired: true,
		MFAChannel:  channel,
		MFAToken:    pending,
		Destination: destination,
	}, nil
}

// issueSession completes a login: the device is registered (and trusted
// if asked), a refresh session is stored, the session cap enforced, and
// the token pair minted.
func (e *Engine) issueSession(
	ctx context.Context,
	account *Account,
	fingerprint string,
	newDevice bool,
	rememberDevice bool,
) (*LoginResult, error) {
	rec, err := e.devices.Register(ctx, account.ID, fingerprint, deviceAttributesFromContext(ctx), locationFromContext(ctx))
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	if newDevice {
		e.recordEvent(ctx, &seclog.Event{
			AccountID: account.ID,
			Kind:      seclog.KindDeviceRegistered,
			DeviceID:  rec.ID,
			UserAgent: userAgentFromContext(ctx),
		})
		e.emitAudit(ctx, auditEventDeviceRegistered, true, account.ID, rec.ID, "", nil, nil)
	}
	if rememberDevice && !rec.Trusted {
		rec, err = e.devices.SetTrusted(ctx, account.ID, rec.ID, true)
		if err != nil {
			return nil, wrapUnavailable(ErrAuthUnavailable, err)
		}
		e.recordEvent(ctx, &seclog.Event{
			AccountID: account.ID,
			Kind:      seclog.KindDeviceTrusted,
			DeviceID:  rec.ID,
		})
		e.emitAudit(ctx, auditEventDeviceTrusted, true, account.ID, rec.ID, "", nil, nil)
	}

	sid, err := token.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sessionID := sid.String()
	sess := &token.Session{
		ID:          sessionID,
		AccountID:   account.ID,
		DeviceID:    rec.ID,
		RefreshHash: token.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.JWT.RefreshTTL).Unix(),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}

	if e.config.Sessions.MaxPerAccount > 0 {
		evicted, err := e.sessions.EvictOverCap(ctx, account.ID, e.config.Sessions.MaxPerAccount)
		if err != nil {
			e.warn("session cap enforcement failed: %v", err)
		}
		for _, id := range evicted {
			e.metricInc(MetricSessionEvicted)
			e.recordEvent(ctx, &seclog.Event{
				AccountID: account.ID,
				Kind:      seclog.KindSessionRevoked,
				Detail:    "evicted by session cap",
			})
			e.emitAudit(ctx, auditEventSessionEvicted, true, account.ID, "", id, nil, nil)
		}
	}

	access, err := e.tokens.CreateAccess(account.ID, account.Role, rec.ID, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, err := token.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricTokenIssued)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindLoginSuccess,
		DeviceID:  rec.ID,
		UserAgent: userAgentFromContext(ctx),
	})
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, rec.ID, sessionID, nil, nil)

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Device:       rec,
	}, nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, account *Account, pass string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(pass)
	if err != nil {
		e.warn("password hash upgrade generation failed: %v", err)
		return
	}
	// Best effort; a failed rehash must not block the login.
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, upgraded); err != nil {
		e.warn("password hash upgrade update failed: %v", err)
	}
}

// normalizeIdentifier lowercases and trims the submitted identifier so
// "Alice@Shop.Example" and "alice@shop.example" name the same account.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountDeleted:
		return ErrAccountDeleted
	default:
		return nil
	}
}
