package authcore

import (
	"context"

	"github.com/commercekit/authcore/seclog"
)

// ChangePassword verifies the current password, applies the new one,
// and revokes every session so stolen refresh tokens die with the old
// credential.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPass, newPass string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(newPass) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", "", ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPass, account.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "old_password_mismatch"}
		})
		return ErrInvalidCredentials
	}

	same, err := e.hasher.Verify(newPass, account.PasswordHash)
	if err == nil && same {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPass)
	if err != nil {
		return ErrPasswordPolicy
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		return wrapUnavailable(ErrAccountsUnavailable, err)
	}

	if _, err := e.sessions.DeleteAllForAccount(ctx, account.ID); err != nil {
		e.warn("session revocation after password change failed: %v", err)
	}

	e.metricInc(MetricPasswordChanged)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindPasswordChanged,
		Severity:  seclog.SeverityWarning,
	})
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, account.ID, "", "", nil, nil)

	return nil
}
