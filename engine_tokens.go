package authcore

import (
	"context"
	"errors"

	"github.com/commercekit/authcore/seclog"
	"github.com/commercekit/authcore/token"
)

// RefreshSession rotates a refresh token: the presented token is
// invalidated and a new pair returned. Presenting a superseded token
// against a live session destroys the whole session and reports
// ErrRefreshReuse, on the theory that either the client or a thief now
// holds a stolen token and neither can be distinguished.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	if err := e.ready(); err != nil {
		return "", "", err
	}

	sessionID, providedSecret, err := token.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return "", "", ErrRefreshInvalid
	}

	nextSecret, err := token.NewRefreshSecret()
	if err != nil {
		return "", "", err
	}

	res, err := e.sessions.Rotate(
		ctx,
		sessionID,
		token.HashRefreshSecret(providedSecret),
		token.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRefreshMismatch):
			e.metricInc(MetricTokenReuseDetected)
			e.recordEvent(ctx, &seclog.Event{
				AccountID: res.AccountID,
				Kind:      seclog.KindTokenReuse,
				Severity:  seclog.SeverityCritical,
				DeviceID:  res.DeviceID,
				Detail:    "superseded refresh token replayed; session destroyed",
			})
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.AccountID, res.DeviceID, sessionID, ErrRefreshReuse, nil)
			return "", "", ErrRefreshReuse
		case errors.Is(err, token.ErrSessionNotFound), errors.Is(err, token.ErrSessionExpired):
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", sessionID, ErrSessionNotFound, nil)
			return "", "", ErrSessionNotFound
		default:
			return "", "", wrapUnavailable(ErrAuthUnavailable, err)
		}
	}
	sess := res.Session

	account, err := e.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_, _ = e.sessions.Delete(ctx, sess.ID)
			return "", "", ErrSessionNotFound
		}
		return "", "", wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		// A disabled or deleted account keeps no live sessions.
		if _, delErr := e.sessions.Delete(ctx, sess.ID); delErr != nil {
			e.warn("session cleanup after status gate failed: %v", delErr)
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, account.ID, sess.DeviceID, sess.ID, statusErr, nil)
		return "", "", statusErr
	}

	access, err = e.tokens.CreateAccess(account.ID, account.Role, sess.DeviceID, sess.ID)
	if err != nil {
		return "", "", err
	}
	refresh, err = token.EncodeRefreshToken(sess.ID, nextSecret)
	if err != nil {
		return "", "", err
	}

	e.metricInc(MetricTokenRefreshed)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.ID, sess.DeviceID, sess.ID, nil, nil)

	return access, refresh, nil
}

// ValidateAccess verifies an access token signature and confirms its
// session still exists, so revocation takes effect within one access
// token lifetime at most and immediately for validated requests.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}

	if _, err := e.sessions.Get(ctx, claims.SessionID); err != nil {
		e.metricInc(MetricAccessRejected)
		switch {
		case errors.Is(err, token.ErrSessionNotFound), errors.Is(err, token.ErrSessionExpired):
			return nil, ErrSessionNotFound
		default:
			return nil, wrapUnavailable(ErrAuthUnavailable, err)
		}
	}

	e.metricInc(MetricAccessValidated)
	return &AccessInfo{
		AccountID: claims.Subject,
		Role:      claims.Role,
		DeviceID:  claims.DeviceID,
		SessionID: claims.SessionID,
	}, nil
}

// Logout revokes the session carried by an access token.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return ErrTokenInvalid
	}
	return e.LogoutSession(ctx, claims.Subject, claims.SessionID)
}

// LogoutSession revokes one session by id, verifying it belongs to the
// account.
func (e *Engine) LogoutSession(ctx context.Context, accountID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSessionNotFound), errors.Is(err, token.ErrSessionExpired):
			return ErrSessionNotFound
		default:
			return wrapUnavailable(ErrAuthUnavailable, err)
		}
	}
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}

	if _, err := e.sessions.Delete(ctx, sessionID); err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}

	e.metricInc(MetricSessionRevoked)
	e.recordEvent(ctx, &seclog.Event{
		AccountID: accountID,
		Kind:      seclog.KindSessionRevoked,
		DeviceID:  sess.DeviceID,
	})
	e.emitAudit(ctx, auditEventLogoutSession, true, accountID, sess.DeviceID, sessionID, nil, nil)

	return nil
}

// LogoutAll revokes every session the account holds, on every device.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	deleted, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return wrapUnavailable(ErrAuthUnavailable, err)
	}

	if deleted > 0 {
		e.metricInc(MetricSessionRevoked)
		e.recordEvent(ctx, &seclog.Event{
			AccountID: accountID,
			Kind:      seclog.KindSessionRevoked,
			Detail:    "all sessions revoked",
		})
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", "", nil, nil)

	return nil
}
