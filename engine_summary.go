package authcore

import (
	"context"

	"github.com/commercekit/authcore/seclog"
)

const summaryEventLimit = 20

// SecuritySummary computes a read-only posture report from the event
// log, session store, and device registry. The score starts at 100 and
// is docked for missing MFA, unverified contact points, recent
// failures, untrusted-only devices, and any recent token reuse; it
// never goes below zero.
func (e *Engine) SecuritySummary(ctx context.Context, accountID string) (*SecuritySummary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	failures, err := e.events.RecentFailures(ctx, account.ID, e.config.SecurityLog.FailureWindow)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	sessions, err := e.sessions.ActiveSessionCount(ctx, account.ID)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	devices, err := e.devices.List(ctx, account.ID)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	events, err := e.events.Recent(ctx, account.ID, summaryEventLimit)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}

	trusted := 0
	for _, rec := range devices {
		if rec.Trusted {
			trusted++
		}
	}
	reuseSeen := false
	for _, ev := range events {
		if ev.Kind == seclog.KindTokenReuse {
			reuseSeen = true
			break
		}
	}

	score := 100
	var recommendations []string

	if !account.MFA.Enabled {
		score -= 40
		recommendations = append(recommendations, "Enable two-factor authentication.")
	} else {
		has, err := e.accounts.HasBackupCodes(ctx, account.ID)
		if err == nil && !has {
			recommendations = append(recommendations, "Generate backup codes in case you lose your second factor.")
		}
	}
	if !account.EmailVerified {
		score -= 10
		recommendations = append(recommendations, "Verify your email address.")
	}
	if account.Phone != "" && !account.PhoneVerified {
		score -= 5
		recommendations = append(recommendations, "Verify your phone number.")
	}
	if failures > 0 {
		penalty := failures * 5
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
		recommendations = append(recommendations, "Recent failed sign-in attempts were detected. Review your activity.")
	}
	if len(devices) > 0 && trusted == 0 {
		score -= 10
		recommendations = append(recommendations, "Mark the devices you own as trusted and remove the rest.")
	}
	if reuseSeen {
		score -= 30
		recommendations = append(recommendations, "A revoked session token was replayed recently. Change your password.")
	}
	if score < 0 {
		score = 0
	}

	return &SecuritySummary{
		Score:           score,
		MFAEnabled:      account.MFA.Enabled,
		RecentFailures:  failures,
		ActiveSessions:  sessions,
		KnownDevices:    len(devices),
		TrustedDevices:  trusted,
		Events:          events,
		Recommendations: recommendations,
	}, nil
}

// SecurityEvents returns up to n recent entries from the account's
// append-only security log, newest first.
func (e *Engine) SecurityEvents(ctx context.Context, accountID string, n int) ([]*seclog.Event, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	events, err := e.events.Recent(ctx, accountID, n)
	if err != nil {
		return nil, wrapUnavailable(ErrAuthUnavailable, err)
	}
	return events, nil
}
