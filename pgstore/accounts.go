// Package pgstore backs the engine's account interfaces with Postgres
// via pgx. Counter and backup-code updates are single conditional
// statements, so concurrent logins never lose increments or double-spend
// a recovery code.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/authcore"
)

// Accounts is an authcore.AccountStore backed by the accounts and
// backup_codes tables.
type Accounts struct {
	pool *pgxpool.Pool
}

func NewAccounts(pool *pgxpool.Pool) *Accounts {
	return &Accounts{pool: pool}
}

const accountColumns = `
	id, identifier, email, phone, password_hash, role, status,
	email_verified, phone_verified, failed_attempts, locked_until,
	mfa_enabled, mfa_channel, totp_secret, totp_confirmed`

func scanAccount(row pgx.Row) (*authcore.Account, error) {
	var (
		acct    authcore.Account
		status  int16
		channel string
	)
	err := row.Scan(
		&acct.ID,
		&acct.Identifier,
		&acct.Email,
		&acct.Phone,
		&acct.PasswordHash,
		&acct.Role,
		&status,
		&acct.EmailVerified,
		&acct.PhoneVerified,
		&acct.FailedAttempts,
		&acct.LockedUntil,
		&acct.MFA.Enabled,
		&channel,
		&acct.MFA.TOTPSecret,
		&acct.MFA.TOTPConfirmed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acct.Status = authcore.AccountStatus(status)
	acct.MFA.Channel = authcore.MFAChannel(channel)
	return &acct, nil
}

func (a *Accounts) GetByIdentifier(ctx context.Context, identifier string) (*authcore.Account, error) {
	q := `SELECT` + accountColumns + ` FROM accounts WHERE LOWER(identifier) = LOWER($1)`
	return scanAccount(a.pool.QueryRow(ctx, q, identifier))
}

func (a *Accounts) GetByID(ctx context.Context, accountID string) (*authcore.Account, error) {
	q := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(a.pool.QueryRow(ctx, q, accountID))
}

func (a *Accounts) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	q := `UPDATE accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	tag, err := a.pool.Exec(ctx, q, newHash, accountID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// RecordLoginFailure increments the counter and arms the lockout in one
// statement, so racing failures cannot skip past the threshold.
func (a *Accounts) RecordLoginFailure(ctx context.Context, accountID string, threshold int, lock time.Duration) (int, int64, error) {
	q := `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE
		        WHEN failed_attempts + 1 >= $2 THEN $3
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempts, locked_until`

	expiry := time.Now().Add(lock).Unix()

	var count int
	var lockedUntil int64
	err := a.pool.QueryRow(ctx, q, accountID, threshold, expiry).Scan(&count, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, authcore.ErrAccountNotFound
		}
		return 0, 0, fmt.Errorf("record login failure: %w", err)
	}
	return count, lockedUntil, nil
}

func (a *Accounts) ResetLoginFailures(ctx context.Context, accountID string) error {
	q := `UPDATE accounts SET failed_attempts = 0, locked_until = 0, updated_at = NOW() WHERE id = $1`
	tag, err := a.pool.Exec(ctx, q, accountID)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (a *Accounts) UpdateMFA(ctx context.Context, accountID string, settings authcore.MFASettings) error {
	q := `
		UPDATE accounts
		SET mfa_enabled = $1, mfa_channel = $2, totp_secret = $3,
		    totp_confirmed = $4, updated_at = NOW()
		WHERE id = $5`
	tag, err := a.pool.Exec(ctx, q,
		settings.Enabled,
		string(settings.Channel),
		settings.TOTPSecret,
		settings.TOTPConfirmed,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("update mfa settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (a *Accounts) MarkEmailVerified(ctx context.Context, accountID string) error {
	q := `UPDATE accounts SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := a.pool.Exec(ctx, q, accountID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

func (a *Accounts) MarkPhoneVerified(ctx context.Context, accountID string) error {
	q := `UPDATE accounts SET phone_verified = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := a.pool.Exec(ctx, q, accountID)
	if err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// ReplaceBackupCodes swaps the whole batch inside one transaction so a
// reader never observes a mix of old and new codes.
func (a *Accounts) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin backup code replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (account_id, hash) VALUES ($1, $2)`,
			accountID, h[:],
		); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ConsumeBackupCode spends a matching unused code with a conditional
// update; two concurrent presentations of the same code cannot both win.
func (a *Accounts) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	q := `
		UPDATE backup_codes
		SET used_at = NOW()
		WHERE account_id = $1 AND hash = $2 AND used_at IS NULL`
	tag, err := a.pool.Exec(ctx, q, accountID, hash[:])
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (a *Accounts) HasBackupCodes(ctx context.Context, accountID string) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM backup_codes WHERE account_id = $1 AND used_at IS NULL
	)`
	var exists bool
	if err := a.pool.QueryRow(ctx, q, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check backup codes: %w", err)
	}
	return exists, nil
}
