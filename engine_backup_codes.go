package authcore

import (
	"context"

	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/seclog"
)

// GenerateBackupCodes creates the account's first batch of single-use
// recovery codes. Plaintext codes are returned exactly once; only
// salted hashes are stored. Use RegenerateBackupCodes to replace an
// existing batch.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.MFA.Enabled {
		return nil, ErrMFANotEnabled
	}

	has, err := e.accounts.HasBackupCodes(ctx, account.ID)
	if err != nil {
		return nil, wrapUnavailable(ErrAccountsUnavailable, err)
	}
	if has {
		return nil, ErrBackupCodesExist
	}

	return e.replaceBackupCodes(ctx, account)
}

// RegenerateBackupCodes replaces the whole batch, invalidating any
// remaining unused codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.MFA.Enabled {
		return nil, ErrMFANotEnabled
	}

	return e.replaceBackupCodes(ctx, account)
}

func (e *Engine) replaceBackupCodes(ctx context.Context, account *Account) ([]string, error) {
	codes, err := otp.GenerateBackupCodes(e.config.BackupCodes.Count, e.config.BackupCodes.Length)
	if err != nil {
		return nil, err
	}

	hashes := make([][32]byte, len(codes))
	for i, code := range codes {
		hashes[i] = otp.HashBackupCode(account.ID, code)
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		return nil, wrapUnavailable(ErrAccountsUnavailable, err)
	}

	e.recordEvent(ctx, &seclog.Event{
		AccountID: account.ID,
		Kind:      seclog.KindBackupCodesIssued,
	})
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, "", "", nil, nil)

	return codes, nil
}
