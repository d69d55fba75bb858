package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the tables this package reads and writes. It is
// idempotent so deployments can apply it on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	identifier      TEXT NOT NULL UNIQUE,
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	password_hash   TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT 'customer',
	status          SMALLINT NOT NULL DEFAULT 0,
	email_verified  BOOLEAN NOT NULL DEFAULT FALSE,
	phone_verified  BOOLEAN NOT NULL DEFAULT FALSE,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	locked_until    BIGINT NOT NULL DEFAULT 0,
	mfa_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
	mfa_channel     TEXT NOT NULL DEFAULT '',
	totp_secret     TEXT NOT NULL DEFAULT '',
	totp_confirmed  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS accounts_identifier_lower
	ON accounts (LOWER(identifier));

CREATE TABLE IF NOT EXISTS backup_codes (
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	hash       BYTEA NOT NULL,
	used_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, hash)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	device_id  TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	ip         TEXT NOT NULL DEFAULT '',
	success    BOOLEAN NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	metadata   JSONB
);

CREATE INDEX IF NOT EXISTS audit_events_account_at
	ON audit_events (account_id, at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
