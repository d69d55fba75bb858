// Package authcore is a customer authentication engine for commerce
// backends: credential verification with lockout, device recognition,
// multi-factor challenges over email, SMS, and authenticator apps with
// single-use backup codes, rotating refresh sessions with reuse
// detection, and a per-account security event log.
//
// The engine is storage-agnostic about accounts (callers supply an
// AccountStore) and keeps all hot state in Redis. Build one with the
// Builder:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithAccounts(accounts).
//		WithMailer(mailer).
//		Build()
//
// All secrets are stored hashed: passwords as Argon2id, refresh tokens
// and challenge codes as SHA-256, backup codes salted per account.
package authcore
