// Package otp implements the one-time-code engine: hashed email/SMS
// challenge codes with strict attempt and expiry budgets, TOTP
// verification with replay protection, and single-use backup codes.
// Plaintext codes exist only in transit to the delivery channel; the
// store persists hashes.
package otp
