// Package token implements the session token service: short-lived JWT
// access tokens, intermediate MFA-pending tokens, and opaque rotating
// refresh tokens backed by a Redis session store with atomic
// compare-and-swap rotation and reuse detection.
package token
