// Package password implements Argon2id password hashing in PHC string
// format, with constant-time verification, parameter upgrade detection,
// and a dummy-verification path that equalizes failure latency between
// unknown identifiers and wrong passwords.
package password
