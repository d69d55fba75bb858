// Package device derives stable fingerprints from request attributes
// and keeps the per-account registry of known devices with their trust
// status. A device becomes known only after a fully successful login
// from it; trust is always an explicit decision, never inferred.
package device
