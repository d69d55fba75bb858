// Package seclog is the append-only per-account security event log.
// Events are facts about what happened, recorded after the fact; no
// control-flow decision reads them back except the windowed failure
// count, which is a pure query over recorded failures.
package seclog
