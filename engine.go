package authcore

import (
	"context"
	"fmt"
	"log"

	"github.com/commercekit/authcore/device"
	"github.com/commercekit/authcore/otp"
	"github.com/commercekit/authcore/password"
	"github.com/commercekit/authcore/seclog"
	"github.com/commercekit/authcore/token"
)

// Engine is the authentication core. Build one with the Builder and
// share it; all methods are safe for concurrent use.
type Engine struct {
	config Config

	accounts AccountStore
	hasher   *password.Hasher

	tokens   *token.Manager
	sessions *token.Store

	challenges *otp.ChallengeStore
	totp       *otp.TOTP

	devices *device.Registry
	events  *seclog.Store

	mailer Mailer
	texter Texter

	audit   *auditDispatcher
	metrics *metrics
}

// Close drains and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Metrics returns a point-in-time copy of the engine counters.
func (e *Engine) Metrics() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	snap := e.metrics.snapshot()
	if e.metrics != nil && e.metrics.enabled {
		snap.AuditDropped = e.AuditDropped()
	}
	return snap
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.accounts == nil || e.hasher == nil || e.tokens == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return nil
}

// recordEvent appends to the account security log. Logging failures
// never fail the operation that triggered them.
func (e *Engine) recordEvent(ctx context.Context, ev *seclog.Event) {
	if e == nil || e.events == nil {
		return
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	if err := e.events.Record(ctx, ev); err != nil {
		e.warn("security event record failed: %v", err)
	}
}

func (e *Engine) warn(format string, args ...any) {
	log.Printf("authcore: "+format, args...)
}

func wrapUnavailable(sentinel, err error) error {
	return fmt.Errorf("%w: %v", sentinel, err)
}
