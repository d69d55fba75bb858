package pgstore

import (
	"context"
	"encoding/json"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/authcore"
)

// AuditSink persists engine audit events to the audit_events table. It
// runs on the dispatcher goroutine; insert failures are logged and the
// event dropped rather than blocking authentication.
type AuditSink struct {
	pool *pgxpool.Pool
}

func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

func (s *AuditSink) Emit(ctx context.Context, event authcore.AuditEvent) {
	var metadata []byte
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err == nil {
			metadata = encoded
		}
	}

	q := `
		INSERT INTO audit_events
			(at, event_type, account_id, device_id, session_id, ip, success, error_code, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q,
		event.Timestamp,
		event.EventType,
		event.AccountID,
		event.DeviceID,
		event.SessionID,
		event.IP,
		event.Success,
		event.Error,
		metadata,
	)
	if err != nil {
		log.Printf("pgstore: audit insert failed: %v", err)
	}
}
