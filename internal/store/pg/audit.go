package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"shopfront.io/internal/audit"
)

// AuditSink writes audit entries to the audit_log table.
type AuditSink struct {
	db *Store
}

// AuditSink returns a sink backed by this store.
func (s *Store) AuditSink() *AuditSink {
	return &AuditSink{db: s}
}

func (a *AuditSink) Write(ctx context.Context, e audit.Entry) error {
	if a == nil || a.db == nil || a.db.db == nil {
		return errNoDB
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = a.db.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_id, action, target_type, target_id, metadata, ip, user_agent, request_id, trace_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.OccurredAt, nullIfEmpty(e.ActorID), e.Action, e.TargetType, nullIfEmpty(e.TargetID), raw,
		nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), nullIfEmpty(e.TraceID))
	return err
}
