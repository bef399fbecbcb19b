package audit

import (
	"context"

	"go.uber.org/zap"

	"shopfront.io/internal/obs"
)

// LogSink writes entries to the structured logger as "audit" messages.
type LogSink struct {
	Logger *zap.Logger
}

// Write logs entry at info level.
func (s LogSink) Write(_ context.Context, entry Entry) error {
	l := s.Logger
	if l == nil {
		l = obs.Logger()
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", entry.Action),
		zap.String("audit_id", entry.ID),
		zap.Time("occurred_at", entry.OccurredAt),
		zap.String("target_type", entry.TargetType),
	}
	if entry.TargetID != "" {
		fields = append(fields, zap.String("target_id", entry.TargetID))
	}
	if entry.ActorID != "" {
		fields = append(fields, zap.String("user_id", entry.ActorID))
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.IP != "" {
		fields = append(fields, zap.String("ip", entry.IP))
	}
	if entry.TraceID != "" {
		fields = append(fields, zap.String("trace_id", entry.TraceID))
	}
	if len(entry.Metadata) > 0 {
		fields = append(fields, zap.Any("fields", entry.Metadata))
	}
	l.Info("audit", fields...)
	return nil
}
