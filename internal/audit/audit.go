// Package audit records privileged mutations and security events.
//
// Recording is best-effort: a sink failure is logged and swallowed so it can
// never fail or roll back the operation being described.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopfront.io/internal/ids"
	"shopfront.io/internal/obs"
)

// SystemActor is the actor id of mutations made by the service itself.
const SystemActor = "system"

// Actions written by the service.
const (
	ActionRoleCreate       = "role.create"
	ActionRoleUpdate       = "role.update"
	ActionRoleDelete       = "role.delete"
	ActionPermissionCreate = "permission.create"
	ActionPermissionUpdate = "permission.update"
	ActionPermissionDelete = "permission.delete"
	ActionKeyAdd           = "key.add"
	ActionKeyActivate      = "key.activate"
	ActionKeyDeactivate    = "key.deactivate"
	ActionUserAccess       = "user.access.update"
	ActionUserBootstrap    = "user.bootstrap"
	ActionSessionsRevoke   = "user.sessions.revoke"
	ActionRefreshReplay    = "auth.refresh.replay"
)

// Entry is one audit record.
type Entry struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// Sink persists or forwards entries.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry Entry) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, entry Entry) error { return f(ctx, entry) }

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	originKey    ctxKey = "audit_origin"
)

type origin struct {
	ip        string
	userAgent string
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOrigin attaches the caller's address and user agent.
func WithOrigin(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, originKey, origin{ip: ip, userAgent: userAgent})
}

func originFromContext(ctx context.Context) (origin, bool) {
	if ctx == nil {
		return origin{}, false
	}
	o, ok := ctx.Value(originKey).(origin)
	return o, ok
}

// Recorder fans entries out to every configured sink.
type Recorder struct {
	sinks  []Sink
	now    func() time.Time
	logger *zap.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder builds a recorder writing to sinks in order. Nil sinks are skipped.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record completes entry from ctx and writes it to every sink. It never fails.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil {
		return
	}
	if err := r.record(ctx, entry); err != nil {
		r.log().Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("target_type", entry.TargetType),
			zap.String("target_id", entry.TargetID),
			zap.Error(err),
		)
	}
}

func (r *Recorder) record(ctx context.Context, entry Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	if o, ok := originFromContext(ctx); ok {
		if entry.IP == "" {
			entry.IP = o.ip
		}
		if entry.UserAgent == "" {
			entry.UserAgent = o.userAgent
		}
	}
	if entry.TraceID == "" {
		entry.TraceID = obs.TraceID(ctx)
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) log() *zap.Logger {
	if r.logger != nil {
		return r.logger
	}
	return obs.Logger()
}
