package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	entries []Entry
	err     error
}

func (m *memorySink) Write(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func TestRecorderCompletesEntry(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := &memorySink{}
	rec := NewRecorder([]Sink{sink, nil}, WithClock(func() time.Time { return fixed }))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithOrigin(ctx, "10.0.0.1", "curl/8")
	rec.Record(ctx, Entry{Action: ActionRoleCreate, ActorID: "user-42", TargetType: "role", TargetID: "EDITOR"})

	if len(sink.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(sink.entries))
	}
	got := sink.entries[0]
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if !got.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected occurred_at %v", got.OccurredAt)
	}
	if got.RequestID != "req-123" || got.IP != "10.0.0.1" || got.UserAgent != "curl/8" {
		t.Fatalf("context fields not applied: %+v", got)
	}
}

func TestRecorderSwallowsSinkFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := &memorySink{err: errors.New("db down")}
	healthy := &memorySink{}
	rec := NewRecorder([]Sink{failing, healthy}, WithLogger(zap.New(core)))

	rec.Record(context.Background(), Entry{Action: ActionKeyDeactivate, TargetType: "key", TargetID: "abc"})

	if len(healthy.entries) != 1 {
		t.Fatal("later sinks must still receive the entry")
	}
	if logs.FilterMessage("audit write failed").Len() != 1 {
		t.Fatalf("expected a warning, got %v", logs.All())
	}
}

func TestRecorderRejectsEmptyAction(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &memorySink{}
	NewRecorder([]Sink{sink}, WithLogger(zap.New(core))).Record(context.Background(), Entry{Action: "  "})
	if len(sink.entries) != 0 {
		t.Fatal("entry without action must not be written")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), Entry{Action: ActionRoleDelete})
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := LogSink{Logger: zap.New(core)}
	err := sink.Write(context.Background(), Entry{
		ID:         "01J",
		Action:     ActionRefreshReplay,
		ActorID:    "user-42",
		TargetType: "session",
		TargetID:   "jti-1",
		RequestID:  "req-1",
		Metadata:   map[string]any{"reason": "hash_mismatch"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 {
		t.Fatalf("expected one audit log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != ActionRefreshReplay || fields["user_id"] != "user-42" || fields["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func TestKafkaSink(t *testing.T) {
	producer := &fakeProducer{}
	sink, err := NewKafkaSink(producer, "shopfront.audit")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	entry := Entry{ID: "01J", Action: ActionKeyAdd, TargetType: "key", TargetID: "kid-1"}
	if err := sink.Write(context.Background(), entry); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(producer.records) != 1 {
		t.Fatalf("expected one record, got %d", len(producer.records))
	}
	rec := producer.records[0]
	if rec.Topic != "shopfront.audit" || string(rec.Key) != "key:kid-1" {
		t.Fatalf("unexpected record routing: %s %s", rec.Topic, rec.Key)
	}
	var decoded Entry
	if err := json.Unmarshal(rec.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Action != ActionKeyAdd {
		t.Fatalf("unexpected action %q", decoded.Action)
	}

	producer.err = errors.New("broker unavailable")
	if err := sink.Write(context.Background(), entry); err == nil {
		t.Fatal("expected produce error")
	}

	if _, err := NewKafkaSink(producer, " "); err == nil {
		t.Fatal("expected error for empty topic")
	}
}
