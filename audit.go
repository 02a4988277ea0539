package consoleauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// AuditEvent records one session-relevant action of the console.
//
// Guard denials carry the decision Outcome, the missing Permission and,
// for transient failures, a Reason such as [ReasonPermissionsUnavailable].
// Tokens and passwords never appear in an event.
type AuditEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Route      string            `json:"route,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Permission string            `json:"permission,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel, e.g. for tests or a
// UI notification feed.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LogSink writes events to a logr.Logger: failures at Info, successes at
// V(1).
type LogSink struct {
	log logr.Logger
}

func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{log: log.WithName("audit")}
}

func (s *LogSink) Emit(_ context.Context, event AuditEvent) {
	kv := []interface{}{"id", event.ID, "success", event.Success}
	for _, f := range [...]struct{ k, v string }{
		{"user", event.UserID},
		{"email", event.Email},
		{"route", event.Route},
		{"outcome", event.Outcome},
		{"permission", event.Permission},
		{"reason", event.Reason},
		{"ip", event.IP},
		{"error", event.Error},
	} {
		if f.v != "" {
			kv = append(kv, f.k, f.v)
		}
	}
	if event.Success {
		s.log.V(1).Info(event.EventType, kv...)
		return
	}
	s.log.Info(event.EventType, kv...)
}
