package bus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known topics.
const (
	// TopicSystemError carries handler failures converted by the bus.
	TopicSystemError = "system.error"
)

// Envelope is the uniform message record carried by the bus. ID and TraceID
// are fixed at construction and never mutated afterwards.
type Envelope struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"ts"`
	Source    string            `json:"source"`
	Topic     string            `json:"topic"`
	TraceID   string            `json:"trace_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Encoding  string            `json:"encoding,omitempty"` // "" for JSON payloads, "base64" for binary bodies
}

// New creates an envelope with fresh ID and trace ID.
func New(source, topic string, payload map[string]any) *Envelope {
	id := uuid.NewString()
	return &Envelope{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Topic:     topic,
		TraceID:   id,
		Payload:   payload,
	}
}

// Reply creates an envelope causally linked to parent: it inherits the
// parent's trace ID and records the parent's ID, so causal chains are
// reconstructable from the journal.
func Reply(parent *Envelope, source, topic string, payload map[string]any) *Envelope {
	env := New(source, topic, payload)
	env.TraceID = parent.TraceID
	env.ParentID = parent.ID
	return env
}

// MatchTopic reports whether a dot-delimited topic matches a subscription
// pattern. Patterns are exact ("ticks.binance"), prefix ("ticks.*"), or the
// global wildcard ("*"). Matching is evaluated per publish, never pre-indexed.
func MatchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return pattern == topic
}
