package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/austindbirch/httpout/internal/event"
)

// Publisher writes a message body to a topic or subject.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// EventSink publishes events as JSON envelopes.
type EventSink struct {
	Publisher Publisher
	Topic     string
}

func (s *EventSink) Submit(ctx context.Context, e *event.Event) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	return s.Publisher.Publish(ctx, s.Topic, b)
}

const FailureType = "httpout.failed"

// Failure is the envelope published for events the actor could not deliver.
type Failure struct {
	Type       string       `json:"type"`    // "httpout.failed"
	Version    string       `json:"version"` // schema version
	At         string       `json:"at"`      // RFC3339 time the failure was emitted
	Actor      string       `json:"actor"`
	Class      string       `json:"class"`
	Reason     string       `json:"reason"`
	StatusCode int          `json:"status_code,omitempty"`
	Event      *event.Event `json:"event"` // full event snapshot
}

// NewFailure builds the envelope from the error record actor left on e.
func NewFailure(actor string, e *event.Event) Failure {
	rec := e.Errors[actor]
	return Failure{
		Type:       FailureType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Actor:      actor,
		Class:      rec.Class,
		Reason:     rec.Reason,
		StatusCode: statusCode(e, actor),
		Event:      e,
	}
}

func statusCode(e *event.Event, actor string) int {
	v, err := e.Get("tmp." + actor + ".status_code")
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// FailureSink publishes failed events wrapped in a Failure envelope.
type FailureSink struct {
	Publisher Publisher
	Topic     string
	Actor     string
}

func (s *FailureSink) Submit(ctx context.Context, e *event.Event) error {
	b, err := json.Marshal(NewFailure(s.Actor, e))
	if err != nil {
		return fmt.Errorf("encode failure for %s: %w", e.ID, err)
	}
	return s.Publisher.Publish(ctx, s.Topic, b)
}

// ChannelSink hands events to an in-process channel.
type ChannelSink chan *event.Event

func (s ChannelSink) Submit(ctx context.Context, e *event.Event) error {
	select {
	case s <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
