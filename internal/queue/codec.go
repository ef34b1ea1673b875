// Package queue moves events between the actor and the outside world over
// NSQ, NATS or in-process channels.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/httpout/internal/event"
)

var ErrEmptyMessage = errors.New("queue: empty message")

// Decode turns a message body into an event. With native set the body must be
// a JSON event envelope; otherwise the body becomes the data of a new event,
// decoded first when it is valid JSON.
func Decode(body []byte, native bool) (*event.Event, error) {
	if len(body) == 0 {
		return nil, ErrEmptyMessage
	}
	if !native {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return event.New(string(body)), nil
		}
		return event.New(data), nil
	}

	var e event.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return &e, nil
}

// Encode renders e as a JSON event envelope.
func Encode(e *event.Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return b, nil
}
