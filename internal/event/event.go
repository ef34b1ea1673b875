package event

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDelimiter joins the items of a bulk event when they are dumped as text.
const DefaultDelimiter = "\n"

// Event is the unit of data flowing between queues. Data holds the payload,
// Tmp holds per-actor results and Errors holds per-actor failure records.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      any                    `json:"data"`
	Tmp       map[string]any         `json:"tmp,omitempty"`
	Errors    map[string]ErrorRecord `json:"errors,omitempty"`
	Trace     map[string]string      `json:"trace_headers,omitempty"` // OTel trace propagation headers

	// Items is non-nil for bulk events.
	Items     []*Event `json:"items,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
}

// ErrorRecord describes why an actor failed to process an event.
type ErrorRecord struct {
	Actor  string `json:"actor"`
	Class  string `json:"class"`
	Reason string `json:"reason"`
	At     string `json:"at"` // RFC3339
}

// New creates an event carrying data.
func New(data any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// NewBulk wraps items into a single bulk event. An empty delimiter falls back
// to DefaultDelimiter.
func NewBulk(items []*Event, delimiter string) *Event {
	if items == nil {
		items = []*Event{}
	}
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Items:     items,
		Delimiter: delimiter,
	}
}

// IsBulk reports whether e wraps multiple items.
func (e *Event) IsBulk() bool {
	return e.Items != nil
}

// SetError stores a failure record for actor.
func (e *Event) SetError(actor, class, reason string) {
	if e.Errors == nil {
		e.Errors = make(map[string]ErrorRecord)
	}
	e.Errors[actor] = ErrorRecord{
		Actor:  actor,
		Class:  class,
		Reason: reason,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Map returns the event as a generic map, the shape used when the whole event
// is selected.
func (e *Event) Map() map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"data":      e.Data,
	}
	if len(e.Tmp) > 0 {
		m["tmp"] = e.Tmp
	}
	if len(e.Errors) > 0 {
		m["errors"] = e.errorsMap()
	}
	if e.IsBulk() {
		items := make([]any, 0, len(e.Items))
		for _, it := range e.Items {
			items = append(items, it.Map())
		}
		m["items"] = items
	}
	return m
}

func (e *Event) errorsMap() map[string]any {
	out := make(map[string]any, len(e.Errors))
	for k, r := range e.Errors {
		out[k] = map[string]any{
			"actor":  r.Actor,
			"class":  r.Class,
			"reason": r.Reason,
			"at":     r.At,
		}
	}
	return out
}
