package httpout

import (
	"fmt"
	"time"

	"github.com/austindbirch/httpout/internal/event"
)

// Result field names under tmp.<actor>.
const (
	FieldServerResponse     = "server_response"
	FieldStatusCode         = "status_code"
	FieldServerResponseJSON = "server_response_json"
)

// Outcome is the result of one delivery attempt. It is returned by Deliver
// and merged into the event by the caller.
type Outcome struct {
	Method     string
	URL        string
	Responded  bool // a status line was received
	StatusCode int
	Body       string
	JSON       any
	HasJSON    bool
	Latency    time.Duration
	Err        error
}

// OK reports whether the delivery succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Merge writes the response fields to tmp.<actor>. Nothing is written when no
// response was received. A stale JSON field from an earlier pass is removed
// when this response carries none.
func (o Outcome) Merge(e *event.Event, actor string) error {
	if !o.Responded {
		return nil
	}
	prefix := "tmp." + actor + "."
	if err := e.Set(prefix+FieldServerResponse, o.Body); err != nil {
		return fmt.Errorf("merge outcome: %w", err)
	}
	if err := e.Set(prefix+FieldStatusCode, o.StatusCode); err != nil {
		return fmt.Errorf("merge outcome: %w", err)
	}
	if o.OK() && o.HasJSON {
		if err := e.Set(prefix+FieldServerResponseJSON, o.JSON); err != nil {
			return fmt.Errorf("merge outcome: %w", err)
		}
		return nil
	}
	e.Delete(prefix + FieldServerResponseJSON)
	return nil
}
