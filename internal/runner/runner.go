// Package runner drives a consumer over a stream of events and routes each
// event to the outbox or failed sink depending on the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/metrics"
	"github.com/austindbirch/httpout/internal/tracing"
)

// Consumer processes one event and reports a failure as an error.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, e *event.Event) error
}

// Sink receives routed events.
type Sink interface {
	Submit(ctx context.Context, e *event.Event) error
}

// classed errors carry the failure class stored on the event.
type classed interface {
	ErrorClass() string
}

const unknownClass = "unknown"

// Runner owns a bounded pool of workers. Process can also be called directly
// by transports that bring their own concurrency.
type Runner struct {
	Consumer Consumer
	Outbox   Sink
	Failed   Sink
	PoolSize int
	Logger   *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Process consumes e, records a failure on it and hands it to the matching
// sink. The consumer runs detached from ctx cancellation so an in-flight
// request finishes during shutdown. The returned error is a routing error;
// consumer failures are routed, not returned.
func (r *Runner) Process(ctx context.Context, e *event.Event) error {
	name := r.Consumer.Name()
	ctx = tracing.ExtractTrace(ctx, e.Trace)
	ctx, span := tracing.StartSpan(ctx, "runner.process",
		attribute.String("actor", name),
		attribute.String("event_id", e.ID),
	)
	defer span.End()

	metrics.WorkerBusy(name)
	defer metrics.WorkerIdle(name)

	work := context.WithoutCancel(ctx)
	sink, route := r.Outbox, "outbox"
	if err := r.Consumer.Consume(work, e); err != nil {
		class := unknownClass
		var c classed
		if errors.As(err, &c) {
			class = c.ErrorClass()
		}
		e.SetError(name, class, err.Error())
		sink, route = r.Failed, "failed"
	}

	if headers := tracing.InjectTrace(work); len(headers) > 0 {
		e.Trace = headers
	}
	if sink == nil {
		return nil
	}
	if err := sink.Submit(work, e); err != nil {
		tracing.SetSpanError(work, err)
		r.logger().WithContext(work).
			WithActor(name).
			WithEvent(e.ID).
			WithField("route", route).
			WithError(err).
			Error("failed to route event")
		return fmt.Errorf("route event %s to %s: %w", e.ID, route, err)
	}
	return nil
}

// Start spawns PoolSize workers reading from inbox. Workers exit when inbox is
// closed or Drain is called. Call Drain to wait for them.
func (r *Runner) Start(ctx context.Context, inbox <-chan *event.Event) {
	size := r.PoolSize
	if size <= 0 {
		size = 1
	}
	r.stopCh = make(chan struct{})
	for i := 0; i < size; i++ {
		r.wg.Add(1)
		go r.work(ctx, inbox)
	}
}

func (r *Runner) work(ctx context.Context, inbox <-chan *event.Event) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case e, ok := <-inbox:
			if !ok {
				return
			}
			// routing errors are already logged by Process
			_ = r.Process(ctx, e)
		}
	}
}

// Drain stops workers from taking new events and waits for in-flight events
// to finish. It reports whether all workers exited before timeout.
func (r *Runner) Drain(timeout time.Duration) bool {
	if r.stopCh == nil {
		return true
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *Runner) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.New("httpout")
	}
	return r.Logger
}
