package httpout

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/metrics"
	"github.com/austindbirch/httpout/internal/tracing"
)

// Journal persists the outcome of every consumed event.
type Journal interface {
	Record(ctx context.Context, actor string, e *event.Event, o Outcome) error
}

// Actor submits event payloads to a single HTTP endpoint.
type Actor struct {
	name    string
	cfg     Config
	client  *http.Client
	logger  *logging.Logger
	journal Journal
}

type Option func(*Actor)

func WithLogger(l *logging.Logger) Option {
	return func(a *Actor) { a.logger = l }
}

func WithJournal(j Journal) Option {
	return func(a *Actor) { a.journal = j }
}

// New validates cfg and builds the actor's HTTP client. The method is not
// validated here: it may be dynamic and is checked for every event.
func New(name string, cfg Config, opts ...Option) (*Actor, error) {
	if name == "" {
		return nil, fmt.Errorf("httpout: actor name is required")
	}
	if strings.Contains(name, ".") {
		return nil, fmt.Errorf("httpout: actor name %q must not contain '.'", name)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("httpout: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("httpout: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpout: unsupported url scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("httpout: timeout must be positive, got %s", cfg.Timeout)
	}

	a := &Actor{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logging.New("httpout"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.client = newClient(a.cfg)
	return a, nil
}

func newClient(cfg Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifySSL} // #nosec G402 -- verify_ssl=false is an explicit operator choice
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: tracing.HTTPTransport(tr),
	}
	if !cfg.AllowRedirects {
		client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func (a *Actor) Name() string {
	return a.name
}

// Consume delivers e, merges the outcome into tmp.<name> and returns the
// delivery failure, if any.
func (a *Actor) Consume(ctx context.Context, e *event.Event) error {
	ctx, span := tracing.StartSpan(ctx, "httpout.deliver",
		attribute.String("actor", a.name),
		attribute.String("event_id", e.ID),
		attribute.Bool("event.bulk", e.IsBulk()),
		attribute.String("http.url", a.cfg.URL),
	)
	defer span.End()

	out := a.Deliver(ctx, e)
	if err := out.Merge(e, a.name); err != nil {
		a.logger.WithContext(ctx).WithActor(a.name).WithEvent(e.ID).WithError(err).Error("could not store response on event")
	}

	span.SetAttributes(
		attribute.String("http.method", out.Method),
		attribute.Int("http.status_code", out.StatusCode),
		attribute.Int64("http.latency_ms", out.Latency.Milliseconds()),
	)
	a.record(ctx, e, out)

	if out.Err != nil {
		tracing.SetSpanError(ctx, out.Err)
		return out.Err
	}
	return nil
}

// Deliver performs one request for e without touching the event.
func (a *Actor) Deliver(ctx context.Context, e *event.Event) Outcome {
	out := Outcome{URL: a.cfg.URL}

	body, err := e.DumpFieldAsString(a.selection())
	if err != nil {
		out.Err = selectionError(a.selection(), err)
		return out
	}

	raw := a.cfg.Method(e)
	method, ok := resolveMethod(raw)
	if !ok {
		out.Method = raw
		out.Err = methodError(raw)
		return out
	}
	out.Method = method

	// GotConn fires once a connection is ready, so a timeout before it is a
	// connect timeout.
	var connected atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	})
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.URL, strings.NewReader(body))
	if err != nil {
		out.Err = &DeliveryError{Class: ClassConfiguration, Reason: err.Error(), Err: err}
		return out
	}
	req.Header = a.headers(e)
	if user, pass := a.cfg.Username(e), a.cfg.Password(e); user != "" && pass != "" {
		req.SetBasicAuth(user, pass)
	}

	tracing.AddSpanEvent(ctx, "http.send", attribute.Int("http.request.body.size", len(body)))
	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		out.Latency = time.Since(start)
		out.Err = transportError(err, a.cfg.Timeout, connected.Load())
		return out
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	out.Latency = time.Since(start)
	out.Responded = true
	out.StatusCode = resp.StatusCode
	out.Body = string(payload)

	if readErr != nil {
		de := transportError(readErr, a.cfg.Timeout, true)
		de.StatusCode = resp.StatusCode
		out.Err = de
		return out
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Err = statusError(resp.StatusCode, a.cfg.URL)
		return out
	}

	// non-JSON bodies are expected, the raw text stays in server_response
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err == nil {
		out.JSON = parsed
		out.HasJSON = true
	}
	return out
}

// selection is the path rendered as the body. Native events are submitted
// whole, bulk items each as their own event.
func (a *Actor) selection() string {
	if a.cfg.NativeEvent {
		return ""
	}
	return a.cfg.Selection
}

func resolveMethod(m string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case http.MethodPut:
		return http.MethodPut, true
	case http.MethodPost:
		return http.MethodPost, true
	}
	return "", false
}

// headers applies additional headers last so they win over Content-Type and
// Accept.
func (a *Actor) headers(e *event.Event) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", a.cfg.ContentType(e))
	h.Set("Accept", a.cfg.Accept(e))
	for k, v := range a.cfg.AdditionalHeaders(e) {
		h.Set(k, v)
	}
	return h
}

func (a *Actor) record(ctx context.Context, e *event.Event, out Outcome) {
	if out.Responded {
		metrics.RecordHTTPResponse(a.name, out.StatusCode)
	}

	entry := a.logger.WithContext(ctx).
		WithActor(a.name).
		WithEvent(e.ID).
		WithRequest(out.Method, out.URL).
		WithFields(map[string]any{
			"status_code": out.StatusCode,
			"latency_ms":  out.Latency.Milliseconds(),
		})
	if out.OK() {
		metrics.RecordDelivery(a.name, "delivered", out.Latency)
		entry.Debug("event delivered")
	} else {
		reason := classifyReason(out.Err)
		metrics.RecordDelivery(a.name, "failed", out.Latency)
		metrics.RecordFailure(a.name, reason)
		entry.WithField("reason", reason).WithError(out.Err).Warn("delivery failed")
	}

	if a.journal != nil {
		if err := a.journal.Record(ctx, a.name, e, out); err != nil {
			a.logger.WithContext(ctx).WithActor(a.name).WithEvent(e.ID).WithError(err).Error("journal write failed")
		}
	}
}
