package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/metrics"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		native   bool
		wantData any
		wantID   string
		wantErr  bool
	}{
		{name: "raw text", body: "hello", wantData: "hello"},
		{name: "raw json", body: `{"a":1}`, wantData: map[string]any{"a": float64(1)}},
		{name: "native envelope", body: `{"id":"e1","data":"payload"}`, native: true, wantData: "payload", wantID: "e1"},
		{name: "native without id", body: `{"data":[1]}`, native: true, wantData: []any{float64(1)}},
		{name: "native garbage", body: "not json", native: true, wantErr: true},
		{name: "empty", body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode([]byte(tt.body), tt.native)
			if tt.wantErr {
				if err == nil {
					t.Error("Decode() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if fmt.Sprint(e.Data) != fmt.Sprint(tt.wantData) {
				t.Errorf("Data = %#v, want %#v", e.Data, tt.wantData)
			}
			if e.ID == "" || (tt.wantID != "" && e.ID != tt.wantID) {
				t.Errorf("ID = %q, want %q", e.ID, tt.wantID)
			}
			if e.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestEncodeDecodeKeepsResults(t *testing.T) {
	e := event.New("x")
	_ = e.Set("tmp.http.status_code", 200)
	e.SetError("other", "transport", "boom")

	b, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	got, err := Decode(b, true)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}
	if v, _ := got.Get("tmp.http.status_code"); v != float64(200) {
		t.Errorf("status_code = %v, want 200", v)
	}
	if got.Errors["other"].Reason != "boom" {
		t.Errorf("errors = %+v", got.Errors)
	}
}

type memoryPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (p *memoryPublisher) Publish(_ context.Context, topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = map[string][][]byte{}
	}
	p.messages[topic] = append(p.messages[topic], body)
	return nil
}

func TestEventSink(t *testing.T) {
	pub := &memoryPublisher{}
	sink := &EventSink{Publisher: pub, Topic: "events_delivered"}

	e := event.New("x")
	if err := sink.Submit(context.Background(), e); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	msgs := pub.messages["events_delivered"]
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var got event.Event
	if err := json.Unmarshal(msgs[0], &got); err != nil || got.ID != e.ID {
		t.Errorf("published %s (err %v)", msgs[0], err)
	}
}

func TestFailureSink(t *testing.T) {
	pub := &memoryPublisher{}
	sink := &FailureSink{Publisher: pub, Topic: "events_failed", Actor: "http"}

	e := event.New("x")
	_ = e.Set("tmp.http.status_code", 503)
	e.SetError("http", "http_status", "503 Server Error: Service Unavailable for url: http://x")

	if err := sink.Submit(context.Background(), e); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	var f Failure
	if err := json.Unmarshal(pub.messages["events_failed"][0], &f); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if f.Type != FailureType || f.Version != "v1" || f.Actor != "http" {
		t.Errorf("envelope = %+v", f)
	}
	if f.Class != "http_status" || f.StatusCode != 503 || !strings.HasPrefix(f.Reason, "503") {
		t.Errorf("failure = %+v", f)
	}
	if f.Event == nil || f.Event.ID != e.ID {
		t.Errorf("event snapshot = %+v", f.Event)
	}
	if _, err := time.Parse(time.RFC3339Nano, f.At); err != nil {
		t.Errorf("At = %q: %v", f.At, err)
	}
}

func TestFailureSink_NoResponse(t *testing.T) {
	e := event.New("x")
	e.SetError("http", "transport", "Read timed out.")
	if f := NewFailure("http", e); f.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", f.StatusCode)
	}
}

func TestChannelSink(t *testing.T) {
	ch := make(ChannelSink, 1)
	e := event.New("x")
	if err := ch.Submit(context.Background(), e); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if got := <-ch; got != e {
		t.Error("received a different event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full := make(ChannelSink)
	if err := full.Submit(ctx, e); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit() on cancelled ctx = %v, want context.Canceled", err)
	}
}

// fakeDelegate records how a message was answered.
type fakeDelegate struct {
	finished bool
	requeued bool
	delay    time.Duration
}

func (d *fakeDelegate) OnFinish(*nsq.Message) { d.finished = true }
func (d *fakeDelegate) OnRequeue(_ *nsq.Message, delay time.Duration, _ bool) {
	d.requeued = true
	d.delay = delay
}
func (d *fakeDelegate) OnTouch(*nsq.Message) {}

func newMessage(body string) (*nsq.Message, *fakeDelegate) {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, []byte(body))
	d := &fakeDelegate{}
	m.Delegate = d
	return m, d
}

func TestNSQHandler(t *testing.T) {
	t.Run("finishes routed events", func(t *testing.T) {
		var got *event.Event
		h := nsqHandler(false, func(_ context.Context, e *event.Event) error {
			got = e
			return nil
		}, logging.Discard())

		m, d := newMessage(`{"a":1}`)
		if err := h.HandleMessage(m); err != nil {
			t.Fatalf("HandleMessage() error: %v", err)
		}
		if !d.finished || d.requeued {
			t.Errorf("finished/requeued = %v/%v, want true/false", d.finished, d.requeued)
		}
		if got == nil || fmt.Sprint(got.Data) != "map[a:1]" {
			t.Errorf("handled event = %+v", got)
		}
	})

	t.Run("requeues when routing fails", func(t *testing.T) {
		h := nsqHandler(false, func(context.Context, *event.Event) error {
			return errors.New("outbox unavailable")
		}, logging.Discard())

		m, d := newMessage("x")
		_ = h.HandleMessage(m)
		if !d.requeued || d.delay != requeueDelay {
			t.Errorf("requeued = %v delay = %v", d.requeued, d.delay)
		}
	})

	t.Run("drops bad native payloads", func(t *testing.T) {
		called := false
		h := nsqHandler(true, func(context.Context, *event.Event) error {
			called = true
			return nil
		}, logging.Discard())

		m, d := newMessage("{broken")
		_ = h.HandleMessage(m)
		if called {
			t.Error("handler called for a bad payload")
		}
		if !d.finished {
			t.Error("bad payload not finished")
		}
	})
}

func TestForward(t *testing.T) {
	msgs := make(chan *nats.Msg, 3)
	out := make(chan *event.Event)
	done := make(chan struct{})
	go forward(msgs, out, done, true, logging.Discard())

	msgs <- &nats.Msg{Subject: "events", Data: []byte(`{"id":"a","data":1}`)}
	msgs <- &nats.Msg{Subject: "events", Data: []byte("garbage")}
	msgs <- &nats.Msg{Subject: "events", Data: []byte(`{"id":"b","data":2}`)}

	var ids []string
	for i := 0; i < 2; i++ {
		select {
		case e := <-out:
			ids = append(ids, e.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}

	close(done)
	select {
	case _, ok := <-out:
		if ok {
			t.Error("unexpected event after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("out not closed after done")
	}
}

func TestBacklogMonitor_Poll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"topics":[
			{"topic_name":"other","channels":[{"channel_name":"httpout","depth":99}]},
			{"topic_name":"events","channels":[
				{"channel_name":"archive","depth":7},
				{"channel_name":"httpout","depth":42}
			]}
		]}`))
	}))
	defer srv.Close()

	m := &BacklogMonitor{
		NsqdHTTPAddr: strings.TrimPrefix(srv.URL, "http://"),
		Topic:        "events",
		Channel:      "httpout",
	}
	depth, err := m.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if depth != 42 {
		t.Errorf("depth = %d, want 42", depth)
	}
	if got := testutil.ToFloat64(metrics.InboxBacklog.WithLabelValues("events", "httpout")); got != 42 {
		t.Errorf("gauge = %v, want 42", got)
	}
}

func TestBacklogMonitor_PollErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{name: "invalid json", handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			m := &BacklogMonitor{NsqdHTTPAddr: strings.TrimPrefix(srv.URL, "http://"), Topic: "events", Channel: "httpout"}
			if _, err := m.Poll(context.Background()); err == nil {
				t.Error("Poll() expected error")
			}
		})
	}
}
