package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/logging"
)

// NATSClient publishes to and consumes from a NATS server.
type NATSClient struct {
	conn   *nats.Conn
	logger *logging.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
	done chan struct{}
	once sync.Once
}

func NewNATSClient(cfg config.NATS, name string, logger *logging.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Plain().WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Plain().WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSClient{conn: conn, logger: logger, done: make(chan struct{})}, nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, body)
}

func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Subscribe joins the queue group on subject and returns decoded events. The
// channel is closed by StopConsuming.
func (c *NATSClient) Subscribe(subject, group string, native bool, buffer int) (<-chan *event.Event, error) {
	if buffer < 1 {
		buffer = 1
	}
	msgs := make(chan *nats.Msg, buffer)
	sub, err := c.conn.ChanQueueSubscribe(subject, group, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	out := make(chan *event.Event)
	go forward(msgs, out, c.done, native, c.logger)
	return out, nil
}

// forward decodes messages until done is closed. Bad payloads are dropped.
func forward(msgs <-chan *nats.Msg, out chan<- *event.Event, done <-chan struct{}, native bool, logger *logging.Logger) {
	defer close(out)
	for {
		select {
		case <-done:
			return
		case m := <-msgs:
			e, err := Decode(m.Data, native)
			if err != nil {
				logger.Plain().WithError(err).WithField("subject", m.Subject).Error("bad event payload")
				continue
			}
			select {
			case out <- e:
			case <-done:
				return
			}
		}
	}
}

// StopConsuming drains subscriptions and closes the event channels returned by
// Subscribe. Publishing keeps working until Close.
func (c *NATSClient) StopConsuming() {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// Close stops consuming and drains the connection.
func (c *NATSClient) Close() error {
	c.StopConsuming()
	return c.conn.Drain()
}
