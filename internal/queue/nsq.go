package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/logging"
)

// requeueDelay applies when an event could not be routed after delivery.
const requeueDelay = 5 * time.Second

// HandleFunc processes one decoded event. A non-nil error means the event was
// not routed and the message should be retried.
type HandleFunc func(ctx context.Context, e *event.Event) error

// NSQPublisher publishes to a single nsqd.
type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(addr string) (*NSQPublisher, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &NSQPublisher{producer: p}, nil
}

func (p *NSQPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.producer.Publish(topic, body)
}

func (p *NSQPublisher) Ping() error {
	return p.producer.Ping()
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

// NSQSource consumes the inbox topic with poolSize concurrent handlers.
type NSQSource struct {
	consumer *nsq.Consumer
	cfg      config.NSQ
}

func NewNSQSource(cfg config.NSQ, poolSize int, native bool, handle HandleFunc, logger *logging.Logger) (*NSQSource, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	conf := nsq.NewConfig()
	conf.MaxInFlight = poolSize
	consumer, err := nsq.NewConsumer(cfg.InboxTopic, cfg.Channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.AddConcurrentHandlers(nsqHandler(native, handle, logger), poolSize)
	return &NSQSource{consumer: consumer, cfg: cfg}, nil
}

// Connect attaches to nsqd directly, which creates the channel eagerly, and to
// lookupd when one is configured.
func (s *NSQSource) Connect() error {
	if err := s.consumer.ConnectToNSQD(s.cfg.NsqdTCPAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	if s.cfg.LookupHTTPAddr != "" {
		if err := s.consumer.ConnectToNSQLookupd(s.cfg.LookupHTTPAddr); err != nil {
			return fmt.Errorf("connect to lookupd: %w", err)
		}
	}
	return nil
}

// Connected reports whether at least one nsqd connection is up.
func (s *NSQSource) Connected() bool {
	return s.consumer.Stats().Connections > 0
}

// Stop waits for in-flight handlers, bounded by timeout.
func (s *NSQSource) Stop(timeout time.Duration) bool {
	s.consumer.Stop()
	select {
	case <-s.consumer.StopChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

func nsqHandler(native bool, handle HandleFunc, logger *logging.Logger) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		m.DisableAutoResponse()
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()

		e, err := Decode(m.Body, native)
		if err != nil {
			logger.Plain().WithError(err).WithField("attempts", m.Attempts).Error("bad event payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		if err := handle(context.Background(), e); err != nil {
			logger.Plain().WithEvent(e.ID).WithError(err).Warn("requeue event")
			m.Requeue(requeueDelay)
			return nil
		}
		m.Finish()
		return nil
	}
}
