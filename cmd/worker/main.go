package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/db"
	"github.com/austindbirch/httpout/internal/health"
	"github.com/austindbirch/httpout/internal/httpout"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/metrics"
	"github.com/austindbirch/httpout/internal/queue"
	"github.com/austindbirch/httpout/internal/runner"
	"github.com/austindbirch/httpout/internal/tracing"
)

// transport is a running inbox consumer.
type transport struct {
	connected func() bool
	// stop waits for in-flight events and reports whether it finished in time
	stop func(timeout time.Duration) bool
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("httpout-worker")
	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdown, err := tracing.InitTracing(ctx, "httpout-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	var (
		pinger health.Pinger
		opts   = []httpout.Option{httpout.WithLogger(logger)}
	)
	if cfg.DB.Enabled {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		journal := db.NewJournal(pool)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Plain().WithError(err).Fatal("journal schema setup failed")
		}
		pinger = pool
		opts = append(opts, httpout.WithJournal(journal))
	}

	actor, err := httpout.New(cfg.ActorName, httpout.ConfigFrom(cfg.HTTP), opts...)
	if err != nil {
		logger.Plain().WithError(err).Fatal("actor setup failed")
	}
	r := &runner.Runner{Consumer: actor, PoolSize: cfg.PoolSize, Logger: logger}

	var tr *transport
	switch cfg.Transport {
	case "nats":
		tr, err = startNATS(cfg, r, logger)
	default:
		tr, err = startNSQ(ctx, cfg, r, logger)
	}
	if err != nil {
		logger.Plain().WithError(err).Fatal("transport setup failed")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: newMux(reg, tr.connected, pinger)}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"actor":     cfg.ActorName,
		"transport": cfg.Transport,
		"pool_size": cfg.PoolSize,
		"url":       cfg.HTTP.URL,
	}).Info("worker service started")

	<-ctx.Done()

	logger.Plain().Info("Shutting down worker service")
	if !tr.stop(cfg.DrainTimeout) {
		logger.Plain().WithField("timeout", cfg.DrainTimeout.String()).Warn("drain timed out with events in flight")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}

func newMux(reg *prometheus.Registry, connected func() bool, pinger health.Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(connected, pinger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// eventSink returns nil for an empty topic so successful events are dropped.
func eventSink(pub queue.Publisher, topic string) runner.Sink {
	if topic == "" {
		return nil
	}
	return &queue.EventSink{Publisher: pub, Topic: topic}
}

func startNSQ(ctx context.Context, cfg config.Config, r *runner.Runner, logger *logging.Logger) (*transport, error) {
	pub, err := queue.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr)
	if err != nil {
		return nil, err
	}
	r.Outbox = eventSink(pub, cfg.NSQ.OutboxTopic)
	r.Failed = &queue.FailureSink{Publisher: pub, Topic: cfg.NSQ.FailedTopic, Actor: cfg.ActorName}

	src, err := queue.NewNSQSource(cfg.NSQ, cfg.PoolSize, cfg.EventEnvelope, r.Process, logger)
	if err != nil {
		pub.Stop()
		return nil, err
	}
	if err := src.Connect(); err != nil {
		pub.Stop()
		return nil, err
	}

	monitor := &queue.BacklogMonitor{
		NsqdHTTPAddr: cfg.NSQ.NsqdHTTPAddr,
		Topic:        cfg.NSQ.InboxTopic,
		Channel:      cfg.NSQ.Channel,
		Logger:       logging.New("httpout-backlog-monitor"),
	}
	go monitor.Run(ctx)

	return &transport{
		connected: src.Connected,
		stop: func(timeout time.Duration) bool {
			ok := src.Stop(timeout)
			pub.Stop()
			return ok
		},
	}, nil
}

func startNATS(cfg config.Config, r *runner.Runner, logger *logging.Logger) (*transport, error) {
	client, err := queue.NewNATSClient(cfg.NATS, cfg.AppName+"-"+cfg.ActorName, logger)
	if err != nil {
		return nil, err
	}
	r.Outbox = eventSink(client, cfg.NATS.OutboxSubject)
	r.Failed = &queue.FailureSink{Publisher: client, Topic: cfg.NATS.FailedSubject, Actor: cfg.ActorName}

	events, err := client.Subscribe(cfg.NATS.InboxSubject, cfg.NATS.QueueGroup, cfg.EventEnvelope, cfg.PoolSize)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("nats inbox: %w", err)
	}
	// workers outlive the signal context so in-flight events finish
	r.Start(context.Background(), events)

	return &transport{
		connected: client.Connected,
		stop: func(timeout time.Duration) bool {
			client.StopConsuming()
			ok := r.Drain(timeout)
			_ = client.Close()
			return ok
		},
	}, nil
}
