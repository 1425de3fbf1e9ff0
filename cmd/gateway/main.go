// Command gateway wires the dispatch core (internal/dispatch, internal/queue,
// internal/worker) to a concrete AWS SNS sink and starts the admin HTTP
// server. It is a reference wiring, not part of the core's contract: any
// producer embeds internal/dispatch directly and supplies its own event
// types (spec.md §1, §9 — explicit injection only, no auto-discovery).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/eventgateway/internal/config"
	"github.com/kenneth/eventgateway/internal/deadletter"
	"github.com/kenneth/eventgateway/internal/debug"
	"github.com/kenneth/eventgateway/internal/dispatch"
	"github.com/kenneth/eventgateway/internal/host"
	"github.com/kenneth/eventgateway/internal/metrics"
	"github.com/kenneth/eventgateway/internal/queue"
	"github.com/kenneth/eventgateway/internal/resilience"
	"github.com/kenneth/eventgateway/internal/snssink"
	"github.com/kenneth/eventgateway/internal/tracing"
	"github.com/kenneth/eventgateway/internal/worker"
	"github.com/kenneth/eventgateway/pkg/events"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the dispatch configuration file")
	adminAddr := flag.String("admin-addr", ":8080", "address the admin HTTP server listens on")
	tracingExporter := flag.String("tracing-exporter", "none", "none, stdout, or otlp")
	logLevel := flag.String("log-level", "info", "logrus level")
	flag.Parse()

	logger := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}
	debug.InitFromLogLevel(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *adminAddr, *tracingExporter); err != nil {
		logger.WithError(err).Fatal("gateway exited with error")
	}
}

func run(ctx context.Context, logger *logrus.Logger, configPath, adminAddr, tracingExporter string) error {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Current()

	tp, err := tracing.Setup(ctx, tracing.Config{Exporter: tracing.Exporter(tracingExporter), ServiceName: "eventgateway"})
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	sink, err := snssink.New(ctx, snssink.Config{
		Region:   snssink.ResolveRegion(cfg.Sink.Provider, cfg.Sink.Region),
		Endpoint: snssink.ResolveEndpoint(cfg.Sink.Provider, cfg.Sink.Endpoint),
	})
	if err != nil {
		return err
	}

	metricsReg := metrics.NewMetrics()
	collectorCtx, stopCollector := context.WithCancel(ctx)
	defer stopCollector()
	metricsReg.StartSystemMetricsCollector(collectorCtx)

	deadLetter, err := buildDeadLetterRecorder(cfg.DeadLetter, logger)
	if err != nil {
		logger.WithError(err).Warn("dead-letter recorder disabled")
		deadLetter = nil
	}

	raiser := dispatch.New(logger, metricsReg)

	hosts := make([]*host.Host, 0, 2)
	hosts = append(hosts, registerEventType[events.OrderCreated](raiser, "OrderCreated", cfg, sink, metricsReg, deadLetter, tp, logger)...)
	hosts = append(hosts, registerEventType[events.PaymentCaptured](raiser, "PaymentCaptured", cfg, sink, metricsReg, deadLetter, tp, logger)...)

	for _, h := range hosts {
		h.Start(ctx)
	}

	admin := host.NewAdminServer(adminAddr, nil, logger)
	admin.Start()

	loader.OnChange(func(updated *config.Config) {
		logger.Info("configuration reloaded; existing workers keep their original topic/retry settings until restart")
	})

	<-ctx.Done()
	logger.Info("shutdown signal received")

	admin.MarkDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), host.ShutdownDeadline+time.Second)
	defer cancel()

	for _, h := range hosts {
		h.Stop(shutdownCtx)
	}
	return admin.Stop(shutdownCtx)
}

// registerEventType wires one concrete event type's queue, channel
// registration, and worker, honoring per-type enablement and capacity from
// config. Returns the Host to start/stop it through. When the event type has
// no config section, is disabled by enabledEventTypePatterns, or its worker
// cannot be constructed, it logs the reason and returns nil: no channel is
// registered and no worker runs for that type.
func registerEventType[T any](
	raiser *dispatch.Raiser,
	name string,
	cfg *config.Config,
	sink snssink.Sink,
	metricsReg *metrics.Metrics,
	deadLetter *deadletter.Recorder,
	tp *tracing.Provider,
	logger *logrus.Logger,
) []*host.Host {
	typeCfg, configured := cfg.EventTypes[name]
	if !configured {
		logger.WithField("event_type", name).Warn("no configuration section for event type; skipping registration")
		return nil
	}
	if !cfg.IsEventTypeEnabled(name) {
		logger.WithField("event_type", name).Warn("event type disabled by enabledEventTypePatterns; skipping registration")
		return nil
	}

	capacity := queue.DefaultBoundedCapacity
	if typeCfg.UseBoundedCapacity && typeCfg.BoundedCapacity > 0 {
		capacity = typeCfg.BoundedCapacity
	} else if !typeCfg.UseBoundedCapacity {
		capacity = 0
	}

	q := queue.New[T](capacity)
	dispatch.RegisterChannel[T](raiser, q)

	maxRetries := typeCfg.ResolvedMaxRetryAttempts()

	var dl worker.DeadLetterRecorder
	if deadLetter != nil {
		dl = deadLetter
	}

	w, err := worker.New(worker.Config[T]{
		EventType:  name,
		Topic:      typeCfg.TopicID,
		Reader:     q.Reader(),
		Sink:       sink,
		Policy:     resilience.NewDefaultPolicy(maxRetries),
		Logger:     logger,
		Metrics:    metricsReg,
		DeadLetter: dl,
		Tracer:     tp.Tracer("eventgateway/worker"),
	})
	if err != nil {
		logger.WithError(err).WithField("event_type", name).Error("failed to construct worker; event type will not be published")
		return nil
	}

	return []*host.Host{host.New(name, w.Run, logger)}
}

func buildDeadLetterRecorder(cfg config.DeadLetterConfig, logger *logrus.Logger) (*deadletter.Recorder, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return deadletter.New(deadletter.Config{
		Client:     client,
		Logger:     logger,
		MaxEntries: cfg.MaxEntries,
	})
}

