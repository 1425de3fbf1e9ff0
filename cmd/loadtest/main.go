// Command loadtest drives synthetic events through a Raiser at a configured
// rate, to exercise backpressure and batch coalescing under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/eventgateway/internal/dispatch"
	"github.com/kenneth/eventgateway/internal/queue"
	"github.com/kenneth/eventgateway/internal/resilience"
	"github.com/kenneth/eventgateway/internal/snssink"
	"github.com/kenneth/eventgateway/internal/worker"
	"github.com/kenneth/eventgateway/pkg/events"
)

func main() {
	var (
		duration     = flag.Duration("duration", 30*time.Second, "Load test duration")
		producers    = flag.Int("producers", 8, "Number of concurrent producer goroutines")
		eventsPerSec = flag.Int("events-per-sec", 500, "Target aggregate RaiseEvent rate")
		queueDepth   = flag.Int("queue-depth", 1000, "Bounded queue capacity, to observe backpressure once exceeded")
		topic        = flag.String("topic", "arn:aws:sns:us-east-1:000000000000:loadtest", "SNS topic ARN (or LocalStack equivalent)")
		endpoint     = flag.String("endpoint", "http://localhost:4566", "SNS endpoint override, e.g. LocalStack")
		provider     = flag.String("provider", "localstack", "Endpoint provider: aws or localstack")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, stopping load test")
		cancel()
	}()

	sinkCfg := snssink.Config{
		Region:   snssink.ResolveRegion(*provider, ""),
		Endpoint: snssink.ResolveEndpoint(*provider, *endpoint),
	}
	sink, err := snssink.New(ctx, sinkCfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct SNS sink")
	}

	q := queue.New[events.OrderCreated](*queueDepth)
	w, err := worker.New(worker.Config[events.OrderCreated]{
		EventType: "OrderCreated",
		Topic:     *topic,
		Reader:    q.Reader(),
		Sink:      sink,
		Policy:    resilience.NewDefaultPolicy(3),
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to construct worker")
	}

	raiser := dispatch.New(logger, nil)
	dispatch.RegisterChannel[events.OrderCreated](raiser, q)

	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(ctx) }()

	var raised, rejected, cancelled atomic.Int64
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)
	perProducerInterval := time.Duration(int64(time.Second) * int64(*producers) / int64(max(*eventsPerSec, 1)))

	logger.WithFields(logrus.Fields{
		"producers":        *producers,
		"events_per_sec":   *eventsPerSec,
		"queue_depth":      *queueDepth,
		"duration":         *duration,
		"per_producer_gap": perProducerInterval,
	}).Info("starting load test")

	for i := 0; i < *producers; i++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			ticker := time.NewTicker(perProducerInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if time.Now().After(deadline) {
						return
					}
					event := events.OrderCreated{
						OrderID:   uuid.NewString(),
						CreatedAt: time.Now().UTC(),
						Total:     1999,
						Currency:  "USD",
					}
					ok, err := dispatch.RaiseEvent(ctx, raiser, event)
					switch {
					case err != nil:
						rejected.Add(1)
						logger.WithError(err).Warn("raise failed")
					case !ok && ctx.Err() != nil:
						cancelled.Add(1)
					case !ok:
						rejected.Add(1)
					default:
						raised.Add(1)
					}
				}
			}
		}(i)
	}

	wg.Wait()
	q.Close()

	select {
	case err := <-workerDone:
		if err != nil {
			logger.WithError(err).Error("worker returned an error")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("worker did not drain within 5s shutdown deadline")
	}

	fmt.Println("=== Load Test Complete ===")
	fmt.Printf("Raised:    %d\n", raised.Load())
	fmt.Printf("Rejected:  %d\n", rejected.Load())
	fmt.Printf("Cancelled: %d\n", cancelled.Load())
}
