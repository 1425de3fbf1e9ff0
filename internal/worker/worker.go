// Package worker implements the long-lived per-event-type drain loop: it
// reads from a Queue[T], coalesces events into batches of up to 10,
// serializes each to JSON, publishes the batch to a Sink with retries, and
// logs partial failures. See spec.md §4.3.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/eventgateway/internal/queue"
	"github.com/kenneth/eventgateway/internal/resilience"
	"github.com/kenneth/eventgateway/internal/snssink"
)

// BatchCapacity is the maximum number of events coalesced into one publish
// call, fixed by the sink contract (spec.md §6: SNS accepts at most 10
// entries per PublishBatch).
const BatchCapacity = snssink.MaxBatchSize

// Metrics is the narrow slice of observability the worker needs. Production
// wiring satisfies it with internal/metrics.Metrics; tests use a no-op or
// recording stub.
type Metrics interface {
	ObserveQueueDepth(eventType string, depth int)
	ObserveBatchSize(eventType string, size int)
	RecordPublishOutcome(eventType string, successes, failures int)
	RecordPublishAttempt(eventType string, retried bool)
	RecordPublishDuration(ctx context.Context, eventType, topic string, duration time.Duration)
	RecordBatchDropped(eventType string)
}

// DeadLetterRecorder captures permanently-failed batch entries for operator
// visibility. It must never block or fail the publish path: implementations
// swallow their own errors. Production wiring satisfies it with
// internal/deadletter.Recorder; tests use a no-op or recording stub.
type DeadLetterRecorder interface {
	Record(ctx context.Context, eventType, topic string, failure DeadLetterEntry)
}

// DeadLetterEntry is one permanently-failed or rejected batch entry.
type DeadLetterEntry struct {
	BatchLocalID string
	Code         string
	Message      string
	Payload      string
	OccurredAt   time.Time
}

// Config constructs a Worker[T].
type Config[T any] struct {
	EventType  string // human-readable label for logs/metrics, e.g. "OrderCreated"
	Topic      string
	Reader     *queue.Reader[T]
	Sink       snssink.Sink
	Policy     resilience.Policy  // nil selects resilience.NewDefaultPolicy(3)
	Logger     *logrus.Logger
	Metrics    Metrics            // nil selects a no-op
	DeadLetter DeadLetterRecorder // nil selects a no-op
	Tracer     trace.Tracer       // nil selects trace.NewNoopTracerProvider().Tracer("")
}

// Worker drains Queue[T], coalesces events into batches, and publishes them.
// One Worker instance corresponds to one concrete event type.
type Worker[T any] struct {
	eventType string
	topic     string
	reader    *queue.Reader[T]
	sink      snssink.Sink
	policy    resilience.Policy
	logger    *logrus.Entry
	metrics   Metrics
	deadLtr   DeadLetterRecorder
	tracer    trace.Tracer
}

// New constructs a Worker[T]. It returns ErrNullArgument if reader, topic or
// sink is missing — these are fatal misconfiguration at construction time,
// per spec.md §7.
func New[T any](cfg Config[T]) (*Worker[T], error) {
	if cfg.Reader == nil || cfg.Topic == "" || cfg.Sink == nil {
		return nil, ErrNullArgument
	}

	policy := cfg.Policy
	if policy == nil {
		policy = resilience.NewDefaultPolicy(3)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	dl := cfg.DeadLetter
	if dl == nil {
		dl = noopDeadLetter{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("")
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = cfg.Topic
	}

	return &Worker[T]{
		eventType: eventType,
		topic:     cfg.Topic,
		reader:    cfg.Reader,
		sink:      cfg.Sink,
		policy:    policy,
		logger:    logger.WithField("event_type", eventType),
		metrics:   metrics,
		deadLtr:   dl,
		tracer:    tracer,
	}, nil
}

// Run executes the drain loop until the queue reaches end-of-stream, ctx is
// cancelled, or an unrecoverable loop error occurs. It is meant to be
// launched as a single long-lived background task by the host (spec.md
// §4.4); Run blocks until one of those three conditions holds.
func (w *Worker[T]) Run(ctx context.Context) error {
	buf := make([]T, 0, BatchCapacity)

	for {
		ok, err := w.reader.WaitToRead(ctx)
		if err != nil {
			// Cancelled: expected during shutdown, logged at info level, not
			// as an error. Any events still in buf are not guaranteed to be
			// published — see spec.md §9's post-drain-flush asymmetry.
			w.logger.WithError(err).Info("drain loop cancelled")
			return nil
		}
		if !ok {
			// End-of-stream: queue closed and fully drained.
			if len(buf) > 0 {
				w.flush(ctx, buf)
				buf = buf[:0]
			}
			w.logger.Info("queue closed and drained; worker stopping")
			return nil
		}

		for {
			item, gotItem := w.reader.TryRead()
			if !gotItem {
				break
			}
			buf = append(buf, item)

			if len(buf) == BatchCapacity || !w.reader.TryPeek() {
				w.flush(ctx, buf)
				buf = buf[:0]
			}
		}

		w.metrics.ObserveQueueDepth(w.eventType, w.reader.Len())
	}
}

// flush publishes buf as a single batch and clears it. Any error is absorbed
// here: producers are decoupled from publish outcomes (spec.md §7).
func (w *Worker[T]) flush(ctx context.Context, buf []T) {
	w.metrics.ObserveBatchSize(w.eventType, len(buf))

	entries, serializeErr := w.serialize(buf)
	if serializeErr != nil {
		w.logger.WithError(serializeErr).Error("failed to serialize batch; dropping")
		w.metrics.RecordBatchDropped(w.eventType)
		return
	}

	ctx, span := w.tracer.Start(ctx, "worker.publish_batch",
		trace.WithAttributes(
			attribute.String("messaging.destination", w.topic),
			attribute.Int("messaging.batch.message_count", len(entries)),
		),
	)
	defer span.End()

	start := time.Now()
	retried := false
	err := resilience.RunWithRetry(ctx, w.policy, func(attempt int, delay time.Duration, cause error) {
		retried = true
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		))
		w.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"cause":    cause,
		}).Warn("retrying batch publish")
	}, func(ctx context.Context) (innerErr error) {
		var res snssink.Result
		res, innerErr = w.sink.PublishBatch(ctx, w.topic, entries)
		if innerErr == nil {
			w.handleResult(ctx, entries, res)
		}
		return innerErr
	})
	w.metrics.RecordPublishAttempt(w.eventType, retried)
	w.metrics.RecordPublishDuration(ctx, w.eventType, w.topic, time.Since(start))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		w.logger.WithError(err).Error("failed to publish batch; batch dropped")
		w.metrics.RecordBatchDropped(w.eventType)
		for _, e := range entries {
			w.deadLtr.Record(ctx, w.eventType, w.topic, DeadLetterEntry{
				BatchLocalID: e.ID,
				Message:      err.Error(),
				Payload:      e.Message,
				OccurredAt:   time.Now(),
			})
		}
		return
	}
}

// handleResult logs and records per-entry outcomes from a successful
// PublishBatch call. Failed entries are never re-enqueued: the error log
// (and dead-letter record) is the contract for at-least-once-with-best-effort
// delivery (spec.md §4.3.2, §7).
func (w *Worker[T]) handleResult(ctx context.Context, entries []snssink.Entry, res snssink.Result) {
	if len(res.Successful) > 0 {
		w.logger.WithField("count", len(res.Successful)).Debugf("successfully published %d entries", len(res.Successful))
	}

	byID := make(map[string]snssink.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	for _, f := range res.Failed {
		w.logger.WithFields(logrus.Fields{
			"id":      f.ID,
			"code":    f.Code,
			"message": f.Message,
		}).Error("batch entry failed to publish")

		w.deadLtr.Record(ctx, w.eventType, w.topic, DeadLetterEntry{
			BatchLocalID: f.ID,
			Code:         f.Code,
			Message:      f.Message,
			Payload:      byID[f.ID].Message,
			OccurredAt:   time.Now(),
		})
	}

	w.metrics.RecordPublishOutcome(w.eventType, len(res.Successful), len(res.Failed))
}

// serialize builds one sink entry per event, with batch-local ids "0".."9".
// A single marshal failure fails the entire batch.
func (w *Worker[T]) serialize(buf []T) ([]snssink.Entry, error) {
	entries := make([]snssink.Entry, len(buf))
	for i, item := range buf {
		body, err := marshal(item)
		if err != nil {
			return nil, &errSerialization{cause: err}
		}
		entries[i] = snssink.Entry{ID: strconv.Itoa(i), Message: body}
	}
	return entries, nil
}

func marshal(v any) (string, error) {
	buf := getScratchBuffer()
	defer putScratchBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return trimTrailingNewline(buf), nil
}

func trimTrailingNewline(buf *bytes.Buffer) string {
	b := buf.Bytes()
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return string(b)
}

