package worker

import (
	"context"
	"time"
)

type noopMetrics struct{}

func (noopMetrics) ObserveQueueDepth(eventType string, depth int)                  {}
func (noopMetrics) ObserveBatchSize(eventType string, size int)                    {}
func (noopMetrics) RecordPublishOutcome(eventType string, successes, failures int) {}
func (noopMetrics) RecordPublishAttempt(eventType string, retried bool)            {}
func (noopMetrics) RecordPublishDuration(ctx context.Context, eventType, topic string, duration time.Duration) {
}
func (noopMetrics) RecordBatchDropped(eventType string) {}

type noopDeadLetter struct{}

func (noopDeadLetter) Record(ctx context.Context, eventType, topic string, failure DeadLetterEntry) {
}
