// Package deadletter records permanently-failed or rejected batch entries to
// Redis for operator visibility. This is strictly a diagnostic log, not a
// redelivery queue: the system's at-least-once-with-best-effort contract
// (spec.md §7, Non-goals) never replays a recorded entry back into a Queue.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/eventgateway/internal/worker"
)

// keyPrefix namespaces dead-letter entries in the shared Redis keyspace.
const keyPrefix = "eventgateway:deadletter:"

// Recorder persists DeadLetterEntry records to a Redis list per event type,
// capped at maxEntries (oldest trimmed first) and expiring after ttl. It
// satisfies worker.DeadLetterRecorder.
type Recorder struct {
	client     *redis.Client
	logger     *logrus.Entry
	maxEntries int64
	ttl        time.Duration
}

// Config constructs a Recorder. A zero MaxEntries defaults to 1000; a zero
// TTL defaults to 7 days.
type Config struct {
	Client     *redis.Client
	Logger     *logrus.Logger
	MaxEntries int64
	TTL        time.Duration
}

// New constructs a Recorder from an existing *redis.Client. Callers
// typically build the client with redis.ParseURL against the configured
// dead-letter Redis URL (see internal/config), the same way
// Sergey-Bar-Alfred's gateway redisclient package does.
func New(cfg Config) (*Recorder, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("deadletter: redis client is required")
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		client:     cfg.Client,
		logger:     logger.WithField("component", "deadletter"),
		maxEntries: maxEntries,
		ttl:        ttl,
	}, nil
}

// record is the JSON shape persisted to Redis; it carries the identifying
// context (event type, topic) that worker.DeadLetterEntry itself omits.
type record struct {
	EventType    string    `json:"event_type"`
	Topic        string    `json:"topic"`
	BatchLocalID string    `json:"batch_local_id"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	Payload      string    `json:"payload"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Record appends failure to the event type's Redis list, trims it to
// maxEntries, and refreshes its TTL. It never returns an error to the
// caller: a failure here degrades observability, not delivery, and must
// never slow or block the worker's publish path (worker.DeadLetterRecorder's
// contract). Failures are logged instead.
func (r *Recorder) Record(ctx context.Context, eventType, topic string, failure worker.DeadLetterEntry) {
	entry := record{
		EventType:    eventType,
		Topic:        topic,
		BatchLocalID: failure.BatchLocalID,
		Code:         failure.Code,
		Message:      failure.Message,
		Payload:      failure.Payload,
		OccurredAt:   failure.OccurredAt,
	}

	body, err := json.Marshal(entry)
	if err != nil {
		r.logger.WithError(err).Error("failed to marshal dead-letter entry")
		return
	}

	key := keyPrefix + eventType
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, body)
	pipe.LTrim(ctx, key, 0, r.maxEntries-1)
	pipe.Expire(ctx, key, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"code":       failure.Code,
		}).Error("failed to record dead-letter entry")
	}
}

// Recent returns up to limit of the most recently recorded entries for an
// event type, newest first.
func (r *Recorder) Recent(ctx context.Context, eventType string, limit int64) ([]worker.DeadLetterEntry, error) {
	key := keyPrefix + eventType
	raw, err := r.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: listing entries for %s: %w", eventType, err)
	}

	entries := make([]worker.DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var rec record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.logger.WithError(err).Warn("skipping malformed dead-letter record")
			continue
		}
		entries = append(entries, worker.DeadLetterEntry{
			BatchLocalID: rec.BatchLocalID,
			Code:         rec.Code,
			Message:      rec.Message,
			Payload:      rec.Payload,
			OccurredAt:   rec.OccurredAt,
		})
	}
	return entries, nil
}
