package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var (
	// defaultRegistry is the default Prometheus registry.
	defaultRegistry = prometheus.DefaultRegisterer
)

// Config holds metrics configuration.
type Config struct {
	// EnableTopicLabel controls whether the SNS topic ARN is attached as a
	// label on publish metrics. Disable in deployments with many
	// dynamically-provisioned topics to bound cardinality.
	EnableTopicLabel bool
}

// Metrics holds all application metrics and satisfies worker.Metrics for
// every Worker[T] instance started by the host.
type Metrics struct {
	config              Config
	queueDepth          *prometheus.GaugeVec
	batchSize           *prometheus.HistogramVec
	publishOutcomes     *prometheus.CounterVec
	publishAttempts     *prometheus.CounterVec
	publishDuration     *prometheus.HistogramVec
	batchesDropped      *prometheus.CounterVec
	raiseOutcomes       *prometheus.CounterVec
	goroutines          prometheus.Gauge
	memoryAllocBytes    prometheus.Gauge
	memorySysBytes      prometheus.Gauge
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableTopicLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom
// registry, to avoid metric registration conflicts between tests.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableTopicLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventgateway_queue_depth",
				Help: "Number of events currently buffered per event type",
			},
			[]string{"event_type"},
		),
		batchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventgateway_batch_size",
				Help:    "Number of events coalesced into a single publish batch",
				Buckets: []float64{1, 2, 3, 5, 8, 10},
			},
			[]string{"event_type"},
		),
		publishOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgateway_publish_entries_total",
				Help: "Total number of batch entries published, by outcome",
			},
			[]string{"event_type", "outcome"}, // outcome: "success" or "failure"
		),
		publishAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgateway_publish_batches_total",
				Help: "Total number of batch publish attempts, by whether a retry was needed",
			},
			[]string{"event_type", "retried"},
		),
		publishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventgateway_publish_duration_seconds",
				Help:    "Time spent publishing a single batch, including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type", "topic"},
		),
		batchesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgateway_batches_dropped_total",
				Help: "Total number of batches dropped after serialization failure or retry exhaustion",
			},
			[]string{"event_type"},
		),
		raiseOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventgateway_raise_total",
				Help: "Total number of RaiseEvent calls, by outcome",
			},
			[]string{"event_type", "outcome"}, // outcome: "queued", "no_channel", "null_argument", "misconfigured", "cancelled", "closed", "error"
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgateway_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgateway_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventgateway_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// ObserveQueueDepth records the current buffered depth for an event type's
// queue. Called once per drain-loop pass by worker.Worker[T].
func (m *Metrics) ObserveQueueDepth(eventType string, depth int) {
	m.queueDepth.WithLabelValues(eventType).Set(float64(depth))
}

// ObserveBatchSize records the number of events coalesced into one publish.
func (m *Metrics) ObserveBatchSize(eventType string, size int) {
	m.batchSize.WithLabelValues(eventType).Observe(float64(size))
}

// RecordPublishOutcome records per-entry publish results from one batch.
func (m *Metrics) RecordPublishOutcome(eventType string, successes, failures int) {
	if successes > 0 {
		m.publishOutcomes.WithLabelValues(eventType, "success").Add(float64(successes))
	}
	if failures > 0 {
		m.publishOutcomes.WithLabelValues(eventType, "failure").Add(float64(failures))
	}
}

// RecordPublishAttempt records that a batch publish attempt completed,
// tagged with whether it required at least one retry.
func (m *Metrics) RecordPublishAttempt(eventType string, retried bool) {
	label := "false"
	if retried {
		label = "true"
	}
	m.publishAttempts.WithLabelValues(eventType, label).Inc()
}

// RecordPublishDuration records the wall-clock time spent publishing a
// single batch, including time spent sleeping out retry backoffs. The topic
// label collapses to "*" when EnableTopicLabel is off, bounding cardinality
// in deployments with many dynamically-provisioned topics.
func (m *Metrics) RecordPublishDuration(ctx context.Context, eventType, topic string, duration time.Duration) {
	topicLabel := topic
	if !m.config.EnableTopicLabel {
		topicLabel = "*"
	}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if observer, ok := m.publishDuration.WithLabelValues(eventType, topicLabel).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
			return
		}
	}
	m.publishDuration.WithLabelValues(eventType, topicLabel).Observe(duration.Seconds())
}

// RecordBatchDropped records a batch dropped after serialization failure or
// retry exhaustion; the events it held are not recoverable once this fires.
func (m *Metrics) RecordBatchDropped(eventType string) {
	m.batchesDropped.WithLabelValues(eventType).Inc()
}

// RecordRaise records the outcome of one RaiseEvent/RaiseEvents call from
// dispatch.Raiser.
func (m *Metrics) RecordRaise(eventType, outcome string) {
	m.raiseOutcomes.WithLabelValues(eventType, outcome).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates
// system metrics until ctx is done.
func (m *Metrics) StartSystemMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts a trace ID from context and returns prometheus Labels
// for exemplar attachment, linking a metric sample back to the OTel span
// that produced it.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
