// Package dispatch implements the Raiser: the directory mapping an event
// type to its queue, and the producer-facing entry point for publishing
// typed events into the dispatch core.
package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/eventgateway/internal/queue"
)

// ErrNullArgument is returned when a required argument is absent. It is the
// only error a producer should ever see returned directly from RaiseEvent/
// RaiseEvents; all other misconfiguration is surfaced through logs and a
// false return, never a panic or error, so a missing channel never takes
// down a producer.
var ErrNullArgument = errors.New("dispatch: required argument is nil")

// writer is the erased, type-carrying handle the directory stores for each
// registered channel. It is implemented by *typedWriter[T].
type writer interface {
	eventType() reflect.Type
}

type typedWriter[T any] struct {
	q *queue.Queue[T]
}

func (w *typedWriter[T]) eventType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Metrics is the narrow observability the Raiser needs. Production wiring
// satisfies it with internal/metrics.Metrics; a nil Metrics disables
// instrumentation rather than panicking, matching worker.Metrics's contract.
type Metrics interface {
	RecordRaise(eventType, outcome string)
}

// Raiser routes a typed event, or a sequence of them, to the queue
// registered for that type. It never crashes a producer: a miswired or
// unregistered event type is a logged warning/error and a false return, not
// a panic.
type Raiser struct {
	logger  *logrus.Logger
	metrics Metrics

	mu       sync.RWMutex
	channels map[reflect.Type]writer
}

// New constructs a Raiser. A nil logger selects logrus.StandardLogger().
// metrics may be nil, in which case RaiseEvent/RaiseEvents outcomes are
// simply not recorded.
func New(logger *logrus.Logger, metrics Metrics) *Raiser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Raiser{
		logger:   logger,
		metrics:  metrics,
		channels: make(map[reflect.Type]writer),
	}
}

// recordRaise reports outcome through metrics if one was configured.
func (r *Raiser) recordRaise(eventType, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRaise(eventType, outcome)
	}
}

// RegisterChannel installs queue under the key T. Registering the same type
// twice is permitted; the later registration wins (idempotent replacement),
// which keeps steady-state re-wiring — e.g. during config hot-reload — safe.
func RegisterChannel[T any](r *Raiser, q *queue.Queue[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeFor[T]()
	r.channels[t] = &typedWriter[T]{q: q}

	r.logger.WithField("event_type", t.String()).Info("registered event channel")
}

// RaiseEvent routes event to the queue registered for T. It fails with
// ErrNullArgument when event is a nil pointer, interface, map, slice, chan
// or func value — an event with no content to publish. For plain value types
// (structs, ints, strings, ...) this check can never trigger and RaiseEvent
// proceeds normally. If no queue is registered for T, it logs a warning and
// returns false — this is non-fatal misconfiguration, not a producer-visible
// error. If the directory holds an entry for T whose runtime type does not
// match *queue.Queue[T] (defensive — should not happen given RegisterChannel
// is the only writer), it logs an error and returns false.
func RaiseEvent[T any](ctx context.Context, r *Raiser, event T) (bool, error) {
	t := reflect.TypeFor[T]()

	if isNilArgument(event) {
		r.recordRaise(t.String(), "null_argument")
		return false, ErrNullArgument
	}

	r.mu.RLock()
	w, found := r.channels[t]
	r.mu.RUnlock()

	if !found {
		r.logger.WithField("event_type", t.String()).Warn("no channel registered for event type; dropping event")
		r.recordRaise(t.String(), "no_channel")
		return false, nil
	}

	tw, ok := w.(*typedWriter[T])
	if !ok {
		r.logger.WithField("event_type", t.String()).Error("misconfigured channel: registered queue does not match event type")
		r.recordRaise(t.String(), "misconfigured")
		return false, nil
	}

	ok, err := tw.q.Write(ctx, event)
	if err != nil {
		r.recordRaise(t.String(), writeOutcome(err))
		return false, nil //nolint:nilerr // Cancelled/Closed are routing outcomes, not producer-visible errors.
	}
	r.recordRaise(t.String(), "queued")
	return ok, nil
}

// RaiseEvents routes every item in events to the queue registered for T using
// the same lookup as RaiseEvent, then WriteAll's them in order.
func RaiseEvents[T any](ctx context.Context, r *Raiser, events []T) (bool, error) {
	t := reflect.TypeFor[T]()

	r.mu.RLock()
	w, found := r.channels[t]
	r.mu.RUnlock()

	if !found {
		r.logger.WithField("event_type", t.String()).Warn("no channel registered for event type; dropping events")
		r.recordRaise(t.String(), "no_channel")
		return false, nil
	}

	tw, ok := w.(*typedWriter[T])
	if !ok {
		r.logger.WithField("event_type", t.String()).Error("misconfigured channel: registered queue does not match event type")
		r.recordRaise(t.String(), "misconfigured")
		return false, nil
	}

	if err := tw.q.WriteAll(ctx, events); err != nil {
		r.recordRaise(t.String(), writeOutcome(err))
		return false, nil //nolint:nilerr // same rationale as RaiseEvent.
	}
	r.recordRaise(t.String(), "queued")
	return true, nil
}

// writeOutcome maps a Queue.Write/WriteAll error to a metrics outcome label.
func writeOutcome(err error) string {
	switch {
	case errors.Is(err, queue.ErrCancelled):
		return "cancelled"
	case errors.Is(err, queue.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

// isNilArgument reports whether event is a nil-able kind (pointer, interface,
// map, slice, chan, func) holding a nil value. Value-kind events (structs,
// numbers, strings) never satisfy this and so never produce ErrNullArgument.
func isNilArgument[T any](event T) bool {
	v := reflect.ValueOf(event)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
