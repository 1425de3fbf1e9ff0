package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	smithy "github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/eventgateway/internal/queue"
	"github.com/kenneth/eventgateway/internal/resilience"
	"github.com/kenneth/eventgateway/internal/snssink"
)

type widgetCreated struct {
	ID string `json:"id"`
}

// fakeSink is a snssink.Sink test double recording every PublishBatch call
// and returning pre-programmed results/errors in order; the last programmed
// result repeats once exhausted.
type fakeSink struct {
	mu      sync.Mutex
	calls   [][]snssink.Entry
	results []snssink.Result
	errs    []error
}

func (f *fakeSink) PublishBatch(ctx context.Context, topic string, entries []snssink.Entry) (snssink.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.calls)
	f.calls = append(f.calls, entries)

	var res snssink.Result
	var err error
	if n < len(f.results) {
		res = f.results[n]
	} else if len(f.results) > 0 {
		res = f.results[len(f.results)-1]
	}
	if n < len(f.errs) {
		err = f.errs[n]
	}
	return res, err
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) lastEntries() []snssink.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// fastPolicy wraps resilience.NewDefaultPolicy but collapses backoff to a
// millisecond so retry tests run promptly.
type fastPolicy struct {
	resilience.Policy
}

func (fastPolicy) Backoff(attempt int) time.Duration { return time.Millisecond }

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestWorkerFlushesSingleEventWithoutWaitingForFullBatch(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{results: []snssink.Result{{Successful: []snssink.SuccessResult{{ID: "0", MessageID: "m-0"}}}}}
	logger, _ := newTestLogger()

	w, err := New(Config[widgetCreated]{
		EventType: "WidgetCreated",
		Topic:     "arn:aws:sns:us-east-1:1:widgets",
		Reader:    q.Reader(),
		Sink:      sink,
		Logger:    logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	ok, err := q.Write(context.Background(), widgetCreated{ID: "w-1"})
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return sink.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Len(t, sink.lastEntries(), 1)

	var got widgetCreated
	require.NoError(t, json.Unmarshal([]byte(sink.lastEntries()[0].Message), &got))
	assert.Equal(t, "w-1", got.ID)

	q.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}
}

func TestWorkerCoalescesUpToBatchCapacity(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{results: []snssink.Result{{}}}
	logger, _ := newTestLogger()

	w, err := New(Config[widgetCreated]{
		Topic:  "arn:aws:sns:us-east-1:1:widgets",
		Reader: q.Reader(),
		Sink:   sink,
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pre-load more than one batch's worth before the worker ever starts
	// draining, so the first drain pass coalesces a full batch.
	for i := 0; i < BatchCapacity+2; i++ {
		_, err := q.Write(context.Background(), widgetCreated{ID: "w"})
		require.NoError(t, err)
	}
	q.Close()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}

	require.Equal(t, 2, sink.callCount())
	assert.Len(t, sink.calls[0], BatchCapacity)
	assert.Len(t, sink.calls[1], 2)
}

func TestWorkerRetriesTransientFailureThenSucceeds(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{
		errs:    []error{&fakeTransientError{}},
		results: []snssink.Result{{}, {Successful: []snssink.SuccessResult{{ID: "0"}}}},
	}
	logger, hook := newTestLogger()

	w, err := New(Config[widgetCreated]{
		Topic:  "arn:aws:sns:us-east-1:1:widgets",
		Reader: q.Reader(),
		Sink:   sink,
		Policy: fastPolicy{resilience.NewDefaultPolicy(3)},
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err = q.Write(context.Background(), widgetCreated{ID: "w-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.callCount() == 2 }, time.Second, time.Millisecond)

	q.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}

	var sawRetryWarning bool
	for _, e := range hook.AllEntries() {
		if e.Message == "retrying batch publish" {
			sawRetryWarning = true
		}
	}
	assert.True(t, sawRetryWarning)
}

func TestWorkerDropsBatchAfterRetriesExhausted(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{errs: []error{&fakeTransientError{}, &fakeTransientError{}}}
	logger, hook := newTestLogger()

	w, err := New(Config[widgetCreated]{
		Topic:  "arn:aws:sns:us-east-1:1:widgets",
		Reader: q.Reader(),
		Sink:   sink,
		Policy: fastPolicy{resilience.NewDefaultPolicy(1)},
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err = q.Write(context.Background(), widgetCreated{ID: "w-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.callCount() == 2 }, time.Second, time.Millisecond)

	q.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}

	var sawDropped bool
	for _, e := range hook.AllEntries() {
		if e.Message == "failed to publish batch; batch dropped" {
			sawDropped = true
		}
	}
	assert.True(t, sawDropped)
}

func TestWorkerRecordsPartialFailureAndDoesNotReenqueue(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{results: []snssink.Result{{
		Successful: []snssink.SuccessResult{{ID: "0"}},
		Failed:     []snssink.FailureResult{{ID: "1", Code: "InvalidParameter", Message: "bad payload"}},
	}}}
	logger, hook := newTestLogger()

	var recorded []DeadLetterEntry
	var mu sync.Mutex
	dl := recordingDeadLetter{record: func(e DeadLetterEntry) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, e)
	}}

	w, err := New(Config[widgetCreated]{
		Topic:      "arn:aws:sns:us-east-1:1:widgets",
		Reader:     q.Reader(),
		Sink:       sink,
		DeadLetter: dl,
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both events are queued before the worker starts, so they are coalesced
	// into one batch with ids "0" and "1".
	_, err = q.Write(context.Background(), widgetCreated{ID: "w-0"})
	require.NoError(t, err)
	_, err = q.Write(context.Background(), widgetCreated{ID: "w-1"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.callCount() == 1 }, time.Second, time.Millisecond)

	q.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Equal(t, "1", recorded[0].BatchLocalID)
	assert.Equal(t, "InvalidParameter", recorded[0].Code)

	var sawEntryFailed bool
	for _, e := range hook.AllEntries() {
		if e.Message == "batch entry failed to publish" {
			sawEntryFailed = true
		}
	}
	assert.True(t, sawEntryFailed)

	// The queue was closed with no further writes, and no second publish was
	// observed: a failed entry is never retried by re-enqueueing it.
	assert.Equal(t, 1, sink.callCount())
}

func TestWorkerFlushesFinalPartialBatchOnEndOfStream(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{results: []snssink.Result{{}}}
	logger, _ := newTestLogger()

	w, err := New(Config[widgetCreated]{
		Topic:  "arn:aws:sns:us-east-1:1:widgets",
		Reader: q.Reader(),
		Sink:   sink,
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err = q.Write(context.Background(), widgetCreated{ID: "w-1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.callCount() == 1 }, time.Second, time.Millisecond)

	_, err = q.Write(context.Background(), widgetCreated{ID: "w-2"})
	require.NoError(t, err)
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after queue closed")
	}

	require.Equal(t, 2, sink.callCount())
	assert.Len(t, sink.calls[1], 1)
}

func TestWorkerStopsOnCancellationWithoutGuaranteeingBufferedFlush(t *testing.T) {
	q := queue.NewUnbounded[widgetCreated]()
	sink := &fakeSink{}
	logger, _ := newTestLogger()

	w, err := New(Config[widgetCreated]{
		Topic:  "arn:aws:sns:us-east-1:1:widgets",
		Reader: q.Reader(),
		Sink:   sink,
		Logger: logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}

func TestNewRejectsMissingRequiredArguments(t *testing.T) {
	sink := &fakeSink{}
	q := queue.NewUnbounded[widgetCreated]()
	logger, _ := newTestLogger()

	_, err := New(Config[widgetCreated]{Topic: "t", Sink: sink, Logger: logger})
	assert.ErrorIs(t, err, ErrNullArgument)

	_, err = New(Config[widgetCreated]{Reader: q.Reader(), Sink: sink, Logger: logger})
	assert.ErrorIs(t, err, ErrNullArgument)

	_, err = New(Config[widgetCreated]{Reader: q.Reader(), Topic: "t", Logger: logger})
	assert.ErrorIs(t, err, ErrNullArgument)
}

// fakeTransientError satisfies smithy.APIError with a code the resilience
// policy classifies as Transient.
type fakeTransientError struct{}

func (e *fakeTransientError) Error() string        { return "throttled" }
func (e *fakeTransientError) ErrorCode() string    { return "Throttled" }
func (e *fakeTransientError) ErrorMessage() string { return "throttled" }
func (e *fakeTransientError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultServer
}

type recordingDeadLetter struct {
	record func(DeadLetterEntry)
}

func (r recordingDeadLetter) Record(ctx context.Context, eventType, topic string, failure DeadLetterEntry) {
	r.record(failure)
}
