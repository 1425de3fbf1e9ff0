package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIError struct {
	code string
}

func (e *fakeAPIError) Error() string        { return e.code }
func (e *fakeAPIError) ErrorCode() string    { return e.code }
func (e *fakeAPIError) ErrorMessage() string { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultServer
}

var errPermanent = errors.New("bad topic")

func TestClassifyThrottledIsTransient(t *testing.T) {
	p := NewDefaultPolicy(3)
	assert.Equal(t, Transient, p.Classify(&fakeAPIError{code: "Throttled"}))
}

func TestClassifyInternalErrorIsTransient(t *testing.T) {
	p := NewDefaultPolicy(3)
	assert.Equal(t, Transient, p.Classify(&fakeAPIError{code: "InternalError"}))
}

func TestClassifyUnknownAPIErrorIsPermanent(t *testing.T) {
	p := NewDefaultPolicy(3)
	assert.Equal(t, Permanent, p.Classify(&fakeAPIError{code: "InvalidParameter"}))
}

func TestClassifyPlainErrorIsPermanent(t *testing.T) {
	p := NewDefaultPolicy(3)
	assert.Equal(t, Permanent, p.Classify(errPermanent))
}

func TestBackoffIsExponentialInSeconds(t *testing.T) {
	p := NewDefaultPolicy(5)
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
}

func TestRunWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	p := fastPolicy{NewDefaultPolicy(1)}
	calls := 0
	var retries []int

	err := RunWithRetry(context.Background(), p, func(attempt int, delay time.Duration, cause error) {
		retries = append(retries, attempt)
	}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &fakeAPIError{code: "InternalError"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retries)
}

func TestRunWithRetryExhaustionSurfacesError(t *testing.T) {
	p := fastPolicy{NewDefaultPolicy(1)}
	calls := 0

	err := RunWithRetry(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return &fakeAPIError{code: "InternalError"}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "one initial attempt plus one retry")
}

func TestRunWithRetryZeroAttemptsIsImmediateDrop(t *testing.T) {
	p := fastPolicy{NewDefaultPolicy(0)}
	calls := 0

	err := RunWithRetry(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return &fakeAPIError{code: "InternalError"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunWithRetryDoesNotRetryPermanentFailures(t *testing.T) {
	p := fastPolicy{NewDefaultPolicy(3)}
	calls := 0

	err := RunWithRetry(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return errPermanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// fastPolicy wraps the default policy but collapses backoff delays so retry
// tests don't spend real wall-clock seconds.
type fastPolicy struct {
	Policy
}

func (f fastPolicy) Backoff(attempt int) time.Duration {
	return time.Millisecond
}
