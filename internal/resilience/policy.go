// Package resilience implements the retry classifier and backoff schedule
// applied around each batch publish attempt.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Classification describes how a publish failure should be handled.
type Classification int

const (
	// Permanent failures are never retried: bad topic, malformed request,
	// and anything the classifier does not recognize as transient.
	Permanent Classification = iota
	// Transient failures (throttling, internal errors, 500/503 transport
	// status) are retried per the policy's backoff schedule.
	Transient
)

// Policy is the injectable resilience contract: classify a publish error,
// then decide how long to wait before the k-th retry. A caller may supply a
// Policy that supersedes the one returned by NewDefaultPolicy.
type Policy interface {
	Classify(err error) Classification
	Backoff(attempt int) time.Duration
	MaxRetryAttempts() int
}

// defaultPolicy implements the exponential backoff schedule from the spec:
// attempt k in 1..MaxRetryAttempts waits 2^k seconds before the k-th retry.
type defaultPolicy struct {
	maxRetryAttempts int
}

// NewDefaultPolicy returns the default resilience policy. maxRetryAttempts
// of 0 disables retries entirely: the first transient failure becomes an
// immediate permanent log-and-drop.
func NewDefaultPolicy(maxRetryAttempts int) Policy {
	if maxRetryAttempts < 0 {
		maxRetryAttempts = 0
	}
	return &defaultPolicy{maxRetryAttempts: maxRetryAttempts}
}

func (p *defaultPolicy) MaxRetryAttempts() int {
	return p.maxRetryAttempts
}

func (p *defaultPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Classify applies the transient/permanent split from spec.md §4.3.3:
// Throttled, InternalError, and any transport error whose HTTP-like status
// is 500 or 503 are transient; everything else is permanent.
func (p *defaultPolicy) Classify(err error) Classification {
	if err == nil {
		return Permanent
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttled", "ThrottledException", "ThrottlingException", "InternalError", "InternalErrorException", "InternalFailure":
			return Transient
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if status := respErr.HTTPStatusCode(); status == 500 || status == 503 {
			return Transient
		}
	}

	return Permanent
}

// RunWithRetry executes op, retrying per policy while Classify(err) reports
// Transient and attempts remain. onRetry, if non-nil, is invoked before each
// sleep with the 1-based attempt number, the computed delay, and the error
// that triggered the retry — the caller uses this to emit the warning log
// spec.md §4.3.3 requires. RunWithRetry returns promptly with ctx's error if
// ctx is cancelled while waiting out a backoff.
func RunWithRetry(ctx context.Context, p Policy, onRetry func(attempt int, delay time.Duration, cause error), op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetryAttempts(); attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		if p.Classify(err) != Transient {
			return err
		}
	}
	return fmt.Errorf("exhausted %d retry attempts: %w", p.MaxRetryAttempts(), lastErr)
}
