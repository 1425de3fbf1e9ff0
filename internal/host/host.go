// Package host implements the C4 lifecycle component: it starts each
// Worker[T]'s drain loop as a background task and bounds shutdown latency to
// a fixed deadline (spec.md §4.4), composing the producer-facing and
// worker-facing cancellation signals the way the Host is specified to.
package host

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownDeadline bounds how long Stop waits for a drain loop to finish
// before giving up and returning anyway, so a stuck sink call can never hang
// process exit.
const ShutdownDeadline = 5 * time.Second

// Task is anything Host can run as a background task and stop — satisfied
// by worker.Worker[T].Run, or any func(context.Context) error with the same
// contract.
type Task func(ctx context.Context) error

// Host runs one Task as a long-lived background goroutine, started and
// stopped independently of the process's own lifecycle. One Host instance
// corresponds to one Worker[T].
type Host struct {
	name   string
	task   Task
	logger *logrus.Entry

	cancel context.CancelFunc
	done   chan error
}

// New constructs a Host for task, labeled name for logging.
func New(name string, task Task, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Host{
		name:   name,
		task:   task,
		logger: logger.WithField("host", name),
	}
}

// Start derives a cancellation signal linked to parent (cancelling either
// cancels the task), launches the task in the background, and returns
// immediately without awaiting it — so application startup is never blocked
// on a worker's drain loop.
func (h *Host) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel
	h.done = make(chan error, 1)

	go func() {
		h.done <- h.task(ctx)
	}()

	h.logger.Info("host started")
}

// Stop fires the child cancellation signal, then waits for the task to
// finish, for the fixed ShutdownDeadline, or for ctx to be done — whichever
// comes first. It swallows context.Canceled (the expected result of a
// cancelled drain loop) and logs any other error. Calling Stop before Start
// is a no-op.
func (h *Host) Stop(ctx context.Context) {
	if h.cancel == nil {
		return
	}
	h.cancel()

	timer := time.NewTimer(ShutdownDeadline)
	defer timer.Stop()

	select {
	case err := <-h.done:
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			h.logger.Info("host stopped cleanly")
		default:
			h.logger.WithError(err).Error("task returned an error during shutdown")
		}
	case <-timer.C:
		h.logger.Warn("shutdown deadline exceeded; task may still be draining in the background")
	case <-ctx.Done():
		h.logger.Warn("shutdown aborted by caller context before task finished")
	}
}
