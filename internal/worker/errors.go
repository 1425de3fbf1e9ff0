package worker

import "errors"

// ErrNullArgument is returned by New when a required constructor argument
// (reader, topic, sink) is missing. It is the only error kind a caller of
// this package sees returned directly — everything past construction is
// absorbed internally and only ever surfaces through logs, per spec.md §7's
// propagation policy.
var ErrNullArgument = errors.New("worker: required argument is nil")

// errSerialization wraps a JSON marshal failure as an InvalidOperation,
// matching the taxonomy in spec.md §7. It fails the entire batch; the
// worker logs it and continues the drain loop.
type errSerialization struct {
	cause error
}

func (e *errSerialization) Error() string {
	return "worker: invalid operation: failed to serialize event: " + e.cause.Error()
}

func (e *errSerialization) Unwrap() error {
	return e.cause
}
