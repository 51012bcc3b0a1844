package delivery

import (
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("delivery stopped")
	ErrQueueFull = errors.New("delivery queue full")
)

// sinkError classifies a sink failure for the retry loop.
type sinkError struct {
	err       error
	permanent bool
	after     time.Duration
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// RetryAfter reports the delay the downstream asked for.
func (e *sinkError) RetryAfter() time.Duration { return e.after }

// NoRetry marks err as permanent: the job fails without further attempts.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &sinkError{err: err, permanent: true}
}

func IsNoRetry(err error) bool {
	var se *sinkError
	return errors.As(err, &se) && se.permanent
}

// RetryAfter attaches a downstream-suggested delay, such as an HTTP 429
// Retry-After header. It is capped by Config.RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &sinkError{err: err, after: max(after, 0)}
}

// RetryAfterError is implemented by errors from RetryAfter.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// unwrapPermanent strips the NoRetry marker for history and logs.
func unwrapPermanent(err error) error {
	var se *sinkError
	if errors.As(err, &se) && se.permanent {
		return se.err
	}
	return err
}
