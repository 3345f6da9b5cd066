// Package retry runs an operation under a bounded attempt budget with a fixed
// pause between attempts, and reports the result as a typed Outcome.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how an operation ended.
type Outcome int

const (
	Succeeded Outcome = iota
	// Skipped means the input was deliberately not processed; retrying cannot help.
	Skipped
	// Fatal means the operation failed for good, either immediately or after
	// the attempt budget ran out.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var ErrExhausted = errors.New("retry attempts exhausted")

type skipError struct{ err error }

func (e *skipError) Error() string { return e.err.Error() }
func (e *skipError) Unwrap() error { return e.err }

// Skip marks err so that OutcomeOf reports Skipped.
func Skip(err error) error {
	if err == nil {
		return nil
	}
	return &skipError{err: err}
}

// OutcomeOf maps an operation error to its Outcome without retrying.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Succeeded
	}
	var skip *skipError
	if errors.As(err, &skip) {
		return Skipped
	}
	return Fatal
}

// Policy bounds how often an operation is attempted.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// means no error is retried.
	Retryable func(error) bool
}

// Default allows three attempts 200ms apart.
func Default(retryable func(error) bool) Policy {
	return Policy{MaxAttempts: 3, Backoff: 200 * time.Millisecond, Retryable: retryable}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) (Outcome, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return Succeeded, nil
		}
		if OutcomeOf(err) == Skipped || p.Retryable == nil || !p.Retryable(err) {
			return OutcomeOf(err), err
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return Fatal, fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return Fatal, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
