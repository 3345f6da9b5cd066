package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: isBusy}
	calls := 0
	outcome, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, outcome)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: time.Millisecond, Retryable: isBusy}
	calls := 0
	outcome, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})
	assert.Equal(t, Fatal, outcome)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	p := Default(isBusy)
	calls := 0
	boom := errors.New("mapping conflict")
	outcome, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, Fatal, outcome)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestSkipIsReportedAsSkipped(t *testing.T) {
	missing := Skip(errors.New("no Message-Id"))
	outcome, err := Default(func(error) bool { return true }).Do(context.Background(), func(context.Context) error {
		return missing
	})
	assert.Equal(t, Skipped, outcome)
	assert.ErrorIs(t, err, missing)

	assert.Equal(t, Skipped, OutcomeOf(missing))
	assert.Equal(t, Succeeded, OutcomeOf(nil))
	assert.Equal(t, Fatal, OutcomeOf(errBusy))
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Backoff: time.Hour, Retryable: isBusy}
	outcome, err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errBusy
	})
	assert.Equal(t, Fatal, outcome)
	assert.ErrorIs(t, err, context.Canceled)
}
