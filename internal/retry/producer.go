package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultMaxAttempts = 10

// Policy bounds a Produce call. MaxAttempts is the only circuit breaker: transport
// failures and structurally invalid results draw from the same budget.
type Policy struct {
	MaxAttempts int
	// Backoff is the first wait between attempts; zero retries immediately.
	Backoff time.Duration
	// OnFailure, if set, is called after every failed attempt.
	OnFailure func(attempt int, err error)
}

// ExhaustedError is returned once MaxAttempts attempts have failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no valid result after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type ledger struct {
	attempts int
	last     error
}

// Produce calls attempt until it returns a result that valid accepts, or until the
// attempt ceiling is reached. A nil valid accepts any result attempt returns
// without error. Cancelling ctx stops the loop with the context's error.
func Produce[T any](ctx context.Context, p Policy, attempt func(context.Context) (T, error), valid func(T) error) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var l ledger
	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		l.attempts++
		result, err := attempt(ctx)
		if err == nil && valid != nil {
			err = valid(result)
		}
		if err != nil {
			l.last = err
			if p.OnFailure != nil {
				p.OnFailure(l.attempts, err)
			}
			return zero, err
		}
		return result, nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(maxAttempts-1)), ctx)
	result, err := backoff.RetryWithData(op, b)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, fmt.Errorf("stopped after %d attempts: %w", l.attempts, ctxErr)
	}
	return zero, &ExhaustedError{Attempts: l.attempts, Last: l.last}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.MaxInterval = 8 * p.Backoff
	b.MaxElapsedTime = 0
	return b
}
