package venue

import (
	"context"
	"time"
)

// RetryPolicy bounds venue call retries: a fixed delay between a small fixed
// number of attempts, never unbounded.
type RetryPolicy struct {
	Attempts int // total attempts, minimum 1
	Delay    time.Duration
}

// Do runs fn under the policy, retrying only transient failures. Context
// cancellation stops the loop immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return err
}
