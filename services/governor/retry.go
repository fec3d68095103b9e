package governor

import (
	"context"
	"time"

	"fieldnode-go/errcode"
	"fieldnode-go/x/timex"
)

// RetryPolicy is a bounded fixed-backoff retry budget.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 5 * time.Second}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the budget
// is spent or ctx ends. It reports whether the budget was exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (exhausted bool, err error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 && !timex.Sleep(ctx, p.Backoff) {
			return false, ctx.Err()
		}
		if err = fn(ctx); err == nil || !errcode.Retryable(err) {
			return false, err
		}
	}
	return true, err
}
