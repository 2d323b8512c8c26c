package integrations

import (
	"context"
	"time"

	"github.com/Vector/vector-leads-crm/models"
)

// RetryPolicy retries transient failures with exponential backoff.
// The first call is not a retry; with the defaults a failing operation is
// called at most 4 times, waiting 2s, 4s and 8s in between.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 retries starting at a 2 second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
	}
}

// Delay returns the wait before retry n, where n is 1-based.
func (p RetryPolicy) Delay(n int) time.Duration {
	return p.InitialDelay * time.Duration(1<<uint(n-1))
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// run out or ctx is done. The last error from fn is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	err := fn(ctx)

	for n := 1; err != nil && n <= p.MaxRetries; n++ {
		if !models.IsRetryable(err) {
			return err
		}

		if serr := sleep(ctx, p.Delay(n)); serr != nil {
			return err
		}

		err = fn(ctx)
	}

	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
