package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/Vector/vector-leads-crm/models"
)

const (
	refreshPollInterval = 250 * time.Millisecond
	// maxRefreshWait covers a sweep refresh going through every backoff step.
	maxRefreshWait = 15 * time.Second
)

// tokenWaiter resolves access tokens and waits out a refresh that another
// caller already has in flight for the same user.
type tokenWaiter struct {
	tokens  TokenSource
	poll    time.Duration
	maxWait time.Duration
}

func newTokenWaiter(tokens TokenSource) *tokenWaiter {
	return &tokenWaiter{
		tokens:  tokens,
		poll:    refreshPollInterval,
		maxWait: maxRefreshWait,
	}
}

// valid returns ErrRefreshInProgress only when the refresh outlasts maxWait
// or ctx ends first.
func (w *tokenWaiter) valid(ctx context.Context, userID string) (string, error) {
	deadline := time.Now().Add(w.maxWait)

	for {
		token, err := w.tokens.EnsureValid(ctx, userID)
		if !errors.Is(err, models.ErrRefreshInProgress) || !time.Now().Add(w.poll).Before(deadline) {
			return token, err
		}

		timer := time.NewTimer(w.poll)

		select {
		case <-ctx.Done():
			timer.Stop()
			return "", err
		case <-timer.C:
		}
	}
}
