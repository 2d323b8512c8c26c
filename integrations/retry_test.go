package integrations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Vector/vector-leads-crm/models"
)

func TestRetryPolicy(t *testing.T) {
	transient := models.Retryable(errors.New("503"))
	terminal := errors.New("invalid_grant")

	tests := []struct {
		name       string
		errs       []error
		wantCalls  int
		wantDelays []time.Duration
		wantErr    error
	}{
		{
			name:      "success on first call",
			wantCalls: 1,
		},
		{
			name:       "transient then success",
			errs:       []error{transient, transient},
			wantCalls:  3,
			wantDelays: []time.Duration{2 * time.Second, 4 * time.Second},
		},
		{
			name:       "retries exhausted",
			errs:       []error{transient, transient, transient, transient, transient},
			wantCalls:  4,
			wantDelays: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
			wantErr:    transient,
		},
		{
			name:      "terminal error is not retried",
			errs:      []error{terminal},
			wantCalls: 1,
			wantErr:   terminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration

			p := DefaultRetryPolicy()
			p.sleep = func(_ context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			}

			calls := 0
			err := p.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}

				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantDelays, delays)

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := DefaultRetryPolicy().Do(ctx, func(context.Context) error {
		calls++
		return models.Retryable(errors.New("timeout"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
