package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/models"
)

func TestTokenWaiterValid(t *testing.T) {
	tests := []struct {
		name      string
		tokens    *fakeTokens
		maxWait   time.Duration
		want      string
		wantErr   error
		wantCalls int32
	}{
		{
			name:      "valid on first call",
			tokens:    &fakeTokens{token: "t"},
			maxWait:   time.Second,
			want:      "t",
			wantCalls: 1,
		},
		{
			name:      "waits out a refresh in flight",
			tokens:    &fakeTokens{token: "t", busy: 3},
			maxWait:   time.Second,
			want:      "t",
			wantCalls: 4,
		},
		{
			name:    "gives up after max wait",
			tokens:  &fakeTokens{token: "t", busy: 1000},
			maxWait: 20 * time.Millisecond,
			wantErr: models.ErrRefreshInProgress,
		},
		{
			name:      "other errors return at once",
			tokens:    &fakeTokens{err: models.ErrReauthorizationRequired},
			maxWait:   time.Second,
			wantErr:   models.ErrReauthorizationRequired,
			wantCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := newTokenWaiter(tc.tokens)
			w.poll = time.Millisecond
			w.maxWait = tc.maxWait

			token, err := w.valid(context.Background(), "u1")

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, token)
			}

			if tc.wantCalls > 0 {
				assert.Equal(t, tc.wantCalls, tc.tokens.calls.Load())
			}
		})
	}
}

func TestTokenWaiterStopsOnContextDone(t *testing.T) {
	tokens := &fakeTokens{token: "t", busy: 1000}

	w := newTokenWaiter(tokens)
	w.poll = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()

	_, err := w.valid(ctx, "u1")
	require.ErrorIs(t, err, models.ErrRefreshInProgress)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchPeriodMetricsWaitsForRefreshInFlight(t *testing.T) {
	reports := &fakeReports{core: coreReport(), card: cardReport()}
	tokens := &fakeTokens{token: "t", busy: 2}

	f := NewMetricsFetcher(tokens, reports, nil)
	f.tokens.poll = time.Millisecond

	m, err := f.FetchPeriodMetrics(context.Background(), "u1", "v1", testPeriod)
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.Views)
	assert.Equal(t, int32(3), tokens.calls.Load())
}
