package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/tlmt"
	"github.com/Vector/vector-leads-crm/tlmt/gonoop"
	"github.com/Vector/vector-leads-crm/youtube"
)

var aggregateNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(lister ItemLister, metrics ItemMetricsFetcher, opts ...AggregatorOption) (*Aggregator, *gonoop.Recorder) {
	rec := gonoop.NewRecorder()

	opts = append([]AggregatorOption{
		WithTelemetry(rec),
		WithAggregatorClock(func() time.Time { return aggregateNow }),
	}, opts...)

	return NewAggregator(lister, metrics, opts...), rec
}

func TestAggregateViewWeightedRetention(t *testing.T) {
	tests := []struct {
		name          string
		metrics       map[string]*models.PeriodMetrics
		wantViews     int64
		wantRetention float64
		wantDuration  float64
	}{
		{
			name: "weights by views",
			metrics: map[string]*models.PeriodMetrics{
				"a": {Views: 100, AverageViewPercentage: 50, AverageViewDuration: 60},
				// b has no views: excluded from both the numerator and the denominator.
				"b": {Views: 0, AverageViewPercentage: 90, AverageViewDuration: 600},
				"c": {Views: 300, AverageViewPercentage: 10, AverageViewDuration: 20},
			},
			wantViews:     400,
			wantRetention: 20,
			wantDuration:  30,
		},
		{
			// Counting b in the denominator would halve both averages.
			name: "zero view item does not dilute",
			metrics: map[string]*models.PeriodMetrics{
				"a": {Views: 200, AverageViewPercentage: 40, AverageViewDuration: 90},
				"b": {Views: 0, AverageViewPercentage: 100, AverageViewDuration: 900},
			},
			wantViews:     200,
			wantRetention: 40,
			wantDuration:  90,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ids := make([]string, 0, len(tc.metrics))
			for id := range tc.metrics {
				ids = append(ids, id)
			}

			a, _ := newTestAggregator(&fakeLister{ids: ids}, &fakeMetrics{metrics: tc.metrics})

			kpis := a.Aggregate(context.Background(), "u1", PeriodLast28Days)

			assert.Equal(t, len(ids), kpis.TotalItemsConsidered)
			assert.Equal(t, len(ids), kpis.TotalItemsAnalyzed)
			assert.Equal(t, tc.wantViews, kpis.TotalViews)
			assert.InDelta(t, tc.wantRetention, kpis.AverageRetentionPercentage, 1e-9)
			assert.InDelta(t, tc.wantDuration, kpis.AverageViewDurationSeconds, 1e-9)
			assert.False(t, kpis.Degraded())
		})
	}
}

func TestAggregatePartialFailure(t *testing.T) {
	boom := errors.New("boom")

	metrics := &fakeMetrics{
		metrics: map[string]*models.PeriodMetrics{
			"a": {Views: 100, AverageViewPercentage: 40, SubscribersGained: 2, Shares: 1, WatchTimeMinutes: 10},
			"c": {Views: 100, AverageViewPercentage: 60, SubscribersGained: 1, Shares: 3, WatchTimeMinutes: 5},
			"e": {Views: 0},
		},
		errs: map[string]error{
			"b": boom,
			"d": models.ErrFetch,
		},
	}

	a, _ := newTestAggregator(&fakeLister{ids: []string{"a", "b", "c", "d", "e"}}, metrics)

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast7Days)

	assert.Equal(t, 5, kpis.TotalItemsConsidered)
	assert.Equal(t, 3, kpis.TotalItemsAnalyzed)
	assert.True(t, kpis.Degraded())
	assert.Equal(t, int64(200), kpis.TotalViews)
	assert.Equal(t, int64(3), kpis.TotalSubscribersGained)
	assert.Equal(t, int64(4), kpis.TotalShares)
	assert.InDelta(t, 15.0, kpis.TotalWatchTimeMinutes, 1e-9)
	assert.InDelta(t, 50.0, kpis.AverageRetentionPercentage, 1e-9)
	assert.False(t, math.IsNaN(kpis.AverageViewDurationSeconds))
	assert.Equal(t, int32(5), metrics.calls.Load())
}

func TestAggregateCardCTRIsRatioOfSums(t *testing.T) {
	metrics := &fakeMetrics{metrics: map[string]*models.PeriodMetrics{
		"a": {Views: 10, CardImpressions: 1000, CardClicks: 10, CardClickRate: 0.01},
		"b": {Views: 10, CardImpressions: 10, CardClicks: 5, CardClickRate: 0.5},
	}}

	a, _ := newTestAggregator(&fakeLister{ids: []string{"a", "b"}}, metrics)

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast28Days)

	assert.Equal(t, int64(15), kpis.TotalCardClicks)
	assert.Equal(t, int64(1010), kpis.TotalCardImpressions)
	assert.InDelta(t, 15.0/1010.0, kpis.AverageCardCTR, 1e-12)

	meanOfRates := (0.01 + 0.5) / 2
	assert.Greater(t, math.Abs(kpis.AverageCardCTR-meanOfRates), 0.2)
}

func TestAggregateEmptyCatalog(t *testing.T) {
	a, rec := newTestAggregator(&fakeLister{}, &fakeMetrics{})

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast30Days)

	assert.Equal(t, models.AggregatedKPIs{
		Period:    PeriodLast30Days,
		StartDate: "2024-04-01",
		EndDate:   "2024-05-01",
	}, kpis)
	assert.Len(t, rec.Events(tlmt.EventAnalyticsAggregate), 1)
}

func TestAggregateListingFailureGivesZeroResult(t *testing.T) {
	metrics := &fakeMetrics{}
	a, rec := newTestAggregator(&fakeLister{err: models.ErrReauthorizationRequired}, metrics)

	kpis := a.Aggregate(context.Background(), "u1", "unknown")

	assert.Equal(t, models.AggregatedKPIs{
		Period:    PeriodLast28Days,
		StartDate: "2024-04-03",
		EndDate:   "2024-05-01",
	}, kpis)
	assert.Zero(t, metrics.calls.Load())

	events := rec.Events(tlmt.EventAnalyticsAggregate)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Properties["catalog_listed"])
}

func TestAggregateSlowItemTimesOut(t *testing.T) {
	metrics := &fakeMetrics{
		metrics: map[string]*models.PeriodMetrics{"a": {Views: 5}},
		block:   map[string]bool{"slow": true},
	}

	a, _ := newTestAggregator(&fakeLister{ids: []string{"a", "slow"}}, metrics, WithItemTimeout(50*time.Millisecond))

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast28Days)

	assert.Equal(t, 2, kpis.TotalItemsConsidered)
	assert.Equal(t, 1, kpis.TotalItemsAnalyzed)
	assert.Equal(t, int64(5), kpis.TotalViews)
}

type panickingMetrics struct{}

func (panickingMetrics) FetchPeriodMetrics(_ context.Context, _, itemID string, _ Period) (*models.PeriodMetrics, error) {
	if itemID == "bad" {
		panic("unexpected shape")
	}

	return &models.PeriodMetrics{Views: 1}, nil
}

func TestAggregatePanickingItemIsAFailure(t *testing.T) {
	a, _ := newTestAggregator(&fakeLister{ids: []string{"ok", "bad"}}, panickingMetrics{})

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast28Days)

	assert.Equal(t, 2, kpis.TotalItemsConsidered)
	assert.Equal(t, 1, kpis.TotalItemsAnalyzed)
}

func TestAggregateEndToEnd(t *testing.T) {
	tokens := &fakeTokens{token: "t"}
	catalog := &fakeCatalog{pages: map[string]*youtube.PlaylistPage{
		"":   {Entries: concat(public("v1"), withStatus("private", "v2")), NextPageToken: "p2"},
		"p2": {Entries: public("v3")},
	}}
	reports := &fakeReports{core: coreReport(), card: cardReport()}

	a, _ := newTestAggregator(
		NewEnumerator(tokens, catalog, nil),
		NewMetricsFetcher(tokens, reports, nil),
	)

	kpis := a.Aggregate(context.Background(), "u1", PeriodLast28Days)

	assert.Equal(t, 2, kpis.TotalItemsConsidered)
	assert.Equal(t, 2, kpis.TotalItemsAnalyzed)
	assert.Equal(t, int64(200), kpis.TotalViews)
	assert.InDelta(t, 42.0, kpis.AverageRetentionPercentage, 1e-9)
	assert.InDelta(t, 0.05, kpis.AverageCardCTR, 1e-12)
	assert.Len(t, reports.queries, 4)

	for _, q := range reports.queries {
		assert.Equal(t, "2024-04-03", q.StartDate)
		assert.Equal(t, "2024-05-01", q.EndDate)
	}
}
