package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/tlmt"
	"github.com/Vector/vector-leads-crm/tlmt/gonoop"
)

const (
	// DefaultItemTimeout bounds the metrics fetch of a single item.
	DefaultItemTimeout = 20 * time.Second
	// DefaultFanOut bounds how many items are fetched at once.
	DefaultFanOut = 8
)

// ItemLister lists the ids of a user's public items.
type ItemLister interface {
	PublicItemIDs(ctx context.Context, userID string) ([]string, error)
}

// ItemMetricsFetcher fetches the metrics of one item.
type ItemMetricsFetcher interface {
	FetchPeriodMetrics(ctx context.Context, userID, itemID string, period Period) (*models.PeriodMetrics, error)
}

// Aggregator rolls per-item metrics up into channel KPIs.
type Aggregator struct {
	items       ItemLister
	metrics     ItemMetricsFetcher
	telemetry   tlmt.Telemetry
	itemTimeout time.Duration
	fanOut      int
	now         func() time.Time
	logger      *zap.Logger
}

type AggregatorOption func(*Aggregator)

func WithItemTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.itemTimeout = d
		}
	}
}

func WithFanOut(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.fanOut = n
		}
	}
}

func WithTelemetry(t tlmt.Telemetry) AggregatorOption {
	return func(a *Aggregator) {
		if t != nil {
			a.telemetry = t
		}
	}
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAggregator(items ItemLister, metrics ItemMetricsFetcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		items:       items,
		metrics:     metrics,
		telemetry:   gonoop.New(),
		itemTimeout: DefaultItemTimeout,
		fanOut:      DefaultFanOut,
		now:         time.Now,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.logger = a.logger.Named("aggregator")

	return a
}

type itemResult struct {
	metrics *models.PeriodMetrics
	err     error
}

// Aggregate never fails: listing problems give an all-zero result for the
// period and item failures only lower TotalItemsAnalyzed.
func (a *Aggregator) Aggregate(ctx context.Context, userID, periodName string) models.AggregatedKPIs {
	start := a.now()
	period := ResolvePeriod(periodName, start)
	log := a.logger.With(zap.String("user_id", userID), zap.String("period", period.Name))

	ids, err := a.items.PublicItemIDs(ctx, userID)
	if err != nil {
		log.Warn("catalog enumeration failed", zap.Error(err))

		kpis := emptyKPIs(period)
		a.report(ctx, kpis, a.now().Sub(start), false)

		return kpis
	}

	results := a.fetchAll(ctx, userID, ids, period)

	kpis := fold(period, results)

	failed := kpis.TotalItemsConsidered - kpis.TotalItemsAnalyzed
	if failed > 0 {
		log.Warn("aggregation degraded",
			zap.Int("considered", kpis.TotalItemsConsidered),
			zap.Int("failed", failed),
		)
	}

	a.report(ctx, kpis, a.now().Sub(start), true)

	return kpis
}

// fetchAll waits for every item. Tasks never return an error so one item
// cannot cancel the others.
func (a *Aggregator) fetchAll(ctx context.Context, userID string, ids []string, period Period) []itemResult {
	results := make([]itemResult, len(ids))

	var g errgroup.Group

	g.SetLimit(a.fanOut)

	for i, id := range ids {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, a.itemTimeout)
			defer cancel()

			defer func() {
				if p := recover(); p != nil {
					a.logger.Error("item metrics panicked", zap.String("item_id", id), zap.Any("panic", p))
					results[i] = itemResult{err: fmt.Errorf("%w: item %s panicked: %v", models.ErrFetch, id, p)}
				}
			}()

			m, err := a.metrics.FetchPeriodMetrics(itemCtx, userID, id, period)
			if err == nil && m == nil {
				err = models.ErrFetch
			}

			if err != nil {
				a.logger.Debug("item metrics failed", zap.String("user_id", userID), zap.String("item_id", id), zap.Error(err))
			}

			results[i] = itemResult{metrics: m, err: err}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

func emptyKPIs(period Period) models.AggregatedKPIs {
	return models.AggregatedKPIs{
		Period:    period.Name,
		StartDate: period.StartDate,
		EndDate:   period.EndDate,
	}
}

// fold sums the successful results. Averages of retention and view duration
// are weighted by views over items with views > 0; card CTR is total clicks
// over total impressions.
func fold(period Period, results []itemResult) models.AggregatedKPIs {
	kpis := emptyKPIs(period)
	kpis.TotalItemsConsidered = len(results)

	var (
		weightedRetention float64
		weightedDuration  float64
		weightViews       int64
	)

	for _, r := range results {
		if r.err != nil {
			continue
		}

		m := r.metrics
		kpis.TotalItemsAnalyzed++

		kpis.TotalViews += m.Views
		kpis.TotalWatchTimeMinutes += m.WatchTimeMinutes
		kpis.TotalSubscribersGained += m.SubscribersGained
		kpis.TotalShares += m.Shares
		kpis.TotalCardClicks += m.CardClicks
		kpis.TotalCardImpressions += m.CardImpressions

		if m.Views > 0 {
			views := float64(m.Views)
			weightedRetention += m.AverageViewPercentage * views
			weightedDuration += m.AverageViewDuration * views
			weightViews += m.Views
		}
	}

	if weightViews > 0 {
		kpis.AverageRetentionPercentage = finite(weightedRetention / float64(weightViews))
		kpis.AverageViewDurationSeconds = finite(weightedDuration / float64(weightViews))
	}

	if kpis.TotalCardImpressions > 0 {
		kpis.AverageCardCTR = finite(float64(kpis.TotalCardClicks) / float64(kpis.TotalCardImpressions))
	}

	return kpis
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func (a *Aggregator) report(ctx context.Context, kpis models.AggregatedKPIs, took time.Duration, listed bool) {
	ev := tlmt.NewEvent(tlmt.EventAnalyticsAggregate, map[string]any{
		"period":           kpis.Period,
		"items_considered": kpis.TotalItemsConsidered,
		"items_analyzed":   kpis.TotalItemsAnalyzed,
		"catalog_listed":   listed,
		"duration_ms":      took.Milliseconds(),
	})

	if err := a.telemetry.Send(ctx, ev); err != nil {
		a.logger.Debug("telemetry send failed", zap.Error(err))
	}
}
