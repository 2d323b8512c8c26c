package analytics

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/youtube"
)

const (
	metricViews                 = "views"
	metricMinutesWatched        = "estimatedMinutesWatched"
	metricAverageViewDuration   = "averageViewDuration"
	metricAverageViewPercentage = "averageViewPercentage"
	metricSubscribersGained     = "subscribersGained"
	metricShares                = "shares"
	metricCardImpressions       = "cardImpressions"
	metricCardClicks            = "cardClicks"
	metricCardClickRate         = "cardClickRate"
)

var (
	coreMetrics = metricViews + "," + metricMinutesWatched + "," + metricAverageViewDuration + "," +
		metricAverageViewPercentage + "," + metricSubscribersGained + "," + metricShares
	cardMetrics = metricCardImpressions + "," + metricCardClicks + "," + metricCardClickRate
)

// MetricsFetcher reads the reporting metrics of one item.
type MetricsFetcher struct {
	tokens  *tokenWaiter
	reports ReportAPI
	logger  *zap.Logger
}

func NewMetricsFetcher(tokens TokenSource, reports ReportAPI, logger *zap.Logger) *MetricsFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MetricsFetcher{
		tokens:  newTokenWaiter(tokens),
		reports: reports,
		logger:  logger.Named("metrics"),
	}
}

// FetchPeriodMetrics runs the core and card queries for itemID concurrently.
// A failed query leaves its fields at zero. Both queries failing, or either
// returning a malformed report, fails the item with ErrFetch.
func (f *MetricsFetcher) FetchPeriodMetrics(ctx context.Context, userID, itemID string, period Period) (*models.PeriodMetrics, error) {
	token, err := f.tokens.valid(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		core, card       *ReportTable
		coreErr, cardErr error
		g                errgroup.Group
	)

	g.Go(func() error {
		core, coreErr = f.query(ctx, token, itemID, period, coreMetrics)
		return nil
	})

	g.Go(func() error {
		card, cardErr = f.query(ctx, token, itemID, period, cardMetrics)
		return nil
	})

	_ = g.Wait()

	switch {
	case coreErr != nil && cardErr != nil:
		return nil, fmt.Errorf("%w: item %s: %w", models.ErrFetch, itemID, multierr.Combine(coreErr, cardErr))
	case errors.Is(coreErr, ErrMalformedReport):
		return nil, fmt.Errorf("item %s core metrics: %w", itemID, coreErr)
	case errors.Is(cardErr, ErrMalformedReport):
		return nil, fmt.Errorf("item %s card metrics: %w", itemID, cardErr)
	}

	if coreErr != nil {
		f.logger.Warn("core metrics unavailable", zap.String("item_id", itemID), zap.Error(coreErr))
	}

	if cardErr != nil {
		f.logger.Warn("card metrics unavailable", zap.String("item_id", itemID), zap.Error(cardErr))
	}

	return &models.PeriodMetrics{
		Views:                 core.Int(metricViews),
		WatchTimeMinutes:      core.Float(metricMinutesWatched),
		AverageViewDuration:   core.Float(metricAverageViewDuration),
		AverageViewPercentage: core.Float(metricAverageViewPercentage),
		SubscribersGained:     core.Int(metricSubscribersGained),
		Shares:                core.Int(metricShares),
		CardImpressions:       card.Int(metricCardImpressions),
		CardClicks:            card.Int(metricCardClicks),
		CardClickRate:         card.Float(metricCardClickRate),
	}, nil
}

func (f *MetricsFetcher) query(ctx context.Context, token, itemID string, period Period, metrics string) (*ReportTable, error) {
	resp, err := f.reports.QueryReport(ctx, token, youtube.ReportQuery{
		StartDate: period.StartDate,
		EndDate:   period.EndDate,
		Metrics:   metrics,
		Filters:   "video==" + itemID,
	})
	if err != nil {
		return nil, err
	}

	return NewReportTable(resp)
}
