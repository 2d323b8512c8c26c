package models

import (
	"time"
)

// CatalogItem is one item of the provider's catalog, e.g. an uploaded video.
type CatalogItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PublishedAt  time.Time `json:"published_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Views        int64     `json:"views"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	Duration     string    `json:"duration"`
	Public       bool      `json:"public"`
}

// CatalogPage is one page of public catalog items.
type CatalogPage struct {
	Items         []CatalogItem `json:"items"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// PeriodMetrics holds the reporting metrics of one item over one period.
// Every field is zero when the provider returned nothing for it.
type PeriodMetrics struct {
	Views                 int64   `json:"views"`
	WatchTimeMinutes      float64 `json:"watch_time_minutes"`
	AverageViewDuration   float64 `json:"average_view_duration_seconds"`
	AverageViewPercentage float64 `json:"average_view_percentage"`
	SubscribersGained     int64   `json:"subscribers_gained"`
	Shares                int64   `json:"shares"`
	CardImpressions       int64   `json:"card_impressions"`
	CardClicks            int64   `json:"card_clicks"`
	// CardClickRate is the provider's per-item rate in [0, 1]. Aggregation does not
	// average it; the aggregate rate is recomputed from summed clicks and impressions.
	CardClickRate float64 `json:"card_click_rate"`
}

// AggregatedKPIs is the channel-level roll-up of PeriodMetrics for one user and period.
type AggregatedKPIs struct {
	Period                     string  `json:"period"`
	StartDate                  string  `json:"start_date"`
	EndDate                    string  `json:"end_date"`
	TotalItemsConsidered       int     `json:"total_items_considered"`
	TotalItemsAnalyzed         int     `json:"total_items_analyzed"`
	TotalViews                 int64   `json:"total_views"`
	AverageRetentionPercentage float64 `json:"average_retention_percentage"`
	AverageViewDurationSeconds float64 `json:"average_view_duration_seconds"`
	TotalSubscribersGained     int64   `json:"total_subscribers_gained"`
	TotalShares                int64   `json:"total_shares"`
	AverageCardCTR             float64 `json:"average_card_ctr"`
	TotalCardClicks            int64   `json:"total_card_clicks"`
	TotalCardImpressions       int64   `json:"total_card_impressions"`
	TotalWatchTimeMinutes      float64 `json:"total_watch_time_minutes"`
}

// Degraded reports whether some considered items could not be analyzed.
// Callers render partial results in that case.
func (k *AggregatedKPIs) Degraded() bool {
	return k.TotalItemsAnalyzed < k.TotalItemsConsidered
}
