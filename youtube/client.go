// Package youtube talks to the YouTube Data API v3 and the YouTube Analytics
// API v2 on behalf of a user. Every call is authorized with the access token
// passed in, shares one quota limiter and is bounded by a timeout.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"

	"github.com/Vector/vector-leads-crm/models"
)

// MaxPageSize is the largest page playlistItems.list accepts.
const MaxPageSize = 50

// Scopes requested on the consent screen.
var Scopes = []string{
	youtube.YoutubeReadonlyScope,
	youtubeanalytics.YtAnalyticsReadonlyScope,
}

// ErrNoChannel is returned when the authorized account has no channel.
var ErrNoChannel = errors.New("account has no youtube channel")

// Config configures a Client.
type Config struct {
	// Timeout bounds each HTTP call. Defaults to 15s.
	Timeout time.Duration
	// QPS and Burst size the shared quota limiter. QPS <= 0 disables it.
	QPS   float64
	Burst int
	// Endpoint overrides the base URL of both APIs.
	Endpoint string
}

// Client is safe for concurrent use.
type Client struct {
	base     http.RoundTripper
	timeout  time.Duration
	limiter  *rate.Limiter
	endpoint string
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter

	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}

	return &Client{
		base:     http.DefaultTransport,
		timeout:  timeout,
		limiter:  limiter,
		endpoint: cfg.Endpoint,
		logger:   logger.Named("youtube"),
	}
}

// Channel is the authorized user's channel.
type Channel struct {
	ID                string
	Title             string
	UploadsPlaylistID string
}

// PlaylistEntry is one video of a playlist page.
type PlaylistEntry struct {
	VideoID       string
	Title         string
	PublishedAt   time.Time
	ThumbnailURL  string
	PrivacyStatus string
}

// PlaylistPage is one page of playlistItems.list.
type PlaylistPage struct {
	Entries       []PlaylistEntry
	NextPageToken string
}

// Video carries the statistics of one video.
type Video struct {
	ID            string
	Title         string
	PublishedAt   time.Time
	ThumbnailURL  string
	PrivacyStatus string
	Views         int64
	Likes         int64
	Comments      int64
	Duration      string
}

// ReportQuery is one YouTube Analytics reports.query call for the user's channel.
type ReportQuery struct {
	StartDate string
	EndDate   string
	Metrics   string
	Filters   string
}

// Channel returns the channel of the token's owner.
func (c *Client) Channel(ctx context.Context, accessToken string) (*Channel, error) {
	svc, err := c.dataService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Channels.List([]string{"snippet", "contentDetails"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, wrapError("channels.list", err)
	}

	if len(resp.Items) == 0 {
		return nil, ErrNoChannel
	}

	ch := resp.Items[0]
	ans := &Channel{ID: ch.Id}

	if ch.Snippet != nil {
		ans.Title = ch.Snippet.Title
	}

	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		ans.UploadsPlaylistID = ch.ContentDetails.RelatedPlaylists.Uploads
	}

	if ans.UploadsPlaylistID == "" {
		return nil, fmt.Errorf("%w: channel %s has no uploads playlist", models.ErrFetch, ch.Id)
	}

	c.logger.Debug("resolved channel", zap.String("channel_id", ans.ID), zap.String("uploads", ans.UploadsPlaylistID))

	return ans, nil
}

// PlaylistPage fetches one page of playlistID. pageSize is capped at MaxPageSize.
func (c *Client) PlaylistPage(ctx context.Context, accessToken, playlistID, pageToken string, pageSize int64) (*PlaylistPage, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	svc, err := c.dataService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.PlaylistItems.List([]string{"snippet", "contentDetails", "status"}).
		PlaylistId(playlistID).
		MaxResults(pageSize).
		Context(ctx)

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, wrapError("playlistItems.list", err)
	}

	page := &PlaylistPage{NextPageToken: resp.NextPageToken}

	for _, item := range resp.Items {
		if item == nil {
			continue
		}

		entry := PlaylistEntry{}

		if item.ContentDetails != nil {
			entry.VideoID = item.ContentDetails.VideoId
			entry.PublishedAt = parseTime(item.ContentDetails.VideoPublishedAt)
		}

		if s := item.Snippet; s != nil {
			entry.Title = s.Title
			entry.ThumbnailURL = thumbnailURL(s.Thumbnails)

			if entry.VideoID == "" && s.ResourceId != nil {
				entry.VideoID = s.ResourceId.VideoId
			}

			if entry.PublishedAt.IsZero() {
				entry.PublishedAt = parseTime(s.PublishedAt)
			}
		}

		if item.Status != nil {
			entry.PrivacyStatus = item.Status.PrivacyStatus
		}

		if entry.VideoID != "" {
			page.Entries = append(page.Entries, entry)
		}
	}

	return page, nil
}

// Videos returns statistics for up to MaxPageSize ids. Unknown ids are
// omitted from the result.
func (c *Client) Videos(ctx context.Context, accessToken string, ids []string) ([]Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	if len(ids) > MaxPageSize {
		return nil, fmt.Errorf("videos.list accepts at most %d ids, got %d", MaxPageSize, len(ids))
	}

	svc, err := c.dataService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List([]string{"snippet", "statistics", "contentDetails", "status"}).
		Id(ids...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("videos.list", err)
	}

	ans := make([]Video, 0, len(resp.Items))

	for _, v := range resp.Items {
		if v == nil {
			continue
		}

		video := Video{ID: v.Id}

		if s := v.Snippet; s != nil {
			video.Title = s.Title
			video.PublishedAt = parseTime(s.PublishedAt)
			video.ThumbnailURL = thumbnailURL(s.Thumbnails)
		}

		if st := v.Statistics; st != nil {
			video.Views = int64(st.ViewCount)
			video.Likes = int64(st.LikeCount)
			video.Comments = int64(st.CommentCount)
		}

		if v.ContentDetails != nil {
			video.Duration = v.ContentDetails.Duration
		}

		if v.Status != nil {
			video.PrivacyStatus = v.Status.PrivacyStatus
		}

		ans = append(ans, video)
	}

	return ans, nil
}

// QueryReport runs reports.query against the token owner's channel.
func (c *Client) QueryReport(ctx context.Context, accessToken string, q ReportQuery) (*youtubeanalytics.QueryResponse, error) {
	svc, err := c.analyticsService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.Reports.Query().
		Ids("channel==MINE").
		StartDate(q.StartDate).
		EndDate(q.EndDate).
		Metrics(q.Metrics).
		Context(ctx)

	if q.Filters != "" {
		call = call.Filters(q.Filters)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, wrapError("reports.query", err)
	}

	return resp, nil
}

func (c *Client) dataService(ctx context.Context, accessToken string) (*youtube.Service, error) {
	svc, err := youtube.NewService(ctx, c.options(accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create youtube client: %w", err)
	}

	return svc, nil
}

func (c *Client) analyticsService(ctx context.Context, accessToken string) (*youtubeanalytics.Service, error) {
	svc, err := youtubeanalytics.NewService(ctx, c.options(accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create youtube analytics client: %w", err)
	}

	return svc, nil
}

func (c *Client) options(accessToken string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(c.httpClient(accessToken))}

	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	return opts
}

func (c *Client) httpClient(accessToken string) *http.Client {
	var base http.RoundTripper = c.base
	if c.limiter != nil {
		base = &limitedTransport{limiter: c.limiter, base: base}
	}

	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}
}

// limitedTransport waits for the shared quota limiter before each request.
type limitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	return t.base.RoundTrip(req)
}

// wrapError marks every API failure as ErrFetch and rate limit or server
// errors as retryable.
func wrapError(call string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", models.ErrFetch, call, err)

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError {
			return models.Retryable(wrapped)
		}

		return wrapped
	}

	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	return models.Retryable(wrapped)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}

func thumbnailURL(td *youtube.ThumbnailDetails) string {
	if td == nil {
		return ""
	}

	for _, t := range []*youtube.Thumbnail{td.High, td.Medium, td.Default} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}

	return ""
}
