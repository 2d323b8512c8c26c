package analytics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/api/youtubeanalytics/v2"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/youtube"
)

type fakeTokens struct {
	token string
	err   error
	// busy is how many calls report a refresh in flight before err or token.
	busy  int32
	calls atomic.Int32
}

func (f *fakeTokens) EnsureValid(context.Context, string) (string, error) {
	if f.calls.Add(1) <= f.busy {
		return "", models.ErrRefreshInProgress
	}

	if f.err != nil {
		return "", f.err
	}

	return f.token, nil
}

// fakeCatalog serves playlist pages keyed by page token; "" is the first page.
type fakeCatalog struct {
	channelErr error
	pages      map[string]*youtube.PlaylistPage
	pageErr    error
	videos     map[string]youtube.Video
	videosErr  error

	mu          sync.Mutex
	pageCalls   []string
	videoBatchs [][]string
}

func (f *fakeCatalog) Channel(context.Context, string) (*youtube.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}

	return &youtube.Channel{ID: "UC1", UploadsPlaylistID: "UU1"}, nil
}

func (f *fakeCatalog) PlaylistPage(_ context.Context, _, _, pageToken string, _ int64) (*youtube.PlaylistPage, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, pageToken)
	f.mu.Unlock()

	if f.pageErr != nil {
		return nil, f.pageErr
	}

	page, ok := f.pages[pageToken]
	if !ok {
		return nil, fmt.Errorf("unexpected page token %q", pageToken)
	}

	return page, nil
}

func (f *fakeCatalog) Videos(_ context.Context, _ string, ids []string) ([]youtube.Video, error) {
	f.mu.Lock()
	f.videoBatchs = append(f.videoBatchs, ids)
	f.mu.Unlock()

	if f.videosErr != nil {
		return nil, f.videosErr
	}

	var ans []youtube.Video

	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			ans = append(ans, v)
		}
	}

	return ans, nil
}

func public(ids ...string) []youtube.PlaylistEntry {
	ans := make([]youtube.PlaylistEntry, len(ids))
	for i, id := range ids {
		ans[i] = youtube.PlaylistEntry{VideoID: id, Title: "title " + id, PrivacyStatus: "public"}
	}

	return ans
}

func withStatus(status string, ids ...string) []youtube.PlaylistEntry {
	ans := public(ids...)
	for i := range ans {
		ans[i].PrivacyStatus = status
	}

	return ans
}

func concat(parts ...[]youtube.PlaylistEntry) []youtube.PlaylistEntry {
	var ans []youtube.PlaylistEntry
	for _, p := range parts {
		ans = append(ans, p...)
	}

	return ans
}

// fakeReports answers reports.query by metric set: core or card.
type fakeReports struct {
	core    *youtubeanalytics.QueryResponse
	coreErr error
	card    *youtubeanalytics.QueryResponse
	cardErr error

	mu      sync.Mutex
	queries []youtube.ReportQuery
}

func (f *fakeReports) QueryReport(_ context.Context, _ string, q youtube.ReportQuery) (*youtubeanalytics.QueryResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if strings.HasPrefix(q.Metrics, metricCardImpressions) {
		return f.card, f.cardErr
	}

	return f.core, f.coreErr
}

func report(names []string, rows ...[]any) *youtubeanalytics.QueryResponse {
	resp := &youtubeanalytics.QueryResponse{Rows: [][]any{}}

	for _, n := range names {
		resp.ColumnHeaders = append(resp.ColumnHeaders, &youtubeanalytics.ResultTableColumnHeader{
			Name:       n,
			ColumnType: "METRIC",
		})
	}

	resp.Rows = append(resp.Rows, rows...)

	return resp
}

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) PublicItemIDs(context.Context, string) ([]string, error) {
	return f.ids, f.err
}

// fakeMetrics returns per-item metrics or errors.
type fakeMetrics struct {
	metrics map[string]*models.PeriodMetrics
	errs    map[string]error
	block   map[string]bool
	calls   atomic.Int32
}

func (f *fakeMetrics) FetchPeriodMetrics(ctx context.Context, _, itemID string, _ Period) (*models.PeriodMetrics, error) {
	f.calls.Add(1)

	if f.block[itemID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if err, ok := f.errs[itemID]; ok {
		return nil, err
	}

	m, ok := f.metrics[itemID]
	if !ok {
		return &models.PeriodMetrics{}, nil
	}

	return m, nil
}
