// Package analytics lists a user's public catalog and rolls per-item
// reporting metrics up into channel-level KPIs.
package analytics

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/youtubeanalytics/v2"

	"github.com/Vector/vector-leads-crm/deduper"
	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/youtube"
)

const privacyPublic = "public"

// TokenSource hands out a valid access token for a user.
type TokenSource interface {
	EnsureValid(ctx context.Context, userID string) (string, error)
}

// CatalogAPI is the part of the YouTube Data API the enumerator uses.
type CatalogAPI interface {
	Channel(ctx context.Context, accessToken string) (*youtube.Channel, error)
	PlaylistPage(ctx context.Context, accessToken, playlistID, pageToken string, pageSize int64) (*youtube.PlaylistPage, error)
	Videos(ctx context.Context, accessToken string, ids []string) ([]youtube.Video, error)
}

// ReportAPI runs YouTube Analytics queries.
type ReportAPI interface {
	QueryReport(ctx context.Context, accessToken string, q youtube.ReportQuery) (*youtubeanalytics.QueryResponse, error)
}

// Enumerator pages through a user's uploads and keeps the public ones.
type Enumerator struct {
	tokens *tokenWaiter
	api    CatalogAPI
	logger *zap.Logger
}

func NewEnumerator(tokens TokenSource, api CatalogAPI, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Enumerator{
		tokens: newTokenWaiter(tokens),
		api:    api,
		logger: logger.Named("enumerator"),
	}
}

// ListPublicItems returns up to desiredCount public items starting at
// pageToken, enriched with their statistics. desiredCount <= 0 lists
// everything. When the result is cut short inside a provider page, the
// returned token points past that page.
func (e *Enumerator) ListPublicItems(ctx context.Context, userID string, desiredCount int, pageToken string) (*models.CatalogPage, error) {
	token, err := e.tokens.valid(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, next, err := e.collect(ctx, token, desiredCount, pageToken)
	if err != nil {
		return nil, err
	}

	items, err := e.enrich(ctx, token, entries)
	if err != nil {
		return nil, err
	}

	return &models.CatalogPage{Items: items, NextPageToken: next}, nil
}

// PublicItemIDs lists the ids of every public item, without statistics.
func (e *Enumerator) PublicItemIDs(ctx context.Context, userID string) ([]string, error) {
	token, err := e.tokens.valid(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, _, err := e.collect(ctx, token, 0, "")
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].VideoID
	}

	return ids, nil
}

func (e *Enumerator) collect(ctx context.Context, token string, desiredCount int, pageToken string) ([]youtube.PlaylistEntry, string, error) {
	channel, err := e.api.Channel(ctx, token)
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolve uploads playlist: %w", models.ErrFetch, err)
	}

	var (
		seen    = deduper.New(desiredCount)
		visited = map[string]struct{}{pageToken: {}}
		entries []youtube.PlaylistEntry
		pages   int
	)

	for {
		page, err := e.api.PlaylistPage(ctx, token, channel.UploadsPlaylistID, pageToken, youtube.MaxPageSize)
		if err != nil {
			return nil, "", fmt.Errorf("%w: list uploads: %w", models.ErrFetch, err)
		}

		pages++

		for _, entry := range page.Entries {
			if entry.PrivacyStatus != privacyPublic {
				continue
			}

			if !seen.AddIfNotExists(ctx, entry.VideoID) {
				continue
			}

			entries = append(entries, entry)

			if desiredCount > 0 && len(entries) >= desiredCount {
				return entries, page.NextPageToken, nil
			}
		}

		if page.NextPageToken == "" {
			break
		}

		// A provider that cycles through page tokens would page forever.
		if _, ok := visited[page.NextPageToken]; ok {
			break
		}

		visited[page.NextPageToken] = struct{}{}
		pageToken = page.NextPageToken
	}

	e.logger.Debug("uploads listed",
		zap.String("playlist_id", channel.UploadsPlaylistID),
		zap.Int("pages", pages),
		zap.Int("public_items", len(entries)),
	)

	return entries, "", nil
}

func (e *Enumerator) enrich(ctx context.Context, token string, entries []youtube.PlaylistEntry) ([]models.CatalogItem, error) {
	items := make([]models.CatalogItem, len(entries))
	index := make(map[string]int, len(entries))

	for i, entry := range entries {
		items[i] = models.CatalogItem{
			ID:           entry.VideoID,
			Title:        entry.Title,
			PublishedAt:  entry.PublishedAt,
			ThumbnailURL: entry.ThumbnailURL,
			Public:       true,
		}
		index[entry.VideoID] = i
	}

	for start := 0; start < len(entries); start += youtube.MaxPageSize {
		end := min(start+youtube.MaxPageSize, len(entries))

		ids := make([]string, 0, end-start)
		for _, entry := range entries[start:end] {
			ids = append(ids, entry.VideoID)
		}

		videos, err := e.api.Videos(ctx, token, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: video statistics: %w", models.ErrFetch, err)
		}

		for i := range videos {
			pos, ok := index[videos[i].ID]
			if !ok {
				continue
			}

			item := &items[pos]
			item.Views = videos[i].Views
			item.Likes = videos[i].Likes
			item.Comments = videos[i].Comments
			item.Duration = videos[i].Duration

			if item.ThumbnailURL == "" {
				item.ThumbnailURL = videos[i].ThumbnailURL
			}
		}
	}

	return items, nil
}
