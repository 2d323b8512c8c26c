package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/models"
)

// IntegrationRepositorySuite checks the behaviour every IntegrationRepository
// backend must share.
func IntegrationRepositorySuite(t *testing.T, repo models.IntegrationRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	provider := "suite-" + RandomUserID("p")

	userA := RandomUserID("a")
	userB := RandomUserID("b")

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, userA, provider)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		rec := &models.IntegrationRecord{
			UserID:       userA,
			Provider:     provider,
			AccessToken:  "enc-access",
			RefreshToken: "enc-refresh",
			TokenType:    "Bearer",
			Scope:        "youtube.readonly",
			Expiry:       now.Add(30 * time.Minute),
			Extra:        map[string]string{"channel_id": "UC1"},
		}

		require.NoError(t, repo.Save(ctx, rec))
		assert.NotEmpty(t, rec.ID)

		got, err := repo.Get(ctx, userA, provider)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "enc-access", got.AccessToken)
		assert.Equal(t, "enc-refresh", got.RefreshToken)
		assert.Equal(t, "Bearer", got.TokenType)
		assert.Equal(t, "youtube.readonly", got.Scope)
		assert.True(t, now.Add(30*time.Minute).Equal(got.Expiry), "expiry %s", got.Expiry)
		assert.Equal(t, "UC1", got.Extra["channel_id"])
	})

	t.Run("save overwrites by user and provider", func(t *testing.T) {
		first, err := repo.Get(ctx, userA, provider)
		require.NoError(t, err)

		require.NoError(t, repo.Save(ctx, &models.IntegrationRecord{
			UserID:      userA,
			Provider:    provider,
			AccessToken: "enc-access-2",
			Expiry:      now.Add(3 * time.Hour),
		}))

		got, err := repo.Get(ctx, userA, provider)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "enc-access-2", got.AccessToken)
		assert.Empty(t, got.RefreshToken)
	})

	t.Run("list expiring", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, &models.IntegrationRecord{
			UserID:      userB,
			Provider:    provider,
			AccessToken: "enc",
			Expiry:      now.Add(time.Hour),
		}))

		recs, err := repo.ListExpiring(ctx, provider, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, userB, recs[0].UserID)

		recs, err = repo.ListExpiring(ctx, provider, now.Add(4*time.Hour))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, userB, recs[0].UserID)
		assert.Equal(t, userA, recs[1].UserID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, userA, provider))
		require.NoError(t, repo.Delete(ctx, userA, provider))

		_, err := repo.Get(ctx, userA, provider)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

// LifecycleEventRepositorySuite checks ordering, limits and details round trips.
func LifecycleEventRepositorySuite(t *testing.T, repo models.LifecycleEventRepository) {
	ctx := context.Background()
	user := RandomUserID("events")
	base := time.Now().UTC().Truncate(time.Second)

	for i, eventType := range []string{models.EventAuthorize, models.EventCallback, models.EventRefresh} {
		require.NoError(t, repo.Append(ctx, &models.LifecycleEvent{
			UserID:    user,
			Provider:  models.ProviderYouTube,
			EventType: eventType,
			Status:    models.EventStatusSuccess,
			Details:   map[string]any{"step": "s" + eventType},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := repo.ListByUser(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventRefresh, events[0].EventType)
	assert.Equal(t, models.EventAuthorize, events[2].EventType)
	assert.Equal(t, "s"+models.EventRefresh, events[0].Details["step"])
	assert.NotEmpty(t, events[0].ID)

	limited, err := repo.ListByUser(ctx, user, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.ListByUser(ctx, RandomUserID("nobody"), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// AuthorizationStateRepositorySuite checks single use consumption and expiry.
func AuthorizationStateRepositorySuite(t *testing.T, repo models.AuthorizationStateRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	newState := func(expiresAt time.Time) *models.AuthorizationState {
		return &models.AuthorizationState{
			State:     RandomUserID("state"),
			UserID:    RandomUserID("u"),
			Nonce:     "nonce",
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}
	}

	t.Run("consume once", func(t *testing.T) {
		st := newState(now.Add(models.AuthorizationStateTTL))
		require.NoError(t, repo.Create(ctx, st))

		got, err := repo.Consume(ctx, st.State, now)
		require.NoError(t, err)
		assert.Equal(t, st.UserID, got.UserID)
		assert.Equal(t, "nonce", got.Nonce)

		_, err = repo.Consume(ctx, st.State, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("expired state is not consumed", func(t *testing.T) {
		st := newState(now.Add(-time.Minute))
		require.NoError(t, repo.Create(ctx, st))

		_, err := repo.Consume(ctx, st.State, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		expired := newState(now.Add(-time.Hour))
		live := newState(now.Add(time.Hour))

		require.NoError(t, repo.Create(ctx, expired))
		require.NoError(t, repo.Create(ctx, live))

		n, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = repo.Consume(ctx, live.State, now)
		assert.NoError(t, err)
	})
}
