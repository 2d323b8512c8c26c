package integrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/memory"
	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/pkg/encryption"
)

func TestConfigStore(t *testing.T) {
	ctx := context.Background()

	vault, err := encryption.New("store-secret")
	require.NoError(t, err)

	mem := memory.New()
	store := NewConfigStore(mem, mem, vault, nil)

	expiry := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	t.Run("missing integration", func(t *testing.T) {
		_, err := store.Get(ctx, "nobody", models.ProviderYouTube)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("tokens are encrypted at rest", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &models.IntegrationConfig{
			UserID:       "u1",
			Provider:     models.ProviderYouTube,
			AccessToken:  "plain-access",
			RefreshToken: "plain-refresh",
			TokenType:    "Bearer",
			Scope:        "youtube.readonly",
			Expiry:       expiry,
			Extra:        map[string]string{"channel_id": "UC123"},
		}))

		rec, err := mem.Get(ctx, "u1", models.ProviderYouTube)
		require.NoError(t, err)
		assert.NotContains(t, rec.AccessToken, "plain-access")
		assert.NotContains(t, rec.RefreshToken, "plain-refresh")

		cfg, err := store.Get(ctx, "u1", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Equal(t, "plain-access", cfg.AccessToken)
		assert.Equal(t, "plain-refresh", cfg.RefreshToken)
		assert.Equal(t, "youtube.readonly", cfg.Scope)
		assert.True(t, expiry.Equal(cfg.Expiry))
		assert.Equal(t, "UC123", cfg.Extra["channel_id"])
	})

	t.Run("empty refresh token stays empty", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &models.IntegrationConfig{
			UserID:      "u2",
			Provider:    models.ProviderYouTube,
			AccessToken: "a",
			Expiry:      expiry,
		}))

		rec, err := mem.Get(ctx, "u2", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Empty(t, rec.RefreshToken)
	})

	t.Run("upsert overwrites by user and provider", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &models.IntegrationConfig{
			UserID:      "u2",
			Provider:    models.ProviderYouTube,
			AccessToken: "b",
			Expiry:      expiry.Add(time.Hour),
		}))

		cfg, err := store.Get(ctx, "u2", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Equal(t, "b", cfg.AccessToken)
	})

	t.Run("list expiring returns user ids", func(t *testing.T) {
		ids, err := store.ListExpiring(ctx, models.ProviderYouTube, expiry.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "u1", models.ProviderYouTube))

		_, err := store.Get(ctx, "u1", models.ProviderYouTube)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("undecryptable record", func(t *testing.T) {
		other, err := encryption.New("another-secret")
		require.NoError(t, err)

		_, err = NewConfigStore(mem, mem, other, nil).Get(ctx, "u2", models.ProviderYouTube)
		assert.ErrorIs(t, err, encryption.ErrDecryptionFailure)
	})
}

func TestAppendLifecycleEventSwallowsFailures(t *testing.T) {
	vault, err := encryption.New("secret")
	require.NoError(t, err)

	mem := memory.New()
	store := NewConfigStore(mem, failingEvents{}, vault, nil)

	ev := &models.LifecycleEvent{UserID: "u1", Provider: models.ProviderYouTube, EventType: models.EventRefresh, Status: models.EventStatusSuccess}

	assert.NotPanics(t, func() {
		store.AppendLifecycleEvent(context.Background(), ev)
	})
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
}
