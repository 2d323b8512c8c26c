package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/internal/testutils"
	"github.com/Vector/vector-leads-crm/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore(t *testing.T) {
	store := newTestStore(t)

	t.Run("integrations", func(t *testing.T) {
		testutils.IntegrationRepositorySuite(t, store)
	})

	t.Run("lifecycle events", func(t *testing.T) {
		testutils.LifecycleEventRepositorySuite(t, store)
	})

	t.Run("authorization states", func(t *testing.T) {
		testutils.AuthorizationStateRepositorySuite(t, store)
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crm.db")

	store, err := New(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, &models.IntegrationRecord{
		UserID:      "u1",
		Provider:    models.ProviderYouTube,
		AccessToken: "enc",
		Expiry:      time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.Close())

	store, err = New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec, err := store.Get(ctx, "u1", models.ProviderYouTube)
	require.NoError(t, err)
	assert.Equal(t, "enc", rec.AccessToken)
}
