package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/testcontainers"
)

func TestStateStore(t *testing.T) {
	tc := testcontainers.NewRedis(t)
	store := NewStateStore(tc.Redis)
	ctx := context.Background()
	now := time.Now().UTC()

	newState := func(name string) *models.AuthorizationState {
		return &models.AuthorizationState{
			State:     name,
			UserID:    "u-" + name,
			Nonce:     "n",
			CreatedAt: now,
			ExpiresAt: now.Add(models.AuthorizationStateTTL),
		}
	}

	t.Run("consume once", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newState("s1")))

		st, err := store.Consume(ctx, "s1", now)
		require.NoError(t, err)
		assert.Equal(t, "u-s1", st.UserID)

		_, err = store.Consume(ctx, "s1", now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("key carries the ttl", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newState("s2")))

		ttl, err := tc.Redis.TTL(ctx, stateKeyPrefix+"s2").Result()
		require.NoError(t, err)
		assert.InDelta(t, models.AuthorizationStateTTL.Seconds(), ttl.Seconds(), 5)
	})

	t.Run("duplicate state is rejected", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newState("s3")))
		assert.Error(t, store.Create(ctx, newState("s3")))
	})

	t.Run("consumed after expiry", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newState("s4")))

		_, err := store.Consume(ctx, "s4", now.Add(time.Hour))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("concurrent consumers", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newState("s5")))

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)

		for i := 0; i < 10; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				if _, err := store.Consume(ctx, "s5", now); err == nil {
					wins.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
