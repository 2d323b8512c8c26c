package integrations

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/models"
)

func reauthErr() error {
	return errors.Join(models.ErrReauthorizationRequired, errors.New("invalid_grant"))
}

func TestAuthURLAndCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		env := newTestEnv(t)

		authURL, err := env.manager.AuthURL(ctx, "u1")
		require.NoError(t, err)

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		state := u.Query().Get("state")
		require.NotEmpty(t, state)

		res := env.manager.HandleCallback(ctx, "code123", state)
		require.NoError(t, res.Err)
		assert.True(t, res.Success)
		assert.Equal(t, "u1", res.UserID)

		cfg, err := env.store.Get(ctx, "u1", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Equal(t, "access-code123", cfg.AccessToken)
		assert.Equal(t, "refresh-code123", cfg.RefreshToken)
		assert.Equal(t, env.now.Add(time.Hour), cfg.Expiry)

		evs := env.events(t, "u1")
		assert.True(t, hasEvent(evs, models.EventAuthorize, models.EventStatusSuccess))
		assert.True(t, hasEvent(evs, models.EventCallback, models.EventStatusSuccess))
	})

	t.Run("invalid state performs no exchange", func(t *testing.T) {
		env := newTestEnv(t)

		res := env.manager.HandleCallback(ctx, "code123", "forged")
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, models.ErrInvalidState)
		assert.Zero(t, env.oauth.exchangeCalls.Load())
	})

	t.Run("replayed state performs no second exchange", func(t *testing.T) {
		env := newTestEnv(t)

		state, err := env.states.Issue(ctx, "u1")
		require.NoError(t, err)

		require.True(t, env.manager.HandleCallback(ctx, "c", state).Success)

		res := env.manager.HandleCallback(ctx, "c", state)
		assert.ErrorIs(t, res.Err, models.ErrInvalidState)
		assert.Equal(t, int32(1), env.oauth.exchangeCalls.Load())
	})

	t.Run("exchange failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.exchangeErr = errors.New("bad code")

		state, err := env.states.Issue(ctx, "u1")
		require.NoError(t, err)

		res := env.manager.HandleCallback(ctx, "c", state)
		assert.False(t, res.Success)
		assert.Equal(t, "u1", res.UserID)
		assert.ErrorIs(t, res.Err, models.ErrTokenExchange)
		assert.True(t, hasEvent(env.events(t, "u1"), models.EventCallback, models.EventStatusFailure))
	})
}

func TestEnsureValid(t *testing.T) {
	ctx := context.Background()

	t.Run("token outside the buffer is returned unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "u1", 1000*time.Second, "r1")

		tok, err := env.manager.EnsureValid(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "access-u1", tok)
		assert.Zero(t, env.oauth.refreshCalls.Load())
	})

	t.Run("token inside the buffer is refreshed", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "u1", 100*time.Second, "r1")

		tok, err := env.manager.EnsureValid(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "refreshed-r1", tok)
		assert.Equal(t, int32(1), env.oauth.refreshCalls.Load())

		cfg, err := env.store.Get(ctx, "u1", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Equal(t, "r1", cfg.RefreshToken)
		assert.Equal(t, env.now.Add(time.Hour), cfg.Expiry)
		assert.True(t, hasEvent(env.events(t, "u1"), models.EventRefresh, models.EventStatusSuccess))
	})

	t.Run("new refresh token replaces the old one", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.newRefreshToken = "r2"
		env.seed(t, "u1", -time.Minute, "r1")

		_, err := env.manager.EnsureValid(ctx, "u1")
		require.NoError(t, err)

		cfg, err := env.store.Get(ctx, "u1", models.ProviderYouTube)
		require.NoError(t, err)
		assert.Equal(t, "r2", cfg.RefreshToken)
	})

	t.Run("no integration", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.manager.EnsureValid(ctx, "ghost")
		assert.ErrorIs(t, err, models.ErrReauthorizationRequired)
	})

	t.Run("missing refresh token is terminal", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "u1", time.Minute, "")

		_, err := env.manager.EnsureValid(ctx, "u1")
		assert.ErrorIs(t, err, models.ErrReauthorizationRequired)
		assert.Zero(t, env.oauth.refreshCalls.Load())
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.refreshErrs = []error{
			models.Retryable(errors.New("503")),
			models.Retryable(errors.New("429")),
		}
		env.seed(t, "u1", time.Minute, "r1")

		tok, err := env.manager.EnsureValid(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "refreshed-r1", tok)
		assert.Equal(t, int32(3), env.oauth.refreshCalls.Load())
	})
}

func TestEnsureValidSingleRefreshUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.oauth.refreshBlock = make(chan struct{})
	env.oauth.refreshStarted = make(chan struct{})
	env.seed(t, "u1", 0, "r1")

	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		firstTok string
		firstErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		firstTok, firstErr = env.manager.EnsureValid(ctx, "u1")
	}()

	<-env.oauth.refreshStarted

	_, err := env.manager.EnsureValid(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrRefreshInProgress)

	close(env.oauth.refreshBlock)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, "refreshed-r1", firstTok)
	assert.Equal(t, int32(1), env.oauth.refreshCalls.Load())
}

func TestRefreshInvalidGrantRevokes(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t)
	env.oauth.refreshErrs = []error{reauthErr()}
	env.seed(t, "u1", time.Minute, "r1")

	_, err := env.manager.EnsureValid(ctx, "u1")
	require.ErrorIs(t, err, models.ErrReauthorizationRequired)
	assert.Equal(t, int32(1), env.oauth.refreshCalls.Load())

	_, err = env.store.Get(ctx, "u1", models.ProviderYouTube)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.True(t, hasEvent(env.events(t, "u1"), models.EventRevoke, models.EventStatusSuccess))

	_, err = env.manager.EnsureValid(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrReauthorizationRequired)
	assert.Equal(t, int32(1), env.oauth.refreshCalls.Load())
}

func TestRefreshSingleAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.oauth.refreshErrs = []error{models.Retryable(errors.New("503"))}
	env.seed(t, "u1", time.Minute, "r1")

	err := env.manager.Refresh(context.Background(), "u1")
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, int32(1), env.oauth.refreshCalls.Load())
	assert.True(t, hasEvent(env.events(t, "u1"), models.EventError, models.EventStatusFailure))

	_, err = env.store.Get(context.Background(), "u1", models.ProviderYouTube)
	assert.NoError(t, err)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes upstream and deletes locally", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "u1", time.Hour, "r1")

		require.NoError(t, env.manager.Revoke(ctx, "u1"))
		assert.Equal(t, []string{"r1"}, env.oauth.revokedTokens)

		_, err := env.store.Get(ctx, "u1", models.ProviderYouTube)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.True(t, hasEvent(env.events(t, "u1"), models.EventRevoke, models.EventStatusSuccess))
	})

	t.Run("local delete wins when upstream revocation fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.revokeErr = errors.New("upstream down")
		env.seed(t, "u1", time.Hour, "r1")

		require.NoError(t, env.manager.Revoke(ctx, "u1"))

		_, err := env.store.Get(ctx, "u1", models.ProviderYouTube)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.True(t, hasEvent(env.events(t, "u1"), models.EventRevoke, models.EventStatusFailure))
	})

	t.Run("nothing stored", func(t *testing.T) {
		env := newTestEnv(t)

		require.NoError(t, env.manager.Revoke(ctx, "ghost"))
		assert.Zero(t, env.oauth.revokeCalls.Load())
	})
}
