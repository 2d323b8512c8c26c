package integrations

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Vector/vector-leads-crm/memory"
	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/pkg/encryption"
)

type fakeOAuth struct {
	mu sync.Mutex

	refreshCalls  atomic.Int32
	exchangeCalls atomic.Int32
	revokeCalls   atomic.Int32

	// refreshErrs are returned by successive Refresh calls before succeeding.
	refreshErrs []error
	// refreshBlock, when set, holds Refresh until closed.
	refreshBlock chan struct{}
	// refreshStarted is closed on the first Refresh call when set.
	refreshStarted chan struct{}
	startedOnce    sync.Once

	exchangeErr error
	revokeErr   error

	newRefreshToken string
	revokedTokens   []string
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.exchangeCalls.Add(1)

	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}

	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

func (f *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	n := f.refreshCalls.Add(1)

	if f.refreshStarted != nil {
		f.startedOnce.Do(func() { close(f.refreshStarted) })
	}

	if f.refreshBlock != nil {
		select {
		case <-f.refreshBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if int(n) <= len(f.refreshErrs) {
		return nil, f.refreshErrs[n-1]
	}

	return &oauth2.Token{
		AccessToken:  "refreshed-" + refreshToken,
		RefreshToken: f.newRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

func (f *fakeOAuth) Revoke(_ context.Context, token string) error {
	f.revokeCalls.Add(1)

	f.mu.Lock()
	f.revokedTokens = append(f.revokedTokens, token)
	f.mu.Unlock()

	return f.revokeErr
}

type failingEvents struct{}

func (failingEvents) Append(context.Context, *models.LifecycleEvent) error {
	return errors.New("audit sink unavailable")
}

func (failingEvents) ListByUser(context.Context, string, int) ([]models.LifecycleEvent, error) {
	return nil, nil
}

type testEnv struct {
	now     time.Time
	mem     *memory.Store
	store   *ConfigStore
	states  *StateManager
	oauth   *fakeOAuth
	manager *TokenManager
}

func newTestEnv(t *testing.T, opts ...TokenManagerOption) *testEnv {
	t.Helper()

	vault, err := encryption.New("test-secret")
	require.NoError(t, err)

	env := &testEnv{
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		mem:   memory.New(),
		oauth: &fakeOAuth{},
	}

	clock := func() time.Time { return env.now }

	env.store = NewConfigStore(env.mem, env.mem, vault, nil)
	env.states = NewStateManager(env.mem, nil)
	env.states.now = clock

	noSleep := RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		sleep:        func(context.Context, time.Duration) error { return nil },
	}

	opts = append([]TokenManagerOption{WithClock(clock), WithRetryPolicy(noSleep)}, opts...)
	env.manager = NewTokenManager(models.ProviderYouTube, env.store, env.states, env.oauth, opts...)

	return env
}

func (e *testEnv) seed(t *testing.T, userID string, expiresIn time.Duration, refreshToken string) {
	t.Helper()

	require.NoError(t, e.store.Upsert(context.Background(), &models.IntegrationConfig{
		UserID:       userID,
		Provider:     models.ProviderYouTube,
		AccessToken:  "access-" + userID,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       e.now.Add(expiresIn),
	}))
}

func (e *testEnv) events(t *testing.T, userID string) []models.LifecycleEvent {
	t.Helper()

	evs, err := e.store.Events(context.Background(), userID, 0)
	require.NoError(t, err)

	return evs
}

func hasEvent(events []models.LifecycleEvent, eventType, status string) bool {
	for i := range events {
		if events[i].EventType == eventType && events[i].Status == status {
			return true
		}
	}

	return false
}
