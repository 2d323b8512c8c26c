package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/tlmt"
	"github.com/Vector/vector-leads-crm/tlmt/gonoop"
)

const (
	// DefaultRefreshBuffer is how close to expiry a token is refreshed on demand.
	DefaultRefreshBuffer = 300 * time.Second
	// DefaultSweepLookahead is the window the sweep uses to pick expiring tokens.
	DefaultSweepLookahead = 2 * time.Hour
	// DefaultSweepConcurrency bounds the number of users refreshed at once by a sweep.
	DefaultSweepConcurrency = 8
)

// CallbackResult is what the redirect surface receives from HandleCallback.
type CallbackResult struct {
	Success bool
	UserID  string
	Err     error
}

// TokenManager drives a provider integration through its lifecycle:
// authorization, code exchange, expiry checks, refresh and revocation.
type TokenManager struct {
	provider string
	store    *ConfigStore
	states   *StateManager
	oauth    OAuthProvider
	guard    *refreshGuard

	retry            RetryPolicy
	buffer           time.Duration
	lookahead        time.Duration
	sweepConcurrency int
	now              func() time.Time
	logger           *zap.Logger
	telemetry        tlmt.Telemetry
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithRefreshBuffer sets how close to expiry EnsureValid starts refreshing.
func WithRefreshBuffer(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.buffer = d
		}
	}
}

// WithSweepLookahead sets the expiry window used by Sweep.
func WithSweepLookahead(d time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.lookahead = d
		}
	}
}

// WithSweepConcurrency bounds how many users a sweep refreshes in parallel.
func WithSweepConcurrency(n int) TokenManagerOption {
	return func(m *TokenManager) {
		if n > 0 {
			m.sweepConcurrency = n
		}
	}
}

func WithRetryPolicy(p RetryPolicy) TokenManagerOption {
	return func(m *TokenManager) {
		m.retry = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

func WithLogger(logger *zap.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTelemetry reports every sweep to t.
func WithTelemetry(t tlmt.Telemetry) TokenManagerOption {
	return func(m *TokenManager) {
		if t != nil {
			m.telemetry = t
		}
	}
}

func NewTokenManager(provider string, store *ConfigStore, states *StateManager, oauth OAuthProvider, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		provider:         provider,
		store:            store,
		states:           states,
		oauth:            oauth,
		guard:            newRefreshGuard(),
		retry:            DefaultRetryPolicy(),
		buffer:           DefaultRefreshBuffer,
		lookahead:        DefaultSweepLookahead,
		sweepConcurrency: DefaultSweepConcurrency,
		now:              time.Now,
		logger:           zap.NewNop(),
		telemetry:        gonoop.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.Named("token_manager").With(zap.String("provider", provider))

	return m
}

// Provider returns the provider type this manager is responsible for.
func (m *TokenManager) Provider() string {
	return m.provider
}

// AuthURL issues a state token for userID and returns the consent screen URL.
func (m *TokenManager) AuthURL(ctx context.Context, userID string) (string, error) {
	state, err := m.states.Issue(ctx, userID)
	if err != nil {
		m.emit(ctx, userID, models.EventAuthorize, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return "", err
	}

	m.emit(ctx, userID, models.EventAuthorize, models.EventStatusSuccess, nil)

	return m.oauth.AuthCodeURL(state), nil
}

// HandleCallback validates state and exchanges code for tokens. An invalid
// state aborts before the provider is contacted.
func (m *TokenManager) HandleCallback(ctx context.Context, code, state string) CallbackResult {
	st, err := m.states.Consume(ctx, state)
	if err != nil {
		m.logger.Warn("rejected authorization callback", zap.Error(err))

		return CallbackResult{Err: err}
	}

	if code == "" {
		err := fmt.Errorf("%w: missing authorization code", models.ErrTokenExchange)
		m.emit(ctx, st.UserID, models.EventCallback, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return CallbackResult{UserID: st.UserID, Err: err}
	}

	if err := m.ExchangeCodeForTokens(ctx, st.UserID, code); err != nil {
		return CallbackResult{UserID: st.UserID, Err: err}
	}

	return CallbackResult{Success: true, UserID: st.UserID}
}

// ExchangeCodeForTokens trades an authorization code for tokens and stores them.
func (m *TokenManager) ExchangeCodeForTokens(ctx context.Context, userID, code string) error {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		if !errors.Is(err, models.ErrTokenExchange) {
			err = fmt.Errorf("%w: %w", models.ErrTokenExchange, err)
		}

		m.logger.Error("authorization code exchange failed", zap.String("user_id", userID), zap.Error(err))
		m.emit(ctx, userID, models.EventCallback, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return err
	}

	cfg := &models.IntegrationConfig{
		UserID:       userID,
		Provider:     m.provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        tokenScope(tok),
		Expiry:       m.tokenExpiry(tok),
	}

	if err := m.store.Upsert(ctx, cfg); err != nil {
		m.emit(ctx, userID, models.EventCallback, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return err
	}

	m.emit(ctx, userID, models.EventCallback, models.EventStatusSuccess, map[string]any{
		"expires_at":        cfg.Expiry,
		"has_refresh_token": cfg.RefreshToken != "",
	})

	m.logger.Info("integration authorized", zap.String("user_id", userID))

	return nil
}

// EnsureValid returns an access token that is valid for at least the refresh
// buffer, refreshing it first when needed. A caller arriving while another
// refresh for the same user is in flight gets models.ErrRefreshInProgress.
func (m *TokenManager) EnsureValid(ctx context.Context, userID string) (string, error) {
	cfg, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}

	if !cfg.ExpiresWithin(m.now(), m.buffer) {
		return cfg.AccessToken, nil
	}

	release, ok := m.guard.tryAcquire(userID)
	if !ok {
		return "", models.ErrRefreshInProgress
	}
	defer release()

	var refreshed *models.IntegrationConfig

	err = m.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		refreshed, err = m.refresh(ctx, userID)

		return err
	})
	if err != nil {
		return "", err
	}

	return refreshed.AccessToken, nil
}

// Refresh makes a single refresh attempt for userID.
func (m *TokenManager) Refresh(ctx context.Context, userID string) error {
	release, ok := m.guard.tryAcquire(userID)
	if !ok {
		return models.ErrRefreshInProgress
	}
	defer release()

	_, err := m.refresh(ctx, userID)

	return err
}

// RefreshWithRetry refreshes userID's token, retrying transient failures
// according to the manager's retry policy.
func (m *TokenManager) RefreshWithRetry(ctx context.Context, userID string) error {
	release, ok := m.guard.tryAcquire(userID)
	if !ok {
		return models.ErrRefreshInProgress
	}
	defer release()

	return m.retry.Do(ctx, func(ctx context.Context) error {
		_, err := m.refresh(ctx, userID)

		return err
	})
}

// refresh must be called with the user's guard held.
func (m *TokenManager) refresh(ctx context.Context, userID string) (*models.IntegrationConfig, error) {
	cfg, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cfg.RefreshToken == "" {
		err := fmt.Errorf("%w: no refresh token stored", models.ErrReauthorizationRequired)
		m.emit(ctx, userID, models.EventError, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return nil, err
	}

	tok, err := m.oauth.Refresh(ctx, cfg.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrReauthorizationRequired) {
			m.revokeLocally(ctx, userID, err)

			return nil, err
		}

		m.logger.Warn("token refresh failed",
			zap.String("user_id", userID),
			zap.Bool("retryable", models.IsRetryable(err)),
			zap.Error(err),
		)
		m.emit(ctx, userID, models.EventError, models.EventStatusFailure, map[string]any{
			"operation": "refresh",
			"retryable": models.IsRetryable(err),
			"error":     err.Error(),
		})

		return nil, err
	}

	cfg.AccessToken = tok.AccessToken
	cfg.Expiry = m.tokenExpiry(tok)

	if tok.RefreshToken != "" {
		cfg.RefreshToken = tok.RefreshToken
	}

	if tok.TokenType != "" {
		cfg.TokenType = tok.TokenType
	}

	if scope := tokenScope(tok); scope != "" {
		cfg.Scope = scope
	}

	if err := m.store.Upsert(ctx, cfg); err != nil {
		m.emit(ctx, userID, models.EventRefresh, models.EventStatusFailure, map[string]any{"error": err.Error()})

		return nil, err
	}

	m.emit(ctx, userID, models.EventRefresh, models.EventStatusSuccess, map[string]any{"expires_at": cfg.Expiry})
	m.logger.Debug("token refreshed", zap.String("user_id", userID), zap.Time("expires_at", cfg.Expiry))

	return cfg, nil
}

// revokeLocally drops an integration the provider has definitively rejected.
func (m *TokenManager) revokeLocally(ctx context.Context, userID string, cause error) {
	m.logger.Warn("provider rejected refresh token, removing integration",
		zap.String("user_id", userID),
		zap.Error(cause),
	)

	details := map[string]any{"reason": cause.Error(), "initiator": "provider"}

	if err := m.store.Delete(ctx, userID, m.provider); err != nil {
		m.logger.Error("failed to delete rejected integration", zap.String("user_id", userID), zap.Error(err))
		details["delete_error"] = err.Error()
		m.emit(ctx, userID, models.EventRevoke, models.EventStatusFailure, details)

		return
	}

	m.emit(ctx, userID, models.EventRevoke, models.EventStatusSuccess, details)
}

// Revoke disconnects userID. The provider revocation call is best-effort;
// the local delete decides the outcome.
func (m *TokenManager) Revoke(ctx context.Context, userID string) error {
	cfg, err := m.store.Get(ctx, userID, m.provider)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	details := map[string]any{"initiator": "user"}

	if cfg != nil {
		token := cfg.RefreshToken
		if token == "" {
			token = cfg.AccessToken
		}

		if rerr := m.oauth.Revoke(ctx, token); rerr != nil {
			m.logger.Warn("upstream token revocation failed", zap.String("user_id", userID), zap.Error(rerr))
			details["upstream_error"] = rerr.Error()
		}
	}

	if err := m.store.Delete(ctx, userID, m.provider); err != nil {
		details["error"] = err.Error()
		m.emit(ctx, userID, models.EventRevoke, models.EventStatusFailure, details)

		return err
	}

	status := models.EventStatusSuccess
	if _, failed := details["upstream_error"]; failed {
		status = models.EventStatusFailure
	}

	m.emit(ctx, userID, models.EventRevoke, status, details)

	return nil
}

// Status returns the stored integration of userID, or models.ErrNotFound.
func (m *TokenManager) Status(ctx context.Context, userID string) (*models.IntegrationConfig, error) {
	return m.store.Get(ctx, userID, m.provider)
}

func (m *TokenManager) load(ctx context.Context, userID string) (*models.IntegrationConfig, error) {
	cfg, err := m.store.Get(ctx, userID, m.provider)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s integration", models.ErrReauthorizationRequired, m.provider)
		}

		return nil, err
	}

	return cfg, nil
}

func (m *TokenManager) tokenExpiry(tok *oauth2.Token) time.Time {
	if tok.ExpiresIn > 0 {
		return m.now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	return tok.Expiry.UTC()
}

func (m *TokenManager) emit(ctx context.Context, userID, eventType, status string, details map[string]any) {
	m.store.AppendLifecycleEvent(ctx, &models.LifecycleEvent{
		UserID:    userID,
		Provider:  m.provider,
		EventType: eventType,
		Status:    status,
		Details:   details,
		CreatedAt: m.now().UTC(),
	})
}

func tokenScope(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok {
		return s
	}

	return ""
}
