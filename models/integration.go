package models

import (
	"context"
	"time"
)

// ProviderYouTube is the provider type of the YouTube integration.
const ProviderYouTube = "youtube"

// IntegrationConfig is a user's credential set for one provider, with tokens in plaintext.
// It only ever lives in process memory; IntegrationRecord is what gets persisted.
type IntegrationConfig struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	Extra        map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiresWithin reports whether the access token expires within d of now.
func (c *IntegrationConfig) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.Expiry.Sub(now) <= d
}

// IntegrationRecord is the persisted form of an IntegrationConfig.
// AccessToken and RefreshToken hold vault envelopes, never plaintext.
type IntegrationRecord struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	Extra        map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IntegrationRepository manages user integration operations
type IntegrationRepository interface {
	Get(ctx context.Context, userID, provider string) (*IntegrationRecord, error)
	// Save inserts or overwrites the record keyed by (UserID, Provider).
	Save(ctx context.Context, record *IntegrationRecord) error
	Delete(ctx context.Context, userID, provider string) error
	// ListExpiring returns the provider's records whose expiry is before the given time.
	ListExpiring(ctx context.Context, provider string, before time.Time) ([]IntegrationRecord, error)
}

// Lifecycle event types.
const (
	EventAuthorize = "authorize"
	EventCallback  = "callback"
	EventRefresh   = "refresh"
	EventError     = "error"
	EventRevoke    = "revoke"
)

// Lifecycle event statuses.
const (
	EventStatusSuccess = "success"
	EventStatusFailure = "failure"
)

// LifecycleEvent is an append-only audit record of the integration lifecycle.
type LifecycleEvent struct {
	ID        string
	UserID    string
	Provider  string
	EventType string
	Status    string
	Details   map[string]any
	CreatedAt time.Time
}

// LifecycleEventRepository persists lifecycle events.
type LifecycleEventRepository interface {
	Append(ctx context.Context, event *LifecycleEvent) error
	// ListByUser returns the newest events first.
	ListByUser(ctx context.Context, userID string, limit int) ([]LifecycleEvent, error)
}

// AuthorizationStateTTL is how long an issued state token stays valid.
const AuthorizationStateTTL = 10 * time.Minute

// AuthorizationState binds a user to an in-flight authorization handshake.
type AuthorizationState struct {
	State     string
	UserID    string
	Nonce     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AuthorizationStateRepository stores single-use authorization states.
type AuthorizationStateRepository interface {
	Create(ctx context.Context, state *AuthorizationState) error
	// Consume atomically removes and returns the state if it exists and has not
	// expired at now. It returns ErrNotFound otherwise and leaves expired rows alone.
	Consume(ctx context.Context, state string, now time.Time) (*AuthorizationState, error)
	// DeleteExpired removes states that expired before now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
