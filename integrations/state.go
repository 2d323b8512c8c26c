package integrations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/models"
)

const (
	stateBytes = 32
	nonceBytes = 16
)

// StateManager issues and consumes single-use CSRF state tokens for the
// authorization redirect.
type StateManager struct {
	repo   models.AuthorizationStateRepository
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewStateManager(repo models.AuthorizationStateRepository, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StateManager{
		repo:   repo,
		ttl:    models.AuthorizationStateTTL,
		now:    time.Now,
		logger: logger.Named("state_manager"),
	}
}

// Issue creates and persists a state token bound to userID.
func (m *StateManager) Issue(ctx context.Context, userID string) (string, error) {
	state, err := randomHex(stateBytes)
	if err != nil {
		return "", err
	}

	nonce, err := randomHex(nonceBytes)
	if err != nil {
		return "", err
	}

	now := m.now().UTC()

	err = m.repo.Create(ctx, &models.AuthorizationState{
		State:     state,
		UserID:    userID,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store authorization state: %w", err)
	}

	return state, nil
}

// Consume validates state and makes it unusable. Missing, expired and replayed
// tokens all yield models.ErrInvalidState.
func (m *StateManager) Consume(ctx context.Context, state string) (*models.AuthorizationState, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: empty state", models.ErrInvalidState)
	}

	st, err := m.repo.Consume(ctx, state, m.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidState
		}

		return nil, fmt.Errorf("consume authorization state: %w", err)
	}

	return st, nil
}

// PurgeExpired deletes states whose TTL has passed.
func (m *StateManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge authorization states: %w", err)
	}

	if n > 0 {
		m.logger.Debug("purged expired authorization states", zap.Int64("count", n))
	}

	return n, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}
