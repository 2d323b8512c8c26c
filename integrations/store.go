// Package integrations manages the credential lifecycle of third-party
// integrations: encrypted storage, authorization state, token acquisition,
// refresh, revocation and the proactive refresh sweep.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/models"
)

// Cipher seals secrets before they reach storage.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// ConfigStore is the only path between IntegrationConfig values and the
// repositories. Tokens are encrypted on the way in and decrypted on the way out.
type ConfigStore struct {
	repo   models.IntegrationRepository
	events models.LifecycleEventRepository
	cipher Cipher
	logger *zap.Logger
}

func NewConfigStore(repo models.IntegrationRepository, events models.LifecycleEventRepository, cipher Cipher, logger *zap.Logger) *ConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfigStore{
		repo:   repo,
		events: events,
		cipher: cipher,
		logger: logger.Named("config_store"),
	}
}

// Upsert stores cfg, overwriting any existing config for the same user and provider.
func (s *ConfigStore) Upsert(ctx context.Context, cfg *models.IntegrationConfig) error {
	rec, err := s.toRecord(cfg)
	if err != nil {
		return err
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save integration: %w", err)
	}

	cfg.CreatedAt = rec.CreatedAt
	cfg.UpdatedAt = rec.UpdatedAt

	return nil
}

// Get returns the decrypted config, or models.ErrNotFound.
func (s *ConfigStore) Get(ctx context.Context, userID, provider string) (*models.IntegrationConfig, error) {
	rec, err := s.repo.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}

		return nil, fmt.Errorf("get integration: %w", err)
	}

	return s.fromRecord(rec)
}

func (s *ConfigStore) Delete(ctx context.Context, userID, provider string) error {
	if err := s.repo.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}

	return nil
}

// ListExpiring returns the user ids of the provider's integrations expiring before the given time.
// Tokens are not decrypted here; the sweep reloads each config through Get.
func (s *ConfigStore) ListExpiring(ctx context.Context, provider string, before time.Time) ([]string, error) {
	recs, err := s.repo.ListExpiring(ctx, provider, before)
	if err != nil {
		return nil, fmt.Errorf("list expiring integrations: %w", err)
	}

	ids := make([]string, 0, len(recs))
	for i := range recs {
		ids = append(ids, recs[i].UserID)
	}

	return ids, nil
}

// AppendLifecycleEvent writes an audit event. It never fails the caller:
// write errors are logged and dropped.
func (s *ConfigStore) AppendLifecycleEvent(ctx context.Context, event *models.LifecycleEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Warn("failed to append lifecycle event",
			zap.String("user_id", event.UserID),
			zap.String("provider", event.Provider),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Events returns the user's most recent lifecycle events.
func (s *ConfigStore) Events(ctx context.Context, userID string, limit int) ([]models.LifecycleEvent, error) {
	return s.events.ListByUser(ctx, userID, limit)
}

func (s *ConfigStore) toRecord(cfg *models.IntegrationConfig) (*models.IntegrationRecord, error) {
	access, err := s.cipher.Encrypt(cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	var refresh string
	if cfg.RefreshToken != "" {
		refresh, err = s.cipher.Encrypt(cfg.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	return &models.IntegrationRecord{
		UserID:       cfg.UserID,
		Provider:     cfg.Provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    cfg.TokenType,
		Scope:        cfg.Scope,
		Expiry:       cfg.Expiry.UTC(),
		Extra:        maps.Clone(cfg.Extra),
		CreatedAt:    cfg.CreatedAt,
	}, nil
}

func (s *ConfigStore) fromRecord(rec *models.IntegrationRecord) (*models.IntegrationConfig, error) {
	access, err := s.cipher.Decrypt(rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}

	var refresh string
	if rec.RefreshToken != "" {
		refresh, err = s.cipher.Decrypt(rec.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	return &models.IntegrationConfig{
		UserID:       rec.UserID,
		Provider:     rec.Provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    rec.TokenType,
		Scope:        rec.Scope,
		Expiry:       rec.Expiry,
		Extra:        maps.Clone(rec.Extra),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}
