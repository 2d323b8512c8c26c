package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/config"
	"github.com/Vector/vector-leads-crm/integrations"
	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/pkg/encryption"
	"github.com/Vector/vector-leads-crm/postgres"
	"github.com/Vector/vector-leads-crm/redis"
	redisconfig "github.com/Vector/vector-leads-crm/redis/config"
	"github.com/Vector/vector-leads-crm/sqlite"
	"github.com/Vector/vector-leads-crm/tlmt"
)

const sqliteFileName = "integrations.db"

// Services is the credential lifecycle shared by the web and worker runners.
type Services struct {
	Integration *config.Integration
	Store       *integrations.ConfigStore
	States      *integrations.StateManager
	Tokens      *integrations.TokenManager

	closers []func() error
}

type repositories struct {
	integrations models.IntegrationRepository
	events       models.LifecycleEventRepository
	states       models.AuthorizationStateRepository
}

// NewServices loads the integration settings, opens the store selected by cfg
// and builds the YouTube token manager on top of it.
func NewServices(ctx context.Context, cfg *Config, logger *zap.Logger, telemetry tlmt.Telemetry) (*Services, error) {
	icfg, err := config.LoadIntegration()
	if err != nil {
		return nil, err
	}

	if err := icfg.Validate(); err != nil {
		return nil, err
	}

	vault, err := encryption.New(icfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption vault: %w", err)
	}

	svc := &Services{Integration: icfg}

	repos, err := svc.openStore(ctx, cfg, logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	if cfg.UseRedisState {
		states, err := svc.openRedisStates(ctx, logger)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}

		repos.states = states
	}

	svc.Store = integrations.NewConfigStore(repos.integrations, repos.events, vault, logger)
	svc.States = integrations.NewStateManager(repos.states, logger)

	oauth := integrations.NewGoogleOAuth(integrations.OAuthConfig{
		ClientID:     icfg.ClientID,
		ClientSecret: icfg.ClientSecret,
		RedirectURL:  icfg.RedirectURL,
		Scopes:       icfg.Scopes,
		Timeout:      icfg.HTTPTimeout,
	})

	svc.Tokens = integrations.NewTokenManager(models.ProviderYouTube, svc.Store, svc.States, oauth,
		integrations.WithRefreshBuffer(icfg.RefreshBuffer),
		integrations.WithSweepLookahead(icfg.SweepLookahead),
		integrations.WithTelemetry(telemetry),
		integrations.WithLogger(logger),
	)

	return svc, nil
}

func (s *Services) openStore(ctx context.Context, cfg *Config, logger *zap.Logger) (*repositories, error) {
	if cfg.Dsn != "" {
		if err := postgres.NewMigrationRunner(cfg.Dsn, logger).RunMigrations(); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		db, err := postgres.Open(ctx, cfg.Dsn)
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, db.Close)

		logger.Info("using postgres store")

		return &repositories{
			integrations: postgres.NewIntegrationRepository(db),
			events:       postgres.NewLifecycleEventRepository(db),
			states:       postgres.NewAuthorizationStateRepository(db),
		}, nil
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, err
	}

	dbpath := filepath.Join(cfg.DataFolder, sqliteFileName)

	store, err := sqlite.New(dbpath)
	if err != nil {
		return nil, err
	}

	s.closers = append(s.closers, store.Close)

	logger.Info("using sqlite store", zap.String("path", dbpath))

	return &repositories{integrations: store, events: store, states: store}, nil
}

func (s *Services) openRedisStates(ctx context.Context, logger *zap.Logger) (*redis.StateStore, error) {
	rcfg, err := redisconfig.NewRedisConfig()
	if err != nil {
		return nil, err
	}

	opts, err := rcfg.ClientOptions()
	if err != nil {
		return nil, err
	}

	rdb := goredis.NewClient(opts)
	s.closers = append(s.closers, rdb.Close)

	err = redis.RetryWithBackoff(ctx, logger, func() error {
		return rdb.Ping(ctx).Err()
	}, rcfg.MaxRetries+1, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("using redis authorization state store", zap.String("addr", rcfg.GetRedisAddr()))

	return redis.NewStateStore(rdb), nil
}

// Close releases the store connections.
func (s *Services) Close() error {
	var err error

	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}

	s.closers = nil

	return err
}
