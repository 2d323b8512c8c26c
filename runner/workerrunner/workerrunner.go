// Package workerrunner runs the token sweep as a scheduled asynq task so
// that several web instances can share one sweeper.
package workerrunner

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/redis"
	"github.com/Vector/vector-leads-crm/redis/config"
	"github.com/Vector/vector-leads-crm/redis/tasks"
	"github.com/Vector/vector-leads-crm/runner"
	"github.com/Vector/vector-leads-crm/tlmt"
)

type workerrunner struct {
	server   *redis.Server
	client   *redis.Client
	mux      *asynq.ServeMux
	services *runner.Services
	provider string
	logger   *zap.Logger
}

func New(ctx context.Context, cfg *runner.Config, logger *zap.Logger, telemetry tlmt.Telemetry) (runner.Runner, error) {
	redisCfg, err := config.NewRedisConfig()
	if err != nil {
		return nil, err
	}

	svc, err := runner.NewServices(ctx, cfg, logger, telemetry)
	if err != nil {
		return nil, err
	}

	var client *redis.Client

	err = redis.RetryWithBackoff(ctx, logger, func() error {
		var cerr error
		client, cerr = redis.NewClient(redisCfg)

		return cerr
	}, redisCfg.MaxRetries+1, redisCfg.RetryInterval/4)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	server, err := redis.NewServer(redisCfg, logger)
	if err != nil {
		_ = client.Close()
		_ = svc.Close()

		return nil, fmt.Errorf("failed to create Redis server: %w", err)
	}

	if err := server.ScheduleTokenSweep(svc.Tokens.Provider(), cfg.SweepInterval, redisCfg.MaxRetries); err != nil {
		_ = client.Close()
		_ = svc.Close()

		return nil, err
	}

	handler := tasks.NewHandler(
		tasks.WithSweeper(svc.Tokens),
		tasks.WithStatePurger(svc.States),
		tasks.WithLogger(logger),
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeTokenSweep, handler)
	mux.Handle(tasks.TypeStatePurge, handler)

	return &workerrunner{
		server:   server,
		client:   client,
		mux:      mux,
		services: svc,
		provider: svc.Tokens.Provider(),
		logger:   logger.Named("workerrunner"),
	}, nil
}

// Run enqueues one sweep right away and serves until ctx is done.
func (w *workerrunner) Run(ctx context.Context) error {
	if err := w.client.EnqueueTokenSweep(ctx, w.provider); err != nil {
		w.logger.Warn("initial token sweep not enqueued", zap.Error(err))
	}

	return w.server.Run(ctx, w.mux)
}

func (w *workerrunner) Close(context.Context) error {
	w.logger.Info("shutting down worker")

	if err := w.client.Close(); err != nil {
		w.logger.Warn("error closing redis client", zap.Error(err))
	}

	return w.services.Close()
}
