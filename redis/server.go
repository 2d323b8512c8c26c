package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/redis/config"
	"github.com/Vector/vector-leads-crm/redis/tasks"
)

// Server runs the asynq worker together with the scheduler that enqueues the
// periodic token sweep.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewServer creates the worker server and its scheduler.
func NewServer(cfg *config.RedisConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("asynq")

	redisOpt, err := cfg.AsynqRedisOpt()
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Workers,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(1<<uint(n)) * time.Second
				if delay > cfg.RetryInterval {
					delay = cfg.RetryInterval
				}

				logger.Warn("task failed, retry scheduled",
					zap.String("task", task.Type()),
					zap.Int("retry", n),
					zap.Duration("delay", delay),
					zap.Error(err),
				)

				return delay
			},
			Queues:          cfg.QueuePriorities,
			StrictPriority:  true,
			ShutdownTimeout: 30 * time.Second,
			Logger:          logger.Sugar(),
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   logger.Sugar(),
	})

	return &Server{
		server:    srv,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// ScheduleTokenSweep registers the periodic sweep of provider. interval
// is rounded to whole seconds.
func (s *Server) ScheduleTokenSweep(provider string, interval time.Duration, maxRetries int) error {
	task, err := tasks.NewTokenSweepTask(provider)
	if err != nil {
		return err
	}

	spec := fmt.Sprintf("@every %s", interval.Round(time.Second))

	id, err := s.scheduler.Register(spec, task,
		asynq.Queue(config.QueueCritical),
		asynq.MaxRetry(maxRetries),
		asynq.Unique(interval),
	)
	if err != nil {
		return fmt.Errorf("failed to register token sweep: %w", err)
	}

	s.logger.Info("token sweep scheduled", zap.String("provider", provider), zap.String("spec", spec), zap.String("entry_id", id))

	return nil
}

// Start starts the worker with handler and then the scheduler.
func (s *Server) Start(handler asynq.Handler) error {
	if err := s.server.Start(handler); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context, handler asynq.Handler) error {
	if err := s.Start(handler); err != nil {
		return err
	}

	<-ctx.Done()

	s.Shutdown()

	return nil
}

// Shutdown stops the scheduler first so no new sweeps are enqueued while the
// worker drains.
func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
