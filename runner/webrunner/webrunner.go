// Package webrunner serves the integration and analytics API and runs the
// hourly token sweep in the same process.
package webrunner

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-crm/analytics"
	"github.com/Vector/vector-leads-crm/integrations"
	"github.com/Vector/vector-leads-crm/runner"
	"github.com/Vector/vector-leads-crm/tlmt"
	"github.com/Vector/vector-leads-crm/web"
	"github.com/Vector/vector-leads-crm/web/handlers"
	"github.com/Vector/vector-leads-crm/youtube"
)

type webrunner struct {
	srv       *web.Server
	scheduler *integrations.Scheduler
	services  *runner.Services
	logger    *zap.Logger
}

func New(ctx context.Context, cfg *runner.Config, logger *zap.Logger, telemetry tlmt.Telemetry) (runner.Runner, error) {
	svc, err := runner.NewServices(ctx, cfg, logger, telemetry)
	if err != nil {
		return nil, err
	}

	yt := youtube.New(youtube.Config{
		Timeout: svc.Integration.HTTPTimeout,
		QPS:     svc.Integration.YouTubeQPS,
	}, logger)

	enumerator := analytics.NewEnumerator(svc.Tokens, yt, logger)
	metrics := analytics.NewMetricsFetcher(svc.Tokens, yt, logger)
	aggregator := analytics.NewAggregator(enumerator, metrics,
		analytics.WithTelemetry(telemetry),
		analytics.WithAggregatorLogger(logger),
	)

	handler := handlers.NewIntegrationHandler(svc.Tokens, enumerator, aggregator, cfg.CallbackRedirect, logger)

	srv, err := web.New(web.Config{
		Addr:           cfg.Addr,
		UserHeader:     cfg.UserHeader,
		AllowedOrigins: cfg.AllowedOrigins,
		Integration:    handler,
		Logger:         logger,
	})
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	ans := webrunner{
		srv:       srv,
		scheduler: integrations.NewScheduler(svc.Tokens, svc.States, cfg.SweepInterval, logger),
		services:  svc,
		logger:    logger.Named("webrunner"),
	}

	return &ans, nil
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.scheduler.Run(ctx)
	})

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	w.logger.Info("closing stores")

	return w.services.Close()
}
