package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/runner"
	"github.com/Vector/vector-leads-crm/runner/webrunner"
	"github.com/Vector/vector-leads-crm/runner/workerrunner"
	"github.com/Vector/vector-leads-crm/tlmt"
)

func main() {
	_ = godotenv.Load() // Load .env file if present

	cfg := runner.ParseConfig()

	logger, err := runner.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	runner.Banner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	telemetry := runner.Telemetry(cfg.DisableTelemetry, logger)

	code := run(ctx, cfg, logger, telemetry)

	stop()

	_ = logger.Sync()

	os.Exit(code)
}

func run(ctx context.Context, cfg *runner.Config, logger *zap.Logger, telemetry tlmt.Telemetry) int {
	defer func() { _ = telemetry.Close() }()

	runnerInstance, err := runnerFactory(ctx, cfg, logger, telemetry)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return 1
	}

	code := 0

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped with error", zap.Error(err))

		code = 1
	}

	if err := runnerInstance.Close(context.Background()); err != nil {
		logger.Warn("close failed", zap.Error(err))
	}

	logger.Info("shutdown complete")

	return code
}

func runnerFactory(ctx context.Context, cfg *runner.Config, logger *zap.Logger, telemetry tlmt.Telemetry) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeWeb:
		return webrunner.New(ctx, cfg, logger, telemetry)
	case runner.RunModeWorker:
		return workerrunner.New(ctx, cfg, logger, telemetry)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
