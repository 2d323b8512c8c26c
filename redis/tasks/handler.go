// Package tasks provides the asynq task handlers of the worker mode.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/integrations"
)

// TaskHandler handles processing of Redis tasks
type TaskHandler interface {
	ProcessTask(ctx context.Context, task *asynq.Task) error
}

// Sweeper is the token manager of one provider.
type Sweeper interface {
	Provider() string
	Sweep(ctx context.Context) integrations.SweepReport
}

// StatePurger removes expired authorization states.
type StatePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Handler implements TaskHandler interface
type Handler struct {
	sweepers    map[string]Sweeper
	purger      StatePurger
	taskTimeout time.Duration
	logger      *zap.Logger
}

// HandlerOption is a function that configures a Handler
type HandlerOption func(*Handler)

// WithSweeper registers the token manager of a provider.
func WithSweeper(s Sweeper) HandlerOption {
	return func(h *Handler) {
		h.sweepers[s.Provider()] = s
	}
}

// WithStatePurger sets the authorization state purger run after each sweep.
func WithStatePurger(p StatePurger) HandlerOption {
	return func(h *Handler) {
		h.purger = p
	}
}

// WithTaskTimeout sets the timeout for task processing
func WithTaskTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.taskTimeout = timeout
	}
}

func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a new task handler with the provided options
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		sweepers:    make(map[string]Sweeper),
		taskTimeout: 30 * time.Minute,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.logger.Named("tasks")

	return h
}

// ProcessTask processes a task based on its type
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()

	switch task.Type() {
	case TypeTokenSweep:
		return h.processTokenSweep(ctx, task)
	case TypeStatePurge:
		return h.processStatePurge(ctx)
	case TypeHealthCheck, TypeConnectionTest:
		return nil
	default:
		return fmt.Errorf("unknown task type: %s", task.Type())
	}
}

// processTokenSweep fails the task only when the sweep could not start.
// Per-user failures are already retried inside the sweep and are not
// worth re-running the whole pass for.
func (h *Handler) processTokenSweep(ctx context.Context, task *asynq.Task) error {
	var payload TokenSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal token sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	sweeper, ok := h.sweepers[payload.Provider]
	if !ok {
		return fmt.Errorf("no sweeper registered for provider %q: %w", payload.Provider, asynq.SkipRetry)
	}

	report := sweeper.Sweep(ctx)
	if report.Aborted {
		return fmt.Errorf("token sweep for %s aborted: %w", payload.Provider, report.Err)
	}

	if report.Err != nil {
		h.logger.Warn("token sweep finished with failures",
			zap.String("provider", payload.Provider),
			zap.Int("failed", report.Failed),
			zap.Int("revoked", report.Revoked),
			zap.Error(report.Err),
		)
	}

	if h.purger != nil {
		if err := h.processStatePurge(ctx); err != nil {
			h.logger.Warn("state purge after sweep failed", zap.Error(err))
		}
	}

	return nil
}

func (h *Handler) processStatePurge(ctx context.Context) error {
	if h.purger == nil {
		return nil
	}

	n, err := h.purger.PurgeExpired(ctx)
	if err != nil {
		return err
	}

	h.logger.Debug("purged authorization states", zap.Int64("count", n))

	return nil
}
