package integrations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-crm/models"
	"github.com/Vector/vector-leads-crm/tlmt"
)

// SweepReport summarises one pass of the proactive refresh sweep.
type SweepReport struct {
	Candidates int
	Refreshed  int
	Revoked    int
	Skipped    int
	Failed     int
	Duration   time.Duration
	// Aborted is set when the candidates could not be listed.
	Aborted bool
	Err     error
}

// Sweep refreshes every integration of the managed provider that expires
// within the lookahead window. Users are refreshed concurrently and
// independently; one user's failure never cancels another's refresh.
func (m *TokenManager) Sweep(ctx context.Context) SweepReport {
	start := m.now()
	report := SweepReport{}

	userIDs, err := m.store.ListExpiring(ctx, m.provider, start.UTC().Add(m.lookahead))
	if err != nil {
		m.logger.Error("sweep: list expiring integrations", zap.Error(err))

		report.Aborted = true
		report.Err = err
		report.Duration = m.now().Sub(start)

		return report
	}

	report.Candidates = len(userIDs)

	var (
		mu   sync.Mutex
		errs error
	)

	g := new(errgroup.Group)
	g.SetLimit(m.sweepConcurrency)

	for _, userID := range userIDs {
		g.Go(func() error {
			err := m.RefreshWithRetry(ctx, userID)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				report.Refreshed++
			case errors.Is(err, models.ErrRefreshInProgress):
				report.Skipped++
			case errors.Is(err, models.ErrReauthorizationRequired):
				report.Revoked++
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", userID, err))
			default:
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", userID, err))
			}

			return nil
		})
	}

	_ = g.Wait()

	report.Err = errs
	report.Duration = m.now().Sub(start)

	m.logger.Info("token sweep finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("revoked", report.Revoked),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)

	m.reportSweep(ctx, report)

	return report
}

func (m *TokenManager) reportSweep(ctx context.Context, report SweepReport) {
	ev := tlmt.NewEvent(tlmt.EventTokenSweep, map[string]any{
		"provider":    m.provider,
		"candidates":  report.Candidates,
		"refreshed":   report.Refreshed,
		"revoked":     report.Revoked,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})

	if err := m.telemetry.Send(ctx, ev); err != nil {
		m.logger.Debug("telemetry send failed", zap.Error(err))
	}
}

// Scheduler runs the token sweep and the authorization state purge on a
// fixed interval until its context is cancelled.
type Scheduler struct {
	tokens   *TokenManager
	states   *StateManager
	interval time.Duration
	logger   *zap.Logger
}

// DefaultSweepInterval is how often the scheduler runs.
const DefaultSweepInterval = time.Hour

func NewScheduler(tokens *TokenManager, states *StateManager, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		tokens:   tokens,
		states:   states,
		interval: interval,
		logger:   logger.Named("sweep_scheduler"),
	}
}

// Run blocks until ctx is done. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting token sweep scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("token sweep scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and purge.
func (s *Scheduler) RunOnce(ctx context.Context) SweepReport {
	report := s.tokens.Sweep(ctx)

	if s.states != nil {
		if _, err := s.states.PurgeExpired(ctx); err != nil {
			s.logger.Warn("failed to purge authorization states", zap.Error(err))
		}
	}

	return report
}
