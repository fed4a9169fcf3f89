// Package scheduler runs the periodic maintenance jobs: monthly usage resets
// and the stale generation sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell/internal/clock"
	generationdomain "github.com/inkwellhq/inkwell/internal/generation/domain"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    tenantdomain.Repository
	Tracker generationdomain.Tracker
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
	Config  Config              `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	repo    tenantdomain.Repository
	tracker generationdomain.Tracker
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Repo == nil || p.Tracker == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		repo:    p.Repo,
		tracker: p.Tracker,
		clock:   p.Clock,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))

	err := fn(ctx)
	if err == nil {
		s.metrics.RecordSchedulerRun(ctx, name, "ok")
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordSchedulerRun(parent, name, "timeout")
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.RecordSchedulerRun(parent, name, "error")
	log.Error("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var errs []error

	if err := s.runJob(parent, "usage_reset", 30*time.Second, s.UsageResetJob); err != nil {
		errs = append(errs, err)
	}
	if err := s.runJob(parent, "stale_generations", 30*time.Second, s.StaleGenerationsJob); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.RunInterval))

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// UsageResetJob zeroes stored monthly counters for tenants whose reset date
// predates the current calendar month. The request path resets lazily too,
// so this sweep only keeps reporting fresh for idle tenants.
func (s *Scheduler) UsageResetJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	projects, err := s.repo.StaleProjects(ctx, monthStart, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale projects: %w", err)
	}
	for _, id := range projects {
		if err := s.repo.ResetProjectUsage(ctx, id, now); err != nil {
			return fmt.Errorf("reset project %s: %w", id, err)
		}
	}

	accounts, err := s.repo.StaleUserAccounts(ctx, monthStart, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale user accounts: %w", err)
	}
	for _, id := range accounts {
		if err := s.repo.ResetUserUsage(ctx, id, now); err != nil {
			return fmt.Errorf("reset user account %s: %w", id, err)
		}
	}

	if len(projects)+len(accounts) > 0 {
		s.log.Info("monthly usage reset",
			zap.Int("projects", len(projects)),
			zap.Int("user_accounts", len(accounts)),
		)
	}
	return nil
}

// StaleGenerationsJob fails started logs that outlived the stale window so
// abandoned attempts do not sit open forever.
func (s *Scheduler) StaleGenerationsJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.StaleAfter)

	ids, err := s.tracker.StaleStarted(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale generations: %w", err)
	}

	failed := 0
	for _, id := range ids {
		err := s.tracker.LogFailure(ctx, id, "generation did not complete within the allowed window")
		if err != nil {
			// A concurrent close between the scan and the sweep is fine.
			if errors.Is(err, generationdomain.ErrLogClosed) {
				continue
			}
			return fmt.Errorf("fail stale generation %s: %w", id, err)
		}
		failed++
	}

	if failed > 0 {
		s.log.Info("failed stale generations", zap.Int("count", failed))
	}
	return nil
}
