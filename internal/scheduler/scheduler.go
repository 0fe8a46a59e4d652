// Package scheduler runs periodic housekeeping: trigger-log retention and
// registry stats logging.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
)

// StatsSource reports registry counters.
type StatsSource interface {
	Stats(ctx context.Context) (registry.Stats, error)
}

// Config holds cron specs (robfig/cron standard 5-field syntax or
// descriptors such as "@every 1h"). Empty specs disable a job.
type Config struct {
	PruneSpec string
	StatsSpec string
	Retention time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	log     model.TriggerLog
	stats   StatsSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler. stats and m may be nil.
func New(cfg Config, triggers model.TriggerLog, stats StatsSource, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		cfg:     cfg,
		log:     triggers,
		stats:   stats,
		metrics: m,
		logger:  logger.With("component", "scheduler"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if s.cfg.PruneSpec != "" && s.log != nil {
		if _, err := s.cron.AddFunc(s.cfg.PruneSpec, func() { s.Prune(context.Background()) }); err != nil {
			return fmt.Errorf("prune spec %q: %w", s.cfg.PruneSpec, err)
		}
	}
	if s.cfg.StatsSpec != "" && s.stats != nil {
		if _, err := s.cron.AddFunc(s.cfg.StatsSpec, func() { s.LogStats(context.Background()) }); err != nil {
			return fmt.Errorf("stats spec %q: %w", s.cfg.StatsSpec, err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops the runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Prune deletes trigger-log entries older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.log.PruneTriggers(ctx, cutoff)
	if err != nil {
		s.logger.Error("trigger log prune failed", "error", err)
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.TriggerLogPruned.Add(float64(n))
	}
	s.logger.Info("trigger log pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// LogStats logs the registry counters.
func (s *Scheduler) LogStats(ctx context.Context) {
	st, err := s.stats.Stats(ctx)
	if err != nil {
		s.logger.Error("registry stats failed", "error", err)
		return
	}
	s.logger.Info("registry stats",
		"total_conditions", st.TotalConditions,
		"active_conditions", st.ActiveConditions,
		"total_subscriptions", st.TotalSubscriptions,
		"avg_subscribers", st.AvgSubscribersPerCondition,
	)
}
