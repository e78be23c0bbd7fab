// Package jobs runs periodic maintenance: stat aggregation, retention and
// alert state reconciliation.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/store"
)

// DefaultReconcileWindow is how many recent heartbeats are replayed per monitor
const DefaultReconcileWindow = 1000

// PolicyFunc resolves the alert policy of a monitor
type PolicyFunc func(monitorID int) alert.Policy

// Scheduler manages background jobs
type Scheduler struct {
	cron       *cron.Cron
	store      *store.Store
	aggregator *StatsAggregator
	retention  config.RetentionConfig
	policy     PolicyFunc
	window     int
	logger     *zap.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new job scheduler
func NewScheduler(s *store.Store, retention config.RetentionConfig, policy PolicyFunc, logger *zap.Logger) *Scheduler {
	logger = logger.Named("jobs")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		store:      s,
		aggregator: NewStatsAggregator(s.DB()),
		retention:  retention,
		policy:     policy,
		window:     DefaultReconcileWindow,
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		// Previous hour, a few minutes after it closes
		{"5 * * * *", "hourly aggregation", s.AggregatePreviousHour},
		{"0 2 * * *", "daily aggregation", s.AggregatePreviousDay},
		{"14 3 * * *", "heartbeat cleanup", s.CleanupHeartbeats},
		{"30 3 * * *", "stats cleanup", s.CleanupStats},
		{"*/10 * * * *", "alert reconciliation", func(ctx context.Context) error {
			_, err := s.Reconcile(ctx)
			return err
		}},
		{"30 2 * * 0", "database vacuum", s.Vacuum},
	}

	for _, j := range jobs {
		_, err := s.cron.AddFunc(j.spec, func() {
			started := time.Now()
			if err := j.run(s.ctx); err != nil {
				s.logger.Error("Job failed", zap.String("job", j.name), zap.Error(err))
				return
			}
			s.logger.Debug("Job finished", zap.String("job", j.name), zap.Duration("took", time.Since(started)))
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Job scheduler started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Job scheduler stopped")
}

// AggregatePreviousHour aggregates the last complete hour
func (s *Scheduler) AggregatePreviousHour(ctx context.Context) error {
	hour := s.now().UTC().Truncate(time.Hour).Add(-time.Hour)
	n, err := s.aggregator.AggregateHour(ctx, hour)
	if err != nil {
		return err
	}
	s.logger.Info("Hourly statistics aggregated", zap.Time("hour", hour), zap.Int("monitors", n))
	return nil
}

// AggregatePreviousDay aggregates yesterday (UTC)
func (s *Scheduler) AggregatePreviousDay(ctx context.Context) error {
	day := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	n, err := s.aggregator.AggregateDay(ctx, day)
	if err != nil {
		return err
	}
	s.logger.Info("Daily statistics aggregated", zap.Time("day", day), zap.Int("monitors", n))
	return nil
}

// CleanupHeartbeats deletes heartbeats past the retention period. A
// retention of zero days keeps everything.
func (s *Scheduler) CleanupHeartbeats(ctx context.Context) error {
	if s.retention.HeartbeatDays <= 0 {
		return nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.retention.HeartbeatDays)
	n, err := s.store.DeleteHeartbeatsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	s.logger.Info("Cleaned up old heartbeats", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return nil
}

// CleanupStats deletes aggregated stats past their retention periods
func (s *Scheduler) CleanupStats(ctx context.Context) error {
	now := s.now().UTC()
	hourlyCutoff := time.Time{}
	if s.retention.HourlyStatsDays > 0 {
		hourlyCutoff = now.AddDate(0, 0, -s.retention.HourlyStatsDays)
	}
	dailyCutoff := time.Time{}
	if s.retention.DailyStatsDays > 0 {
		dailyCutoff = now.AddDate(0, 0, -s.retention.DailyStatsDays)
	}

	hourly, daily, err := s.aggregator.DeleteStatsBefore(ctx, hourlyCutoff, dailyCutoff)
	if err != nil {
		return err
	}
	s.logger.Info("Cleaned up old stats", zap.Int64("hourly", hourly), zap.Int64("daily", daily))
	return nil
}

// Vacuum reclaims space freed by retention cleanup on SQLite
func (s *Scheduler) Vacuum(ctx context.Context) error {
	done, err := s.store.Vacuum(ctx)
	if err != nil {
		return err
	}
	if done {
		s.logger.Info("Database vacuum completed")
	}
	return nil
}

// Reconcile re-derives the alert state of every enabled monitor from its
// recent heartbeats and repairs states that drifted. Only monitors whose
// whole heartbeat history fits in the replay window and was evaluated under
// the current thresholds are compared, and a state that moved on since it
// was read is left alone.
func (s *Scheduler) Reconcile(ctx context.Context) (repaired int, err error) {
	monitors, err := s.store.ListEnabledMonitors(ctx)
	if err != nil {
		return 0, err
	}

	for _, m := range monitors {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}

		stored, err := s.store.GetAlertState(ctx, m.ID)
		if err != nil {
			return repaired, err
		}
		heartbeats, err := s.store.RecentHeartbeats(ctx, m.ID, s.window)
		if err != nil {
			return repaired, err
		}
		if len(heartbeats) == 0 || len(heartbeats) >= s.window {
			continue
		}
		if heartbeats[len(heartbeats)-1].ID != stored.LastHeartbeatID {
			// A write is in flight or the state row is missing.
			continue
		}

		policy := s.policy(m.ID)
		if !alert.Comparable(stored, policy, heartbeats) {
			s.logger.Debug("Skipping alert state evaluated under other thresholds",
				zap.Int("monitor_id", m.ID),
				zap.String("stored_policy", stored.Policy),
				zap.String("policy", policy.Key()))
			continue
		}

		derived := alert.Replay(m.ID, policy, heartbeats)
		if !alert.Drifted(stored, derived) {
			continue
		}

		err = s.store.RepairAlertState(ctx, derived, stored.Version)
		if errors.Is(err, store.ErrStaleState) {
			continue
		}
		if err != nil {
			return repaired, err
		}
		repaired++
		s.logger.Warn("Repaired drifted alert state",
			zap.Int("monitor_id", m.ID),
			zap.String("stored_status", stored.Status),
			zap.String("derived_status", derived.Status),
			zap.Int("stored_failures", stored.ConsecutiveFailures),
			zap.Int("derived_failures", derived.ConsecutiveFailures))
	}
	return repaired, nil
}
