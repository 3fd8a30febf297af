// Package retention runs the cron-scheduled purge sweep: terminal jobs
// (completed/failed) and their execution logs past
// JobRetentionDays are deleted, and dead-letter notifications past
// DeadLetterRetentionDays are deleted.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/streamforge/internal/config"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// Sweep owns the cron entry driving the periodic purge.
type Sweep struct {
	jobs          repository.JobRepository
	notifications repository.NotificationRepository
	cfg           config.RetentionConfig
	logger        *slog.Logger

	cronScheduler *cron.Cron
	mu            sync.Mutex
	wg            sync.WaitGroup
}

// NewSweep constructs a Sweep. cfg.Cron uses the 6-field
// second/minute/hour/dom/month/dow format.
func NewSweep(jobs repository.JobRepository, notifications repository.NotificationRepository, cfg config.RetentionConfig, logger *slog.Logger) *Sweep {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Sweep{
		jobs:          jobs,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger.With("component", "retention"),
		cronScheduler: cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start registers the purge as a cron entry and starts the scheduler. The
// sweep also runs once immediately so a long-stopped server catches up.
func (s *Sweep) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.cronScheduler.AddFunc(s.cfg.Cron, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("registering retention cron entry %q: %w", s.cfg.Cron, err)
	}
	s.cronScheduler.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	s.logger.Info("retention sweep started",
		slog.String("cron", s.cfg.Cron),
		slog.Int("job_retention_days", s.cfg.JobRetentionDays),
		slog.Int("dead_letter_retention_days", s.cfg.DeadLetterRetentionDays))
	return nil
}

// Stop stops the cron scheduler and waits for any in-flight sweep to finish.
func (s *Sweep) Stop() {
	stopCtx := s.cronScheduler.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
}

// run executes one purge pass, logging counts rather than failing the
// process on a partial error.
func (s *Sweep) run(ctx context.Context) {
	now := time.Now()

	jobCutoff := now.AddDate(0, 0, -s.cfg.JobRetentionDays)
	// Logs first: DeleteExecutionLogsBefore selects through the jobs table,
	// which no longer lists a job once DeleteTerminalBefore soft-deletes it.
	if removed, err := s.jobs.DeleteExecutionLogsBefore(ctx, jobCutoff); err != nil {
		s.logger.Error("purging execution logs failed", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("purged execution logs", slog.Int64("removed", removed), slog.Time("cutoff", jobCutoff))
	}

	if removed, err := s.jobs.DeleteTerminalBefore(ctx, jobCutoff); err != nil {
		s.logger.Error("purging terminal jobs failed", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("purged terminal jobs", slog.Int64("removed", removed), slog.Time("cutoff", jobCutoff))
	}

	deadLetterCutoff := now.AddDate(0, 0, -s.cfg.DeadLetterRetentionDays)
	if removed, err := s.notifications.DeleteDeadLettersBefore(ctx, deadLetterCutoff); err != nil {
		s.logger.Error("purging dead letters failed", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("purged dead letters", slog.Int64("removed", removed), slog.Time("cutoff", deadLetterCutoff))
	}
}
