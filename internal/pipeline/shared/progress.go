// Package shared provides the persistence-backed progress recorder the job
// executor hands to pipeline processors. Processors report position and log
// lines through core.ProgressReporter; the recorder writes them to the job
// store where the REST surface's job introspection endpoints read them.
package shared

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// defaultWriteInterval bounds how often intermediate progress reports for
// one job reach the store. Terminal reports (current >= total) always
// write through.
const defaultWriteInterval = 500 * time.Millisecond

// Recorder persists processor progress and execution logs through the job
// repository. Store failures are logged and swallowed: a broken or slow
// store must never fail the job whose progress it records.
type Recorder struct {
	jobs   repository.JobRepository
	logger *slog.Logger

	writeInterval time.Duration

	mu        sync.Mutex
	lastWrite map[models.ULID]time.Time
}

// NewRecorder constructs a Recorder writing through jobs.
func NewRecorder(jobs repository.JobRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		jobs:          jobs,
		logger:        logger.With("component", "pipeline.progress"),
		writeInterval: defaultWriteInterval,
		lastWrite:     make(map[models.ULID]time.Time),
	}
}

// WithWriteInterval overrides the intermediate-report throttle, mainly for
// tests. A zero or negative interval writes every report through.
func (r *Recorder) WithWriteInterval(d time.Duration) *Recorder {
	r.writeInterval = d
	return r
}

// ReportProgress implements core.ProgressReporter. Intermediate reports are
// throttled per job; a terminal report (current >= total with total known)
// always writes and releases the job's throttle entry.
func (r *Recorder) ReportProgress(ctx context.Context, jobID models.ULID, current, total int64, message string) {
	terminal := total > 0 && current >= total

	r.mu.Lock()
	if !terminal && r.writeInterval > 0 {
		if last, ok := r.lastWrite[jobID]; ok && time.Since(last) < r.writeInterval {
			r.mu.Unlock()
			return
		}
	}
	if terminal {
		delete(r.lastWrite, jobID)
	} else {
		r.lastWrite[jobID] = time.Now()
	}
	r.mu.Unlock()

	err := r.jobs.UpsertExecutionProgress(ctx, &models.JobExecutionProgress{
		JobID:     jobID,
		Current:   current,
		Total:     total,
		Message:   message,
		UpdatedAt: models.Now(),
	})
	if err != nil {
		r.logger.Warn("persisting job progress failed",
			slog.String("job_id", jobID.String()), slog.Any("error", err))
	}
}

// Log implements core.ProgressReporter.
func (r *Recorder) Log(ctx context.Context, jobID models.ULID, level slog.Level, message string) {
	err := r.jobs.AppendExecutionLog(ctx, &models.JobExecutionLog{
		JobID:     jobID,
		Timestamp: models.Now(),
		Level:     levelName(level),
		Message:   message,
	})
	if err != nil {
		r.logger.Warn("persisting job execution log failed",
			slog.String("job_id", jobID.String()), slog.Any("error", err))
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

var _ core.ProgressReporter = (*Recorder)(nil)
