// Package startup provides crash-recovery tasks run once at process start:
// removing orphaned job work directories and resetting jobs a previous
// process died while running.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// DefaultCleanupAge is the default maximum age for orphaned job work
// directories.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedWorkDirs removes per-job scratch directories older than
// maxAge from baseDir. The executor removes its work directory when a job
// finishes, so anything matching the work-dir prefix that survived past
// maxAge belongs to a crashed run.
//
// Returns the number of directories removed.
func CleanupOrphanedWorkDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("work dir base does not exist, skipping cleanup", "path", baseDir)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading work dir base %s: %w", baseDir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), core.WorkDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("stat orphaned work dir failed", "path", dirPath, "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("removing orphaned work dir failed", "path", dirPath, "error", err)
			continue
		}
		logger.Info("removed orphaned job work dir",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// recoverPageSize bounds each List page while scanning for stuck jobs.
const recoverPageSize = 100

// RecoverInterruptedJobs marks every job still in Processing as
// Interrupted. A Processing row at startup means the previous process died
// mid-job; the in-memory execution state is gone, so the job must go back
// through the retry path rather than sit stuck forever.
//
// Returns the number of jobs recovered.
func RecoverInterruptedJobs(ctx context.Context, logger *slog.Logger, jobs repository.JobRepository) (int, error) {
	status := models.JobStatusProcessing
	var recovered int

	for {
		page, _, err := jobs.List(ctx, &status, 0, recoverPageSize)
		if err != nil {
			return recovered, fmt.Errorf("listing processing jobs: %w", err)
		}
		if len(page) == 0 {
			return recovered, nil
		}

		progressed := false
		for _, job := range page {
			rows, err := jobs.MarkInterrupted(ctx, job.ID, "interrupted by server restart")
			if err != nil {
				logger.Error("recovering interrupted job failed",
					"job_id", job.ID.String(), "error", err)
				continue
			}
			if rows == 0 {
				// Lost a race against a concurrent terminal transition;
				// nothing to recover.
				continue
			}
			logger.Warn("recovered job interrupted by restart",
				"job_id", job.ID.String(), "job_type", job.JobType)
			recovered++
			progressed = true
		}
		if !progressed {
			// Every row in the page failed or raced; bail rather than spin.
			return recovered, nil
		}
	}
}
