package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedWorkDirs(t *testing.T) {
	t.Run("removes old job work directories", func(t *testing.T) {
		baseDir := t.TempDir()

		oldDir := filepath.Join(baseDir, "job-01HZ1234567890ABCDEF")
		require.NoError(t, os.Mkdir(oldDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(oldDir, "segment.ts"), []byte("x"), 0o644))

		// Chtimes after writing the file: creating it bumps the dir mtime.
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

		count, err := CleanupOrphanedWorkDirs(newTestLogger(), baseDir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("preserves recent job work directories", func(t *testing.T) {
		baseDir := t.TempDir()

		recentDir := filepath.Join(baseDir, "job-01HZ0987654321FEDCBA")
		require.NoError(t, os.Mkdir(recentDir, 0o755))
		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recentDir, recentTime, recentTime))

		count, err := CleanupOrphanedWorkDirs(newTestLogger(), baseDir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err)
	})

	t.Run("ignores directories without the work-dir prefix", func(t *testing.T) {
		baseDir := t.TempDir()

		otherDir := filepath.Join(baseDir, "recordings")
		require.NoError(t, os.Mkdir(otherDir, 0o755))
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(otherDir, oldTime, oldTime))

		count, err := CleanupOrphanedWorkDirs(newTestLogger(), baseDir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		_, err = os.Stat(otherDir)
		assert.NoError(t, err)
	})

	t.Run("handles missing base directory", func(t *testing.T) {
		count, err := CleanupOrphanedWorkDirs(newTestLogger(), "/nonexistent/path/12345", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("removes multiple old directories", func(t *testing.T) {
		baseDir := t.TempDir()

		oldTime := time.Now().Add(-2 * time.Hour)
		for _, name := range []string{"job-01HZ1111111111111111", "job-01HZ2222222222222222", "job-01HZ3333333333333333"} {
			dirPath := filepath.Join(baseDir, name)
			require.NoError(t, os.Mkdir(dirPath, 0o755))
			require.NoError(t, os.Chtimes(dirPath, oldTime, oldTime))
		}

		count, err := CleanupOrphanedWorkDirs(newTestLogger(), baseDir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func setupJobRepo(t *testing.T) repository.JobRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobExecutionLog{}, &models.JobExecutionProgress{}))
	return repository.NewJobRepository(db)
}

func TestRecoverInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	jobs := setupJobRepo(t)

	stuck := &models.Job{JobType: "hls_capture", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, stuck))
	claimed, err := jobs.ClaimNextPending(ctx, "worker-1", []string{"hls_capture"})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	pending := &models.Job{JobType: "compress", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, pending))

	recovered, err := RecoverInterruptedJobs(ctx, newTestLogger(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := jobs.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInterrupted, got.Status)
	assert.Equal(t, "interrupted by server restart", got.Error)

	untouched, err := jobs.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, untouched.Status)
}

func TestRecoverInterruptedJobs_NothingToDo(t *testing.T) {
	ctx := context.Background()
	jobs := setupJobRepo(t)

	recovered, err := RecoverInterruptedJobs(ctx, newTestLogger(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}
