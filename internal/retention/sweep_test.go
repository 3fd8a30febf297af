package retention

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/streamforge/internal/config"
	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

func setupSweepTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Job{}, &models.JobExecutionLog{}, &models.JobExecutionProgress{},
		&models.DeadLetterNotification{},
	))
	return db
}

func TestSweep_Run_PurgesOnlyRowsPastRetention(t *testing.T) {
	db := setupSweepTestDB(t)
	jobs := repository.NewJobRepository(db)
	notifications := repository.NewNotificationRepository(db)
	ctx := context.Background()

	now := time.Now()
	oldCompleted := now.AddDate(0, 0, -10)
	recentCompleted := now.AddDate(0, 0, -1)

	oldJob := &models.Job{JobType: "compression", Status: models.JobStatusCompleted, CompletedAt: &oldCompleted}
	require.NoError(t, jobs.Create(ctx, oldJob))
	recentJob := &models.Job{JobType: "compression", Status: models.JobStatusCompleted, CompletedAt: &recentCompleted}
	require.NoError(t, jobs.Create(ctx, recentJob))

	oldDL := &models.DeadLetterNotification{ChannelID: models.NewULID(), EventType: "job.failed", MovedAt: oldCompleted}
	require.NoError(t, notifications.CreateDeadLetter(ctx, oldDL))
	recentDL := &models.DeadLetterNotification{ChannelID: models.NewULID(), EventType: "job.failed", MovedAt: recentCompleted}
	require.NoError(t, notifications.CreateDeadLetter(ctx, recentDL))

	sweep := NewSweep(jobs, notifications, config.RetentionConfig{
		Cron:                    "@every 1h",
		JobRetentionDays:        7,
		DeadLetterRetentionDays: 7,
	}, nil)
	sweep.run(ctx)

	found, err := jobs.GetByID(ctx, oldJob.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "terminal job past retention must be purged")

	found, err = jobs.GetByID(ctx, recentJob.ID)
	require.NoError(t, err)
	assert.NotNil(t, found, "terminal job within retention must survive")

	dls, total, err := notifications.ListDeadLetters(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, dls, 1)
	assert.Equal(t, recentDL.ID, dls[0].ID)
}

func TestSweep_Run_IgnoresNonTerminalJobs(t *testing.T) {
	db := setupSweepTestDB(t)
	jobs := repository.NewJobRepository(db)
	notifications := repository.NewNotificationRepository(db)
	ctx := context.Background()

	pending := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, pending))

	sweep := NewSweep(jobs, notifications, config.RetentionConfig{
		Cron:                    "@every 1h",
		JobRetentionDays:        0,
		DeadLetterRetentionDays: 0,
	}, nil)
	sweep.run(ctx)

	found, err := jobs.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.NotNil(t, found, "a job with no CompletedAt must never be swept regardless of retention window")
}
