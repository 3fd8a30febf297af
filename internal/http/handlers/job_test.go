package handlers

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

func setupJobHandlerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobExecutionLog{}, &models.JobExecutionProgress{}))
	return db
}

func TestJobHandler_List_FiltersByStatusAndCapsPageSize(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	require.NoError(t, jobs.Create(ctx, &models.Job{JobType: "compression", Status: models.JobStatusPending}))
	require.NoError(t, jobs.Create(ctx, &models.Job{JobType: "compression", Status: models.JobStatusCompleted}))

	out, err := h.List(ctx, &ListJobsInput{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Body.Total)
	assert.Len(t, out.Body.Jobs, 2)

	out, err = h.List(ctx, &ListJobsInput{Status: "pending", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Body.Total)
	require.Len(t, out.Body.Jobs, 1)
	assert.Equal(t, "pending", out.Body.Jobs[0].Status)
}

func TestJobHandler_GetByID_NotFoundReturns404(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	h := NewJobHandler(repository.NewJobRepository(db))

	_, err := h.GetByID(context.Background(), &GetJobInput{ID: models.NewULID().String()})
	require.Error(t, err)
}

func TestJobHandler_GetByID_InvalidIDReturns400(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	h := NewJobHandler(repository.NewJobRepository(db))

	_, err := h.GetByID(context.Background(), &GetJobInput{ID: "not-a-ulid"})
	require.Error(t, err)
}

func TestJobHandler_Retry_NonRetryableStatusReturns409(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	job := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, job))

	_, err := h.Retry(ctx, &GetJobInput{ID: job.ID.String()})
	require.Error(t, err)
}

func TestJobHandler_Retry_FailedJobResetsToPending(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	job := &models.Job{JobType: "compression", Status: models.JobStatusFailed, MaxRetries: 3}
	require.NoError(t, jobs.Create(ctx, job))

	out, err := h.Retry(ctx, &GetJobInput{ID: job.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Body.Status)
}

func TestJobHandler_Delete_RemovesJob(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	job := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, job))

	_, err := h.Delete(ctx, &GetJobInput{ID: job.ID.String()})
	require.NoError(t, err)

	found, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestJobHandler_GetLogs_ReturnsChronologicalLines(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	job := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, jobs.AppendExecutionLog(ctx, &models.JobExecutionLog{
		JobID: job.ID, Timestamp: models.Now(), Level: "info", Message: "starting",
	}))
	require.NoError(t, jobs.AppendExecutionLog(ctx, &models.JobExecutionLog{
		JobID: job.ID, Timestamp: models.Now(), Level: "warn", Message: "one input skipped",
	}))

	out, err := h.GetLogs(ctx, &GetJobLogsInput{ID: job.ID.String(), Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Body.Logs, 2)
	assert.Equal(t, "starting", out.Body.Logs[0].Message)
	assert.Equal(t, "warn", out.Body.Logs[1].Level)
}

func TestJobHandler_GetProgress_ReportsFraction(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	h := NewJobHandler(jobs)
	ctx := context.Background()

	job := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, jobs.UpsertExecutionProgress(ctx, &models.JobExecutionProgress{
		JobID: job.ID, Current: 3, Total: 4, Message: "archiving", UpdatedAt: models.Now(),
	}))

	out, err := h.GetProgress(ctx, &GetJobInput{ID: job.ID.String()})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.Body.Current)
	assert.EqualValues(t, 4, out.Body.Total)
	assert.InDelta(t, 0.75, out.Body.Fraction, 0.001)
}

func TestJobHandler_GetProgress_NoneRecordedReturns404(t *testing.T) {
	db := setupJobHandlerTestDB(t)
	h := NewJobHandler(repository.NewJobRepository(db))

	_, err := h.GetProgress(context.Background(), &GetJobInput{ID: models.NewULID().String()})
	require.Error(t, err)
}
