package recording

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/repository"
)

func setupHandoffTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Job{}, &models.JobExecutionLog{}, &models.JobExecutionProgress{},
		&models.DagStepExecution{},
	))
	return db
}

func TestHandoff_StartRecording_CreatesCaptureThenCompressPipeline(t *testing.T) {
	db := setupHandoffTestDB(t)
	jobs := repository.NewJobRepository(db)
	dagSteps := repository.NewDagStepRepository(db)
	registry := core.NewRegistry()
	exec := core.NewExecutor(jobs, dagSteps, registry, "worker-1", time.Second, t.TempDir(), nil)

	h := NewHandoff(exec, nil)

	streamer := &models.Streamer{URL: "https://example.com/live.m3u8"}
	streamer.ID = models.NewULID()

	require.NoError(t, h.StartRecording(context.Background(), streamer))

	jobRows, total, err := jobs.List(context.Background(), nil, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, jobRows, 1)

	job := jobRows[0]
	assert.Equal(t, "hls_capture", job.JobType)
	assert.Equal(t, streamer.ID, *job.StreamerID)
	assert.Equal(t, job.ID, job.PipelineID)
	assert.Contains(t, string(job.Config), "compress")
}
