package handlers

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

func setupPipelineHandlerTestDB(t *testing.T) *gorm.DB {
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

func newTestPipelineHandler(t *testing.T) (*PipelineHandler, repository.JobRepository) {
	h, jobs, _ := newTestPipelineHandlerWithDagSteps(t)
	return h, jobs
}

func newTestPipelineHandlerWithDagSteps(t *testing.T) (*PipelineHandler, repository.JobRepository, repository.DagStepRepository) {
	db := setupPipelineHandlerTestDB(t)
	jobs := repository.NewJobRepository(db)
	dagSteps := repository.NewDagStepRepository(db)
	registry := core.NewRegistry()
	exec := core.NewExecutor(jobs, dagSteps, registry, "worker-1", time.Second, t.TempDir(), nil)
	return NewPipelineHandler(jobs, dagSteps, exec), jobs, dagSteps
}

func TestPipelineHandler_Create_RejectsEmptySteps(t *testing.T) {
	h, _ := newTestPipelineHandler(t)

	_, err := h.Create(context.Background(), &CreatePipelineInput{})
	require.Error(t, err)
}

func TestPipelineHandler_Create_DispatchesFirstStep(t *testing.T) {
	h, _ := newTestPipelineHandler(t)

	input := &CreatePipelineInput{}
	input.Body.InputPath = "/tmp/recording.flv"
	input.Body.Steps = []CreatePipelineStepInput{
		{JobType: "flv_split"},
		{JobType: "compression"},
	}

	out, err := h.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "flv_split", out.Body.JobType)
	assert.Equal(t, "pending", out.Body.Status)
}

func TestPipelineHandler_Delete_RemovesEveryJobInChain(t *testing.T) {
	h, jobs := newTestPipelineHandler(t)
	ctx := context.Background()

	input := &CreatePipelineInput{}
	input.Body.InputPath = "/tmp/recording.flv"
	input.Body.Steps = []CreatePipelineStepInput{{JobType: "flv_split"}}
	created, err := h.Create(ctx, input)
	require.NoError(t, err)

	pipelineID, err := models.ParseULID(created.Body.PipelineID)
	require.NoError(t, err)

	_, err = h.Delete(ctx, &DeletePipelineInput{PipelineID: pipelineID.String()})
	require.NoError(t, err)

	remaining, err := jobs.GetByPipelineID(ctx, pipelineID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPipelineHandler_Delete_NotFoundReturns404(t *testing.T) {
	h, _ := newTestPipelineHandler(t)

	_, err := h.Delete(context.Background(), &DeletePipelineInput{PipelineID: models.NewULID().String()})
	require.Error(t, err)
}

func TestPipelineHandler_ListOutputs_OnlyReturnsCompletedJobs(t *testing.T) {
	h, jobs := newTestPipelineHandler(t)
	ctx := context.Background()

	pending := &models.Job{JobType: "compression", Status: models.JobStatusPending}
	require.NoError(t, jobs.Create(ctx, pending))
	completed := &models.Job{JobType: "compression", Status: models.JobStatusCompleted, Outputs: models.StringList{"out.tar.gz"}}
	require.NoError(t, jobs.Create(ctx, completed))

	out, err := h.ListOutputs(ctx, &ListOutputsInput{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Body.Total)
	require.Len(t, out.Body.Outputs, 1)
	assert.Equal(t, completed.ID.String(), out.Body.Outputs[0].JobID)
	assert.Equal(t, []string{"out.tar.gz"}, out.Body.Outputs[0].Outputs)
}

func TestPipelineHandler_Stats_CountsEveryStatus(t *testing.T) {
	h, jobs := newTestPipelineHandler(t)
	ctx := context.Background()

	require.NoError(t, jobs.Create(ctx, &models.Job{JobType: "compression", Status: models.JobStatusPending}))
	require.NoError(t, jobs.Create(ctx, &models.Job{JobType: "compression", Status: models.JobStatusPending}))
	require.NoError(t, jobs.Create(ctx, &models.Job{JobType: "compression", Status: models.JobStatusCompleted}))

	out, err := h.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Body.Counts["pending"])
	assert.Equal(t, int64(1), out.Body.Counts["completed"])
	assert.Equal(t, int64(3), out.Body.Total)
}

func TestPipelineHandler_GetDag_NotFoundReturns404(t *testing.T) {
	h, _ := newTestPipelineHandler(t)

	_, err := h.GetDag(context.Background(), &GetDagInput{DagID: models.NewULID().String()})
	require.Error(t, err)
}

func TestPipelineHandler_GetDag_ReportsFanInStatusAndEdges(t *testing.T) {
	h, _, dagSteps := newTestPipelineHandlerWithDagSteps(t)
	ctx := context.Background()

	dagID := models.NewULID()
	stepA := &models.DagStepExecution{DagID: dagID, StepID: "A", JobType: "flv_split"}
	stepB := &models.DagStepExecution{DagID: dagID, StepID: "B", JobType: "flv_split"}
	stepC := &models.DagStepExecution{DagID: dagID, StepID: "C", JobType: "compression", DependsOnStepIDs: models.StringList{"A", "B"}}
	require.NoError(t, dagSteps.CreateSteps(ctx, []*models.DagStepExecution{stepA, stepB, stepC}))

	_, _, err := dagSteps.CompleteStepAndCheckDependents(ctx, stepA.ID, models.StringList{"a.out"})
	require.NoError(t, err)

	out, err := h.GetDag(ctx, &GetDagInput{DagID: dagID.String()})
	require.NoError(t, err)
	assert.Equal(t, "processing", out.Body.Status)
	require.Len(t, out.Body.Steps, 3)

	var cEntry DagStepEntry
	for _, s := range out.Body.Steps {
		if s.StepID == "C" {
			cEntry = s
		}
	}
	assert.Equal(t, "blocked", cEntry.Status)
	assert.Equal(t, []string{"A", "B"}, cEntry.DependsOnSteps)

	promoted, dagCompleted, err := dagSteps.CompleteStepAndCheckDependents(ctx, stepB.ID, models.StringList{"b.out"})
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.False(t, dagCompleted)

	out, err = h.GetDag(ctx, &GetDagInput{DagID: dagID.String()})
	require.NoError(t, err)
	assert.Equal(t, "processing", out.Body.Status)
}
