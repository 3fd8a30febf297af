package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDagTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.DagStepExecution{})
	require.NoError(t, err)

	return db
}

// TestDagRepo_FanIn reproduces spec scenario 5: a DAG with steps A, B -> C.
// Completing A yields no ready dependents; completing B yields C promoted to
// Pending.
func TestDagRepo_FanIn(t *testing.T) {
	db := setupDagTestDB(t)
	repo := NewDagStepRepository(db)
	ctx := context.Background()

	dagID := models.NewULID()
	stepA := &models.DagStepExecution{DagID: dagID, StepID: "A", JobType: "noop"}
	stepB := &models.DagStepExecution{DagID: dagID, StepID: "B", JobType: "noop"}
	stepC := &models.DagStepExecution{DagID: dagID, StepID: "C", JobType: "noop", DependsOnStepIDs: models.StringList{"A", "B"}}

	require.NoError(t, repo.CreateSteps(ctx, []*models.DagStepExecution{stepA, stepB, stepC}))

	assert.Equal(t, models.DagStepStatusPending, stepA.Status)
	assert.Equal(t, models.DagStepStatusPending, stepB.Status)
	assert.Equal(t, models.DagStepStatusBlocked, stepC.Status)

	promoted, dagCompleted, err := repo.CompleteStepAndCheckDependents(ctx, stepA.ID, models.StringList{"a-out.ts"})
	require.NoError(t, err)
	assert.Empty(t, promoted, "completing A alone must not ready C")
	assert.False(t, dagCompleted)

	cAfterA, err := repo.GetByID(ctx, stepC.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DagStepStatusBlocked, cAfterA.Status)

	promoted, dagCompleted, err = repo.CompleteStepAndCheckDependents(ctx, stepB.ID, models.StringList{"b-out.ts"})
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, stepC.ID, promoted[0])
	assert.False(t, dagCompleted, "C itself hasn't completed yet")

	cAfterB, err := repo.GetByID(ctx, stepC.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DagStepStatusPending, cAfterB.Status)

	_, dagCompleted, err = repo.CompleteStepAndCheckDependents(ctx, stepC.ID, models.StringList{"final.ts"})
	require.NoError(t, err)
	assert.True(t, dagCompleted, "dag completes once every step is terminal")
}

func TestDagRepo_FailDagCancelsBlockedAndPendingSteps(t *testing.T) {
	db := setupDagTestDB(t)
	repo := NewDagStepRepository(db)
	ctx := context.Background()

	dagID := models.NewULID()
	stepA := &models.DagStepExecution{DagID: dagID, StepID: "A", JobType: "noop"}
	stepB := &models.DagStepExecution{DagID: dagID, StepID: "B", JobType: "noop", DependsOnStepIDs: models.StringList{"A"}}
	require.NoError(t, repo.CreateSteps(ctx, []*models.DagStepExecution{stepA, stepB}))

	jobID := models.NewULID()
	require.NoError(t, repo.AttachJob(ctx, stepA.ID, jobID))

	processingJobIDs, err := repo.FailDagAndCancelSteps(ctx, dagID, stepA.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, []models.ULID{jobID}, processingJobIDs, "processing step's job id is returned for out-of-band cancellation")

	failedA, err := repo.GetByID(ctx, stepA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DagStepStatusFailed, failedA.Status)

	cancelledB, err := repo.GetByID(ctx, stepB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DagStepStatusCancelled, cancelledB.Status)
}

func TestDagRepo_NoDependencies_StartPending(t *testing.T) {
	db := setupDagTestDB(t)
	repo := NewDagStepRepository(db)
	ctx := context.Background()

	step := &models.DagStepExecution{DagID: models.NewULID(), StepID: "solo", JobType: "noop"}
	require.NoError(t, repo.CreateSteps(ctx, []*models.DagStepExecution{step}))
	assert.Equal(t, models.DagStepStatusPending, step.Status)
}
