package core

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupExecutorTestDB(t *testing.T) *gorm.DB {
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

// echoProcessor turns each input path into an output path by appending
// ".out", recording which step produced it via jobType in the metadata.
type echoProcessor struct {
	jobTypes []string
}

func (e *echoProcessor) JobTypes() []string      { return e.jobTypes }
func (e *echoProcessor) SupportsBatchInput() bool { return true }
func (e *echoProcessor) Process(ctx context.Context, in ProcessorInput) (ProcessorOutput, error) {
	outputs := make([]string, len(in.Inputs))
	for i, p := range in.Inputs {
		outputs[i] = p + ".out"
	}
	return ProcessorOutput{Outputs: outputs, SucceededInputs: in.Inputs}, nil
}

// TestExecutor_DagFanIn reproduces spec scenario 5 end-to-end through the
// executor: a DAG with steps A, B -> C. Completing A and B must dispatch C
// with merged_inputs containing both steps' outputs in dependency order.
func TestExecutor_DagFanIn(t *testing.T) {
	db := setupExecutorTestDB(t)
	jobs := repository.NewJobRepository(db)
	dagSteps := repository.NewDagStepRepository(db)

	registry := NewRegistry()
	registry.Register(&echoProcessor{jobTypes: []string{"step-a", "step-b", "step-c"}})

	exec := NewExecutor(jobs, dagSteps, registry, "worker-1", 10*time.Millisecond, t.TempDir(), nil)

	ctx := context.Background()
	dagID := models.NewULID()
	err := exec.CreateDag(ctx, dagID, []DagStepSpec{
		{StepID: "A", JobType: "step-a", InitialInput: []string{"input-a"}},
		{StepID: "B", JobType: "step-b", InitialInput: []string{"input-b"}},
		{StepID: "C", JobType: "step-c", DependsOn: []string{"A", "B"}},
	})
	require.NoError(t, err)

	// Drain claimable work until nothing is left: A and B run first (no
	// deps), then C becomes Pending and runs once both finish.
	for i := 0; i < 10; i++ {
		claimed, err := exec.claimAndRun(ctx)
		require.NoError(t, err)
		if !claimed {
			break
		}
	}

	all, err := dagSteps.GetByDagID(ctx, dagID)
	require.NoError(t, err)
	byStepID := make(map[string]*models.DagStepExecution, len(all))
	for _, s := range all {
		byStepID[s.StepID] = s
	}

	require.Contains(t, byStepID, "C")
	assert.Equal(t, models.DagStepStatusCompleted, byStepID["A"].Status)
	assert.Equal(t, models.DagStepStatusCompleted, byStepID["B"].Status)
	assert.Equal(t, models.DagStepStatusCompleted, byStepID["C"].Status)

	require.NotNil(t, byStepID["C"].JobID)
	cJob, err := jobs.GetByID(ctx, *byStepID["C"].JobID)
	require.NoError(t, err)
	require.NotNil(t, cJob)
	assert.ElementsMatch(t, []string{"input-a.out", "input-b.out"}, []string(cJob.Input))
}
