package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/observability"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// PipelineStepSpec describes one step of a linear pipeline chain at
// creation time: which processor runs and its configuration.
type PipelineStepSpec struct {
	JobType string     `json:"job_type"`
	Config  models.JSON `json:"config"`
}

// envelope is the shape stored in Job.Config for pipeline-chained jobs: the
// current step's processor configuration plus the remaining steps to
// dispatch once this one completes.
type envelope struct {
	Processor      models.JSON        `json:"processor,omitempty"`
	RemainingSteps []PipelineStepSpec `json:"remaining_steps,omitempty"`
}

func parseEnvelope(raw models.JSON) envelope {
	if len(raw) == 0 {
		return envelope{}
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		// Not every job is pipeline-chained; a job created directly with a
		// plain processor config has no envelope wrapper, so raw is its
		// own processor config.
		return envelope{Processor: raw}
	}
	return e
}

func marshalEnvelope(e envelope) models.JSON {
	b, err := json.Marshal(e)
	if err != nil {
		return models.JSON("{}")
	}
	return models.JSON(b)
}

const defaultMaxRetries = 3

// WorkDirPrefix prefixes per-job scratch directories under the executor's
// base work dir. Startup cleanup matches on it to find directories
// orphaned by a crash.
const WorkDirPrefix = "job-"

// Executor claims jobs from the store and dispatches them to the
// registered processor for their job_type, advancing linear pipeline
// chains and DAG dependents on completion.
type Executor struct {
	jobs     repository.JobRepository
	dagSteps repository.DagStepRepository
	registry *Registry

	workerID     string
	pollInterval time.Duration
	baseWorkDir  string

	// OnJobCompleted/OnJobFailed are optional hooks invoked after a job
	// reaches a terminal outcome, used to publish notification events
	// without coupling this package to internal/notify.
	OnJobCompleted func(job *models.Job)
	OnJobFailed    func(job *models.Job, err error)

	// Metrics is optional; when set, job claims/completions/failures and
	// their durations are recorded against it. Nil means metrics are off.
	Metrics *observability.Metrics

	// Progress is optional; when set, it is handed to every processor via
	// ProcessorInput.Progress so live progress and execution logs reach
	// the store. Nil disables reporting.
	Progress ProgressReporter

	logger *slog.Logger
}

// NewExecutor constructs an Executor. baseWorkDir is the parent directory
// under which a per-job scratch directory is created and removed.
func NewExecutor(jobs repository.JobRepository, dagSteps repository.DagStepRepository, registry *Registry, workerID string, pollInterval time.Duration, baseWorkDir string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Executor{
		jobs:         jobs,
		dagSteps:     dagSteps,
		registry:     registry,
		workerID:     workerID,
		pollInterval: pollInterval,
		baseWorkDir:  baseWorkDir,
		logger:       logger.With("component", "pipeline.executor", "worker_id", workerID),
	}
}

// Run polls for claimable jobs until ctx is cancelled. Intended to be run
// in its own goroutine; callers that want several concurrent workers start
// several Executors sharing the same repositories and a distinct workerID.
func (e *Executor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			claimed, err := e.claimAndRun(ctx)
			if err != nil {
				e.logger.Error("claim/run cycle failed", slog.Any("error", err))
				continue
			}
			if claimed {
				// Drain back-to-back without waiting for the next tick
				// while work is available.
				for {
					more, err := e.claimAndRun(ctx)
					if err != nil {
						e.logger.Error("claim/run cycle failed", slog.Any("error", err))
						break
					}
					if !more {
						break
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
			}
		}
	}
}

func (e *Executor) claimAndRun(ctx context.Context) (bool, error) {
	jobTypes := e.registry.JobTypes()
	if len(jobTypes) == 0 {
		return false, nil
	}
	job, err := e.jobs.ClaimNextPending(ctx, e.workerID, jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	if e.Metrics != nil {
		e.Metrics.JobsClaimedTotal.Inc()
		if !job.CreatedAt.IsZero() {
			e.Metrics.JobQueueWaitSeconds.Observe(time.Since(job.CreatedAt).Seconds())
		}
	}
	e.runJob(ctx, job)
	return true, nil
}

func (e *Executor) runJob(ctx context.Context, job *models.Job) {
	logger := e.logger.With(slog.String("job_id", job.ID.String()), slog.String("job_type", job.JobType))

	if len(job.Input) == 0 {
		e.failJob(ctx, job, ErrNoInputs)
		return
	}

	processor, ok := e.registry.Get(job.JobType)
	if !ok {
		e.failJob(ctx, job, NewProcessorError(job.JobType, job.ID.String(), ErrProcessorNotFound))
		return
	}

	env := parseEnvelope(job.Config)

	workDir := filepath.Join(e.baseWorkDir, WorkDirPrefix+job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		e.failJob(ctx, job, fmt.Errorf("creating work dir: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("removing job work dir failed", slog.Any("error", err))
		}
	}()

	output, err := e.process(ctx, processor, job, env, workDir)
	if err != nil {
		logger.Error("job processing failed", slog.Any("error", err))
		e.failJob(ctx, job, err)
		return
	}

	logger.Info("job completed",
		slog.Int("outputs", len(output.Outputs)),
		slog.Int("succeeded_inputs", len(output.SucceededInputs)),
		slog.Int("failed_inputs", len(output.FailedInputs)),
	)
	e.completeJob(ctx, job, env, output)
}

// process invokes processor once with the full input batch if it declares
// batch support (or only has one input), otherwise once per input path
// with results merged.
func (e *Executor) process(ctx context.Context, processor Processor, job *models.Job, env envelope, workDir string) (ProcessorOutput, error) {
	if processor.SupportsBatchInput() || len(job.Input) == 1 {
		return processor.Process(ctx, ProcessorInput{
			JobID:    job.ID,
			JobType:  job.JobType,
			Inputs:   job.Input,
			Config:   env.Processor,
			State:    job.State,
			WorkDir:  workDir,
			Progress: e.Progress,
		})
	}

	var merged ProcessorOutput
	merged.Metadata = make(map[string]any)
	for i, in := range job.Input {
		out, err := processor.Process(ctx, ProcessorInput{
			JobID:    job.ID,
			JobType:  job.JobType,
			Inputs:   []string{in},
			Config:   env.Processor,
			State:    job.State,
			WorkDir:  workDir,
			Progress: e.Progress,
		})
		if e.Progress != nil {
			e.Progress.ReportProgress(ctx, job.ID, int64(i+1), int64(len(job.Input)), in)
		}
		if err != nil {
			merged.FailedInputs = append(merged.FailedInputs, in)
			merged.Metadata[fmt.Sprintf("input_%d_error", i)] = err.Error()
			continue
		}
		merged.Outputs = append(merged.Outputs, out.Outputs...)
		merged.SucceededInputs = append(merged.SucceededInputs, out.SucceededInputs...)
		merged.FailedInputs = append(merged.FailedInputs, out.FailedInputs...)
		merged.SkippedInputs = append(merged.SkippedInputs, out.SkippedInputs...)
		for k, v := range out.Metadata {
			merged.Metadata[fmt.Sprintf("input_%d_%s", i, k)] = v
		}
	}
	if len(merged.Outputs) == 0 && len(merged.FailedInputs) == len(job.Input) {
		return merged, fmt.Errorf("all %d inputs failed", len(job.Input))
	}
	return merged, nil
}

func (e *Executor) failJob(ctx context.Context, job *models.Job, cause error) {
	rows, err := e.jobs.MarkFailed(ctx, job.ID, cause.Error())
	if err != nil {
		e.logger.Error("persisting job failure failed", slog.String("job_id", job.ID.String()), slog.Any("error", err))
	}
	if rows == 0 {
		e.logger.Warn("job failure lost a race against a concurrent terminal transition", slog.String("job_id", job.ID.String()))
	}
	if e.Metrics != nil {
		e.Metrics.JobsFailedTotal.WithLabelValues(job.JobType).Inc()
		if job.StartedAt != nil {
			e.Metrics.JobDurationSeconds.WithLabelValues(job.JobType).Observe(time.Since(*job.StartedAt).Seconds())
		}
	}

	if job.DagStepExecutionID != nil {
		e.failDagStep(ctx, *job.DagStepExecutionID, cause)
	}

	if e.OnJobFailed != nil {
		e.OnJobFailed(job, cause)
	}
}

func (e *Executor) failDagStep(ctx context.Context, stepID models.ULID, cause error) {
	step, err := e.dagSteps.GetByID(ctx, stepID)
	if err != nil || step == nil {
		e.logger.Error("loading failing dag step failed", slog.String("step_id", stepID.String()), slog.Any("error", err))
		return
	}
	processingJobIDs, err := e.dagSteps.FailDagAndCancelSteps(ctx, step.DagID, stepID, cause.Error())
	if err != nil {
		e.logger.Error("failing dag failed", slog.String("dag_id", step.DagID.String()), slog.Any("error", err))
		return
	}
	for _, jobID := range processingJobIDs {
		if _, err := e.jobs.MarkInterrupted(ctx, jobID, "dag cancelled: "+cause.Error()); err != nil {
			e.logger.Warn("interrupting cancelled dag job failed", slog.String("job_id", jobID.String()), slog.Any("error", err))
		}
	}
}

func (e *Executor) completeJob(ctx context.Context, job *models.Job, env envelope, output ProcessorOutput) {
	job.MarkCompleted(models.StringList(output.Outputs))
	if _, err := e.jobs.UpdateIfStatus(ctx, job, models.JobStatusProcessing); err != nil {
		e.logger.Error("persisting job completion failed", slog.String("job_id", job.ID.String()), slog.Any("error", err))
	}
	if e.Metrics != nil {
		e.Metrics.JobsCompletedTotal.Inc()
		if job.StartedAt != nil {
			e.Metrics.JobDurationSeconds.WithLabelValues(job.JobType).Observe(time.Since(*job.StartedAt).Seconds())
		}
	}

	switch {
	case job.DagStepExecutionID != nil:
		e.advanceDag(ctx, *job.DagStepExecutionID, models.StringList(output.Outputs))
	case len(env.RemainingSteps) > 0:
		e.advancePipeline(ctx, job, env)
	}

	if e.OnJobCompleted != nil {
		e.OnJobCompleted(job)
	}
}

func (e *Executor) advancePipeline(ctx context.Context, completed *models.Job, env envelope) {
	next := env.RemainingSteps[0]
	rest := env.RemainingSteps[1:]
	nextJob := &models.Job{
		JobType:    next.JobType,
		PipelineID: completed.PipelineID,
		Input:      completed.Outputs,
		Config:     marshalEnvelope(envelope{Processor: next.Config, RemainingSteps: rest}),
		StreamerID: completed.StreamerID,
		SessionID:  completed.SessionID,
		Priority:   completed.Priority,
		MaxRetries: completed.MaxRetries,
	}
	if err := e.jobs.CreatePipelineStep(ctx, completed, completed.Outputs, nextJob); err != nil {
		e.logger.Error("chaining next pipeline step failed", slog.String("pipeline_id", completed.PipelineID.String()), slog.Any("error", err))
	}
}

func (e *Executor) advanceDag(ctx context.Context, stepID models.ULID, outputs models.StringList) {
	promoted, _, err := e.dagSteps.CompleteStepAndCheckDependents(ctx, stepID, outputs)
	if err != nil {
		e.logger.Error("completing dag step failed", slog.String("step_id", stepID.String()), slog.Any("error", err))
		return
	}
	for _, promotedID := range promoted {
		step, err := e.dagSteps.GetByID(ctx, promotedID)
		if err != nil || step == nil {
			e.logger.Error("loading promoted dag step failed", slog.String("step_id", promotedID.String()), slog.Any("error", err))
			continue
		}
		inputs, err := e.mergedDependencyOutputs(ctx, step)
		if err != nil {
			e.logger.Error("merging dependency outputs failed", slog.String("step_id", promotedID.String()), slog.Any("error", err))
			continue
		}
		e.dispatchDagStep(ctx, step, inputs)
	}
}

// mergedDependencyOutputs concatenates the outputs of step's dependencies
// in dependency order, de-duplicated.
func (e *Executor) mergedDependencyOutputs(ctx context.Context, step *models.DagStepExecution) ([]string, error) {
	siblings, err := e.dagSteps.GetByDagID(ctx, step.DagID)
	if err != nil {
		return nil, err
	}
	byStepID := make(map[string]*models.DagStepExecution, len(siblings))
	for _, s := range siblings {
		byStepID[s.StepID] = s
	}

	seen := make(map[string]bool)
	var merged []string
	for _, dep := range step.DependsOnStepIDs {
		s, ok := byStepID[dep]
		if !ok {
			continue
		}
		for _, out := range s.Outputs {
			if seen[out] {
				continue
			}
			seen[out] = true
			merged = append(merged, out)
		}
	}
	return merged, nil
}

func (e *Executor) dispatchDagStep(ctx context.Context, step *models.DagStepExecution, inputs []string) {
	job := &models.Job{
		JobType:            step.JobType,
		Config:             step.Config,
		Input:              inputs,
		DagStepExecutionID: &step.ID,
		MaxRetries:         defaultMaxRetries,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		e.logger.Error("dispatching dag step job failed", slog.String("step_id", step.StepID), slog.Any("error", err))
		return
	}
	if err := e.dagSteps.AttachJob(ctx, step.ID, job.ID); err != nil {
		e.logger.Error("attaching job to dag step failed", slog.String("step_id", step.StepID), slog.Any("error", err))
	}
}

// CreatePipeline creates the first job of a linear pipeline chain. The
// remaining steps are carried in its Config envelope and dispatched one at
// a time as each prior step completes.
func (e *Executor) CreatePipeline(ctx context.Context, sessionID, streamerID *models.ULID, inputPath string, steps []PipelineStepSpec) (*models.Job, error) {
	if len(steps) == 0 {
		return nil, errors.New("pipeline requires at least one step")
	}
	first := steps[0]
	job := &models.Job{
		JobType:    first.JobType,
		Input:      models.StringList{inputPath},
		Config:     marshalEnvelope(envelope{Processor: first.Config, RemainingSteps: steps[1:]}),
		StreamerID: streamerID,
		SessionID:  sessionID,
		MaxRetries: defaultMaxRetries,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return job, nil
}

// DagStepSpec describes one node of a DAG at creation time.
type DagStepSpec struct {
	StepID       string
	JobType      string
	Config       models.JSON
	DependsOn    []string
	InitialInput []string
}

// CreateDag persists every step of a DAG and dispatches the jobs for steps
// with no dependencies (Pending on creation).
func (e *Executor) CreateDag(ctx context.Context, dagID models.ULID, specs []DagStepSpec) error {
	steps := make([]*models.DagStepExecution, 0, len(specs))
	byStepID := make(map[string]*models.DagStepExecution, len(specs))
	for _, spec := range specs {
		step := &models.DagStepExecution{
			DagID:            dagID,
			StepID:           spec.StepID,
			JobType:          spec.JobType,
			Config:           spec.Config,
			DependsOnStepIDs: models.StringList(spec.DependsOn),
		}
		steps = append(steps, step)
		byStepID[spec.StepID] = step
	}
	if err := e.dagSteps.CreateSteps(ctx, steps); err != nil {
		return fmt.Errorf("creating dag steps: %w", err)
	}

	inputByStepID := make(map[string][]string, len(specs))
	for _, spec := range specs {
		inputByStepID[spec.StepID] = spec.InitialInput
	}

	for _, step := range steps {
		if step.Status != models.DagStepStatusPending {
			continue
		}
		e.dispatchDagStep(ctx, step, inputByStepID[step.StepID])
	}
	return nil
}
