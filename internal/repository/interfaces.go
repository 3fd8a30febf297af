// Package repository defines data access interfaces for the pipeline core's
// persisted entities. All database access goes through these interfaces,
// enabling easy testing and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
)

// JobRepository defines the atomic persistence operations the job core
// relies on. Every transition is a conditional write so concurrent workers
// never double-claim or double-complete a job.
type JobRepository interface {
	// Create creates a new job. If job.PipelineID is zero, the BeforeCreate
	// hook chains it to the job's own id.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetByPipelineID retrieves every job belonging to a pipeline chain, in
	// creation order.
	GetByPipelineID(ctx context.Context, pipelineID models.ULID) ([]*models.Job, error)
	// List retrieves jobs matching an optional status filter, newest first,
	// bounded by offset/limit; a limit outside 1..100 is clamped to 100.
	List(ctx context.Context, status *models.JobStatus, offset, limit int) ([]*models.Job, int64, error)
	// Update persists the full row, used for updates not covered by a
	// conditional-write helper below (e.g. editing Config pre-dispatch).
	Update(ctx context.Context, job *models.Job) error
	// Delete soft-deletes a job by ID (BaseModel.DeletedAt); its
	// JobExecutionLog/JobExecutionProgress rows are not removed.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteTerminalBefore deletes Completed/Failed jobs with CompletedAt
	// before the cutoff, returning the number removed. Used by the
	// retention sweep.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)

	// ClaimNextPending selects the best candidate among jobTypes by
	// (priority DESC, created_at ASC) and conditionally updates it to
	// Processing only if it is still Pending, retrying up to 3 times on a
	// lost race. Returns nil, nil if no job is available.
	ClaimNextPending(ctx context.Context, workerID string, jobTypes []string) (*models.Job, error)
	// MarkFailed conditionally transitions a Processing job to Failed,
	// returning the number of rows affected so callers can detect a race
	// against a terminal status set by another actor.
	MarkFailed(ctx context.Context, id models.ULID, errMsg string) (int64, error)
	// MarkInterrupted conditionally transitions a Processing job to
	// Interrupted.
	MarkInterrupted(ctx context.Context, id models.ULID, reason string) (int64, error)
	// ResetForRetry conditionally transitions a Failed/Interrupted job back
	// to Pending, incrementing RetryCount.
	ResetForRetry(ctx context.Context, id models.ULID) (int64, error)
	// UpdateIfStatus performs a conditional write of job, succeeding only
	// if the persisted row's status still equals expected. Used for all
	// worker-side progress/state updates while a job is Processing.
	UpdateIfStatus(ctx context.Context, job *models.Job, expected models.JobStatus) (int64, error)

	// CreatePipelineStep creates the next job in a linear chain and links
	// it to the same PipelineID within a single transaction alongside
	// completing the previous step, so a crash between steps cannot leave
	// an orphaned chain.
	CreatePipelineStep(ctx context.Context, completed *models.Job, outputs models.StringList, next *models.Job) error

	// AppendExecutionLog appends a log line for a job.
	AppendExecutionLog(ctx context.Context, entry *models.JobExecutionLog) error
	// GetExecutionLogs retrieves log lines for a job in chronological order.
	GetExecutionLogs(ctx context.Context, jobID models.ULID, offset, limit int) ([]*models.JobExecutionLog, error)
	// UpsertExecutionProgress creates or overwrites the single progress row
	// for a job.
	UpsertExecutionProgress(ctx context.Context, progress *models.JobExecutionProgress) error
	// GetExecutionProgress retrieves the current progress row for a job, if any.
	GetExecutionProgress(ctx context.Context, jobID models.ULID) (*models.JobExecutionProgress, error)
	// DeleteExecutionLogsBefore deletes log rows whose job is terminal, not
	// yet deleted, and completed before the cutoff. No foreign key removes
	// log rows, so the retention sweep calls this before DeleteTerminalBefore.
	DeleteExecutionLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// DagStepRepository defines the transactional operations backing DAG
// execution: dependency resolution, completion cascades, and failure
// cascades.
type DagStepRepository interface {
	// CreateSteps persists a full set of DagStepExecution rows for one DAG
	// in a single transaction. Steps with no dependencies are created
	// Pending; all others Blocked.
	CreateSteps(ctx context.Context, steps []*models.DagStepExecution) error
	// GetByID retrieves a single step.
	GetByID(ctx context.Context, id models.ULID) (*models.DagStepExecution, error)
	// GetByDagID retrieves every step belonging to a DAG.
	GetByDagID(ctx context.Context, dagID models.ULID) ([]*models.DagStepExecution, error)
	// AttachJob links a dispatched job to its step and marks the step
	// Processing.
	AttachJob(ctx context.Context, stepID models.ULID, jobID models.ULID) error

	// CompleteStepAndCheckDependents is a single transaction that marks the
	// step Completed with outputs, then promotes any Blocked dependents
	// whose full dependency set is now Completed to Pending. It does not
	// compute the promoted steps' inputs; the executor merges dependency
	// outputs when it dispatches them. Returns the
	// ids of steps newly transitioned to Pending and whether the DAG as a
	// whole is now Completed.
	CompleteStepAndCheckDependents(ctx context.Context, stepID models.ULID, outputs models.StringList) (promoted []models.ULID, dagCompleted bool, err error)

	// FailDagAndCancelSteps is a single transaction that collects the
	// job ids of every still-Processing step (so the caller can cancel
	// them out-of-band), marks every Blocked/Pending step Cancelled, and
	// marks the failing step Failed. Returns the collected job ids.
	FailDagAndCancelSteps(ctx context.Context, dagID models.ULID, failedStepID models.ULID, errMsg string) (processingJobIDs []models.ULID, err error)
}

// StreamerRepository defines persistence operations for Streamer, backing
// the write-through StreamerManager cache (internal/streamermgr). Queries
// by platform/priority/readiness are served from memory at runtime; this
// interface exists for the initial hydrate-on-start load and for the
// persist-before-memory-update write path.
type StreamerRepository interface {
	Create(ctx context.Context, streamer *models.Streamer) error
	GetByID(ctx context.Context, id models.ULID) (*models.Streamer, error)
	GetAll(ctx context.Context) ([]*models.Streamer, error)
	Update(ctx context.Context, streamer *models.Streamer) error
	Delete(ctx context.Context, id models.ULID) error
}

// PlatformConfigRepository defines persistence operations for PlatformConfig.
type PlatformConfigRepository interface {
	Create(ctx context.Context, config *models.PlatformConfig) error
	GetByID(ctx context.Context, id models.ULID) (*models.PlatformConfig, error)
	GetAll(ctx context.Context) ([]*models.PlatformConfig, error)
	Update(ctx context.Context, config *models.PlatformConfig) error
	Delete(ctx context.Context, id models.ULID) error
}

// NotificationRepository defines persistence operations for notification
// channels and the dead-letter table. Pending/in-flight notification
// events are an in-memory bounded queue (internal/notify), not persisted.
type NotificationRepository interface {
	CreateChannel(ctx context.Context, channel *models.NotificationChannel) error
	GetChannelByID(ctx context.Context, id models.ULID) (*models.NotificationChannel, error)
	GetEnabledChannels(ctx context.Context) ([]*models.NotificationChannel, error)
	UpdateChannel(ctx context.Context, channel *models.NotificationChannel) error
	DeleteChannel(ctx context.Context, id models.ULID) error

	CreateDeadLetter(ctx context.Context, dl *models.DeadLetterNotification) error
	ListDeadLetters(ctx context.Context, offset, limit int) ([]*models.DeadLetterNotification, int64, error)
	DeleteDeadLettersBefore(ctx context.Context, before time.Time) (int64, error)
}
