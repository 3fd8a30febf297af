package models

import (
	"gorm.io/gorm"
)

// JobStatus represents the current status of a job in the pipeline core.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker has claimed the job and is
	// executing its processor.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job's processing failed; it can be
	// retried while RetryCount is below MaxRetries (see CanRetry).
	JobStatusFailed JobStatus = "failed"
	// JobStatusInterrupted indicates the job was abandoned mid-execution,
	// e.g. by a worker crash; it is eligible for retry like Failed.
	JobStatusInterrupted JobStatus = "interrupted"
)

// Job is the execution atom of pipeline processing. Every unit of work,
// whether a single DAG step or a standalone task, is one Job row.
type Job struct {
	BaseModel

	// JobType identifies which registered processor handles this job
	// (e.g. "compression", "remux", "upload", "notification").
	JobType string `gorm:"not null;size:100;index" json:"job_type"`

	// Status is the current lifecycle status.
	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// PipelineID equals the id of the first job in a chain; a standalone
	// job is its own pipeline (PipelineID == ID after creation).
	PipelineID ULID `gorm:"type:varchar(26);not null;index" json:"pipeline_id"`

	// DagStepExecutionID is set when this job was dispatched for a DAG
	// step rather than a linear pipeline step.
	DagStepExecutionID *ULID `gorm:"type:varchar(26);index" json:"dag_step_execution_id,omitempty"`

	// Config is opaque processor configuration, untouched by the core.
	Config JSON `gorm:"type:text" json:"config"`

	// State is opaque processor-managed state, persisted across retries
	// so a processor can resume partial progress.
	State JSON `gorm:"type:text" json:"state"`

	// Input is the list of input paths for this job's processor.
	Input StringList `gorm:"type:text" json:"input"`

	// Outputs is the list of output paths produced once Completed.
	Outputs StringList `gorm:"type:text" json:"outputs"`

	// Priority determines claim order; higher values are claimed first.
	Priority int32 `gorm:"default:0;index" json:"priority"`

	// StreamerID optionally ties this job back to the streamer whose
	// pipeline produced it.
	StreamerID *ULID `gorm:"type:varchar(26);index" json:"streamer_id,omitempty"`

	// SessionID groups jobs belonging to one continuous recording session
	// of a streamer (a streamer may have many sessions over its lifetime).
	SessionID *ULID `gorm:"type:varchar(26);index" json:"session_id,omitempty"`

	// StartedAt is stamped when the job transitions to Processing.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is stamped when the job reaches a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// RetryCount is the number of times this job has been retried; it
	// increases monotonically and is never reset across retries.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// MaxRetries caps automatic retries after Failed/Interrupted.
	MaxRetries int `gorm:"default:3" json:"max_retries"`

	// Error contains the error message from the last failed attempt.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// DurationSecs is the execution duration once Completed or Failed.
	DurationSecs float64 `json:"duration_secs,omitempty"`

	// QueueWaitSecs is the time between CreatedAt and StartedAt.
	QueueWaitSecs float64 `json:"queue_wait_secs,omitempty"`

	// LockedBy is the worker id that currently owns this job, cleared on
	// any terminal transition.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsPending reports whether the job is waiting to be claimed.
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending
}

// IsTerminal reports whether the job has reached Completed or Failed.
// Interrupted is excluded: it is retry-eligible, subject to the same
// MaxRetries cap as Failed (see CanRetry).
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanRetry reports whether a Failed/Interrupted job has retries remaining.
func (j *Job) CanRetry() bool {
	return (j.Status == JobStatusFailed || j.Status == JobStatusInterrupted) && j.RetryCount < j.MaxRetries
}

// MarkProcessing transitions Pending -> Processing, stamping StartedAt and
// computing the time the job spent queued.
func (j *Job) MarkProcessing(workerID string) {
	j.Status = JobStatusProcessing
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.QueueWaitSecs = now.Sub(j.CreatedAt).Seconds()
}

// MarkCompleted transitions Processing -> Completed, recording outputs and
// duration.
func (j *Job) MarkCompleted(outputs StringList) {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Outputs = outputs
	j.Error = ""
	if j.StartedAt != nil {
		j.DurationSecs = now.Sub(*j.StartedAt).Seconds()
	}
	j.LockedBy = ""
}

// MarkFailed transitions Processing -> Failed, recording the error.
func (j *Job) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	if j.StartedAt != nil {
		j.DurationSecs = now.Sub(*j.StartedAt).Seconds()
	}
	j.LockedBy = ""
}

// MarkInterrupted transitions Processing -> Interrupted, e.g. after a
// worker crash is detected by a liveness sweep.
func (j *Job) MarkInterrupted(reason string) {
	j.Status = JobStatusInterrupted
	now := Now()
	j.CompletedAt = &now
	j.Error = reason
	if j.StartedAt != nil {
		j.DurationSecs = now.Sub(*j.StartedAt).Seconds()
	}
	j.LockedBy = ""
}

// ResetForRetry transitions Failed/Interrupted -> Pending, incrementing
// RetryCount and clearing the terminal bookkeeping fields.
func (j *Job) ResetForRetry() {
	j.RetryCount++
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
	j.LockedBy = ""
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.JobType == "" {
		return ErrJobTypeRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job, generates a ULID, and
// defaults PipelineID to the job's own id for standalone (non-chained) jobs.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.PipelineID.IsZero() {
		j.PipelineID = j.ID
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}

// DagStepStatus represents the current status of a DAG step execution.
type DagStepStatus string

const (
	// DagStepStatusBlocked indicates the step has unmet dependencies.
	DagStepStatusBlocked DagStepStatus = "blocked"
	// DagStepStatusPending indicates all dependencies are Completed and
	// the step is ready to be dispatched as a Job.
	DagStepStatusPending DagStepStatus = "pending"
	// DagStepStatusProcessing indicates the dispatched job is running.
	DagStepStatusProcessing DagStepStatus = "processing"
	// DagStepStatusCompleted indicates the step finished successfully.
	DagStepStatusCompleted DagStepStatus = "completed"
	// DagStepStatusFailed indicates the step's job failed terminally.
	DagStepStatusFailed DagStepStatus = "failed"
	// DagStepStatusCancelled indicates the step was cancelled by a DAG-wide
	// failure cascade.
	DagStepStatusCancelled DagStepStatus = "cancelled"
)

// DagStepExecution is one node in a dependency-graph pipeline. Steps with
// no dependencies start Pending; all others start Blocked until their
// dependencies complete.
type DagStepExecution struct {
	BaseModel

	// DagID groups all steps belonging to one DAG execution.
	DagID ULID `gorm:"type:varchar(26);not null;index" json:"dag_id"`

	// StepID is unique within the DAG (not globally).
	StepID string `gorm:"not null;size:100;index" json:"step_id"`

	// JobType identifies the processor to dispatch once this step becomes
	// Pending, so a process restart can resume DAG dispatch purely from
	// persisted rows instead of an in-memory definition.
	JobType string `gorm:"not null;size:100" json:"job_type"`

	// Config is the processor configuration for this step, merged into the
	// dispatched job's Config.
	Config JSON `gorm:"type:text" json:"config"`

	// JobID is nil until the step is dispatched.
	JobID *ULID `gorm:"type:varchar(26);index" json:"job_id,omitempty"`

	// Status is the current step status.
	Status DagStepStatus `gorm:"not null;default:'blocked';size:20;index" json:"status"`

	// DependsOnStepIDs is the ordered list of StepIDs (within the same
	// DagID) that must be Completed before this step becomes Pending.
	DependsOnStepIDs StringList `gorm:"type:text" json:"depends_on_step_ids"`

	// Outputs is populated once the step completes.
	Outputs StringList `gorm:"type:text" json:"outputs"`
}

// TableName returns the table name for DagStepExecution.
func (DagStepExecution) TableName() string {
	return "dag_step_executions"
}

// IsReady reports whether every dependency id in satisfied is present,
// meaning this Blocked step can transition to Pending.
func (d *DagStepExecution) IsReady(satisfied map[string]bool) bool {
	for _, dep := range d.DependsOnStepIDs {
		if !satisfied[dep] {
			return false
		}
	}
	return true
}

// Validate performs basic validation on the DAG step execution.
func (d *DagStepExecution) Validate() error {
	if d.DagID.IsZero() {
		return ErrDagIDRequired
	}
	if d.StepID == "" {
		return ErrStepIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the step and generates a ULID.
func (d *DagStepExecution) BeforeCreate(tx *gorm.DB) error {
	if err := d.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return d.Validate()
}

// DagExecutionStatus summarizes the aggregate status of every step sharing
// a DagID; it is derived rather than persisted as its own row.
type DagExecutionStatus string

const (
	// DagExecutionRunning indicates at least one step is not yet terminal.
	DagExecutionRunning DagExecutionStatus = "running"
	// DagExecutionCompleted indicates every step is Completed.
	DagExecutionCompleted DagExecutionStatus = "completed"
	// DagExecutionFailed indicates at least one step is Failed or Cancelled.
	DagExecutionFailed DagExecutionStatus = "failed"
)

// SummarizeDagStatus derives the aggregate DAG status from its steps,
// following the invariant: Completed iff all steps Completed; Failed iff
// any terminal step Failed or Cancelled by cascade.
func SummarizeDagStatus(steps []DagStepExecution) DagExecutionStatus {
	allCompleted := true
	for _, s := range steps {
		switch s.Status {
		case DagStepStatusFailed, DagStepStatusCancelled:
			return DagExecutionFailed
		case DagStepStatusCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return DagExecutionCompleted
	}
	return DagExecutionRunning
}
