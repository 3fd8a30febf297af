package models

// JobExecutionLog is a single log line emitted by a job's processor,
// persisted for later retrieval by the stub REST surface. No foreign key
// ties it to its Job (the constraint tag on JobID has no effect without an
// association field) and job deletion is a soft delete, so deleting a Job
// leaves its log rows in place; the retention sweep removes them through
// JobRepository.DeleteExecutionLogsBefore.
type JobExecutionLog struct {
	BaseModel

	// JobID is the owning job.
	JobID ULID `gorm:"type:varchar(26);not null;index;constraint:OnDelete:CASCADE" json:"job_id"`

	// Timestamp is when the log line was emitted.
	Timestamp Time `json:"timestamp"`

	// Level mirrors the slog level name (debug/info/warn/error).
	Level string `gorm:"size:10" json:"level"`

	// Message is the log line text.
	Message string `gorm:"size:4096" json:"message"`
}

// TableName returns the table name for JobExecutionLog.
func (JobExecutionLog) TableName() string {
	return "job_execution_logs"
}

// JobExecutionProgress is the latest progress report for a running job,
// overwritten in place as the processor advances. Deleting its Job leaves
// the row in place: no foreign key ties it to jobs, and job deletion is a
// soft delete.
type JobExecutionProgress struct {
	BaseModel

	// JobID is the owning job.
	JobID ULID `gorm:"type:varchar(26);not null;uniqueIndex;constraint:OnDelete:CASCADE" json:"job_id"`

	// Current is the number of units of work completed so far.
	Current int64 `json:"current"`

	// Total is the expected total number of units, 0 if unknown.
	Total int64 `json:"total"`

	// Message is a short human-readable progress description.
	Message string `gorm:"size:255" json:"message,omitempty"`

	// UpdatedAt is when this progress row was last written.
	UpdatedAt Time `json:"updated_at"`
}

// TableName returns the table name for JobExecutionProgress.
func (JobExecutionProgress) TableName() string {
	return "job_execution_progress"
}

// Fraction returns Current/Total clamped to [0, 1], or 0 if Total is unset.
func (p *JobExecutionProgress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Current) / float64(p.Total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
