// Package core provides the job execution and pipeline processor framework:
// a Processor transforms a job's inputs into outputs, an Executor claims
// jobs from the store and dispatches them to the registered processor for
// the job's type, and chains/DAGs advance via the repository's atomic
// transition helpers.
package core

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/streamforge/internal/models"
)

// ProcessorInput is the uniform shape every processor receives. Inputs is
// the job's resolved input path list; Config/State mirror the job row's
// opaque columns so a processor can read prior configuration and resume
// partial progress after a retry.
type ProcessorInput struct {
	JobID   models.ULID
	JobType string
	Inputs  []string
	Config  models.JSON
	State   models.JSON
	WorkDir string

	// Progress receives live progress and log lines while the job runs.
	// Nil when the executor has no recorder configured; processors must
	// nil-check before reporting.
	Progress ProgressReporter
}

// ProgressReporter receives progress updates and log lines from a running
// processor. Implementations persist them for the REST surface's job
// introspection endpoints; reporting failures are swallowed so a slow or
// broken store never fails the job itself.
type ProgressReporter interface {
	// ReportProgress records the latest current/total position for jobID,
	// overwriting any prior report.
	ReportProgress(ctx context.Context, jobID models.ULID, current, total int64, message string)

	// Log appends one execution log line for jobID.
	Log(ctx context.Context, jobID models.ULID, level slog.Level, message string)
}

// ProcessorOutput is the uniform result shape. Outputs becomes the job's
// Outputs column (and the next pipeline step's Input); Succeeded/Failed/
// Skipped report per-input outcomes for partial-failure visibility, per
// the compression processor's shape.
type ProcessorOutput struct {
	Outputs         []string
	SucceededInputs []string
	FailedInputs    []string
	SkippedInputs   []string
	Metadata        map[string]any
}

// Processor is a registered content transformer. Implementations declare
// which job types they handle and whether they accept more than one input
// path per invocation (batch processors receive every Input path in one
// call; non-batch processors are invoked once per input by the executor).
type Processor interface {
	// JobTypes returns the job_type values this processor handles.
	JobTypes() []string

	// SupportsBatchInput reports whether Process expects every job input in
	// a single call (true) or exactly one input per call (false).
	SupportsBatchInput() bool

	// Process transforms input into output. A returned error fails the job;
	// partial per-input failures should instead be reported via
	// ProcessorOutput.FailedInputs so the job can still succeed overall.
	Process(ctx context.Context, input ProcessorInput) (ProcessorOutput, error)
}
