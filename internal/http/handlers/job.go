// Package handlers implements the stub REST surface's huma operation
// handlers, directly backed by the job/DAG repositories (no product
// service layer).
package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// maxPageSize is the hard pagination cap the stub REST surface enforces.
const maxPageSize = 100

// JobHandler exposes the job endpoints: GET /jobs, GET /jobs/{id},
// POST /jobs/{id}/retry, DELETE /jobs/{id}.
type JobHandler struct {
	jobs repository.JobRepository
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs repository.JobRepository) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs optionally filtered by status, newest first, paginated (max 100 per page).",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "retryJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/retry",
		Summary:     "Retry job",
		Description: "Transitions a Failed/Interrupted job back to Pending, incrementing retry_count.",
		Tags:        []string{"Jobs"},
	}, h.Retry)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      "DELETE",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Delete job",
		Tags:        []string{"Jobs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getJobLogs",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}/logs",
		Summary:     "Get job execution logs",
		Description: "Returns the log lines the job's processor recorded, in chronological order, paginated (max 100 per page).",
		Tags:        []string{"Jobs"},
	}, h.GetLogs)

	huma.Register(api, huma.Operation{
		OperationID: "getJobProgress",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}/progress",
		Summary:     "Get job progress",
		Description: "Returns the latest progress report for a running job.",
		Tags:        []string{"Jobs"},
	}, h.GetProgress)
}

// JobResponse is the wire shape for a Job.
type JobResponse struct {
	ID           string  `json:"id"`
	JobType      string  `json:"job_type"`
	Status       string  `json:"status"`
	PipelineID   string  `json:"pipeline_id"`
	Priority     int32   `json:"priority"`
	RetryCount   int     `json:"retry_count"`
	Error        string  `json:"error,omitempty"`
	DurationSecs float64 `json:"duration_secs,omitempty"`
}

// JobFromModel converts a persisted Job into its wire representation.
func JobFromModel(j *models.Job) JobResponse {
	return JobResponse{
		ID:           j.ID.String(),
		JobType:      j.JobType,
		Status:       string(j.Status),
		PipelineID:   j.PipelineID.String(),
		Priority:     j.Priority,
		RetryCount:   j.RetryCount,
		Error:        j.Error,
		DurationSecs: j.DurationSecs,
	}
}

// ErrorBody is the uniform {code, message} error envelope returned by every
// handler in this package.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// errEnvelope maps an HTTP status to the corresponding huma error
// constructor so every handler in this package returns the uniform
// {code, message} envelope.
func errEnvelope(status int, message string) error {
	switch status {
	case 400:
		return huma.Error400BadRequest(message)
	case 404:
		return huma.Error404NotFound(message)
	case 409:
		return huma.Error409Conflict(message)
	default:
		return huma.Error500InternalServerError(message)
	}
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:",pending,processing,completed,failed,interrupted"`
	Offset int    `query:"offset" doc:"Pagination offset"`
	Limit  int    `query:"limit" doc:"Page size, capped at 100" default:"50"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs  []JobResponse `json:"jobs"`
		Total int64         `json:"total"`
	}
}

// List returns jobs, optionally filtered by status, paginated.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	var statusFilter *models.JobStatus
	if input.Status != "" {
		s := models.JobStatus(input.Status)
		statusFilter = &s
	}

	jobs, total, err := h.jobs.List(ctx, statusFilter, input.Offset, limit)
	if err != nil {
		return nil, errEnvelope(500, "failed to list jobs: "+err.Error())
	}

	resp := &ListJobsOutput{}
	resp.Body.Total = total
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, errEnvelope(400, "invalid ID format: "+err.Error())
	}
	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to get job: "+err.Error())
	}
	if job == nil {
		return nil, errEnvelope(404, fmt.Sprintf("job %s not found", input.ID))
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// RetryJobOutput is the output for retrying a job.
type RetryJobOutput struct {
	Body JobResponse
}

// Retry resets a Failed/Interrupted job to Pending for reprocessing.
func (h *JobHandler) Retry(ctx context.Context, input *GetJobInput) (*RetryJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, errEnvelope(400, "invalid ID format: "+err.Error())
	}

	rows, err := h.jobs.ResetForRetry(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to retry job: "+err.Error())
	}
	if rows == 0 {
		return nil, errEnvelope(409, fmt.Sprintf("job %s is not in a retryable state", input.ID))
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to reload job: "+err.Error())
	}
	if job == nil {
		return nil, errEnvelope(404, fmt.Sprintf("job %s not found", input.ID))
	}
	return &RetryJobOutput{Body: JobFromModel(job)}, nil
}

// JobLogLine is the wire shape for one execution log line.
type JobLogLine struct {
	Timestamp models.Time `json:"timestamp"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
}

// GetJobLogsInput is the input for fetching job logs.
type GetJobLogsInput struct {
	ID     string `path:"id" doc:"Job ID (ULID)"`
	Offset int    `query:"offset" doc:"Pagination offset"`
	Limit  int    `query:"limit" doc:"Page size, capped at 100" default:"50"`
}

// GetJobLogsOutput is the output for fetching job logs.
type GetJobLogsOutput struct {
	Body struct {
		Logs []JobLogLine `json:"logs"`
	}
}

// GetLogs returns a job's execution log lines in chronological order.
func (h *JobHandler) GetLogs(ctx context.Context, input *GetJobLogsInput) (*GetJobLogsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, errEnvelope(400, "invalid ID format: "+err.Error())
	}
	limit := input.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	lines, err := h.jobs.GetExecutionLogs(ctx, id, input.Offset, limit)
	if err != nil {
		return nil, errEnvelope(500, "failed to get job logs: "+err.Error())
	}
	resp := &GetJobLogsOutput{}
	resp.Body.Logs = make([]JobLogLine, 0, len(lines))
	for _, l := range lines {
		resp.Body.Logs = append(resp.Body.Logs, JobLogLine{Timestamp: l.Timestamp, Level: l.Level, Message: l.Message})
	}
	return resp, nil
}

// GetJobProgressOutput is the output for fetching job progress.
type GetJobProgressOutput struct {
	Body struct {
		Current  int64   `json:"current"`
		Total    int64   `json:"total"`
		Fraction float64 `json:"fraction"`
		Message  string  `json:"message,omitempty"`
	}
}

// GetProgress returns the latest progress report for a job.
func (h *JobHandler) GetProgress(ctx context.Context, input *GetJobInput) (*GetJobProgressOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, errEnvelope(400, "invalid ID format: "+err.Error())
	}
	progress, err := h.jobs.GetExecutionProgress(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to get job progress: "+err.Error())
	}
	if progress == nil {
		return nil, errEnvelope(404, fmt.Sprintf("no progress recorded for job %s", input.ID))
	}
	resp := &GetJobProgressOutput{}
	resp.Body.Current = progress.Current
	resp.Body.Total = progress.Total
	resp.Body.Fraction = progress.Fraction()
	resp.Body.Message = progress.Message
	return resp, nil
}

// DeleteJobOutput is the (empty) output for deleting a job.
type DeleteJobOutput struct{}

// Delete soft-deletes a job; its JobExecutionLog/JobExecutionProgress rows
// are left in place.
func (h *JobHandler) Delete(ctx context.Context, input *GetJobInput) (*DeleteJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, errEnvelope(400, "invalid ID format: "+err.Error())
	}
	if err := h.jobs.Delete(ctx, id); err != nil {
		return nil, errEnvelope(500, "failed to delete job: "+err.Error())
	}
	return &DeleteJobOutput{}, nil
}
