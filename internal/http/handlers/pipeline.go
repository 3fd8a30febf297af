// Package handlers: pipeline/DAG creation, output listing, and job stats.
package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamforge/internal/models"
	core "github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// statusesCounted lists every terminal/non-terminal job status the stats
// endpoint reports a count for.
var statusesCounted = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusProcessing,
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusInterrupted,
}

// PipelineHandler exposes pipeline/DAG creation and cross-job introspection:
// POST /create, DELETE /{pipeline_id}, GET /outputs, GET /stats.
type PipelineHandler struct {
	jobs     repository.JobRepository
	dagSteps repository.DagStepRepository
	executor *core.Executor
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(jobs repository.JobRepository, dagSteps repository.DagStepRepository, executor *core.Executor) *PipelineHandler {
	return &PipelineHandler{jobs: jobs, dagSteps: dagSteps, executor: executor}
}

// Register registers the pipeline routes with the API.
func (h *PipelineHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createPipeline",
		Method:      "POST",
		Path:        "/api/v1/create",
		Summary:     "Create a pipeline",
		Description: "Creates a linear pipeline chain from an ordered list of steps; the first step is dispatched immediately.",
		Tags:        []string{"Pipelines"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "deletePipeline",
		Method:      "DELETE",
		Path:        "/api/v1/{pipeline_id}",
		Summary:     "Delete a pipeline",
		Description: "Deletes every job sharing a pipeline_id.",
		Tags:        []string{"Pipelines"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "listOutputs",
		Method:      "GET",
		Path:        "/api/v1/outputs",
		Summary:     "List job outputs",
		Description: "Returns the output paths of completed jobs, newest first, paginated (max 100 per page).",
		Tags:        []string{"Jobs"},
	}, h.ListOutputs)

	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/api/v1/stats",
		Summary:     "Job statistics",
		Description: "Returns a count of jobs per status.",
		Tags:        []string{"Jobs"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "getDag",
		Method:      "GET",
		Path:        "/api/v1/dags/{dag_id}",
		Summary:     "DAG introspection",
		Description: "Returns every step of a DAG execution with its status and dependency edges.",
		Tags:        []string{"Pipelines"},
	}, h.GetDag)
}

// CreatePipelineStepInput is the wire shape of one requested pipeline step.
type CreatePipelineStepInput struct {
	JobType string      `json:"job_type"`
	Config  models.JSON `json:"config,omitempty"`
}

// CreatePipelineInput is the input for creating a pipeline.
type CreatePipelineInput struct {
	Body struct {
		SessionID  string                     `json:"session_id,omitempty" doc:"Recording session ULID, if any"`
		StreamerID string                     `json:"streamer_id,omitempty" doc:"Streamer ULID, if any"`
		InputPath  string                     `json:"input_path" doc:"Path of the first step's input"`
		Steps      []CreatePipelineStepInput  `json:"steps"`
	}
}

// CreatePipelineOutput is the output for creating a pipeline.
type CreatePipelineOutput struct {
	Body JobResponse
}

// Create dispatches the first job of a new linear pipeline chain.
func (h *PipelineHandler) Create(ctx context.Context, input *CreatePipelineInput) (*CreatePipelineOutput, error) {
	if len(input.Body.Steps) == 0 {
		return nil, errEnvelope(400, "pipeline requires at least one step")
	}
	if input.Body.InputPath == "" {
		return nil, errEnvelope(400, "input_path is required")
	}

	var sessionID, streamerID *models.ULID
	if input.Body.SessionID != "" {
		id, err := models.ParseULID(input.Body.SessionID)
		if err != nil {
			return nil, errEnvelope(400, "invalid session_id: "+err.Error())
		}
		sessionID = &id
	}
	if input.Body.StreamerID != "" {
		id, err := models.ParseULID(input.Body.StreamerID)
		if err != nil {
			return nil, errEnvelope(400, "invalid streamer_id: "+err.Error())
		}
		streamerID = &id
	}

	steps := make([]core.PipelineStepSpec, 0, len(input.Body.Steps))
	for _, s := range input.Body.Steps {
		if s.JobType == "" {
			return nil, errEnvelope(400, "every step requires a job_type")
		}
		steps = append(steps, core.PipelineStepSpec{JobType: s.JobType, Config: s.Config})
	}

	job, err := h.executor.CreatePipeline(ctx, sessionID, streamerID, input.Body.InputPath, steps)
	if err != nil {
		return nil, errEnvelope(500, "failed to create pipeline: "+err.Error())
	}
	return &CreatePipelineOutput{Body: JobFromModel(job)}, nil
}

// DeletePipelineInput is the input for deleting a pipeline.
type DeletePipelineInput struct {
	PipelineID string `path:"pipeline_id" doc:"Pipeline ID (ULID)"`
}

// DeletePipelineOutput is the (empty) output for deleting a pipeline.
type DeletePipelineOutput struct{}

// Delete removes every job belonging to a pipeline chain.
func (h *PipelineHandler) Delete(ctx context.Context, input *DeletePipelineInput) (*DeletePipelineOutput, error) {
	id, err := models.ParseULID(input.PipelineID)
	if err != nil {
		return nil, errEnvelope(400, "invalid pipeline_id format: "+err.Error())
	}

	jobs, err := h.jobs.GetByPipelineID(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to look up pipeline: "+err.Error())
	}
	if len(jobs) == 0 {
		return nil, errEnvelope(404, fmt.Sprintf("pipeline %s not found", input.PipelineID))
	}
	for _, job := range jobs {
		if err := h.jobs.Delete(ctx, job.ID); err != nil {
			return nil, errEnvelope(500, "failed to delete pipeline job "+job.ID.String()+": "+err.Error())
		}
	}
	return &DeletePipelineOutput{}, nil
}

// ListOutputsInput is the input for listing job outputs.
type ListOutputsInput struct {
	Offset int `query:"offset" doc:"Pagination offset"`
	Limit  int `query:"limit" doc:"Page size, capped at 100" default:"50"`
}

// OutputEntry is one completed job's output listing.
type OutputEntry struct {
	JobID      string   `json:"job_id"`
	PipelineID string   `json:"pipeline_id"`
	JobType    string   `json:"job_type"`
	Outputs    []string `json:"outputs"`
}

// ListOutputsOutput is the output for listing job outputs.
type ListOutputsOutput struct {
	Body struct {
		Outputs []OutputEntry `json:"outputs"`
		Total   int64         `json:"total"`
	}
}

// ListOutputs returns the output paths of completed jobs, newest first.
func (h *PipelineHandler) ListOutputs(ctx context.Context, input *ListOutputsInput) (*ListOutputsOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	completed := models.JobStatusCompleted
	jobs, total, err := h.jobs.List(ctx, &completed, input.Offset, limit)
	if err != nil {
		return nil, errEnvelope(500, "failed to list outputs: "+err.Error())
	}

	resp := &ListOutputsOutput{}
	resp.Body.Total = total
	resp.Body.Outputs = make([]OutputEntry, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Outputs = append(resp.Body.Outputs, OutputEntry{
			JobID:      j.ID.String(),
			PipelineID: j.PipelineID.String(),
			JobType:    j.JobType,
			Outputs:    []string(j.Outputs),
		})
	}
	return resp, nil
}

// StatsOutput is the output for job statistics.
type StatsOutput struct {
	Body struct {
		Counts map[string]int64 `json:"counts"`
		Total  int64             `json:"total"`
	}
}

// Stats returns a count of jobs per status.
func (h *PipelineHandler) Stats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	resp := &StatsOutput{}
	resp.Body.Counts = make(map[string]int64, len(statusesCounted))

	var total int64
	for _, status := range statusesCounted {
		status := status
		_, count, err := h.jobs.List(ctx, &status, 0, 1)
		if err != nil {
			return nil, errEnvelope(500, "failed to compute stats: "+err.Error())
		}
		resp.Body.Counts[string(status)] = count
		total += count
	}
	resp.Body.Total = total
	return resp, nil
}

// GetDagInput is the input for DAG introspection.
type GetDagInput struct {
	DagID string `path:"dag_id" doc:"DAG execution ID (ULID)"`
}

// DagStepEntry is one step's introspection view.
type DagStepEntry struct {
	StepID         string   `json:"step_id"`
	JobID          string   `json:"job_id,omitempty"`
	JobType        string   `json:"job_type"`
	Status         string   `json:"status"`
	DependsOnSteps []string `json:"depends_on_step_ids"`
	Outputs        []string `json:"outputs,omitempty"`
}

// GetDagOutput is the output for DAG introspection.
type GetDagOutput struct {
	Body struct {
		DagID  string         `json:"dag_id"`
		Status string         `json:"status"`
		Steps  []DagStepEntry `json:"steps"`
	}
}

// GetDag returns every step of a DAG execution along with a derived overall
// status: Completed if every step is Completed, Failed if any step is
// Failed or Cancelled, Processing otherwise.
func (h *PipelineHandler) GetDag(ctx context.Context, input *GetDagInput) (*GetDagOutput, error) {
	id, err := models.ParseULID(input.DagID)
	if err != nil {
		return nil, errEnvelope(400, "invalid dag_id format: "+err.Error())
	}

	steps, err := h.dagSteps.GetByDagID(ctx, id)
	if err != nil {
		return nil, errEnvelope(500, "failed to load dag: "+err.Error())
	}
	if len(steps) == 0 {
		return nil, errEnvelope(404, fmt.Sprintf("dag %s not found", input.DagID))
	}

	resp := &GetDagOutput{}
	resp.Body.DagID = input.DagID
	resp.Body.Steps = make([]DagStepEntry, 0, len(steps))

	completed, failed := 0, 0
	for _, s := range steps {
		entry := DagStepEntry{
			StepID:         s.StepID,
			JobType:        s.JobType,
			Status:         string(s.Status),
			DependsOnSteps: []string(s.DependsOnStepIDs),
			Outputs:        []string(s.Outputs),
		}
		if s.JobID != nil {
			entry.JobID = s.JobID.String()
		}
		switch s.Status {
		case models.DagStepStatusCompleted:
			completed++
		case models.DagStepStatusFailed, models.DagStepStatusCancelled:
			failed++
		}
		resp.Body.Steps = append(resp.Body.Steps, entry)
	}

	switch {
	case failed > 0:
		resp.Body.Status = "failed"
	case completed == len(steps):
		resp.Body.Status = "completed"
	default:
		resp.Body.Status = "processing"
	}
	return resp, nil
}
