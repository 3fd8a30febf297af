package recording

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
)

// Handoff implements actor.RecordingHandoff by dispatching a linear
// pipeline chain rooted at an hls_capture job: capture the stream's
// currently-listed segments, then archive the result.
type Handoff struct {
	executor *core.Executor
	logger   *slog.Logger
}

// NewHandoff constructs a Handoff dispatching pipeline jobs through
// executor.
func NewHandoff(executor *core.Executor, logger *slog.Logger) *Handoff {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handoff{executor: executor, logger: logger.With("component", "recording.handoff")}
}

// StartRecording implements actor.RecordingHandoff: it creates a pipeline
// whose first step captures the stream and whose second archives the
// capture output, then returns immediately; the jobs run asynchronously
// under the executor's own worker pool.
func (h *Handoff) StartRecording(ctx context.Context, streamer *models.Streamer) error {
	streamerID := streamer.ID
	steps := []core.PipelineStepSpec{
		{JobType: "hls_capture"},
		{JobType: "compress", Config: models.JSON(`{"format":"tar.gz"}`)},
	}
	job, err := h.executor.CreatePipeline(ctx, nil, &streamerID, streamer.URL, steps)
	if err != nil {
		return err
	}
	h.logger.Info("recording pipeline dispatched",
		slog.String("streamer_id", streamer.ID.String()),
		slog.String("pipeline_id", job.PipelineID.String()))
	return nil
}
