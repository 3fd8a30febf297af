// Package pipeline wires the registered content processors into a
// core.Registry and exposes convenience constructors for the job executor.
// The orchestration primitives themselves (Processor, Registry, Executor)
// live in internal/pipeline/core; sub-packages under
// internal/pipeline/processors implement individual processors.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/pipeline/processors/compression"
	"github.com/jmylchreest/streamforge/internal/pipeline/processors/flvsplit"
	"github.com/jmylchreest/streamforge/internal/pipeline/processors/hlscapture"
	"github.com/jmylchreest/streamforge/internal/pipeline/processors/remux"
	"github.com/jmylchreest/streamforge/internal/repository"
	"github.com/jmylchreest/streamforge/pkg/httpclient"
)

// Re-export core types for convenience.
type (
	// Processor transforms a job's inputs into outputs.
	Processor = core.Processor

	// ProcessorInput is the uniform processor input shape.
	ProcessorInput = core.ProcessorInput

	// ProcessorOutput is the uniform processor result shape.
	ProcessorOutput = core.ProcessorOutput

	// Registry maps job_type to Processor.
	Registry = core.Registry

	// Executor claims and dispatches jobs to registered processors.
	Executor = core.Executor

	// PipelineStepSpec describes one step of a linear pipeline chain.
	PipelineStepSpec = core.PipelineStepSpec

	// DagStepSpec describes one node of a DAG.
	DagStepSpec = core.DagStepSpec
)

// HLSEngineConfig re-exports the hls_capture processor's engine tuning so
// callers outside this package don't need to import the processor package
// directly.
type HLSEngineConfig = hlscapture.EngineConfig

// NewRegistry builds the default processor registry: every processor this
// deployment ships is registered here, keyed by the job types it declares.
func NewRegistry(httpClient *httpclient.Client, hlsEngine HLSEngineConfig, logger *slog.Logger) *Registry {
	reg := core.NewRegistry()
	reg.Register(compression.New())
	reg.Register(flvsplit.New())
	reg.Register(hlscapture.New(httpClient, hlsEngine, logger))
	reg.Register(remux.New(logger))
	return reg
}

// NewExecutor constructs an Executor wired to the default registry.
func NewExecutor(jobs repository.JobRepository, dagSteps repository.DagStepRepository, httpClient *httpclient.Client, hlsEngine HLSEngineConfig, workerID string, pollInterval time.Duration, baseWorkDir string, logger *slog.Logger) *Executor {
	return core.NewExecutor(jobs, dagSteps, NewRegistry(httpClient, hlsEngine, logger), workerID, pollInterval, baseWorkDir, logger)
}
