// Package hlscapture implements the hls_capture pipeline processor: it
// drives the live playlist monitor and segment dispatcher against an HLS
// media playlist until EXT-X-ENDLIST or job cancellation, concatenates the
// fetched segments into a single transport-stream file in sequence order,
// and demuxes the result to surface PAT/PMT/continuity metadata.
package hlscapture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmylchreest/streamforge/internal/hls/playlist"
	"github.com/jmylchreest/streamforge/internal/hls/scheduler"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/storage"
	"github.com/jmylchreest/streamforge/internal/tsparser"
	"github.com/jmylchreest/streamforge/pkg/format"
	"github.com/jmylchreest/streamforge/pkg/httpclient"
)

// Config is the per-job configuration for the hls_capture processor,
// carried in the job's Config envelope. Input[0] is the media playlist URL.
type Config struct {
	OutputPath          string `json:"output_path"`
	TwitchPreprocessing bool   `json:"twitch_preprocessing"`
	ValidateContinuity  bool   `json:"validate_continuity"`
	DetectSCTE35        bool   `json:"detect_scte35"`
}

func parseConfig(raw []byte) Config {
	cfg := Config{ValidateContinuity: true, DetectSCTE35: true}
	if len(raw) == 0 {
		return cfg
	}
	var partial struct {
		OutputPath          *string `json:"output_path"`
		TwitchPreprocessing *bool   `json:"twitch_preprocessing"`
		ValidateContinuity  *bool   `json:"validate_continuity"`
		DetectSCTE35        *bool   `json:"detect_scte35"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return cfg
	}
	if partial.OutputPath != nil {
		cfg.OutputPath = *partial.OutputPath
	}
	if partial.TwitchPreprocessing != nil {
		cfg.TwitchPreprocessing = *partial.TwitchPreprocessing
	}
	if partial.ValidateContinuity != nil {
		cfg.ValidateContinuity = *partial.ValidateContinuity
	}
	if partial.DetectSCTE35 != nil {
		cfg.DetectSCTE35 = *partial.DetectSCTE35
	}
	return cfg
}

// EngineConfig bundles the playlist monitor and segment dispatcher tuning
// shared across every hls_capture job, sourced from HLSConfig.
type EngineConfig struct {
	Monitor    playlist.MonitorConfig
	Dispatcher scheduler.DispatcherConfig
}

// Processor drives a live HLS capture: the playlist monitor discovers
// segments as they're published and the segment dispatcher fetches them
// under bounded concurrency and an optional rate limit.
type Processor struct {
	http   *httpclient.Client
	engine EngineConfig
	logger *slog.Logger
}

// New constructs an hls_capture Processor using client for playlist and
// segment fetches, tuned by engine.
func New(client *httpclient.Client, engine EngineConfig, logger *slog.Logger) *Processor {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{http: client, engine: engine, logger: logger.With("component", "hls_capture")}
}

// JobTypes implements core.Processor.
func (p *Processor) JobTypes() []string { return []string{"hls_capture"} }

// SupportsBatchInput implements core.Processor: the playlist URL is the
// sole input.
func (p *Processor) SupportsBatchInput() bool { return false }

// Process monitors the media playlist named by input.Inputs[0] until it
// ends or ctx is cancelled, fetches every discovered segment through the
// bounded-concurrency dispatcher, and concatenates them in sequence order
// into a single output file, returning demux metadata alongside the path.
func (p *Processor) Process(ctx context.Context, input core.ProcessorInput) (core.ProcessorOutput, error) {
	if len(input.Inputs) != 1 {
		return core.ProcessorOutput{}, fmt.Errorf("hls_capture expects exactly one input (the playlist URL), got %d", len(input.Inputs))
	}
	cfg := parseConfig(input.Config)
	playlistURL := input.Inputs[0]

	cache, err := storage.NewSegmentCache(filepath.Join(input.WorkDir, "segments"))
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("creating segment cache: %w", err)
	}

	jobs := make(chan playlist.ScheduledSegmentJob, 64)
	results := make(chan scheduler.Result, 64)

	monitorCfg := p.engine.Monitor
	monitorCfg.Opts.TwitchPreprocessing = cfg.TwitchPreprocessing

	monitor := playlist.NewMonitor(playlistURL, monitorCfg, &playlistFetcher{client: p.http}, jobs, p.logger)
	dispatcher := scheduler.NewDispatcher(p.engine.Dispatcher, &scheduler.HTTPSegmentFetcher{Do: p.http.Get}, cache, results, p.logger)

	collected := make(map[int64]scheduler.Result)
	var initPath string
	var succeeded, failed []string
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for res := range results {
			if res.Err != nil {
				failed = append(failed, res.Job.MediaSegment.URI)
				continue
			}
			if res.Job.IsInitSegment {
				initPath = res.Path
				continue
			}
			succeeded = append(succeeded, res.Job.MediaSegment.URI)
			collected[res.Job.MediaSequenceNumber] = res
		}
	}()

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	dispatchDone := make(chan struct{})
	var dispatchErr error
	go func() {
		defer close(dispatchDone)
		dispatchErr = dispatcher.Run(dispatchCtx, jobs)
	}()

	monitorErr := monitor.Run(ctx)
	close(jobs)
	<-dispatchDone
	close(results)
	<-collectDone

	if monitorErr != nil {
		return core.ProcessorOutput{}, fmt.Errorf("monitoring playlist: %w", monitorErr)
	}
	if dispatchErr != nil {
		return core.ProcessorOutput{}, fmt.Errorf("dispatching segment fetches: %w", dispatchErr)
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(input.WorkDir, fmt.Sprintf("capture-%s.ts", input.JobID.String()))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("creating output dir: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	continuityMode := tsparser.ContinuityDisabled
	if cfg.ValidateContinuity {
		continuityMode = tsparser.ContinuityWarn
	}
	var continuityErrors int
	var scte35Count int
	demuxer := tsparser.New(tsparser.Config{
		ContinuityMode: continuityMode,
		DetectSCTE35:   cfg.DetectSCTE35,
	}, tsparser.Handlers{
		OnContinuityError: func(err error) { continuityErrors++ },
		OnSCTE35:          func(pid uint16, section []byte) { scte35Count++ },
	}, p.logger)

	writeSegment := func(path string) error {
		data, err := cache.GetBytes(path)
		if err != nil {
			return fmt.Errorf("reading staged segment %s: %w", path, err)
		}
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("writing segment to output: %w", err)
		}
		if err := demuxer.ProcessBuffer(data); err != nil {
			p.logger.Warn("demux error", slog.String("path", path), slog.Any("error", err))
		}
		return nil
	}

	if initPath != "" {
		if err := writeSegment(initPath); err != nil {
			return core.ProcessorOutput{}, err
		}
	}

	msns := make([]int64, 0, len(collected))
	for msn := range collected {
		msns = append(msns, msn)
	}
	sort.Slice(msns, func(i, j int) bool { return msns[i] < msns[j] })
	for i, msn := range msns {
		if err := writeSegment(collected[msn].Path); err != nil {
			return core.ProcessorOutput{}, err
		}
		if input.Progress != nil && (i%25 == 24 || i == len(msns)-1) {
			input.Progress.ReportProgress(ctx, input.JobID, int64(i+1), int64(len(msns)), "concatenating segments")
		}
	}

	var outputSize int64
	if info, err := out.Stat(); err == nil {
		outputSize = info.Size()
	}
	p.logger.Info("capture complete",
		slog.String("output", outputPath),
		slog.Int("segments", len(msns)),
		slog.String("size", format.Bytes(outputSize)))
	if input.Progress != nil {
		input.Progress.Log(ctx, input.JobID, slog.LevelInfo,
			fmt.Sprintf("captured %d segments (%s)", len(msns), format.Bytes(outputSize)))
	}

	return core.ProcessorOutput{
		Outputs:         []string{outputPath},
		SucceededInputs: succeeded,
		FailedInputs:    failed,
		Metadata: map[string]any{
			"segment_count":     len(msns),
			"continuity_errors": continuityErrors,
			"scte35_sections":   scte35Count,
			"output_size_bytes": outputSize,
		},
	}, nil
}

// playlistFetcher adapts pkg/httpclient.Client to playlist.Fetcher.
type playlistFetcher struct {
	client *httpclient.Client
}

func (f *playlistFetcher) FetchPlaylist(ctx context.Context, u string) ([]byte, error) {
	resp, err := f.client.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching playlist %s", resp.StatusCode, u)
	}
	return io.ReadAll(resp.Body)
}
