// Package remux implements the remux pipeline processor: it rewraps a
// finished capture into a different container by invoking ffmpeg with
// stream copy. No decoding or re-encoding happens; this is container
// surgery on the recorded elementary streams.
package remux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/internal/util"
	"github.com/jmylchreest/streamforge/pkg/format"
)

// FFmpegEnvVar names the environment variable that overrides ffmpeg binary
// discovery.
const FFmpegEnvVar = "STREAMFORGE_FFMPEG"

// Container selects the output container format.
type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMKV Container = "mkv"
	ContainerTS  Container = "ts"
)

func (c Container) valid() bool {
	switch c {
	case ContainerMP4, ContainerMKV, ContainerTS:
		return true
	default:
		return false
	}
}

// Config is the per-job configuration for the remux processor, carried in
// the job's Config envelope.
type Config struct {
	// Container is the target container; defaults to mp4.
	Container Container `json:"container"`
	// OutputPath overrides the derived output location.
	OutputPath string `json:"output_path"`
	// FFmpegPath overrides binary discovery entirely.
	FFmpegPath string `json:"ffmpeg_path"`
	// Faststart relocates the mp4 moov atom for streamable playback.
	// Ignored for other containers. Defaults to true.
	Faststart bool `json:"faststart"`
}

func defaultConfig() Config {
	return Config{Container: ContainerMP4, Faststart: true}
}

func parseConfig(raw []byte) Config {
	cfg := defaultConfig()
	if len(raw) == 0 {
		return cfg
	}
	var partial struct {
		Container  *Container `json:"container"`
		OutputPath *string    `json:"output_path"`
		FFmpegPath *string    `json:"ffmpeg_path"`
		Faststart  *bool      `json:"faststart"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return cfg
	}
	if partial.Container != nil && partial.Container.valid() {
		cfg.Container = *partial.Container
	}
	if partial.OutputPath != nil {
		cfg.OutputPath = *partial.OutputPath
	}
	if partial.FFmpegPath != nil {
		cfg.FFmpegPath = *partial.FFmpegPath
	}
	if partial.Faststart != nil {
		cfg.Faststart = *partial.Faststart
	}
	return cfg
}

// Processor rewraps recordings with ffmpeg stream copy.
type Processor struct {
	logger *slog.Logger
}

// New constructs a remux Processor.
func New(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger.With("component", "remux")}
}

// JobTypes implements core.Processor.
func (p *Processor) JobTypes() []string { return []string{"remux"} }

// SupportsBatchInput implements core.Processor: each input file is remuxed
// in its own invocation so one corrupt recording doesn't fail the rest.
func (p *Processor) SupportsBatchInput() bool { return false }

// Process implements core.Processor.
func (p *Processor) Process(ctx context.Context, input core.ProcessorInput) (core.ProcessorOutput, error) {
	if len(input.Inputs) != 1 {
		return core.ProcessorOutput{}, fmt.Errorf("remux expects exactly one input, got %d", len(input.Inputs))
	}
	cfg := parseConfig(input.Config)
	inputPath := input.Inputs[0]

	if _, err := os.Stat(inputPath); err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("input file: %w", err)
	}

	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		found, err := util.FindBinary("ffmpeg", FFmpegEnvVar)
		if err != nil {
			return core.ProcessorOutput{}, fmt.Errorf("locating ffmpeg: %w", err)
		}
		ffmpegPath = found
	}

	outputPath := determineOutputPath(inputPath, cfg)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("creating output dir: %w", err)
	}

	args := buildArgs(inputPath, outputPath, cfg)
	start := time.Now()

	if input.Progress != nil {
		input.Progress.Log(ctx, input.JobID, slog.LevelInfo,
			fmt.Sprintf("remuxing %s to %s", filepath.Base(inputPath), cfg.Container))
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return core.ProcessorOutput{}, ctx.Err()
		}
		return core.ProcessorOutput{}, fmt.Errorf("ffmpeg remux failed: %w: %s", err, stderrTail(&stderr))
	}

	var inputSize, outputSize int64
	if info, err := os.Stat(inputPath); err == nil {
		inputSize = info.Size()
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("remux produced no output: %w", err)
	}
	outputSize = info.Size()

	duration := time.Since(start)
	p.logger.Info("remux complete",
		slog.String("output", outputPath),
		slog.String("size", format.Bytes(outputSize)),
		slog.Duration("duration", duration))
	if input.Progress != nil {
		input.Progress.ReportProgress(ctx, input.JobID, 1, 1, "remux complete")
	}

	return core.ProcessorOutput{
		Outputs:         []string{outputPath},
		SucceededInputs: []string{inputPath},
		Metadata: map[string]any{
			"container":         string(cfg.Container),
			"input_size_bytes":  inputSize,
			"output_size_bytes": outputSize,
			"duration_secs":     duration.Seconds(),
		},
	}, nil
}

// determineOutputPath follows the same precedence as the compression
// processor: explicit config path, then derived from the input file.
func determineOutputPath(inputPath string, cfg Config) string {
	if cfg.OutputPath != "" {
		return cfg.OutputPath
	}
	stem := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return fmt.Sprintf("%s.%s", stem, cfg.Container)
}

func buildArgs(inputPath, outputPath string, cfg Config) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-map", "0",
		"-c", "copy",
	}
	if cfg.Container == ContainerMP4 {
		if cfg.Faststart {
			args = append(args, "-movflags", "+faststart")
		}
		// AAC in ADTS framing needs the bitstream filter when moving from
		// TS to MP4; a no-op for inputs already in raw AAC.
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	return append(args, outputPath)
}

// stderrTail returns the last few lines of ffmpeg's stderr for error
// messages, since the full output can run to pages.
func stderrTail(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "; ")
}

var _ core.Processor = (*Processor)(nil)
