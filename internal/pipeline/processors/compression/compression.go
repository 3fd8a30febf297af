// Package compression implements the archive-creation pipeline processor
// bundles one or more input files into a single
// ZIP or tar.gz archive, recording per-input outcomes and the achieved
// compression ratio.
package compression

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/pkg/format"
)

// Format selects the archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

func (f Format) extension() string {
	if f == FormatTarGz {
		return "tar.gz"
	}
	return "zip"
}

// Config is the per-job configuration for the compression processor,
// carried in the job's Config envelope.
type Config struct {
	Format            Format `json:"format"`
	CompressionLevel  int    `json:"compression_level"`
	OutputPath        string `json:"output_path"`
	Overwrite         bool   `json:"overwrite"`
	PreservePaths     bool   `json:"preserve_paths"`
}

func defaultConfig() Config {
	return Config{Format: FormatZip, CompressionLevel: 6, Overwrite: true}
}

func parseConfig(raw []byte) Config {
	cfg := defaultConfig()
	if len(raw) == 0 {
		return cfg
	}
	var partial struct {
		Format           *Format `json:"format"`
		CompressionLevel *int    `json:"compression_level"`
		OutputPath       *string `json:"output_path"`
		Overwrite        *bool   `json:"overwrite"`
		PreservePaths    *bool   `json:"preserve_paths"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return cfg
	}
	if partial.Format != nil && (*partial.Format == FormatZip || *partial.Format == FormatTarGz) {
		cfg.Format = *partial.Format
	}
	if partial.CompressionLevel != nil {
		cfg.CompressionLevel = *partial.CompressionLevel
	}
	if partial.OutputPath != nil {
		cfg.OutputPath = *partial.OutputPath
	}
	if partial.Overwrite != nil {
		cfg.Overwrite = *partial.Overwrite
	}
	if partial.PreservePaths != nil {
		cfg.PreservePaths = *partial.PreservePaths
	}
	return cfg
}

// Processor creates ZIP/tar.gz archives from a job's input files.
type Processor struct{}

// New constructs a compression Processor.
func New() *Processor { return &Processor{} }

// JobTypes implements core.Processor.
func (p *Processor) JobTypes() []string { return []string{"compress", "archive"} }

// SupportsBatchInput implements core.Processor: every input file is bundled
// into a single archive in one call.
func (p *Processor) SupportsBatchInput() bool { return true }

// Process implements core.Processor.
func (p *Processor) Process(ctx context.Context, input core.ProcessorInput) (core.ProcessorOutput, error) {
	start := time.Now()
	cfg := parseConfig(input.Config)

	if len(input.Inputs) == 0 {
		return core.ProcessorOutput{}, fmt.Errorf("no input files specified for compression")
	}

	outputPath := determineOutputPath(input.Inputs, cfg)
	if _, err := os.Stat(outputPath); err == nil && !cfg.Overwrite {
		return core.ProcessorOutput{}, fmt.Errorf("output archive already exists and overwrite is disabled: %s", outputPath)
	}

	var totalInputSize, outputSize int64
	var succeeded, failed []string
	var err error
	switch cfg.Format {
	case FormatTarGz:
		totalInputSize, outputSize, succeeded, failed, err = createTarGz(input.Inputs, outputPath, cfg)
	default:
		totalInputSize, outputSize, succeeded, failed, err = createZip(input.Inputs, outputPath, cfg)
	}
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("compression failed: %w", err)
	}

	ratio := compressionRatio(totalInputSize, outputSize)
	duration := time.Since(start)

	if input.Progress != nil {
		input.Progress.ReportProgress(ctx, input.JobID, int64(len(succeeded)+len(failed)), int64(len(input.Inputs)), "archive written")
		input.Progress.Log(ctx, input.JobID, slog.LevelInfo,
			fmt.Sprintf("archived %d of %d inputs into %s (%s, %.1f%% smaller)",
				len(succeeded), len(input.Inputs), filepath.Base(outputPath), format.Bytes(outputSize), ratio))
	}

	return core.ProcessorOutput{
		Outputs:         []string{outputPath},
		SucceededInputs: succeeded,
		FailedInputs:    failed,
		Metadata: map[string]any{
			"format":                   string(cfg.Format),
			"compression_level":        cfg.CompressionLevel,
			"input_count":              len(input.Inputs),
			"total_input_size_bytes":   totalInputSize,
			"output_size_bytes":        outputSize,
			"compression_ratio_percent": ratio,
			"duration_secs":            duration.Seconds(),
		},
	}, nil
}

// determineOutputPath follows a fixed precedence: explicit config path,
// then a path derived from the first input file.
func determineOutputPath(inputs []string, cfg Config) string {
	if cfg.OutputPath != "" {
		return cfg.OutputPath
	}
	first := inputs[0]
	stem := filepath.Base(first)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	return filepath.Join(filepath.Dir(first), fmt.Sprintf("%s.%s", stem, cfg.Format.extension()))
}

func archiveName(inputPath string, preservePaths bool) string {
	if preservePaths {
		return inputPath
	}
	return filepath.Base(inputPath)
}

func compressionRatio(inputSize, outputSize int64) float64 {
	if inputSize == 0 {
		return 0
	}
	return (1.0 - float64(outputSize)/float64(inputSize)) * 100
}

func createZip(inputs []string, outputPath string, cfg Config) (totalInputSize, outputSize int64, succeeded, failed []string, err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("creating zip archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	method := zip.Deflate
	if cfg.CompressionLevel == 0 {
		method = zip.Store
	}

	for _, inputPath := range inputs {
		if addErr := addFileToZip(zw, inputPath, archiveName(inputPath, cfg.PreservePaths), method); addErr != nil {
			failed = append(failed, inputPath)
			continue
		}
		info, statErr := os.Stat(inputPath)
		if statErr == nil {
			totalInputSize += info.Size()
		}
		succeeded = append(succeeded, inputPath)
	}

	if closeErr := zw.Close(); closeErr != nil {
		return totalInputSize, 0, succeeded, failed, fmt.Errorf("finalizing zip archive: %w", closeErr)
	}
	if info, statErr := os.Stat(outputPath); statErr == nil {
		outputSize = info.Size()
	}
	if len(succeeded) == 0 {
		return totalInputSize, outputSize, succeeded, failed, fmt.Errorf("no input files could be added to the archive")
	}
	return totalInputSize, outputSize, succeeded, failed, nil
}

func addFileToZip(zw *zip.Writer, inputPath, name string, method uint16) error {
	src, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input file %s: %w", inputPath, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("starting zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("writing zip entry %s: %w", name, err)
	}
	return nil
}

func createTarGz(inputs []string, outputPath string, cfg Config) (totalInputSize, outputSize int64, succeeded, failed []string, err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("creating tar.gz archive: %w", err)
	}
	defer out.Close()

	level := cfg.CompressionLevel
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return 0, 0, nil, nil, fmt.Errorf("initializing gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	for _, inputPath := range inputs {
		size, addErr := addFileToTar(tw, inputPath, archiveName(inputPath, cfg.PreservePaths))
		if addErr != nil {
			failed = append(failed, inputPath)
			continue
		}
		totalInputSize += size
		succeeded = append(succeeded, inputPath)
	}

	if err := tw.Close(); err != nil {
		return totalInputSize, 0, succeeded, failed, fmt.Errorf("finalizing tar archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return totalInputSize, 0, succeeded, failed, fmt.Errorf("finalizing gzip compression: %w", err)
	}
	if info, statErr := os.Stat(outputPath); statErr == nil {
		outputSize = info.Size()
	}
	if len(succeeded) == 0 {
		return totalInputSize, outputSize, succeeded, failed, fmt.Errorf("no input files could be added to the archive")
	}
	return totalInputSize, outputSize, succeeded, failed, nil
}

func addFileToTar(tw *tar.Writer, inputPath, name string) (int64, error) {
	src, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("opening input file %s: %w", inputPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat input file %s: %w", inputPath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, fmt.Errorf("building tar header for %s: %w", inputPath, err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return 0, fmt.Errorf("writing tar header for %s: %w", inputPath, err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return 0, fmt.Errorf("writing tar entry %s: %w", inputPath, err)
	}
	return info.Size(), nil
}

var _ core.Processor = (*Processor)(nil)
