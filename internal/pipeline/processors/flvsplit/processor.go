// Package flvsplit implements the flv_split pipeline processor: it reads a
// raw FLV file tag-by-tag, runs it through the flvsplit change-detection
// operator, and writes each resulting segment to its own output file.
package flvsplit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jmylchreest/streamforge/internal/flvsplit"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/jmylchreest/streamforge/pkg/diskslice"
)

// Config is the per-job configuration for the flv_split processor, carried
// in the job's Config envelope.
type Config struct {
	ChangeKeyMode                string `json:"change_key_mode"` // crc32, semantic
	DropDuplicateSequenceHeaders bool   `json:"drop_duplicate_sequence_headers"`
	OutputDir                    string `json:"output_dir"`
}

func defaultConfig() Config {
	return Config{ChangeKeyMode: "crc32"}
}

func parseConfig(raw []byte) Config {
	cfg := defaultConfig()
	if len(raw) == 0 {
		return cfg
	}
	var partial struct {
		ChangeKeyMode                *string `json:"change_key_mode"`
		DropDuplicateSequenceHeaders *bool   `json:"drop_duplicate_sequence_headers"`
		OutputDir                    *string `json:"output_dir"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return cfg
	}
	if partial.ChangeKeyMode != nil {
		cfg.ChangeKeyMode = *partial.ChangeKeyMode
	}
	if partial.DropDuplicateSequenceHeaders != nil {
		cfg.DropDuplicateSequenceHeaders = *partial.DropDuplicateSequenceHeaders
	}
	if partial.OutputDir != nil {
		cfg.OutputDir = *partial.OutputDir
	}
	return cfg
}

func (c Config) operatorConfig() flvsplit.Config {
	mode := flvsplit.Crc32
	if c.ChangeKeyMode == "semantic" {
		mode = flvsplit.SemanticSignature
	}
	return flvsplit.Config{ChangeKeyMode: mode, DropDuplicateSequenceHeaders: c.DropDuplicateSequenceHeaders}
}

// Processor splits FLV files on codec-change boundaries.
type Processor struct{}

// New constructs a flv_split Processor.
func New() *Processor { return &Processor{} }

// JobTypes implements core.Processor.
func (p *Processor) JobTypes() []string { return []string{"flv_split"} }

// SupportsBatchInput implements core.Processor: each input FLV file is
// split independently.
func (p *Processor) SupportsBatchInput() bool { return false }

// Process implements core.Processor: reads the FLV file named by
// input.Inputs[0], re-segments it, and writes each segment to its own file
// under Config.OutputDir (defaulting to WorkDir).
func (p *Processor) Process(ctx context.Context, input core.ProcessorInput) (core.ProcessorOutput, error) {
	if len(input.Inputs) != 1 {
		return core.ProcessorOutput{}, fmt.Errorf("flv_split expects exactly one input, got %d", len(input.Inputs))
	}
	cfg := parseConfig(input.Config)
	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = input.WorkDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("creating output dir: %w", err)
	}

	tags, header, err := readFlvFile(input.Inputs[0], input.WorkDir)
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("reading flv input: %w", err)
	}
	defer tags.Close()

	op := flvsplit.New(cfg.operatorConfig())
	writer := newSegmentWriter(outDir, filepath.Base(input.Inputs[0]))

	emit := func(items []flvsplit.FlvData) error {
		for _, item := range items {
			if err := writer.write(item); err != nil {
				return err
			}
		}
		return nil
	}

	headerOut, err := op.Process(flvsplit.FlvData{Kind: flvsplit.KindHeader, Header: header}, nil)
	if err != nil {
		return core.ProcessorOutput{}, err
	}
	if err := emit(headerOut); err != nil {
		return core.ProcessorOutput{}, err
	}
	cancelled := false
	cancel := func() bool {
		select {
		case <-ctx.Done():
			cancelled = true
			return true
		default:
			return false
		}
	}
	iter, err := tags.NewIterator()
	if err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("iterating flv tags: %w", err)
	}
	defer iter.Close()
	for tag := iter.Next(); tag != nil; tag = iter.Next() {
		out, err := op.Process(flvsplit.FlvData{Kind: flvsplit.KindTag, Tag: *tag}, cancel)
		if err != nil {
			if _, ok := err.(flvsplit.CancelledError); ok {
				break
			}
			return core.ProcessorOutput{}, fmt.Errorf("splitting flv tag: %w", err)
		}
		if err := emit(out); err != nil {
			return core.ProcessorOutput{}, err
		}
	}
	if err := iter.Err(); err != nil {
		return core.ProcessorOutput{}, fmt.Errorf("iterating flv tags: %w", err)
	}
	if !cancelled {
		if err := emit(op.Finish()); err != nil {
			return core.ProcessorOutput{}, err
		}
	}
	if err := writer.close(); err != nil {
		return core.ProcessorOutput{}, err
	}

	metadata := map[string]any{
		"segment_count":   len(writer.outputs),
		"change_key_mode": cfg.ChangeKeyMode,
	}
	addAudioConfigMetadata(metadata, tags)

	return core.ProcessorOutput{
		Outputs:         writer.outputs,
		SucceededInputs: []string{input.Inputs[0]},
		Metadata:        metadata,
	}, nil
}

// addAudioConfigMetadata records the stream's nominal AAC configuration,
// taken from the first audio sequence header, alongside the split results.
func addAudioConfigMetadata(metadata map[string]any, tags *diskslice.DiskSlice[flvsplit.Tag]) {
	_ = tags.For(func(_ int, tag *flvsplit.Tag) bool {
		if tag.Type != flvsplit.TagAudio || !tag.IsSequenceHeader() {
			return true
		}
		if cfg, err := flvsplit.ParseAACSequenceHeader(tag.Data); err == nil {
			metadata["audio_codec"] = "aac"
			metadata["audio_sample_rate"] = cfg.SampleRate
			metadata["audio_channels"] = cfg.ChannelCount
		}
		return false
	})
}

// readFlvFile reads a raw FLV file into its 9-byte header and a
// disk-spilling list of tags (a long recording's tag bodies can far exceed
// memory), skipping the 4-byte PreviousTagSize trailer after each tag.
// The caller owns closing the returned slice.
func readFlvFile(path, tempDir string) (*diskslice.DiskSlice[flvsplit.Tag], []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	header := make([]byte, 9)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, nil, fmt.Errorf("reading flv header: %w", err)
	}

	opts := diskslice.DefaultOptions()
	opts.Name = "flv-tags"
	if tempDir != "" {
		opts.TempDir = tempDir
	}
	opts.EstimatedItemSize = 4096
	tags, err := diskslice.New[flvsplit.Tag](opts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating tag buffer: %w", err)
	}
	tagHeader := make([]byte, 11)
	prevSize := make([]byte, 4)
	fail := func(err error) (*diskslice.DiskSlice[flvsplit.Tag], []byte, error) {
		tags.Close()
		return nil, nil, err
	}
	for {
		if _, err := io.ReadFull(f, prevSize); err != nil {
			if err == io.EOF {
				break
			}
			return fail(fmt.Errorf("reading previous tag size: %w", err))
		}
		if _, err := io.ReadFull(f, tagHeader); err != nil {
			if err == io.EOF {
				break
			}
			return fail(fmt.Errorf("reading tag header: %w", err))
		}
		tagType := tagHeader[0] & 0x1F
		dataSize := int(tagHeader[1])<<16 | int(tagHeader[2])<<8 | int(tagHeader[3])
		ts := uint32(tagHeader[4])<<16 | uint32(tagHeader[5])<<8 | uint32(tagHeader[6]) | uint32(tagHeader[7])<<24

		body := make([]byte, dataSize)
		if _, err := io.ReadFull(f, body); err != nil {
			return fail(fmt.Errorf("reading tag body: %w", err))
		}

		var kind flvsplit.TagType
		switch tagType {
		case 8:
			kind = flvsplit.TagAudio
		case 9:
			kind = flvsplit.TagVideo
		case 18:
			kind = flvsplit.TagScript
		default:
			continue
		}
		if err := tags.Append(flvsplit.Tag{Type: kind, Timestamp: ts, Data: body}); err != nil {
			return fail(fmt.Errorf("buffering tag: %w", err))
		}
	}
	return tags, header, nil
}

// segmentWriter writes a sequence of FlvData back out as valid FLV files,
// rotating to a new numbered file every time a Header item arrives after
// the first.
type segmentWriter struct {
	outDir  string
	stem    string
	index   int
	current *os.File
	outputs []string
}

func newSegmentWriter(outDir, baseName string) *segmentWriter {
	stem := baseName
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	return &segmentWriter{outDir: outDir, stem: stem}
}

func (w *segmentWriter) write(item flvsplit.FlvData) error {
	switch item.Kind {
	case flvsplit.KindHeader:
		if w.current != nil {
			if err := w.current.Close(); err != nil {
				return err
			}
		}
		path := filepath.Join(w.outDir, fmt.Sprintf("%s.%03d.flv", w.stem, w.index))
		w.index++
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if _, err := f.Write(item.Header); err != nil {
			return err
		}
		w.current = f
		w.outputs = append(w.outputs, path)
		return nil
	case flvsplit.KindTag:
		if w.current == nil {
			return fmt.Errorf("flv tag emitted before header")
		}
		return writeTag(w.current, item.Tag)
	}
	return nil
}

func (w *segmentWriter) close() error {
	if w.current == nil {
		return nil
	}
	return w.current.Close()
}

func writeTag(f *os.File, tag flvsplit.Tag) error {
	header := make([]byte, 11)
	switch tag.Type {
	case flvsplit.TagAudio:
		header[0] = 8
	case flvsplit.TagVideo:
		header[0] = 9
	default:
		header[0] = 18
	}
	size := len(tag.Data)
	header[1] = byte(size >> 16)
	header[2] = byte(size >> 8)
	header[3] = byte(size)
	header[4] = byte(tag.Timestamp >> 16)
	header[5] = byte(tag.Timestamp >> 8)
	header[6] = byte(tag.Timestamp)
	header[7] = byte(tag.Timestamp >> 24)

	if _, err := f.Write(header); err != nil {
		return err
	}
	if _, err := f.Write(tag.Data); err != nil {
		return err
	}
	prevSize := make([]byte, 4)
	binary.BigEndian.PutUint32(prevSize, uint32(11+size))
	_, err := f.Write(prevSize)
	return err
}
