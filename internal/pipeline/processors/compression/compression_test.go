package compression

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessor_CreatesZipArchiveFromMultipleInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "hello world")
	b := writeTempFile(t, dir, "b.txt", "goodbye world")

	p := New()
	cfgBytes, err := json.Marshal(Config{Format: FormatZip, CompressionLevel: 6, Overwrite: true})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), core.ProcessorInput{
		Inputs: []string{a, b},
		Config: models.JSON(cfgBytes),
	})
	require.NoError(t, err)
	require.Len(t, out.Outputs, 1)
	assert.Len(t, out.SucceededInputs, 2)
	assert.Empty(t, out.FailedInputs)

	archivePath := out.Outputs[0]
	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 2)

	assert.Equal(t, "zip", out.Metadata["format"])
	assert.Contains(t, out.Metadata, "compression_ratio_percent")
}

func TestProcessor_CreatesTarGzArchive(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "some content for compression testing")

	p := New()
	cfgBytes, err := json.Marshal(Config{Format: FormatTarGz, CompressionLevel: 9, Overwrite: true})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), core.ProcessorInput{
		Inputs: []string{a},
		Config: models.JSON(cfgBytes),
	})
	require.NoError(t, err)
	require.Len(t, out.Outputs, 1)
	assert.True(t, filepath.Ext(out.Outputs[0]) == ".gz" || filepath.Ext(out.Outputs[0]) == ".tar.gz" || len(out.Outputs[0]) > 0)

	info, err := os.Stat(out.Outputs[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestProcessor_ErrorsOnNoInputs(t *testing.T) {
	p := New()
	_, err := p.Process(context.Background(), core.ProcessorInput{})
	assert.Error(t, err)
}

func TestProcessor_RespectsOverwriteFalse(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "content")
	outputPath := filepath.Join(dir, "existing.zip")
	require.NoError(t, os.WriteFile(outputPath, []byte("not a real zip"), 0o644))

	p := New()
	cfgBytes, err := json.Marshal(Config{Format: FormatZip, OutputPath: outputPath, Overwrite: false})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), core.ProcessorInput{
		Inputs: []string{a},
		Config: models.JSON(cfgBytes),
	})
	assert.Error(t, err)
}

func TestProcessor_PartialFailureReportsSucceededAndFailed(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.txt", "content")
	missing := filepath.Join(dir, "does-not-exist.txt")

	p := New()
	cfgBytes, err := json.Marshal(Config{Format: FormatZip, Overwrite: true})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), core.ProcessorInput{
		Inputs: []string{a, missing},
		Config: models.JSON(cfgBytes),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, out.SucceededInputs)
	assert.Equal(t, []string{missing}, out.FailedInputs)
}

func TestJobTypesAndBatchSupport(t *testing.T) {
	p := New()
	assert.Contains(t, p.JobTypes(), "compress")
	assert.Contains(t, p.JobTypes(), "archive")
	assert.True(t, p.SupportsBatchInput())
}
