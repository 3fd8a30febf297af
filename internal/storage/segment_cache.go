// Package storage provides sandboxed file operations for the streaming
// pipeline core.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SegmentCache provides staging storage for downloaded HLS segments between
// the segment scheduler's dispatcher and pipeline job pickup.
// Directory structure:
//   - segments/staged/    - downloaded, awaiting a pipeline job (prunable if stale)
//   - segments/processed/ - already consumed by a pipeline job
type SegmentCache struct {
	sandbox *Sandbox
}

// NewSegmentCache creates a new SegmentCache in the given base directory.
func NewSegmentCache(baseDir string) (*SegmentCache, error) {
	sandbox, err := NewSandbox(baseDir)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	for _, source := range []SegmentSource{SegmentSourceStaged, SegmentSourceProcessed} {
		if err := sandbox.MkdirAll(filepath.Join("segments", string(source))); err != nil {
			return nil, fmt.Errorf("creating %s segments directory: %w", source, err)
		}
	}

	return &SegmentCache{sandbox: sandbox}, nil
}

// Store writes a segment from a reader alongside its metadata, returning the
// relative path and byte size written.
func (c *SegmentCache) Store(meta *SegmentMetadata, reader io.Reader) (string, int64, error) {
	path := meta.RelativeSegmentPath()

	if err := c.sandbox.AtomicWriteReader(path, reader); err != nil {
		return "", 0, fmt.Errorf("writing segment file: %w", err)
	}

	size, err := c.sandbox.Size(path)
	if err != nil {
		return "", 0, fmt.Errorf("getting segment file size: %w", err)
	}
	meta.FileSize = size

	if err := c.writeMetadata(meta); err != nil {
		_ = c.sandbox.Remove(path)
		return "", 0, err
	}

	return path, size, nil
}

// StoreBytes writes segment data from a byte slice alongside its metadata.
func (c *SegmentCache) StoreBytes(meta *SegmentMetadata, data []byte) (string, error) {
	path := meta.RelativeSegmentPath()

	if err := c.sandbox.AtomicWrite(path, data); err != nil {
		return "", fmt.Errorf("writing segment file: %w", err)
	}
	meta.FileSize = int64(len(data))

	if err := c.writeMetadata(meta); err != nil {
		_ = c.sandbox.Remove(path)
		return "", err
	}

	return path, nil
}

func (c *SegmentCache) writeMetadata(meta *SegmentMetadata) error {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling segment metadata: %w", err)
	}
	if err := c.sandbox.AtomicWrite(meta.RelativeMetadataPath(), metaJSON); err != nil {
		return fmt.Errorf("writing segment metadata: %w", err)
	}
	return nil
}

// Get opens a staged segment file by its relative path.
func (c *SegmentCache) Get(relativePath string) (*os.File, error) {
	return c.sandbox.OpenFile(relativePath, os.O_RDONLY, 0)
}

// GetBytes reads all bytes from a staged segment file.
func (c *SegmentCache) GetBytes(relativePath string) ([]byte, error) {
	return c.sandbox.ReadFile(relativePath)
}

// Exists checks if a segment file exists.
func (c *SegmentCache) Exists(relativePath string) (bool, error) {
	return c.sandbox.Exists(relativePath)
}

// LoadMetadata finds a staged or processed segment's metadata by its
// deterministic ID, checking staged before processed.
func (c *SegmentCache) LoadMetadata(id string) (*SegmentMetadata, error) {
	for _, source := range []SegmentSource{SegmentSourceStaged, SegmentSourceProcessed} {
		metaPath := filepath.Join("segments", string(source), id+".json")
		exists, _ := c.sandbox.Exists(metaPath)
		if exists {
			return c.loadMetadataByPath(metaPath)
		}
	}
	return nil, fmt.Errorf("metadata not found for segment id: %s", id)
}

func (c *SegmentCache) loadMetadataByPath(metaPath string) (*SegmentMetadata, error) {
	data, err := c.sandbox.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading segment metadata: %w", err)
	}
	var meta SegmentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling segment metadata: %w", err)
	}
	return &meta, nil
}

// MarkProcessed moves a staged segment (file + metadata) into the processed
// directory, tagging it with the consuming job's id. Called when a pipeline
// job picks up the segment for transformation.
func (c *SegmentCache) MarkProcessed(meta *SegmentMetadata, jobID string) error {
	oldSegmentPath := meta.RelativeSegmentPath()
	oldMetaPath := meta.RelativeMetadataPath()

	meta.MarkProcessed(jobID)

	newSegmentPath := meta.RelativeSegmentPath()

	if err := c.sandbox.Rename(oldSegmentPath, newSegmentPath); err != nil {
		return fmt.Errorf("moving segment to processed: %w", err)
	}
	if err := c.writeMetadata(meta); err != nil {
		return err
	}
	return c.sandbox.Remove(oldMetaPath)
}

// GetStaleSegments returns staged segments that haven't been seen since the
// cutoff time, candidates for the retention sweep to delete as never
// claimed by any pipeline job.
func (c *SegmentCache) GetStaleSegments(cutoff time.Time) ([]*SegmentMetadata, error) {
	stagedDir := filepath.Join("segments", string(SegmentSourceStaged))
	absDir, err := c.sandbox.ResolvePath(stagedDir)
	if err != nil {
		return nil, fmt.Errorf("resolving staged segments directory: %w", err)
	}

	var stale []*SegmentMetadata

	err = filepath.Walk(absDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		var meta SegmentMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil
		}

		if !meta.LastSeenAt.IsZero() && meta.LastSeenAt.Before(cutoff) {
			stale = append(stale, &meta)
		} else if meta.LastSeenAt.IsZero() && info.ModTime().Before(cutoff) {
			stale = append(stale, &meta)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking staged segments directory: %w", err)
	}

	return stale, nil
}

// DeleteStaged removes a staged segment's file and metadata.
func (c *SegmentCache) DeleteStaged(meta *SegmentMetadata) error {
	if err := c.sandbox.Remove(meta.RelativeSegmentPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting segment file: %w", err)
	}
	if err := c.sandbox.Remove(meta.RelativeMetadataPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting segment metadata: %w", err)
	}
	return nil
}

// BaseDir returns the absolute path to the cache base directory.
func (c *SegmentCache) BaseDir() string {
	return c.sandbox.BaseDir()
}
