package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SegmentSource indicates whether a staged segment is still awaiting pickup
// by a pipeline job or has already been handed off.
type SegmentSource string

const (
	// SegmentSourceStaged indicates the segment was just downloaded by the
	// HLS segment scheduler and is waiting for a pipeline job to consume it.
	// Staged segments are prunable once stale (never picked up).
	SegmentSourceStaged SegmentSource = "staged"

	// SegmentSourceProcessed indicates a pipeline job has already read the
	// segment; retained under the job's own retention window instead of the
	// staging-area staleness check.
	SegmentSourceProcessed SegmentSource = "processed"
)

// SegmentMetadata is the sidecar record stored alongside a staged segment
// file on disk. The ID is deterministic over the segment's resolved URL so
// the same segment requested twice (confirmed fetch after a prefetch) is
// only ever downloaded and stored once.
//
// Directory structure:
//   - segments/staged/{hash}.ts    - awaiting pipeline pickup
//   - segments/processed/{hash}.ts - already consumed
type SegmentMetadata struct {
	// ID is the unique identifier for this staged segment: a SHA256 hash of
	// the normalized segment URL.
	ID string `json:"id"`

	// Source indicates staging lifecycle stage.
	Source SegmentSource `json:"source,omitempty"`

	// JobID ties a processed segment back to the job that consumed it.
	JobID string `json:"job_id,omitempty"`

	// OriginalURL is the segment's resolved URL before normalization.
	OriginalURL string `json:"original_url"`

	// NormalizedURL is the URL after normalization; the ID is derived from
	// this, not OriginalURL.
	NormalizedURL string `json:"normalized_url,omitempty"`

	// MediaSequenceNumber is the segment's MSN within its playlist.
	MediaSequenceNumber int64 `json:"media_sequence_number"`

	// IsInitSegment marks an EXT-X-MAP initialization segment.
	IsInitSegment bool `json:"is_init_segment,omitempty"`

	// IsPrefetch marks a segment fetched opportunistically ahead of
	// confirmation; a later confirmed fetch for the same URL resolves to the
	// same metadata entry (deterministic ID) rather than double-downloading.
	IsPrefetch bool `json:"is_prefetch,omitempty"`

	// ContentType is the MIME type reported by the origin (usually
	// video/mp2t or video/iso.segment for fMP4).
	ContentType string `json:"content_type,omitempty"`

	// FileSize is the size of the staged segment in bytes.
	FileSize int64 `json:"file_size,omitempty"`

	// CreatedAt is when the segment was first staged.
	CreatedAt time.Time `json:"created_at"`

	// LastSeenAt is updated whenever the segment is re-requested (e.g. a
	// prefetch later confirmed), used for staleness-based pruning.
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// NewStagedSegmentMetadata creates a new metadata entry for a segment URL.
// The ID is deterministic so a prefetch followed by a confirmed fetch of the
// same URL resolves to one on-disk entry.
func NewStagedSegmentMetadata(originalURL string, msn int64) *SegmentMetadata {
	normalized := normalizeSegmentURL(originalURL)
	hash := computeSegmentURLHash(normalized)
	now := time.Now().UTC()
	return &SegmentMetadata{
		ID:                  hash,
		Source:              SegmentSourceStaged,
		OriginalURL:         originalURL,
		NormalizedURL:       normalized,
		MediaSequenceNumber: msn,
		CreatedAt:           now,
		LastSeenAt:          now,
	}
}

// NewProcessedSegmentMetadata creates a metadata entry for a segment that
// did not come through the staging area (e.g. reconstructed during a backfill).
func NewProcessedSegmentMetadata(jobID string) *SegmentMetadata {
	return &SegmentMetadata{
		ID:        ulid.Make().String(),
		Source:    SegmentSourceProcessed,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
}

// GetSource returns the segment source, defaulting to staged.
func (m *SegmentMetadata) GetSource() SegmentSource {
	if m.Source != "" {
		return m.Source
	}
	return SegmentSourceStaged
}

// IsPrunable returns true if this segment can be automatically pruned by the
// staging-area staleness sweep. Processed segments fall under job retention
// instead.
func (m *SegmentMetadata) IsPrunable() bool {
	return m.GetSource() == SegmentSourceStaged
}

// MarkSeen updates LastSeenAt to now. Called when a duplicate fetch for the
// same URL resolves against an existing staged entry.
func (m *SegmentMetadata) MarkSeen() {
	m.LastSeenAt = time.Now().UTC()
}

// MarkProcessed transitions a staged segment to processed once a pipeline
// job has consumed it.
func (m *SegmentMetadata) MarkProcessed(jobID string) {
	m.Source = SegmentSourceProcessed
	m.JobID = jobID
}

// normalizeSegmentURL normalizes a segment URL for consistent hashing:
// lowercases the host, strips default ports, sorts query parameters, and
// drops a trailing slash.
func normalizeSegmentURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")

	path := strings.TrimSuffix(parsed.Path, "/")

	query := parsed.Query()
	var sortedParams []string
	for key := range query {
		for _, val := range query[key] {
			sortedParams = append(sortedParams, key+"="+val)
		}
	}
	sort.Strings(sortedParams)

	result := host + path
	if len(sortedParams) > 0 {
		result += "?" + strings.Join(sortedParams, "&")
	}

	return result
}

// SegmentPath returns just the filename for the staged segment file.
func (m *SegmentMetadata) SegmentPath() string {
	return m.ID + m.extension()
}

// MetadataPath returns just the filename for the metadata JSON file.
func (m *SegmentMetadata) MetadataPath() string {
	return m.ID + ".json"
}

// SourceDir returns the source-based directory name ("staged" or "processed").
func (m *SegmentMetadata) SourceDir() string {
	return string(m.GetSource())
}

// RelativeSegmentPath returns the full relative path for the segment file.
func (m *SegmentMetadata) RelativeSegmentPath() string {
	return filepath.Join("segments", m.SourceDir(), m.SegmentPath())
}

// RelativeMetadataPath returns the full relative path for the metadata file.
func (m *SegmentMetadata) RelativeMetadataPath() string {
	return filepath.Join("segments", m.SourceDir(), m.MetadataPath())
}

// extension returns the segment's on-disk extension based on content type.
// Defaults to .ts (MPEG-TS) if content type is unknown, since that is the
// overwhelming majority container for HLS media segments.
func (m *SegmentMetadata) extension() string {
	ext := segmentExtensionFromContentType(m.ContentType)
	if ext == "" {
		return ".ts"
	}
	return ext
}

// computeSegmentURLHash creates a SHA256 hash of a URL for fast lookups.
func computeSegmentURLHash(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])
}

// segmentExtensionFromContentType maps a segment content type to a file
// extension.
func segmentExtensionFromContentType(contentType string) string {
	contentType = strings.Split(contentType, ";")[0]
	contentType = strings.TrimSpace(contentType)
	contentType = strings.ToLower(contentType)

	switch contentType {
	case "video/mp2t":
		return ".ts"
	case "video/iso.segment", "video/mp4":
		return ".m4s"
	case "application/mp4":
		return ".mp4"
	default:
		return ""
	}
}
