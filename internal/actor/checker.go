package actor

import (
	"context"

	"github.com/jmylchreest/streamforge/internal/models"
)

// StreamChecker is the external collaborator that knows how to ask a
// specific platform whether a streamer is currently live. Concrete
// implementations (Twitch Helix, YouTube, generic HLS HEAD probe, ...) are
// out of scope for the core; the actor runtime only depends on this
// interface.
type StreamChecker interface {
	// CheckLive performs a single-streamer liveness check.
	CheckLive(ctx context.Context, streamer *models.Streamer) (live bool, err error)

	// CheckLiveBatch performs a batched liveness check for platforms whose
	// PlatformConfig.SupportsBatchCheck is true. The returned map must
	// contain an entry for every requested streamer id; a missing entry is
	// treated as a failed check for that streamer.
	CheckLiveBatch(ctx context.Context, streamers []*models.Streamer) (map[models.ULID]bool, error)
}

// RecordingHandoff is the external collaborator that starts the HLS/FLV
// download pipeline for a streamer once it's been confirmed live. It is
// invoked by the StreamerActor and is expected to run the recording
// asynchronously, reporting completion (not modeled here) through whatever
// mechanism the caller wires up.
type RecordingHandoff interface {
	StartRecording(ctx context.Context, streamer *models.Streamer) error
}
