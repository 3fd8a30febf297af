// Package recording provides the generic-HLS StreamChecker and
// RecordingHandoff implementations the actor runtime is wired to: liveness
// is determined by fetching the streamer's URL as an HLS media playlist
// and checking it parses with at least one segment, and handoff dispatches
// an hls_capture pipeline job.
package recording

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/streamforge/internal/hls/playlist"
	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/pkg/httpclient"
)

// Checker implements actor.StreamChecker for any platform whose liveness
// signal is "the configured URL serves a parseable, non-empty HLS media
// playlist" (PlatformKindGenericHLS, and a reasonable default for
// YouTube/Kick absent a platform-specific API integration).
type Checker struct {
	http   *httpclient.Client
	logger *slog.Logger
}

// NewChecker constructs a Checker using client for playlist fetches.
func NewChecker(client *httpclient.Client, logger *slog.Logger) *Checker {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{http: client, logger: logger.With("component", "recording.checker")}
}

// CheckLive implements actor.StreamChecker.
func (c *Checker) CheckLive(ctx context.Context, streamer *models.Streamer) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamer.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	pl, err := playlist.Parse(body, streamer.URL, playlist.ParseOptions{})
	if err != nil {
		// A playlist that fails to parse is treated as not-live rather than
		// an error: transient CDN responses (ad interstitials, empty
		// bodies) are common and shouldn't trip the error-threshold path.
		c.logger.Debug("playlist did not parse, treating as not live",
			slog.String("streamer_id", streamer.ID.String()), slog.Any("error", err))
		return false, nil
	}
	return pl.Media != nil && len(pl.Media.Segments) > 0, nil
}

// CheckLiveBatch implements actor.StreamChecker by checking each streamer
// independently; generic HLS has no batched liveness API.
func (c *Checker) CheckLiveBatch(ctx context.Context, streamers []*models.Streamer) (map[models.ULID]bool, error) {
	results := make(map[models.ULID]bool, len(streamers))
	for _, s := range streamers {
		live, err := c.CheckLive(ctx, s)
		if err != nil {
			results[s.ID] = false
			continue
		}
		results[s.ID] = live
	}
	return results, nil
}
