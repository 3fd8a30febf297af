package playlist

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/streamforge/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = observability.Tracer("streamforge/hls/playlist")

// Fetcher retrieves raw playlist bytes for a URL. Implemented in this
// module's caller by wrapping pkg/httpclient.Client.
type Fetcher interface {
	FetchPlaylist(ctx context.Context, u string) ([]byte, error)
}

// ScheduledSegmentJob is the unit of work the live monitoring loop emits
// for the HLS segment scheduler to pick up.
type ScheduledSegmentJob struct {
	BaseURL             string
	MediaSequenceNumber int64
	MediaSegment        Segment
	IsInitSegment       bool
	IsPrefetch          bool
}

// MonitorConfig bounds the live monitoring loop's refresh cadence and
// failure tolerance.
type MonitorConfig struct {
	MinInterval           time.Duration
	MaxInterval           time.Duration
	DefaultInterval       time.Duration
	LiveMaxRefreshRetries int
	RetryDelay            time.Duration
	Opts                  ParseOptions
}

// Monitor drives the live refresh loop for a single Media playlist URL,
// emitting ScheduledSegmentJob for every newly observed segment.
type Monitor struct {
	url     string
	cfg     MonitorConfig
	fetcher Fetcher
	jobs    chan<- ScheduledSegmentJob
	logger  *slog.Logger

	tracker        *AdaptiveTracker
	seen           *SeenLRU
	lastRaw        []byte
	lastMap        *Segment
	emptyRefreshes int
}

// NewMonitor constructs a Monitor for the given variant/media URL.
func NewMonitor(url string, cfg MonitorConfig, fetcher Fetcher, jobs chan<- ScheduledSegmentJob, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.DefaultInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		url:     url,
		cfg:     cfg,
		fetcher: fetcher,
		jobs:    jobs,
		logger:  logger.With("component", "hls_playlist_monitor", "url", url),
		tracker: NewAdaptiveTracker(interval, cfg.MinInterval, cfg.MaxInterval),
		seen:    NewSeenLRU(100),
	}
}

// Run executes the adaptive live-refresh loop until EXT-X-ENDLIST,
// exhausted retries, or context cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fetchCtx, span := tracer.Start(ctx, "hls.playlist.fetch", trace.WithAttributes(attribute.String("url", m.url)))
		raw, err := m.fetcher.FetchPlaylist(fetchCtx, m.url)
		if err != nil {
			span.RecordError(err)
			span.End()
			attempt++
			maxRetries := m.cfg.LiveMaxRefreshRetries
			if maxRetries <= 0 {
				maxRetries = 5
			}
			if attempt > maxRetries {
				return &NetworkError{Source: err}
			}
			delay := m.cfg.RetryDelay
			if delay <= 0 {
				delay = time.Second
			}
			if !sleep(ctx, delay*time.Duration(attempt)) {
				return nil
			}
			continue
		}
		span.SetAttributes(attribute.Int("bytes", len(raw)))
		span.End()
		attempt = 0

		identical := bytes.Equal(raw, m.lastRaw)
		if identical {
			m.emptyRefreshes++
			// Identical bytes never suppress ENDLIST detection: the end
			// tag may already have been present on the previous fetch
			// without having been acted on.
			if bytes.Contains(raw, []byte("#EXT-X-ENDLIST")) {
				return nil
			}
			interval := m.tracker.Observe(false)
			if !sleep(ctx, interval) {
				return nil
			}
			continue
		}
		m.lastRaw = raw

		pl, parseErr := Parse(raw, m.url, m.cfg.Opts)
		if parseErr != nil {
			m.logger.Warn("playlist parse failed", "error", parseErr)
			interval := m.tracker.Observe(false)
			if !sleep(ctx, interval) {
				return nil
			}
			continue
		}
		if pl.Media == nil {
			return &Error{Msg: "expected media playlist during live monitoring"}
		}

		gotNew := m.emitNewSegments(pl.Media)
		interval := m.tracker.Observe(gotNew)

		if pl.Media.EndList {
			return nil
		}

		if !sleep(ctx, interval) {
			return nil
		}
	}
}

// emitNewSegments compares against the seen LRU and emits a job for every
// genuinely new segment, returning whether any were found.
func (m *Monitor) emitNewSegments(media *Media) bool {
	gotNew := false

	if media.InitSegment != nil && m.initSegmentChanged(media.InitSegment) {
		m.lastMap = media.InitSegment
		m.seen.Add(media.InitSegment.URI)
		m.dispatch(ScheduledSegmentJob{
			BaseURL:             m.url,
			MediaSequenceNumber: media.InitSegment.MediaSequence,
			MediaSegment:        *media.InitSegment,
			IsInitSegment:       true,
		})
		gotNew = true
	}

	for _, seg := range media.Segments {
		if isAdSegment(seg) {
			continue
		}
		if m.seen.Contains(seg.URI) {
			continue
		}
		m.seen.Add(seg.URI)
		m.dispatch(ScheduledSegmentJob{
			BaseURL:             m.url,
			MediaSequenceNumber: seg.MediaSequence,
			MediaSegment:        seg,
			IsPrefetch:          seg.IsPrefetch,
		})
		gotNew = true
	}
	return gotNew
}

func (m *Monitor) initSegmentChanged(seg *Segment) bool {
	return m.lastMap == nil || m.lastMap.URI != seg.URI
}

func (m *Monitor) dispatch(job ScheduledSegmentJob) {
	select {
	case m.jobs <- job:
	default:
		m.logger.Warn("segment job channel full, dropping", "uri", job.MediaSegment.URI)
	}
}

// isAdSegment applies the Twitch ad-skip heuristic: segments synthesized
// or tagged with a stitched-ad title are skipped. A live stream whose
// real title contains the marker would be skipped too; nothing sturdier
// than the title survives playlist preprocessing.
func isAdSegment(seg Segment) bool {
	return strings.Contains(strings.ToLower(seg.Title), "stitched-ad")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
