package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/streamforge/internal/hls/playlist"
	"github.com/jmylchreest/streamforge/internal/storage"
)

// SegmentFetcher retrieves the raw bytes of a segment. Implemented by the
// caller wrapping pkg/httpclient.Client.Get.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, url string) ([]byte, string, error)
}

// SegmentFetchError marks a fetch failure that should be treated as a gap
// rather than a fatal pipeline error (e.g. a 404 for an expired segment).
type SegmentFetchError struct {
	URL string
	Err error
}

func (e *SegmentFetchError) Error() string {
	return fmt.Sprintf("segment fetch failed for %s: %v", e.URL, e.Err)
}

func (e *SegmentFetchError) Unwrap() error { return e.Err }

// Result is the outcome of dispatching a single segment job.
type Result struct {
	Job      playlist.ScheduledSegmentJob
	Path     string
	Err      error
	IsGap    bool
	Duration time.Duration
}

// DispatcherConfig bounds the dispatcher's concurrency and rate.
type DispatcherConfig struct {
	DownloadConcurrency int
	RateLimit           float64 // fetches/sec, 0 disables limiting
	BatchWindow         time.Duration
	BatchMaxSize        int
	PrefetchBufferSize  int
	InitRequired        bool
}

type inFlightFuture struct {
	job    playlist.ScheduledSegmentJob
	result Result
}

// Dispatcher consumes ScheduledSegmentJobs, accumulates them into ordered
// batches, and fetches segment bytes under a bounded-concurrency,
// rate-limited worker pool, with predictive prefetch gating once a
// completion confirms stream progress.
type Dispatcher struct {
	cfg      DispatcherConfig
	fetcher  SegmentFetcher
	cache    *storage.SegmentCache
	logger   *slog.Logger
	batch    *BatchScheduler
	prefetch *PrefetchManager
	limiter  *rate.Limiter

	mu       sync.Mutex
	inFlight map[int64]bool
	known    map[int64]bool

	results chan<- Result
}

// NewDispatcher constructs a Dispatcher. results receives one Result per
// completed (or gap/failed) segment job; the caller should drain it.
func NewDispatcher(cfg DispatcherConfig, fetcher SegmentFetcher, cache *storage.SegmentCache, results chan<- Result, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 8
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.DownloadConcurrency
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Dispatcher{
		cfg:      cfg,
		fetcher:  fetcher,
		cache:    cache,
		logger:   logger.With("component", "hls_segment_dispatcher"),
		batch:    NewBatchScheduler(cfg.BatchWindow, cfg.BatchMaxSize),
		prefetch: NewPrefetchManager(cfg.InitRequired),
		limiter:  limiter,
		inFlight: make(map[int64]bool),
		known:    make(map[int64]bool),
		results:  results,
	}
}

// Run drives the dispatcher loop until ctx is cancelled or input closes and
// all in-flight work drains. input is the channel of incoming scheduled jobs
// (typically fed by an playlist.Monitor).
func (d *Dispatcher) Run(ctx context.Context, input <-chan playlist.ScheduledSegmentJob) error {
	sem := make(chan struct{}, d.cfg.DownloadConcurrency)
	completed := make(chan inFlightFuture, d.cfg.DownloadConcurrency*2)

	var wg sync.WaitGroup
	draining := false
	inputOpen := true

	timer := time.NewTimer(d.batch.RemainingWindow())
	defer timer.Stop()

	for {
		d.mu.Lock()
		inFlightCount := len(d.inFlight)
		d.mu.Unlock()

		if draining && !inputOpen && inFlightCount == 0 && d.batch.Len() == 0 {
			wg.Wait()
			return nil
		}

		select {
		case <-ctx.Done():
			if !draining {
				draining = true
				inputOpen = false
				// Flush whatever remains in the current batch; already
				// in-flight fetches are still allowed to complete above.
				d.flushReady(ctx, sem, completed, &wg, true)
			}

		case <-timer.C:
			d.flushReady(ctx, sem, completed, &wg, false)
			timer.Reset(d.nextTick())

		case job, ok := <-input:
			if !ok {
				inputOpen = false
				input = nil
				if draining {
					continue
				}
				draining = true
				d.flushReady(ctx, sem, completed, &wg, true)
				continue
			}
			d.batch.AddJob(job)
			if d.batch.IsReady() {
				d.flushReady(ctx, sem, completed, &wg, false)
				timer.Reset(d.nextTick())
			}

		case fut := <-completed:
			d.handleCompletion(fut)
			if draining && d.batch.IsReady() {
				d.flushReady(ctx, sem, completed, &wg, true)
			}
		}
	}
}

func (d *Dispatcher) nextTick() time.Duration {
	rem := d.batch.RemainingWindow()
	if rem <= 0 {
		return d.cfg.BatchWindow
	}
	return rem
}

// flushReady takes the ready batch and dispatches each job under the
// bounded-concurrency semaphore. force bypasses the ready check, used when
// draining to fetch whatever is still pending.
func (d *Dispatcher) flushReady(ctx context.Context, sem chan struct{}, completed chan inFlightFuture, wg *sync.WaitGroup, force bool) {
	if !force && !d.batch.IsReady() {
		return
	}
	batch := d.batch.TakeBatch()
	for _, job := range batch {
		d.markKnown(job)
		job := job
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := d.fetchOne(ctx, job)
			select {
			case completed <- inFlightFuture{job: job, result: res}:
			case <-ctx.Done():
			}
		}()
	}
}

func (d *Dispatcher) markKnown(job playlist.ScheduledSegmentJob) {
	d.mu.Lock()
	d.inFlight[job.MediaSequenceNumber] = true
	d.known[job.MediaSequenceNumber] = true
	d.mu.Unlock()
	d.prefetch.MarkKnown(job.MediaSequenceNumber)
}

func (d *Dispatcher) fetchOne(ctx context.Context, job playlist.ScheduledSegmentJob) Result {
	start := time.Now()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{Job: job, Err: err, Duration: time.Since(start)}
		}
	}

	data, contentType, err := d.fetcher.FetchSegment(ctx, job.MediaSegment.URI)
	if err != nil {
		gap := isGapError(err)
		if job.IsPrefetch {
			// Prefetch errors are always opportunistic; swallow silently.
			return Result{Job: job, Err: nil, IsGap: true, Duration: time.Since(start)}
		}
		return Result{Job: job, Err: err, IsGap: gap, Duration: time.Since(start)}
	}

	meta := storage.NewStagedSegmentMetadata(job.MediaSegment.URI, job.MediaSequenceNumber)
	meta.IsInitSegment = job.IsInitSegment
	meta.IsPrefetch = job.IsPrefetch
	meta.ContentType = contentType

	path, storeErr := d.cache.StoreBytes(meta, data)
	if storeErr != nil {
		return Result{Job: job, Err: storeErr, Duration: time.Since(start)}
	}

	return Result{Job: job, Path: path, Duration: time.Since(start)}
}

func isGapError(err error) bool {
	var fetchErr *SegmentFetchError
	return errors.As(err, &fetchErr)
}

func (d *Dispatcher) handleCompletion(fut inFlightFuture) {
	job := fut.job
	res := fut.result

	d.mu.Lock()
	delete(d.inFlight, job.MediaSequenceNumber)
	inFlightSnapshot := make(map[int64]bool, len(d.inFlight))
	for k, v := range d.inFlight {
		inFlightSnapshot[k] = v
	}
	d.mu.Unlock()

	if res.Err != nil {
		d.logger.Warn("segment fetch failed", "msn", job.MediaSequenceNumber, "uri", job.MediaSegment.URI, "gap", res.IsGap, "error", res.Err)
	} else {
		d.logger.Debug("segment fetched", "msn", job.MediaSequenceNumber, "uri", job.MediaSegment.URI, "path", res.Path, "duration", res.Duration)
	}

	d.forward(res)

	if job.IsInitSegment {
		d.prefetch.MarkInitSeen()
	}

	// Prefetch gating fires only after a genuine, non-prefetch, non-init
	// completion, and only once the stream is ready (init seen if required).
	if res.Err == nil && !job.IsPrefetch && !job.IsInitSegment && d.prefetch.ReadyForPrefetch() {
		bufferSize := d.cfg.PrefetchBufferSize
		if bufferSize <= 0 {
			bufferSize = 3
		}
		targets := d.prefetch.GetPrefetchTargets(job.MediaSequenceNumber, bufferSize, inFlightSnapshot)
		for _, msn := range targets {
			prefetchJob := job
			prefetchJob.MediaSequenceNumber = msn
			prefetchJob.IsPrefetch = true
			prefetchJob.IsInitSegment = false
			d.batch.AddJob(prefetchJob)
		}
	}
}

func (d *Dispatcher) forward(res Result) {
	if d.results == nil {
		return
	}
	select {
	case d.results <- res:
	default:
		d.logger.Warn("results channel full, dropping result", "msn", res.Job.MediaSequenceNumber)
	}
}

// HTTPSegmentFetcher adapts pkg/httpclient.Client to the SegmentFetcher
// interface used by the dispatcher.
type HTTPSegmentFetcher struct {
	Do func(ctx context.Context, url string) (*http.Response, error)
}

// FetchSegment performs the HTTP GET and reads the full response body.
func (f *HTTPSegmentFetcher) FetchSegment(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := f.Do(ctx, url)
	if err != nil {
		return nil, "", &SegmentFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, "", &SegmentFetchError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading segment body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
