// Package scheduler implements the HLS segment scheduler: batched
// accumulation of segment fetch jobs and a bounded-concurrency dispatcher
// with predictive prefetch gating.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/hls/playlist"
)

// BatchScheduler accumulates ScheduledSegmentJobs and decides when a batch
// is ready to dispatch, either because it filled or its window elapsed.
type BatchScheduler struct {
	mu         sync.Mutex
	maxBatch   int
	window     time.Duration
	pending    []playlist.ScheduledSegmentJob
	windowOpen time.Time
}

// NewBatchScheduler constructs a BatchScheduler with the given batch
// window and maximum batch size.
func NewBatchScheduler(window time.Duration, maxBatch int) *BatchScheduler {
	if maxBatch <= 0 {
		maxBatch = 25
	}
	return &BatchScheduler{maxBatch: maxBatch, window: window}
}

// AddJob appends job to the pending batch, starting the window timer if
// this is the first pending entry.
func (b *BatchScheduler) AddJob(job playlist.ScheduledSegmentJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		b.windowOpen = time.Now()
	}
	b.pending = append(b.pending, job)
}

// IsReady reports whether the batch should be dispatched now.
func (b *BatchScheduler) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isReadyLocked()
}

func (b *BatchScheduler) isReadyLocked() bool {
	if len(b.pending) == 0 {
		return false
	}
	if len(b.pending) >= b.maxBatch {
		return true
	}
	return time.Since(b.windowOpen) >= b.window
}

// Len returns the number of jobs currently pending dispatch.
func (b *BatchScheduler) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// RemainingWindow returns the time left before the window naturally
// elapses: zero if already elapsed, the full window if nothing is pending.
func (b *BatchScheduler) RemainingWindow() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return b.window
	}
	remaining := b.window - time.Since(b.windowOpen)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TakeBatch returns the pending jobs sorted by (msn ascending,
// init-before-media, non-prefetch-before-prefetch) and resets the window.
func (b *BatchScheduler) TakeBatch() []playlist.ScheduledSegmentJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	b.windowOpen = time.Time{}
	sortBatch(batch)
	return batch
}

// RequeueReadyJobs re-adds jobs to the pending set while preserving the
// already-elapsed window, so the next dispatch tick fires immediately
// instead of waiting a fresh full window.
func (b *BatchScheduler) RequeueReadyJobs(jobs []playlist.ScheduledSegmentJob, elapsedWindowStart time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, jobs...)
	if b.windowOpen.IsZero() || elapsedWindowStart.Before(b.windowOpen) {
		b.windowOpen = elapsedWindowStart
	}
}

func sortBatch(jobs []playlist.ScheduledSegmentJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, c := jobs[i], jobs[j]
		if a.MediaSequenceNumber != c.MediaSequenceNumber {
			return a.MediaSequenceNumber < c.MediaSequenceNumber
		}
		if a.IsInitSegment != c.IsInitSegment {
			return a.IsInitSegment // init (true) sorts first
		}
		if a.IsPrefetch != c.IsPrefetch {
			return !a.IsPrefetch // non-prefetch (false) sorts first
		}
		return false
	})
}
