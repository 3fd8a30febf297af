package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/streamforge/internal/hls/playlist"
)

func jobWithMSN(msn int64, init, prefetch bool) playlist.ScheduledSegmentJob {
	return playlist.ScheduledSegmentJob{
		MediaSequenceNumber: msn,
		IsInitSegment:       init,
		IsPrefetch:          prefetch,
	}
}

func TestBatchSchedulerOrdersByMSN(t *testing.T) {
	b := NewBatchScheduler(time.Hour, 100)
	for _, msn := range []int64{5, 2, 8, 1, 3} {
		b.AddJob(jobWithMSN(msn, false, false))
	}

	batch := b.TakeBatch()
	require.Len(t, batch, 5)
	var got []int64
	for _, j := range batch {
		got = append(got, j.MediaSequenceNumber)
	}
	assert.Equal(t, []int64{1, 2, 3, 5, 8}, got)
}

func TestBatchSchedulerInitSortsBeforeMediaAtSameMSN(t *testing.T) {
	b := NewBatchScheduler(time.Hour, 100)
	b.AddJob(jobWithMSN(1, false, false))
	b.AddJob(jobWithMSN(1, true, false))

	batch := b.TakeBatch()
	require.Len(t, batch, 2)
	assert.True(t, batch[0].IsInitSegment)
	assert.False(t, batch[1].IsInitSegment)
}

func TestBatchSchedulerReadyOnMaxSize(t *testing.T) {
	b := NewBatchScheduler(time.Hour, 2)
	assert.False(t, b.IsReady())
	b.AddJob(jobWithMSN(1, false, false))
	assert.False(t, b.IsReady())
	b.AddJob(jobWithMSN(2, false, false))
	assert.True(t, b.IsReady())
}

func TestBatchSchedulerReadyOnWindowElapsed(t *testing.T) {
	b := NewBatchScheduler(10*time.Millisecond, 100)
	b.AddJob(jobWithMSN(1, false, false))
	assert.False(t, b.IsReady())
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.IsReady())
}

func TestBatchSchedulerTakeBatchResetsWindow(t *testing.T) {
	b := NewBatchScheduler(time.Hour, 100)
	b.AddJob(jobWithMSN(1, false, false))
	_ = b.TakeBatch()
	assert.Equal(t, 0, b.Len())
}
