package actor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartTracker_ShouldRestart(t *testing.T) {
	tr := &RestartTracker{}
	for i := 0; i < 5; i++ {
		tr.RecordFailure()
		require.True(t, tr.ShouldRestart(5))
	}
	tr.RecordFailure()
	assert.False(t, tr.ShouldRestart(5))
}

func TestRestartTracker_NextBackoffCapped(t *testing.T) {
	tr := &RestartTracker{}
	base := 100 * time.Millisecond
	max := 1 * time.Second

	var last time.Duration
	for i := 0; i < 10; i++ {
		tr.RecordFailure()
		backoff := tr.NextBackoff(base, max)
		assert.LessOrEqual(t, backoff, max)
		assert.GreaterOrEqual(t, backoff, last)
		last = backoff
	}
	assert.Equal(t, max, tr.NextBackoff(base, max))
}

func TestRestartTracker_Reset(t *testing.T) {
	tr := &RestartTracker{}
	tr.RecordFailure()
	tr.RecordFailure()
	require.Equal(t, 2, tr.Attempts())
	tr.Reset()
	assert.Equal(t, 0, tr.Attempts())
}
