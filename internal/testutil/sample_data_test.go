package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/streamforge/internal/models"
)

func TestStreamer_IsValid(t *testing.T) {
	platformID := models.NewULID()
	s := Streamer(platformID)

	assert.False(t, s.ID.IsZero())
	assert.Equal(t, platformID, s.PlatformConfigID)
	assert.Equal(t, models.StreamerStateNotLive, s.State)
	require.NoError(t, s.Validate())
}

func TestStreamers_DistinctNamesAndIDs(t *testing.T) {
	all := Streamers(models.NewULID(), 3)
	require.Len(t, all, 3)

	seen := map[string]bool{}
	for _, s := range all {
		assert.False(t, seen[s.Name], "duplicate name %s", s.Name)
		seen[s.Name] = true
		assert.False(t, s.ID.IsZero())
	}
}

func TestPlatformConfig_IsValid(t *testing.T) {
	p := PlatformConfig(models.PlatformKindTwitch)
	require.NoError(t, p.Validate())
	assert.True(t, p.RequiresTwitchPreprocessing)

	generic := PlatformConfig(models.PlatformKindGenericHLS)
	require.NoError(t, generic.Validate())
	assert.False(t, generic.RequiresTwitchPreprocessing)
}

func TestJob_StartsPending(t *testing.T) {
	j := Job("compress")
	assert.Equal(t, models.JobStatusPending, j.Status)
	assert.NotEmpty(t, j.Input)
}

func TestWebhookChannel_ConfigCarriesURL(t *testing.T) {
	ch := WebhookChannel("https://hooks.example.com/x")
	assert.Contains(t, string(ch.Config), "https://hooks.example.com/x")
	assert.True(t, ch.Enabled)
}
