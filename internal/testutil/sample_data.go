// Package testutil provides deterministic sample-entity builders shared by
// package tests. Builders return fully-valid entities with an assigned ID;
// tests mutate the returned value for case-specific fields.
package testutil

import (
	"fmt"

	"github.com/jmylchreest/streamforge/internal/models"
)

// Streamer builds a NotLive, normal-priority streamer assigned to
// platformID.
func Streamer(platformID models.ULID) *models.Streamer {
	s := &models.Streamer{
		Name:             "chan",
		URL:              "https://example.com/live/chan.m3u8",
		PlatformConfigID: platformID,
		State:            models.StreamerStateNotLive,
		Priority:         models.StreamerPriorityNormal,
	}
	s.ID = models.NewULID()
	return s
}

// Streamers builds n streamers on the same platform with distinct names
// and URLs.
func Streamers(platformID models.ULID, n int) []*models.Streamer {
	out := make([]*models.Streamer, n)
	for i := range out {
		s := Streamer(platformID)
		s.Name = fmt.Sprintf("chan-%d", i)
		s.URL = fmt.Sprintf("https://example.com/live/chan-%d.m3u8", i)
		out[i] = s
	}
	return out
}

// PlatformConfig builds a batch-capable platform config of the given kind,
// with Twitch preprocessing enabled for PlatformKindTwitch.
func PlatformConfig(kind models.PlatformKind) *models.PlatformConfig {
	p := &models.PlatformConfig{
		Name:                        string(kind) + ".example.com",
		Kind:                        kind,
		SupportsBatchCheck:          true,
		MaxBatchSize:                20,
		BatchWindowMs:               500,
		RequiresTwitchPreprocessing: kind == models.PlatformKindTwitch,
		BaseCheckIntervalMs:         60000,
		OfflineCheckCount:           2,
		ErrorThreshold:              5,
	}
	p.ID = models.NewULID()
	return p
}

// Job builds a pending job of the given type with a single input path.
func Job(jobType string) *models.Job {
	return &models.Job{
		JobType:    jobType,
		Status:     models.JobStatusPending,
		Input:      models.StringList{"/data/input.ts"},
		MaxRetries: 3,
	}
}

// WebhookChannel builds an enabled webhook notification channel pointed
// at url.
func WebhookChannel(url string) *models.NotificationChannel {
	ch := &models.NotificationChannel{
		Kind:    models.NotificationChannelWebhook,
		Config:  models.JSON(fmt.Sprintf(`{"url":%q}`, url)),
		Enabled: true,
	}
	ch.ID = models.NewULID()
	return ch
}
