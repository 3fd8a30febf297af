package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/pkg/httpclient"
)

// webhookConfig is the Config envelope interpreted by NewWebhookSender.
type webhookConfig struct {
	URL string `json:"url"`
}

// webhookPayload is the JSON body posted to the configured webhook URL.
type webhookPayload struct {
	Type        EventType      `json:"type"`
	Message     string         `json:"message"`
	StreamerID  string         `json:"streamer_id,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	Recoverable bool           `json:"recoverable"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// NewWebhookSender builds a Sender that POSTs events as JSON to the URL in
// channel.Config, suitable for registration against
// models.NotificationChannelWebhook.
func NewWebhookSender(client *httpclient.Client) func(models.NotificationChannel) (Sender, error) {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return func(channel models.NotificationChannel) (Sender, error) {
		var cfg webhookConfig
		if err := json.Unmarshal(channel.Config, &cfg); err != nil {
			return nil, fmt.Errorf("parsing webhook channel config: %w", err)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook channel %s has no url configured", channel.ID)
		}
		return SenderFunc(func(ctx context.Context, event Event) error {
			payload := webhookPayload{
				Type:        event.Type,
				Message:     event.Message,
				Recoverable: event.Recoverable,
				Fields:      event.Fields,
			}
			if event.StreamerID != nil {
				payload.StreamerID = event.StreamerID.String()
			}
			if event.JobID != nil {
				payload.JobID = event.JobID.String()
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.DoWithContext(ctx, req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("webhook returned status %d", resp.StatusCode)
			}
			return nil
		}), nil
	}
}
