package models

import "gorm.io/gorm"

// NotificationChannelKind identifies the delivery transport for a
// NotificationChannel. Delivery goes through the Sender registered for the
// kind in internal/notify, which ships only a generic JSON webhook Sender
// (NewWebhookSender); Discord and email Senders are not part of this
// repository.
type NotificationChannelKind string

const (
	// NotificationChannelDiscord delivers via a Discord webhook.
	NotificationChannelDiscord NotificationChannelKind = "discord"
	// NotificationChannelEmail delivers via SMTP.
	NotificationChannelEmail NotificationChannelKind = "email"
	// NotificationChannelWebhook delivers via a generic HTTP webhook.
	NotificationChannelWebhook NotificationChannelKind = "webhook"
)

func (k NotificationChannelKind) valid() bool {
	switch k {
	case NotificationChannelDiscord, NotificationChannelEmail, NotificationChannelWebhook:
		return true
	default:
		return false
	}
}

// NotificationChannel is a configured delivery target. Circuit breaker
// runtime state (open/closed, failure count, opened_at) is intentionally
// not part of this persisted model; it is process-local and rebuilt on
// start.
type NotificationChannel struct {
	BaseModel

	// Kind selects the delivery transport.
	Kind NotificationChannelKind `gorm:"not null;size:20" json:"kind"`

	// Config is opaque transport configuration (webhook URL, SMTP
	// settings, etc.), interpreted only by the matching Sender.
	Config JSON `gorm:"type:text" json:"config"`

	// Enabled gates whether the dispatcher considers this channel at all.
	Enabled bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for NotificationChannel.
func (NotificationChannel) TableName() string {
	return "notification_channels"
}

// Validate performs basic validation on the notification channel.
func (n *NotificationChannel) Validate() error {
	if !n.Kind.valid() {
		return ErrInvalidNotificationChannelKind
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (n *NotificationChannel) BeforeCreate(tx *gorm.DB) error {
	if err := n.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return n.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (n *NotificationChannel) BeforeUpdate(tx *gorm.DB) error {
	return n.Validate()
}

// DeadLetterNotification is a NotificationEvent that exhausted its retry
// budget on a specific channel. Retained for dead_letter_retention_days
// before the retention sweep purges it.
type DeadLetterNotification struct {
	BaseModel

	// EventType identifies the originating domain event (e.g.
	// "streamer.live", "job.failed").
	EventType string `gorm:"not null;size:100;index" json:"event_type"`

	// ChannelID is the channel delivery was attempted against.
	ChannelID ULID `gorm:"type:varchar(26);not null;index" json:"channel_id"`

	// StreamerID optionally ties the event back to a streamer.
	StreamerID *ULID `gorm:"type:varchar(26);index" json:"streamer_id,omitempty"`

	// JobID optionally ties the event back to a job.
	JobID *ULID `gorm:"type:varchar(26);index" json:"job_id,omitempty"`

	// Payload is the opaque event payload that failed to deliver.
	Payload JSON `gorm:"type:text" json:"payload"`

	// Attempts is the number of delivery attempts made before giving up.
	Attempts int `json:"attempts"`

	// LastError is the error from the final delivery attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// MovedAt is when this row was moved to the dead-letter table.
	MovedAt Time `json:"moved_at"`
}

// TableName returns the table name for DeadLetterNotification.
func (DeadLetterNotification) TableName() string {
	return "dead_letter_notifications"
}

// Validate performs basic validation on the dead-letter row.
func (d *DeadLetterNotification) Validate() error {
	if d.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and generates a ULID, stamping
// MovedAt if it was left zero.
func (d *DeadLetterNotification) BeforeCreate(tx *gorm.DB) error {
	if err := d.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if d.MovedAt.IsZero() {
		d.MovedAt = Now()
	}
	return d.Validate()
}
