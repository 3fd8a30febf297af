package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// StreamerState represents the current lifecycle state of a streamer as
// tracked by its StreamerActor.
type StreamerState string

const (
	// StreamerStateNotLive indicates the streamer is currently offline.
	StreamerStateNotLive StreamerState = "not_live"
	// StreamerStateLive indicates the streamer is confirmed live and a
	// download pipeline has been handed off.
	StreamerStateLive StreamerState = "live"
	// StreamerStateInspectingLive indicates a live detection has fired but
	// pipeline handoff has not yet been confirmed.
	StreamerStateInspectingLive StreamerState = "inspecting_live"
	// StreamerStateOutOfSchedule indicates the streamer is outside its
	// configured check window and is not being polled.
	StreamerStateOutOfSchedule StreamerState = "out_of_schedule"
	// StreamerStateError indicates consecutive check failures have crossed
	// the platform's error threshold.
	StreamerStateError StreamerState = "error"
	// StreamerStateDisabled indicates the streamer has been administratively
	// disabled and will never be checked.
	StreamerStateDisabled StreamerState = "disabled"
)

// StreamerPriority influences actor scheduling order and tick frequency.
type StreamerPriority string

const (
	// StreamerPriorityLow is checked least frequently.
	StreamerPriorityLow StreamerPriority = "low"
	// StreamerPriorityNormal is the default priority.
	StreamerPriorityNormal StreamerPriority = "normal"
	// StreamerPriorityHigh is checked most frequently.
	StreamerPriorityHigh StreamerPriority = "high"
)

// Streamer is the hot-path metadata record for a single tracked stream
// endpoint. The in-memory StreamerManager is the source of truth at
// runtime; this model is the write-through persisted shape.
type Streamer struct {
	BaseModel

	// Name is a human-readable label for display purposes.
	Name string `gorm:"not null;size:255" json:"name"`

	// URL is the channel/stream endpoint checked for liveness.
	URL string `gorm:"not null;size:2048" json:"url"`

	// PlatformConfigID references the PlatformConfig governing check
	// cadence, batching, and error thresholds for this streamer.
	PlatformConfigID ULID `gorm:"type:varchar(26);not null;index" json:"platform_config_id"`

	// TemplateConfigID optionally references a pipeline preset applied to
	// every job produced for this streamer.
	TemplateConfigID *ULID `gorm:"type:varchar(26);index" json:"template_config_id,omitempty"`

	// State is the current actor lifecycle state.
	State StreamerState `gorm:"not null;default:'not_live';size:20;index" json:"state"`

	// Priority affects tick scheduling within the actor runtime.
	Priority StreamerPriority `gorm:"not null;default:'normal';size:10;index" json:"priority"`

	// ConsecutiveErrorCount tracks consecutive check failures; reset to
	// zero on any successful check.
	ConsecutiveErrorCount uint32 `gorm:"default:0" json:"consecutive_error_count"`

	// ConsecutiveNotLiveCount debounces flicker between Live and NotLive;
	// it must exceed the platform's offline_check_count before the actor
	// transitions out of Live.
	ConsecutiveNotLiveCount uint32 `gorm:"default:0" json:"consecutive_not_live_count"`

	// DisabledUntil is set once ConsecutiveErrorCount crosses the
	// platform's error_threshold; checks are skipped until this time.
	DisabledUntil *Time `json:"disabled_until,omitempty"`

	// LastLiveTime is the timestamp of the most recent confirmed Live
	// transition.
	LastLiveTime *Time `json:"last_live_time,omitempty"`
}

// TableName returns the table name for Streamer.
func (Streamer) TableName() string {
	return "streamers"
}

// Validate checks that Name and URL are set. It does not check the
// DisabledUntil/StreamerStateError pairing, whose threshold lives on
// PlatformConfig; RecordError and RecordSuccess set and clear the two
// together.
func (s *Streamer) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the streamer and generates a ULID.
func (s *Streamer) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the streamer before update.
func (s *Streamer) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}

// IsCheckable returns true if the streamer's state permits the actor to
// issue liveness checks.
func (s *Streamer) IsCheckable() bool {
	switch s.State {
	case StreamerStateDisabled, StreamerStateOutOfSchedule:
		return false
	case StreamerStateError:
		return s.DisabledUntil == nil || time.Now().After(*s.DisabledUntil)
	default:
		return true
	}
}

// RecordSuccess resets the error bookkeeping after a successful check.
func (s *Streamer) RecordSuccess() {
	s.ConsecutiveErrorCount = 0
	s.DisabledUntil = nil
	if s.State == StreamerStateError {
		s.State = StreamerStateNotLive
	}
}

// RecordError increments the consecutive error count and, once it crosses
// errorThreshold, computes disabled_until using the same exponential
// backoff formula used throughout the system: base * 2^(count-threshold),
// capped at maxBackoff.
func (s *Streamer) RecordError(errorThreshold uint32, base, maxBackoff time.Duration) {
	s.ConsecutiveErrorCount++
	if s.ConsecutiveErrorCount < errorThreshold {
		return
	}
	s.State = StreamerStateError
	exp := s.ConsecutiveErrorCount - errorThreshold
	backoff := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	until := time.Now().Add(backoff)
	s.DisabledUntil = &until
}

// TransitionToLive marks the streamer confirmed live, recording the
// timestamp and clearing the not-live debounce counter.
func (s *Streamer) TransitionToLive() {
	s.State = StreamerStateLive
	s.ConsecutiveNotLiveCount = 0
	now := Now()
	s.LastLiveTime = &now
}

// TransitionToInspectingLive marks a detection pending pipeline handoff
// confirmation.
func (s *Streamer) TransitionToInspectingLive() {
	s.State = StreamerStateInspectingLive
}

// ObserveNotLive increments the debounce counter while Live and transitions
// to NotLive only once it exceeds offlineCheckCount, to avoid flapping on a
// single missed check.
func (s *Streamer) ObserveNotLive(offlineCheckCount uint32) {
	if s.State != StreamerStateLive {
		s.State = StreamerStateNotLive
		return
	}
	s.ConsecutiveNotLiveCount++
	if s.ConsecutiveNotLiveCount > offlineCheckCount {
		s.State = StreamerStateNotLive
		s.ConsecutiveNotLiveCount = 0
	}
}
