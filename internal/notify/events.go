package notify

import (
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
)

// EventType identifies the kind of domain event being dispatched, mirroring
// the transitions the actor runtime, HLS pipeline, and job core emit.
type EventType string

const (
	EventStreamOnline      EventType = "stream.online"
	EventStreamOffline     EventType = "stream.offline"
	EventDownloadStarted   EventType = "download.started"
	EventDownloadCompleted EventType = "download.completed"
	EventDownloadError     EventType = "download.error"
	EventFatalError        EventType = "actor.fatal_error"
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
	EventQueueWarning      EventType = "pipeline.queue_warning"
	EventQueueCritical     EventType = "pipeline.queue_critical"
	EventSystemStartup     EventType = "system.startup"
)

// Event is the uniform payload shape dispatched to every channel. Fields
// irrelevant to a given Type are left zero; Fields carries anything beyond
// the common envelope (file_size_bytes, compression_ratio, queue_depth...).
type Event struct {
	Type         EventType
	StreamerID   *models.ULID
	StreamerName string
	JobID        *models.ULID
	JobType      string
	Message      string
	Recoverable  bool
	Timestamp    time.Time
	Fields       map[string]any
}

// NewEvent constructs an Event stamped with the current time.
func NewEvent(t EventType, message string) Event {
	return Event{Type: t, Message: message, Timestamp: time.Now(), Fields: make(map[string]any)}
}

// WithStreamer attaches streamer identity to the event.
func (e Event) WithStreamer(id models.ULID, name string) Event {
	e.StreamerID = &id
	e.StreamerName = name
	return e
}

// WithJob attaches job identity to the event.
func (e Event) WithJob(id models.ULID, jobType string) Event {
	e.JobID = &id
	e.JobType = jobType
	return e
}

// WithField records an additional payload field.
func (e Event) WithField(key string, value any) Event {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}
