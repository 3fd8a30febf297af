package actor

import (
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
)

// StreamerSnapshot is a point-in-time read of a StreamerActor's view of its
// streamer, returned in response to GetState.
type StreamerSnapshot struct {
	Streamer models.Streamer
	NextTick time.Time
}

// Tick requests the StreamerActor run its detection logic for the current
// interval. Sent by the actor's own timer, never by another actor.
type Tick struct{}

// RequestCheck is sent from a StreamerActor to its PlatformActor to ask that
// the streamer be included in the next batch check. Reply is acknowledged
// before the batch executes so the StreamerActor can proceed without
// blocking on the actual HTTP round trip.
type RequestCheck struct {
	StreamerID models.ULID
	Reply      chan struct{}
}

// BatchResult is delivered to a StreamerActor by its PlatformActor once a
// batch check involving it has completed.
type BatchResult struct {
	Live bool
	Err  error
}

// ConfigUpdate carries a revised platform/actor configuration snapshot to a
// running actor. The actor must reset any running timer rather than let it
// outlive the configuration change.
type ConfigUpdate struct {
	BaseCheckInterval time.Duration
	OfflineCheckCount uint32
	ErrorThreshold    uint32
	ErrorBackoffBase  time.Duration
	ErrorBackoffMax   time.Duration
	BatchWindow       time.Duration
	BatchMaxSize      int
}

// GetState requests a StreamerSnapshot from a StreamerActor.
type GetState struct {
	Reply chan StreamerSnapshot
}

// Stop requests an actor terminate gracefully. It is always delivered via
// the priority inbox so a backpressured actor still shuts down promptly.
type Stop struct {
	// Done, if non-nil, is closed once the actor has finished any
	// in-flight work and is about to exit its run loop.
	Done chan struct{}
}

// PlatformActorState is the point-in-time bookkeeping a PlatformActor
// exposes about its batching behavior.
type PlatformActorState struct {
	StreamerCount    int
	PendingCount     int
	LastBatch        time.Time
	SuccessRate      float64
	TotalBatches     uint64
	SuccessfulBatches uint64
}
