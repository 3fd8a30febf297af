// Package streamermgr implements the write-through in-memory streamer
// metadata cache: every mutation persists to the
// store first, then updates the hot-path map and fans the change out to
// subscribers. All queries are served exclusively from memory. The actor
// runtime does not read or write through the Manager.
package streamermgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// StreamerUpdated is published after every successful write-through
// mutation, so subscribers observe a consistent view without polling the
// store.
type StreamerUpdated struct {
	Streamer models.Streamer
	Reason   string
}

// subscription is a single fan-out target. Sends are non-blocking: a slow
// subscriber drops events rather than stalling a mutation.
type subscription struct {
	id int
	ch chan StreamerUpdated
}

// Manager is the concurrent, write-through streamer cache and keeps the
// disabled_until bookkeeping for the streamers it holds. It is not shared
// with the actors or the REST surface: StreamerActors keep their own error
// bookkeeping, and serve.go uses the Manager only to hydrate it and list
// streamers by priority.
type Manager struct {
	mu   sync.RWMutex
	byID map[models.ULID]*models.Streamer

	repo repository.StreamerRepository

	subMu   sync.Mutex
	subs    map[int]*subscription
	nextSub int

	// ErrorBackoffBase / ErrorBackoffMax bound the exponential backoff
	// applied to disabled_until, matching the actor runtime's formula.
	ErrorBackoffBase time.Duration
	ErrorBackoffMax  time.Duration

	logger *slog.Logger
}

// NewManager constructs an empty Manager. Call HydrateFromStore before
// serving traffic.
func NewManager(repo repository.StreamerRepository, errorBackoffBase, errorBackoffMax time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byID:             make(map[models.ULID]*models.Streamer),
		repo:             repo,
		subs:             make(map[int]*subscription),
		ErrorBackoffBase: errorBackoffBase,
		ErrorBackoffMax:  errorBackoffMax,
		logger:           logger.With("component", "streamermgr"),
	}
}

// HydrateFromStore loads the full streamer set from the persistent store
// into memory. Must be called once before the actor runtime starts ticking.
func (m *Manager) HydrateFromStore(ctx context.Context) error {
	streamers, err := m.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("hydrating streamer manager: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[models.ULID]*models.Streamer, len(streamers))
	for _, s := range streamers {
		m.byID[s.ID] = s
	}
	m.logger.Info("hydrated streamer cache", slog.Int("count", len(streamers)))
	return nil
}

// GetByID returns a copy of the cached streamer, served from memory.
func (m *Manager) GetByID(id models.ULID) (models.Streamer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return models.Streamer{}, false
	}
	return *s, true
}

// GetByPlatform returns every cached streamer attached to the given
// platform config, served from memory.
func (m *Manager) GetByPlatform(platformConfigID models.ULID) []models.Streamer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Streamer, 0)
	for _, s := range m.byID {
		if s.PlatformConfigID == platformConfigID {
			out = append(out, *s)
		}
	}
	return out
}

// GetByPriority returns every cached streamer at the given priority tier.
func (m *Manager) GetByPriority(priority models.StreamerPriority) []models.Streamer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Streamer, 0)
	for _, s := range m.byID {
		if s.Priority == priority {
			out = append(out, *s)
		}
	}
	return out
}

// GetAllActive returns every cached streamer not administratively disabled.
func (m *Manager) GetAllActive() []models.Streamer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Streamer, 0, len(m.byID))
	for _, s := range m.byID {
		if s.State != models.StreamerStateDisabled {
			out = append(out, *s)
		}
	}
	return out
}

// GetReadyForCheck returns every cached streamer whose IsCheckable is true
// as of now, i.e. not disabled, not out-of-schedule, and past any
// disabled_until cooldown.
func (m *Manager) GetReadyForCheck() []models.Streamer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Streamer, 0, len(m.byID))
	for _, s := range m.byID {
		if s.IsCheckable() {
			out = append(out, *s)
		}
	}
	return out
}

// Create persists a new streamer and adds it to the cache, in that order.
func (m *Manager) Create(ctx context.Context, streamer *models.Streamer) error {
	if err := m.repo.Create(ctx, streamer); err != nil {
		return fmt.Errorf("creating streamer: %w", err)
	}
	m.store(streamer, "created")
	return nil
}

// Update persists the full streamer row and refreshes the cache entry.
// This is the general write-through path for admin edits (name, url,
// priority, template); actor-driven state
// transitions should prefer the narrower helpers below so the
// write-then-cache ordering also captures the specific mutation reason.
func (m *Manager) Update(ctx context.Context, streamer *models.Streamer) error {
	if err := m.repo.Update(ctx, streamer); err != nil {
		return fmt.Errorf("updating streamer: %w", err)
	}
	m.store(streamer, "updated")
	return nil
}

// Delete removes a streamer from the store and the cache.
func (m *Manager) Delete(ctx context.Context, id models.ULID) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting streamer: %w", err)
	}
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
	return nil
}

// mutate applies fn to a copy of the cached streamer, persists the result,
// then swaps it into the cache and publishes reason. Returns an error if
// id isn't cached.
func (m *Manager) mutate(ctx context.Context, id models.ULID, reason string, fn func(*models.Streamer)) error {
	m.mu.RLock()
	cached, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("streamer %s not found in cache", id)
	}

	updated := *cached
	fn(&updated)

	if err := m.repo.Update(ctx, &updated); err != nil {
		return fmt.Errorf("persisting streamer %s: %w", reason, err)
	}
	m.store(&updated, reason)
	return nil
}

// RecordSuccess resets error bookkeeping after a successful liveness
// check, per the same invariant StreamerActor enforces locally.
func (m *Manager) RecordSuccess(ctx context.Context, id models.ULID) error {
	return m.mutate(ctx, id, "check_success", func(s *models.Streamer) {
		s.RecordSuccess()
	})
}

// RecordError increments the consecutive error count and, once the
// platform's error_threshold is crossed, computes disabled_until using the
// shared exponential backoff formula.
func (m *Manager) RecordError(ctx context.Context, id models.ULID, errorThreshold uint32) error {
	return m.mutate(ctx, id, "check_error", func(s *models.Streamer) {
		s.RecordError(errorThreshold, m.ErrorBackoffBase, m.ErrorBackoffMax)
	})
}

// TransitionToLive marks a streamer confirmed live.
func (m *Manager) TransitionToLive(ctx context.Context, id models.ULID) error {
	return m.mutate(ctx, id, "live", func(s *models.Streamer) {
		s.TransitionToLive()
	})
}

// TransitionToInspectingLive marks a pending live detection.
func (m *Manager) TransitionToInspectingLive(ctx context.Context, id models.ULID) error {
	return m.mutate(ctx, id, "inspecting_live", func(s *models.Streamer) {
		s.TransitionToInspectingLive()
	})
}

// ObserveNotLive applies the offline debounce, transitioning to NotLive
// only once the consecutive misses exceed offlineCheckCount.
func (m *Manager) ObserveNotLive(ctx context.Context, id models.ULID, offlineCheckCount uint32) error {
	return m.mutate(ctx, id, "not_live", func(s *models.Streamer) {
		s.ObserveNotLive(offlineCheckCount)
	})
}

// store swaps streamer into the cache (persist must already have
// succeeded) and publishes the update to subscribers.
func (m *Manager) store(streamer *models.Streamer, reason string) {
	cp := *streamer
	m.mu.Lock()
	m.byID[streamer.ID] = &cp
	m.mu.Unlock()
	m.publish(StreamerUpdated{Streamer: cp, Reason: reason})
}

// Subscribe registers a fan-out channel for StreamerUpdated events. The
// returned cancel func must be called to release the subscription; the
// channel is closed once unsubscribed.
func (m *Manager) Subscribe(bufSize int) (<-chan StreamerUpdated, func()) {
	if bufSize <= 0 {
		bufSize = 32
	}
	ch := make(chan StreamerUpdated, bufSize)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &subscription{id: id, ch: ch}
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub.ch)
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

// publish fans an update out to every subscriber. Sends are best-effort: a
// full subscriber channel drops the event rather than blocking the
// mutation that produced it.
func (m *Manager) publish(event StreamerUpdated) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub.ch <- event:
		default:
			m.logger.Warn("streamer update subscriber full, dropping event",
				slog.Int("subscriber_id", sub.id),
				slog.String("streamer_id", event.Streamer.ID.String()),
			)
		}
	}
}

// Count returns the number of cached streamers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
