// Package notify implements the notification dispatch service described in
// a bounded pending queue, per-channel circuit breakers, retry
// with exponential backoff and jitter, and a dead-letter sink for
// deliveries that exhaust their retry budget. Channel adapters are
// registered through Sender; apart from the generic JSON webhook Sender in
// webhook.go, they live outside this package.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/observability"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// Config tunes the retry/backoff/circuit-breaker/queue behavior.
type Config struct {
	QueueSize               int
	MaxRetries              int
	BaseRetryDelay          time.Duration
	MaxRetryDelay           time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// channelRuntime pairs a persisted channel row with its registered sender
// and process-local circuit breaker.
type channelRuntime struct {
	channel models.NotificationChannel
	sender  Sender
	breaker *circuitBreaker
}

// Service is the notification dispatcher. One Service instance owns the
// full set of enabled channels; Notify enqueues an event for delivery to
// every channel whose Sender is registered.
type Service struct {
	cfg  Config
	repo repository.NotificationRepository

	mu       sync.RWMutex
	channels map[models.ULID]*channelRuntime
	factories map[models.NotificationChannelKind]func(models.NotificationChannel) (Sender, error)

	queue chan queuedDelivery

	subMu sync.Mutex
	subs  map[int]chan Event
	nextSub int

	stats Stats

	// Metrics is optional; when set, delivery/drop/retry/dead-letter
	// counts and circuit breaker state are recorded against it.
	Metrics *observability.Metrics

	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Stats reports cumulative dispatcher counters, guarded by an internal
// mutex since Notify callers, the worker, and retry timers all update
// them; callers should treat the returned value as a snapshot.
type Stats struct {
	mu         sync.Mutex
	Enqueued   int64
	Delivered  int64
	Retried    int64
	DeadLettered int64
	Dropped    int64
}

func (s *Stats) inc(field *int64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Enqueued: s.Enqueued, Delivered: s.Delivered, Retried: s.Retried, DeadLettered: s.DeadLettered, Dropped: s.Dropped}
}

type queuedDelivery struct {
	channelID models.ULID
	event     Event
	attempt   int
}

// NewService constructs a Service. Call RegisterFactory for every channel
// kind the deployment supports, then LoadChannels to hydrate the enabled
// set from the store, then Start to begin processing the queue.
func NewService(cfg Config, repo repository.NotificationRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		channels:  make(map[models.ULID]*channelRuntime),
		factories: make(map[models.NotificationChannelKind]func(models.NotificationChannel) (Sender, error)),
		queue:     make(chan queuedDelivery, cfg.QueueSize),
		subs:      make(map[int]chan Event),
		logger:    logger.With("component", "notify"),
	}
}

// RegisterFactory installs the Sender constructor used for channels of the
// given kind. Must be called before LoadChannels for that kind to take
// effect.
func (s *Service) RegisterFactory(kind models.NotificationChannelKind, factory func(models.NotificationChannel) (Sender, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[kind] = factory
}

// LoadChannels fetches every enabled channel from the store and constructs
// its Sender via the registered factory. A channel whose kind has no
// registered factory is skipped with a warning, not an error, so a partial
// deployment (e.g. Discord only) still starts.
func (s *Service) LoadChannels(ctx context.Context) error {
	channels, err := s.repo.GetEnabledChannels(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[models.ULID]*channelRuntime, len(channels))
	for _, ch := range channels {
		factory, ok := s.factories[ch.Kind]
		if !ok {
			s.logger.Warn("no sender factory registered for channel kind, skipping", slog.String("kind", string(ch.Kind)), slog.String("channel_id", ch.ID.String()))
			continue
		}
		sender, err := factory(*ch)
		if err != nil {
			s.logger.Error("constructing sender failed, skipping channel", slog.String("channel_id", ch.ID.String()), slog.Any("error", err))
			continue
		}
		s.channels[ch.ID] = &channelRuntime{
			channel: *ch,
			sender:  sender,
			breaker: newCircuitBreaker(s.cfg.CircuitBreakerThreshold, s.cfg.CircuitBreakerCooldown),
		}
	}
	return nil
}

// Start launches the background delivery worker pool (one goroutine
// suffices: deliveries are cheap and retries are scheduled via timers
// rather than blocking the worker).
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the worker and waits for it to drain its current delivery.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			s.deliver(ctx, d)
		}
	}
}

// Notify fans event out to every loaded channel. Each channel's delivery is
// enqueued independently so one channel's retries never block another's.
// When the queue is full the oldest pending delivery is dropped to make
// room for the new one.
func (s *Service) Notify(event Event) {
	s.publish(event)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.channels {
		s.enqueue(queuedDelivery{channelID: id, event: event})
	}
}

// enqueue pushes d onto the bounded queue, evicting the oldest entry first
// if the queue is currently full.
func (s *Service) enqueue(d queuedDelivery) {
	select {
	case s.queue <- d:
		s.stats.inc(&s.stats.Enqueued)
		return
	default:
	}

	select {
	case dropped := <-s.queue:
		s.stats.inc(&s.stats.Dropped)
		if s.Metrics != nil {
			s.Metrics.NotificationsDroppedTotal.Inc()
		}
		s.logger.Warn("notification queue full, dropping oldest delivery",
			slog.String("channel_id", dropped.channelID.String()), slog.String("event_type", string(dropped.event.Type)))
	default:
	}
	select {
	case s.queue <- d:
		s.stats.inc(&s.stats.Enqueued)
	default:
		s.stats.inc(&s.stats.Dropped)
		if s.Metrics != nil {
			s.Metrics.NotificationsDroppedTotal.Inc()
		}
	}
}

func (s *Service) deliver(ctx context.Context, d queuedDelivery) {
	s.mu.RLock()
	rt, ok := s.channels[d.channelID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if !rt.breaker.Allow() {
		s.recordBreakerState(rt)
		s.deferWhileOpen(ctx, d)
		return
	}

	err := rt.sender.Send(ctx, d.event)
	if err == nil {
		rt.breaker.RecordSuccess()
		s.recordBreakerState(rt)
		s.stats.inc(&s.stats.Delivered)
		if s.Metrics != nil {
			s.Metrics.NotificationsDeliveredTotal.Inc()
		}
		return
	}

	rt.breaker.RecordFailure()
	s.recordBreakerState(rt)

	if d.attempt >= s.cfg.MaxRetries {
		s.scheduleDeadLetter(ctx, rt, d, err.Error())
		return
	}

	s.stats.inc(&s.stats.Retried)
	if s.Metrics != nil {
		s.Metrics.NotificationsRetriedTotal.Inc()
	}
	delay := backoffWithJitter(s.cfg.BaseRetryDelay, s.cfg.MaxRetryDelay, d.attempt)
	next := queuedDelivery{channelID: d.channelID, event: d.event, attempt: d.attempt + 1}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.enqueue(next)
	}()
}

// deferWhileOpen re-enqueues a delivery whose channel breaker is open once
// the cooldown has had a chance to elapse, so it lands on the half-open
// probe instead of being lost. The retry budget is not consumed:
// dead-lettering is reserved for deliveries that exhaust their retries
// against an actually-attempted send.
func (s *Service) deferWhileOpen(ctx context.Context, d queuedDelivery) {
	delay := s.cfg.CircuitBreakerCooldown
	if delay <= 0 {
		delay = time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.enqueue(d)
	}()
}

// backoffWithJitter computes base*2^attempt capped at max, then applies
// +/-25% jitter so many simultaneously-failing channels don't retry in
// lockstep.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > max {
			backoff = max
			break
		}
	}
	if backoff <= 0 {
		backoff = base
	}
	jitter := float64(backoff) * 0.25
	offset := (rand.Float64()*2 - 1) * jitter
	result := time.Duration(float64(backoff) + offset)
	if result < 0 {
		result = backoff
	}
	return result
}

// recordBreakerState mirrors rt's circuit breaker open/closed state into
// the per-channel gauge, a no-op when Metrics is unset.
func (s *Service) recordBreakerState(rt *channelRuntime) {
	if s.Metrics == nil {
		return
	}
	value := 0.0
	if rt.breaker.IsOpen() {
		value = 1.0
	}
	s.Metrics.CircuitBreakerOpen.WithLabelValues(rt.channel.ID.String()).Set(value)
}

func (s *Service) scheduleDeadLetter(ctx context.Context, rt *channelRuntime, d queuedDelivery, lastErr string) {
	s.stats.inc(&s.stats.DeadLettered)
	if s.Metrics != nil {
		s.Metrics.NotificationsDeadLetterTotal.Inc()
	}
	payload, err := json.Marshal(d.event)
	if err != nil {
		s.logger.Error("marshaling dead-letter payload failed", slog.Any("error", err))
		payload = []byte("{}")
	}
	dl := &models.DeadLetterNotification{
		EventType: string(d.event.Type),
		ChannelID: rt.channel.ID,
		StreamerID: d.event.StreamerID,
		JobID:      d.event.JobID,
		Payload:    models.JSON(payload),
		Attempts:   d.attempt + 1,
		LastError:  lastErr,
	}
	if err := s.repo.CreateDeadLetter(ctx, dl); err != nil {
		s.logger.Error("persisting dead-letter notification failed", slog.Any("error", err))
	}
}

// Subscribe registers a fan-out channel receiving every Notify'd event,
// independent of per-channel delivery outcome.
func (s *Service) Subscribe(bufSize int) (<-chan Event, func()) {
	if bufSize <= 0 {
		bufSize = 32
	}
	ch := make(chan Event, bufSize)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish(event Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Stats returns a snapshot of cumulative dispatch counters.
func (s *Service) Stats() Stats {
	return s.stats.Snapshot()
}

// CleanupDeadLetters purges dead-letter rows older than retention. The
// retention sweep does not call it; it purges through
// NotificationRepository.DeleteDeadLettersBefore directly.
func (s *Service) CleanupDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteDeadLettersBefore(ctx, time.Now().Add(-retention))
}

// ListDeadLetters paginates dead-letter rows for the REST surface.
func (s *Service) ListDeadLetters(ctx context.Context, offset, limit int) ([]*models.DeadLetterNotification, int64, error) {
	return s.repo.ListDeadLetters(ctx, offset, limit)
}
