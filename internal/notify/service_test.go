package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationRepo struct {
	mu          sync.Mutex
	channels    []*models.NotificationChannel
	deadLetters []*models.DeadLetterNotification
}

func (r *fakeNotificationRepo) CreateChannel(_ context.Context, c *models.NotificationChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = models.NewULID()
	}
	r.channels = append(r.channels, c)
	return nil
}

func (r *fakeNotificationRepo) GetChannelByID(_ context.Context, id models.ULID) (*models.NotificationChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeNotificationRepo) GetEnabledChannels(_ context.Context) ([]*models.NotificationChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.NotificationChannel, 0)
	for _, c := range r.channels {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) UpdateChannel(_ context.Context, c *models.NotificationChannel) error {
	return nil
}

func (r *fakeNotificationRepo) DeleteChannel(_ context.Context, id models.ULID) error { return nil }

func (r *fakeNotificationRepo) CreateDeadLetter(_ context.Context, dl *models.DeadLetterNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append(r.deadLetters, dl)
	return nil
}

func (r *fakeNotificationRepo) ListDeadLetters(_ context.Context, offset, limit int) ([]*models.DeadLetterNotification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadLetters, int64(len(r.deadLetters)), nil
}

func (r *fakeNotificationRepo) DeleteDeadLettersBefore(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newChannel(kind models.NotificationChannelKind) *models.NotificationChannel {
	c := &models.NotificationChannel{Kind: kind, Enabled: true}
	c.ID = models.NewULID()
	return c
}

func TestService_DeliversOnFirstSuccess(t *testing.T) {
	repo := &fakeNotificationRepo{}
	ch := newChannel(models.NotificationChannelWebhook)
	require.NoError(t, repo.CreateChannel(context.Background(), ch))

	svc := NewService(Config{QueueSize: 8, MaxRetries: 3, BaseRetryDelay: time.Millisecond, MaxRetryDelay: 10 * time.Millisecond, CircuitBreakerThreshold: 2, CircuitBreakerCooldown: time.Second}, repo, nil)

	var sent int32
	var mu sync.Mutex
	svc.RegisterFactory(models.NotificationChannelWebhook, func(models.NotificationChannel) (Sender, error) {
		return SenderFunc(func(_ context.Context, _ Event) error {
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		}), nil
	})
	require.NoError(t, svc.LoadChannels(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Notify(NewEvent(EventStreamOnline, "streamer live"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), svc.Stats().Delivered)
}

func TestService_RetriesThenDeadLettersAfterMaxAttempts(t *testing.T) {
	repo := &fakeNotificationRepo{}
	ch := newChannel(models.NotificationChannelWebhook)
	require.NoError(t, repo.CreateChannel(context.Background(), ch))

	svc := NewService(Config{QueueSize: 8, MaxRetries: 2, BaseRetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond, CircuitBreakerThreshold: 100, CircuitBreakerCooldown: time.Second}, repo, nil)
	svc.RegisterFactory(models.NotificationChannelWebhook, func(models.NotificationChannel) (Sender, error) {
		return SenderFunc(func(_ context.Context, _ Event) error {
			return errors.New("delivery failed")
		}), nil
	})
	require.NoError(t, svc.LoadChannels(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Notify(NewEvent(EventDownloadError, "download failed"))

	require.Eventually(t, func() bool {
		return svc.Stats().DeadLettered == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.deadLetters, 1)
	assert.Equal(t, ch.ID, repo.deadLetters[0].ChannelID)
	assert.Equal(t, 3, repo.deadLetters[0].Attempts)
}

func TestService_SkipsChannelWithoutRegisteredFactory(t *testing.T) {
	repo := &fakeNotificationRepo{}
	require.NoError(t, repo.CreateChannel(context.Background(), newChannel(models.NotificationChannelEmail)))

	svc := NewService(Config{}, repo, nil)
	require.NoError(t, svc.LoadChannels(context.Background()))

	assert.Equal(t, 0, len(svc.channels))
}

func TestCircuitBreaker_OpensAfterThresholdAndHalfOpens(t *testing.T) {
	cb := newCircuitBreaker(2, 20*time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.Allow())

	time.Sleep(25 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}

func TestService_SubscribeReceivesEveryNotify(t *testing.T) {
	repo := &fakeNotificationRepo{}
	svc := NewService(Config{QueueSize: 4}, repo, nil)
	events, cancel := svc.Subscribe(2)
	defer cancel()

	svc.Notify(NewEvent(EventSystemStartup, "up"))

	select {
	case e := <-events:
		assert.Equal(t, EventSystemStartup, e.Type)
	default:
		t.Fatal("expected a published event")
	}
}

func TestService_BreakerOpenDefersDeliveryInsteadOfDeadLettering(t *testing.T) {
	repo := &fakeNotificationRepo{}
	ch := newChannel(models.NotificationChannelWebhook)
	require.NoError(t, repo.CreateChannel(context.Background(), ch))

	svc := NewService(Config{QueueSize: 8, MaxRetries: 3, BaseRetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond, CircuitBreakerThreshold: 1, CircuitBreakerCooldown: 10 * time.Millisecond}, repo, nil)

	// The first send fails and trips the breaker (threshold 1); everything
	// after the cooldown succeeds on the half-open probe.
	var mu sync.Mutex
	var calls int
	svc.RegisterFactory(models.NotificationChannelWebhook, func(models.NotificationChannel) (Sender, error) {
		return SenderFunc(func(_ context.Context, _ Event) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("delivery failed")
			}
			return nil
		}), nil
	})
	require.NoError(t, svc.LoadChannels(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	// First event trips the breaker; the second arrives while it is open
	// and must be deferred, not dead-lettered.
	svc.Notify(NewEvent(EventDownloadError, "download failed"))
	svc.Notify(NewEvent(EventStreamOnline, "streamer live"))

	require.Eventually(t, func() bool {
		return svc.Stats().Delivered >= 2
	}, 2*time.Second, 5*time.Millisecond, "both events deliver once the breaker half-opens")

	assert.Equal(t, int64(0), svc.Stats().DeadLettered)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.deadLetters)
}
