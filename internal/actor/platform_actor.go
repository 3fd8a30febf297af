package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
)

// pendingRequest is a single streamer's queued batch-check request.
type pendingRequest struct {
	streamerID models.ULID
}

// PlatformActor accumulates RequestCheck messages from its registered
// StreamerActors and executes them as a single batched liveness check once
// either the batch fills or the batch window elapses.
type PlatformActor struct {
	platform *models.PlatformConfig
	checker  StreamChecker
	logger   *slog.Logger

	cfg ConfigUpdate

	inbox         chan any
	priorityInbox chan any

	mu         sync.Mutex
	handles    map[models.ULID]chan<- BatchResult
	pending    []pendingRequest
	windowOpen time.Time

	state PlatformActorState
}

// NewPlatformActor constructs a PlatformActor for the given platform
// configuration, wired to a StreamChecker for the actual batch API call.
func NewPlatformActor(platform *models.PlatformConfig, checker StreamChecker, cfg ConfigUpdate, logger *slog.Logger, inboxSize int) *PlatformActor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlatformActor{
		platform:      platform,
		checker:       checker,
		cfg:           cfg,
		logger:        logger.With("component", "platform_actor", "platform", platform.Name),
		inbox:         make(chan any, inboxSize),
		priorityInbox: make(chan any, inboxSize),
		handles:       make(map[models.ULID]chan<- BatchResult),
	}
}

// ID returns the platform config's id, used as the actor id.
func (p *PlatformActor) ID() models.ULID {
	return p.platform.ID
}

// Register stores the StreamerActor's reply channel so the platform actor
// can deliver BatchResult messages by streamer id.
func (p *PlatformActor) Register(streamerID models.ULID, ch chan<- BatchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[streamerID] = ch
}

// Unregister removes a streamer's reply handle. Later batch results for
// the vanished streamer are dropped.
func (p *PlatformActor) Unregister(streamerID models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, streamerID)
}

// RequestCheck enqueues streamerID into the pending batch and acknowledges
// immediately, before the batch actually executes, so the caller's
// StreamerActor is never blocked on the network round trip.
func (p *PlatformActor) RequestCheck(ctx context.Context, streamerID models.ULID) error {
	reply := make(chan struct{})
	msg := RequestCheck{StreamerID: streamerID, Reply: reply}
	select {
	case p.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrInboxFull
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a normal-priority message to the actor's inbox.
func (p *PlatformActor) Send(msg any) error {
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// SendPriority delivers msg to the priority inbox.
func (p *PlatformActor) SendPriority(msg any) error {
	select {
	case p.priorityInbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// State returns a snapshot of the platform actor's batching bookkeeping.
func (p *PlatformActor) State() PlatformActorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run executes the batching event loop until Stop or context cancellation.
// On Stop it executes any pending batch before exiting.
func (p *PlatformActor) Run(ctx context.Context) error {
	window := p.cfg.BatchWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	timer := time.NewTimer(window)
	defer timer.Stop()
	timerActive := false

	for {
		select {
		case msg := <-p.priorityInbox:
			if stopped, err := p.handlePriority(ctx, msg); stopped {
				return err
			}
			continue
		default:
		}

		select {
		case msg := <-p.priorityInbox:
			if stopped, err := p.handlePriority(ctx, msg); stopped {
				return err
			}
		case <-ctx.Done():
			p.executeBatch(ctx)
			return nil
		case <-timer.C:
			timerActive = false
			p.executeBatch(ctx)
		case msg := <-p.inbox:
			switch m := msg.(type) {
			case RequestCheck:
				p.enqueue(m)
				if !timerActive {
					timer.Reset(p.currentWindow())
					timerActive = true
				}
				if p.readyToDispatch() {
					// Fire immediately rather than waiting for the window.
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timerActive = false
					p.executeBatch(ctx)
				}
			case ConfigUpdate:
				p.cfg = m
				// A config update to the window restarts the timer on the
				// next iteration rather than cancelling mid-flight.
				timerActive = false
				timer.Reset(p.currentWindow())
			default:
				return Fatal(fmt.Errorf("platform actor: unknown message type %T", msg))
			}
		}
	}
}

func (p *PlatformActor) handlePriority(ctx context.Context, msg any) (stop bool, err error) {
	switch m := msg.(type) {
	case Stop:
		p.executeBatch(ctx)
		if m.Done != nil {
			close(m.Done)
		}
		return true, nil
	default:
		return false, nil
	}
}

func (p *PlatformActor) enqueue(req RequestCheck) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.windowOpen = time.Now()
	}
	p.pending = append(p.pending, pendingRequest{streamerID: req.StreamerID})
	p.mu.Unlock()
	if req.Reply != nil {
		close(req.Reply)
	}
}

func (p *PlatformActor) currentWindow() time.Duration {
	window := p.cfg.BatchWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	p.mu.Lock()
	elapsed := time.Duration(0)
	if !p.windowOpen.IsZero() {
		elapsed = time.Since(p.windowOpen)
	}
	p.mu.Unlock()
	remaining := window - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (p *PlatformActor) readyToDispatch() bool {
	maxSize := p.cfg.BatchMaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) >= maxSize
}

// executeBatch runs the accumulated batch (if any) through the
// StreamChecker and distributes results back to registered StreamerActors.
func (p *PlatformActor) executeBatch(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.windowOpen = time.Time{}
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	streamers := make([]*models.Streamer, 0, len(batch))
	byID := make(map[models.ULID]*models.Streamer, len(batch))
	for _, req := range batch {
		s := &models.Streamer{}
		s.ID = req.streamerID
		streamers = append(streamers, s)
		byID[req.streamerID] = s
	}

	results, err := p.checker.CheckLiveBatch(ctx, streamers)

	p.mu.Lock()
	p.state.LastBatch = time.Now()
	p.state.TotalBatches++
	if err == nil {
		p.state.SuccessfulBatches++
	}
	if p.state.TotalBatches > 0 {
		p.state.SuccessRate = float64(p.state.SuccessfulBatches) / float64(p.state.TotalBatches)
	}
	p.mu.Unlock()

	p.distribute(batch, results, err)
}

func (p *PlatformActor) distribute(batch []pendingRequest, results map[models.ULID]bool, batchErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range batch {
		ch, ok := p.handles[req.streamerID]
		if !ok {
			// The streamer unregistered (actor stopped) between the request
			// and the batch completing; dropped, logged, non-fatal.
			p.logger.Debug("dropping batch result for vanished streamer", "streamer_id", req.streamerID.String())
			continue
		}
		result := BatchResult{Err: batchErr}
		if batchErr == nil {
			result.Live = results[req.streamerID]
		}
		select {
		case ch <- result:
		default:
			p.logger.Warn("streamer batch-result inbox full, dropping", "streamer_id", req.streamerID.String())
		}
	}
}
