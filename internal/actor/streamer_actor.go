// Package actor implements the supervised actor hierarchy that drives
// per-streamer liveness detection and cross-streamer batch optimization.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/repository"
)

// PlatformHandle is the subset of PlatformActor a StreamerActor needs: a
// way to request a batched check and to register the channel its batch
// results are delivered on.
type PlatformHandle interface {
	RequestCheck(ctx context.Context, streamerID models.ULID) error
	Register(streamerID models.ULID, inbox chan<- BatchResult)
	Unregister(streamerID models.ULID)
}

// StreamerActor owns the lifecycle state machine for a single streamer. It
// is driven by its own adaptive timer and by messages from its
// PlatformActor.
type StreamerActor struct {
	streamer *models.Streamer
	repo     repository.StreamerRepository
	checker  StreamChecker
	handoff  RecordingHandoff
	platform PlatformHandle
	logger   *slog.Logger

	cfg ConfigUpdate

	inbox         chan any
	priorityInbox chan any

	batchReplies chan BatchResult
}

// NewStreamerActor constructs a StreamerActor for streamer, wired to the
// given StreamerRepository for write-through persistence, StreamChecker for
// liveness checks, RecordingHandoff for pipeline handoff on confirmed live,
// and PlatformHandle when the governing platform supports batch checks
// (nil otherwise).
func NewStreamerActor(
	streamer *models.Streamer,
	repo repository.StreamerRepository,
	checker StreamChecker,
	handoff RecordingHandoff,
	platform PlatformHandle,
	cfg ConfigUpdate,
	logger *slog.Logger,
	inboxSize int,
) *StreamerActor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamerActor{
		streamer:      streamer,
		repo:          repo,
		checker:       checker,
		handoff:       handoff,
		platform:      platform,
		cfg:           cfg,
		logger:        logger.With("component", "streamer_actor", "streamer_id", streamer.ID.String()),
		inbox:         make(chan any, inboxSize),
		priorityInbox: make(chan any, inboxSize),
		batchReplies:  make(chan BatchResult, 1),
	}
}

// ID returns the streamer's id, used as the actor id throughout the
// supervisor's registry.
func (a *StreamerActor) ID() models.ULID {
	return a.streamer.ID
}

// Send delivers a normal-priority message to the actor's inbox. It never
// blocks; if the inbox is full the message is dropped and ErrInboxFull is
// returned.
func (a *StreamerActor) Send(msg any) error {
	select {
	case a.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// SendPriority delivers msg to the priority inbox, drained ahead of the
// normal inbox on every loop iteration.
func (a *StreamerActor) SendPriority(msg any) error {
	select {
	case a.priorityInbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run executes the actor's event loop until a Stop message or context
// cancellation. It returns a classified *Error on abnormal termination so
// the supervisor can decide whether to restart.
func (a *StreamerActor) Run(ctx context.Context) error {
	if a.platform != nil {
		a.platform.Register(a.streamer.ID, a.batchReplies)
		defer a.platform.Unregister(a.streamer.ID)
	}

	timer := time.NewTimer(a.interval())
	defer timer.Stop()

	for {
		// Priority messages are drained ahead of everything else.
		select {
		case msg := <-a.priorityInbox:
			if done, err := a.handlePriority(ctx, msg); done {
				return err
			}
			continue
		default:
		}

		select {
		case msg := <-a.priorityInbox:
			if done, err := a.handlePriority(ctx, msg); done {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := a.handleTick(ctx); err != nil {
				if IsFatal(err) {
					return err
				}
				a.logger.Warn("tick failed", "error", err)
			}
			timer.Reset(a.interval())
		case result := <-a.batchReplies:
			a.applyCheckResult(ctx, result.Live, result.Err)
			timer.Reset(a.interval())
		case msg := <-a.inbox:
			if err := a.handle(ctx, msg); err != nil {
				if IsFatal(err) {
					return err
				}
				a.logger.Warn("message handling failed", "error", err)
			}
			if _, ok := msg.(ConfigUpdate); ok {
				// Never let a running timer outlive a configuration change.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(a.interval())
			}
		}
	}
}

func (a *StreamerActor) handlePriority(ctx context.Context, msg any) (stop bool, err error) {
	switch m := msg.(type) {
	case Stop:
		if m.Done != nil {
			defer close(m.Done)
		}
		return true, nil
	default:
		return false, a.handle(ctx, msg)
	}
}

func (a *StreamerActor) handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case GetState:
		if m.Reply != nil {
			m.Reply <- StreamerSnapshot{Streamer: *a.streamer, NextTick: time.Now().Add(a.interval())}
		}
		return nil
	case ConfigUpdate:
		a.cfg = m
		return nil
	case BatchResult:
		a.applyCheckResult(ctx, m.Live, m.Err)
		return nil
	case Tick:
		return a.handleTick(ctx)
	default:
		return Fatal(fmt.Errorf("streamer actor: unknown message type %T", msg))
	}
}

// handleTick runs one detection cycle. When the streamer is NotLive and the
// governing platform supports batching, the actor does not check directly: it enqueues a
// RequestCheck and waits for the PlatformActor to deliver a BatchResult on
// a later loop iteration.
func (a *StreamerActor) handleTick(ctx context.Context) error {
	if !a.streamer.IsCheckable() {
		return nil
	}

	if a.streamer.State == models.StreamerStateNotLive && a.platform != nil {
		if err := a.platform.RequestCheck(ctx, a.streamer.ID); err != nil {
			a.logger.Warn("request check failed", "error", err)
		}
		return nil
	}

	live, err := a.checker.CheckLive(ctx, a.streamer)
	a.applyCheckResult(ctx, live, err)
	return nil
}

// applyCheckResult folds a liveness result into the streamer's state
// machine and persists the change.
func (a *StreamerActor) applyCheckResult(ctx context.Context, live bool, checkErr error) {
	if checkErr != nil {
		a.streamer.RecordError(a.cfg.ErrorThreshold, a.cfg.ErrorBackoffBase, a.cfg.ErrorBackoffMax)
		a.persist(ctx)
		return
	}

	a.streamer.RecordSuccess()

	switch {
	case live && a.streamer.State != models.StreamerStateLive:
		a.streamer.TransitionToInspectingLive()
		a.persist(ctx)
		if a.handoff != nil {
			if err := a.handoff.StartRecording(ctx, a.streamer); err != nil {
				a.logger.Error("recording handoff failed", "error", err)
				a.streamer.State = models.StreamerStateNotLive
				a.persist(ctx)
				return
			}
		}
		a.streamer.TransitionToLive()
		a.persist(ctx)
	case live:
		// Already Live; nothing to transition, but a success still resets
		// the error bookkeeping above.
		a.persist(ctx)
	default:
		a.streamer.ObserveNotLive(a.cfg.OfflineCheckCount)
		a.persist(ctx)
	}
}

func (a *StreamerActor) persist(ctx context.Context) {
	if a.repo == nil {
		return
	}
	if err := a.repo.Update(ctx, a.streamer); err != nil {
		a.logger.Error("persisting streamer state failed", "error", err)
	}
}

// interval computes the adaptive tick interval for the current state.
func (a *StreamerActor) interval() time.Duration {
	base := a.cfg.BaseCheckInterval
	if base <= 0 {
		base = 30 * time.Second
	}
	switch a.streamer.State {
	case models.StreamerStateLive:
		// Live streams are monitored by the HLS engine, not by polling;
		// the actor still ticks slowly to detect stream end.
		return base * 2
	case models.StreamerStateError:
		if a.streamer.DisabledUntil != nil {
			if wait := time.Until(*a.streamer.DisabledUntil); wait > 0 {
				return wait
			}
		}
		return base
	default:
		return base
	}
}
