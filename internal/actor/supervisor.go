package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/streamforge/internal/models"
	"github.com/jmylchreest/streamforge/internal/observability"
)

// RunnableActor is the common shape the Supervisor manages: StreamerActor
// and PlatformActor both satisfy it.
type RunnableActor interface {
	ID() models.ULID
	Run(ctx context.Context) error
	SendPriority(msg any) error
}

// ActorFactory re-creates an actor instance from cached metadata/config.
// Invoked by the supervisor both for the initial spawn and for every
// restart after a crash.
type ActorFactory func() (RunnableActor, error)

// ShutdownReport summarizes a coordinated supervisor shutdown.
type ShutdownReport struct {
	Total               int
	Graceful            int
	Forced              int
	StopMessageFailures int
}

type registration struct {
	factory ActorFactory
	actor   RunnableActor
	cancel  context.CancelFunc
	tracker *RestartTracker
}

// Supervisor owns the actor registry, restart policy, and coordinated
// shutdown sequence for the actor runtime.
type Supervisor struct {
	mu       sync.Mutex
	regs     map[models.ULID]*registration
	rootCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping bool

	restartBaseDelay  time.Duration
	restartMaxDelay   time.Duration
	restartMaxAttempts int
	shutdownTimeout   time.Duration

	// Metrics is optional; when set, restarts/abandonments/running-count
	// are recorded against it. Nil means metrics are off.
	Metrics *observability.Metrics

	logger *slog.Logger
}

// NewSupervisor constructs a Supervisor rooted at a cancellation token
// derived from ctx.
func NewSupervisor(ctx context.Context, cfg ConfigUpdate, restartMaxAttempts int, shutdownTimeout time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	rootCtx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		regs:               make(map[models.ULID]*registration),
		rootCtx:            rootCtx,
		cancel:             cancel,
		restartBaseDelay:   cfg.BatchWindow, // overwritten by caller via SetRestartPolicy if distinct
		restartMaxDelay:    time.Minute,
		restartMaxAttempts: restartMaxAttempts,
		shutdownTimeout:    shutdownTimeout,
		logger:             logger.With("component", "supervisor"),
	}
}

// SetRestartPolicy configures the exponential-backoff restart policy.
func (s *Supervisor) SetRestartPolicy(base, max time.Duration, maxAttempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartBaseDelay = base
	s.restartMaxDelay = max
	s.restartMaxAttempts = maxAttempts
}

// Spawn registers and starts an actor built by factory, keyed by id.
func (s *Supervisor) Spawn(id models.ULID, factory ActorFactory) error {
	actorInstance, err := factory()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	tracker := &RestartTracker{}
	if prev, ok := s.regs[id]; ok {
		// A restart keeps the existing tracker so attempts accumulate.
		tracker = prev.tracker
	}
	reg := &registration{factory: factory, actor: actorInstance, cancel: cancel, tracker: tracker}
	s.regs[id] = reg
	running := len(s.regs)
	s.mu.Unlock()

	if s.Metrics != nil {
		s.Metrics.ActorsRunning.Set(float64(running))
	}

	s.wg.Add(1)
	go s.run(id, ctx, actorInstance)
	return nil
}

func (s *Supervisor) run(id models.ULID, ctx context.Context, a RunnableActor) {
	defer s.wg.Done()
	err := a.Run(ctx)
	s.onExit(id, err)
}

// onExit handles an actor's run-loop termination: clean exits are simply
// deregistered; crashes are scheduled for restart with exponential
// backoff up to restartMaxAttempts, after which the actor is abandoned.
func (s *Supervisor) onExit(id models.ULID, err error) {
	s.mu.Lock()
	if s.stopping {
		// No restarts during shutdown, but clean exits still deregister so
		// the registry tracks only actors that have not stopped yet.
		if err == nil {
			delete(s.regs, id)
		}
		s.mu.Unlock()
		return
	}
	reg, ok := s.regs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	kind := fmt.Sprintf("%T", reg.actor)

	if err == nil {
		delete(s.regs, id)
		running := len(s.regs)
		s.mu.Unlock()
		if s.Metrics != nil {
			s.Metrics.ActorsRunning.Set(float64(running))
		}
		return
	}

	attempts := reg.tracker.RecordFailure()
	if !reg.tracker.ShouldRestart(s.restartMaxAttempts) {
		delete(s.regs, id)
		running := len(s.regs)
		s.mu.Unlock()
		if s.Metrics != nil {
			s.Metrics.ActorAbandonedTotal.WithLabelValues(kind).Inc()
			s.Metrics.ActorsRunning.Set(float64(running))
		}
		s.logger.Error("actor abandoned after exceeding restart attempts", "actor_id", id.String(), "attempts", attempts, "error", err)
		return
	}
	backoff := reg.tracker.NextBackoff(s.restartBaseDelay, s.restartMaxDelay)
	factory := reg.factory
	s.mu.Unlock()

	if s.Metrics != nil {
		s.Metrics.ActorRestartsTotal.WithLabelValues(kind).Inc()
	}

	s.logger.Warn("actor crashed, scheduling restart", "actor_id", id.String(), "attempt", attempts, "backoff", backoff, "error", err)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.rootCtx.Done():
			return
		}
		if spawnErr := s.Spawn(id, factory); spawnErr != nil {
			s.logger.Error("restart failed", "actor_id", id.String(), "error", spawnErr)
		}
	}()
}

// Count returns the number of currently registered (live) actors.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Shutdown performs the three-phase coordinated shutdown: (1) Stop via
// priority channel to every actor, (2) wait up to shutdownTimeout for
// graceful completion, (3) cancel the shared token and count actors that
// missed the deadline as forced terminations.
func (s *Supervisor) Shutdown(ctx context.Context) ShutdownReport {
	s.mu.Lock()
	s.stopping = true
	regs := make(map[models.ULID]*registration, len(s.regs))
	for id, reg := range s.regs {
		regs[id] = reg
	}
	s.mu.Unlock()

	report := ShutdownReport{Total: len(regs)}

	dones := make(map[models.ULID]chan struct{}, len(regs))
	sendFailed := make(map[models.ULID]bool, len(regs))
	for id, reg := range regs {
		done := make(chan struct{})
		dones[id] = done
		if err := reg.actor.SendPriority(Stop{Done: done}); err != nil {
			report.StopMessageFailures++
			sendFailed[id] = true
			close(done)
		}
	}

	allDone := make(chan struct{})
	go func() {
		for _, done := range dones {
			<-done
		}
		close(allDone)
	}()

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-allDone:
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	// Graceful means the actor acknowledged its Stop before the deadline; a
	// done channel we closed ourselves on a failed send does not count.
	// Everything else is about to be aborted by the token cancellation.
	for id, done := range dones {
		if sendFailed[id] {
			continue
		}
		select {
		case <-done:
			report.Graceful++
		default:
		}
	}
	report.Forced = report.Total - report.Graceful

	// Phase 3: cancel the shared token to abort anything still running.
	s.cancel()

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(timeout):
	}

	s.mu.Lock()
	s.regs = make(map[models.ULID]*registration)
	s.mu.Unlock()

	return report
}
