package scheduler

import "sync"

// PrefetchManager computes predictive prefetch targets: the next MSNs
// likely to appear, bounded by a buffer size and filtered against MSNs
// already known (fetched or scheduled) or currently in flight.
type PrefetchManager struct {
	mu      sync.Mutex
	known   map[int64]bool
	initSeen bool
	initRequired bool
}

// NewPrefetchManager constructs a PrefetchManager. initRequired should be
// true for fMP4 streams, where prefetch must not begin until an init
// segment has been observed.
func NewPrefetchManager(initRequired bool) *PrefetchManager {
	return &PrefetchManager{known: make(map[int64]bool), initRequired: initRequired}
}

// MarkKnown records that msn has been seen (fetched, in flight, or
// prefetched), so future target computations skip it.
func (p *PrefetchManager) MarkKnown(msn int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[msn] = true
}

// MarkInitSeen records that an initialization segment has been observed;
// fMP4 streams gate prefetch on this.
func (p *PrefetchManager) MarkInitSeen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initSeen = true
}

// ReadyForPrefetch reports whether prefetch gating may fire: always true
// for non-fMP4 streams, true for fMP4 only once an init segment has been
// seen.
func (p *PrefetchManager) ReadyForPrefetch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.initRequired || p.initSeen
}

// GetPrefetchTargets returns up to bufferSize candidate MSNs following
// completedMSN that are not already marked known or present in inFlight.
func (p *PrefetchManager) GetPrefetchTargets(completedMSN int64, bufferSize int, inFlight map[int64]bool) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var targets []int64
	for candidate := completedMSN + 1; len(targets) < bufferSize; candidate++ {
		if p.known[candidate] || inFlight[candidate] {
			continue
		}
		targets = append(targets, candidate)
		if candidate-completedMSN > int64(bufferSize)*4 {
			// Safety valve: never scan arbitrarily far ahead looking for
			// unknown MSNs.
			break
		}
	}
	return targets
}
