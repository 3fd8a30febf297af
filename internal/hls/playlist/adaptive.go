package playlist

import (
	"math"
	"time"
)

const (
	adaptiveWindowSize       = 10
	emptyBackoffThreshold    = 3
	nonEmptyShrinkThreshold  = 5
	nonEmptyShrinkRatio      = 0.8
	backoffBase              = 1.5
	backoffMaxExponent       = 5
	shrinkFactor             = 0.8
)

// AdaptiveTracker implements the refresh-cadence heuristic: a rolling
// boolean window of the last 10 refresh outcomes (true = got new segments)
// plus a running count of consecutive empty refreshes.
type AdaptiveTracker struct {
	window       []bool
	consecutiveEmpty int
	minInterval  time.Duration
	maxInterval  time.Duration
	current      time.Duration
}

// NewAdaptiveTracker constructs a tracker starting at the given default
// interval, bounded by [minInterval, maxInterval].
func NewAdaptiveTracker(defaultInterval, minInterval, maxInterval time.Duration) *AdaptiveTracker {
	return &AdaptiveTracker{
		minInterval: minInterval,
		maxInterval: maxInterval,
		current:     clampDuration(defaultInterval, minInterval, maxInterval),
	}
}

// Observe records one refresh outcome (gotNewSegments) and recomputes the
// next interval.
func (t *AdaptiveTracker) Observe(gotNewSegments bool) time.Duration {
	t.window = append(t.window, gotNewSegments)
	if len(t.window) > adaptiveWindowSize {
		t.window = t.window[len(t.window)-adaptiveWindowSize:]
	}

	if gotNewSegments {
		t.consecutiveEmpty = 0
	} else {
		t.consecutiveEmpty++
	}

	switch {
	case t.consecutiveEmpty >= emptyBackoffThreshold:
		exp := t.consecutiveEmpty
		if exp > backoffMaxExponent {
			exp = backoffMaxExponent
		}
		t.current = clampDuration(time.Duration(float64(t.current)*math.Pow(backoffBase, float64(exp))), t.minInterval, t.maxInterval)
	case len(t.window) >= nonEmptyShrinkThreshold && t.nonEmptyRatio() > nonEmptyShrinkRatio:
		t.current = clampDuration(time.Duration(float64(t.current)*shrinkFactor), t.minInterval, t.maxInterval)
	}

	return t.current
}

// Interval returns the current recommended refresh interval.
func (t *AdaptiveTracker) Interval() time.Duration {
	return t.current
}

// Reset reinitializes the tracker at defaultInterval, clearing the
// outcome window and the consecutive-empty count.
func (t *AdaptiveTracker) Reset(defaultInterval time.Duration) {
	t.window = nil
	t.consecutiveEmpty = 0
	t.current = clampDuration(defaultInterval, t.minInterval, t.maxInterval)
}

func (t *AdaptiveTracker) nonEmptyRatio() float64 {
	if len(t.window) == 0 {
		return 0
	}
	nonEmpty := 0
	for _, v := range t.window {
		if v {
			nonEmpty++
		}
	}
	return float64(nonEmpty) / float64(len(t.window))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if min > 0 && d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
