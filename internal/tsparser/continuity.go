package tsparser

import "fmt"

// ContinuityMode controls how continuity-counter anomalies are reported.
type ContinuityMode int

const (
	// ContinuityDisabled never reports anomalies.
	ContinuityDisabled ContinuityMode = iota
	// ContinuityWarn counts anomalies but never returns an error.
	ContinuityWarn
	// ContinuityStrict returns an error for discontinuities and duplicates.
	ContinuityStrict
)

// ParseContinuityMode maps a config string to a ContinuityMode.
func ParseContinuityMode(s string) ContinuityMode {
	switch s {
	case "warn":
		return ContinuityWarn
	case "strict":
		return ContinuityStrict
	default:
		return ContinuityDisabled
	}
}

// ContinuityStatus is the classification of a packet's continuity counter
// against the PID's last-seen counter.
type ContinuityStatus int

const (
	ContinuityInitial ContinuityStatus = iota
	ContinuityOk
	ContinuityDuplicate
	ContinuityDiscontinuity
)

// ContinuityError is returned in Strict mode for a discontinuity.
type ContinuityError struct {
	PID      uint16
	Expected uint8
	Actual   uint8
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("tsparser: continuity discontinuity on pid %#x: expected %d, got %d", e.PID, e.Expected, e.Actual)
}

// DuplicatePacketError is returned in Strict mode for a duplicate packet.
type DuplicatePacketError struct {
	PID uint16
	CC  uint8
}

func (e *DuplicatePacketError) Error() string {
	return fmt.Sprintf("tsparser: duplicate packet on pid %#x (cc=%d)", e.PID, e.CC)
}

// continuityTracker maintains the last-seen continuity counter per PID.
type continuityTracker struct {
	mode ContinuityMode
	last map[uint16]uint8
	seen map[uint16]bool

	warnings map[uint16]int
}

func newContinuityTracker(mode ContinuityMode) *continuityTracker {
	return &continuityTracker{
		mode:     mode,
		last:     make(map[uint16]uint8),
		seen:     make(map[uint16]bool),
		warnings: make(map[uint16]int),
	}
}

// Check evaluates packet p's continuity counter and returns its status; in
// Strict mode it also returns a non-nil error for Discontinuity/Duplicate.
func (t *continuityTracker) Check(pid uint16, cc uint8, hasPayload bool) (ContinuityStatus, error) {
	if pid == NullPID || t.mode == ContinuityDisabled {
		return ContinuityOk, nil
	}

	if !t.seen[pid] {
		t.seen[pid] = true
		t.last[pid] = cc
		return ContinuityInitial, nil
	}

	last := t.last[pid]
	var expected uint8
	if hasPayload {
		expected = (last + 1) % 16
	} else {
		expected = last
	}

	switch {
	case cc == expected:
		t.last[pid] = cc
		return ContinuityOk, nil
	case cc == last:
		if t.mode == ContinuityWarn {
			t.warnings[pid]++
		}
		if t.mode == ContinuityStrict {
			return ContinuityDuplicate, &DuplicatePacketError{PID: pid, CC: cc}
		}
		return ContinuityDuplicate, nil
	default:
		t.last[pid] = cc
		if t.mode == ContinuityWarn {
			t.warnings[pid]++
		}
		if t.mode == ContinuityStrict {
			return ContinuityDiscontinuity, &ContinuityError{PID: pid, Expected: expected, Actual: cc}
		}
		return ContinuityDiscontinuity, nil
	}
}

// Warnings returns the accumulated anomaly count for pid in Warn mode.
func (t *continuityTracker) Warnings(pid uint16) int {
	return t.warnings[pid]
}
